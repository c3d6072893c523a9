package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/rdb/internal/db"
	"github.com/erazemk/rdb/internal/model"
)

func seedItem(t *testing.T, q Querier, serial string, locationID *int64) *model.Inventory {
	t.Helper()
	ctx := context.Background()

	part, err := GetPartByNumber(ctx, q, "P-1")
	require.NoError(t, err)
	if part == nil {
		part, err = CreatePart(ctx, q, "P-1", "Sensor")
		require.NoError(t, err)
	}
	inv, err := CreateInventory(ctx, q, model.Inventory{SerialNumber: serial, PartID: part.ID, LocationID: locationID})
	require.NoError(t, err)
	return inv
}

func TestCreateAndGetInventory(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	loc, err := CreateLocation(ctx, database, "Lab", nil)
	require.NoError(t, err)
	inv := seedItem(t, database, "SN-001", &loc.ID)

	assert.Equal(t, "SN-001", inv.SerialNumber)
	assert.Equal(t, "Sensor", inv.PartName)
	assert.Equal(t, "Lab", inv.LocationName)
	assert.Equal(t, int64(1), inv.Version)
	assert.Nil(t, inv.TestResult)

	got, err := GetInventoryBySerial(ctx, database, "SN-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inv.ID, got.ID)

	missing, err := GetInventory(ctx, database, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateInventoryPlacementConflict(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	loc, _ := CreateLocation(ctx, database, "Lab", nil)
	other, _ := CreateLocation(ctx, database, "Dock", nil)
	inv := seedItem(t, database, "SN-001", &loc.ID)

	p := PlacementOf(inv)
	p.LocationID = &other.ID
	require.NoError(t, UpdateInventoryPlacement(ctx, database, inv.ID, inv.Version, p))

	// A second writer still holding the old version loses.
	err := UpdateInventoryPlacement(ctx, database, inv.ID, inv.Version, PlacementOf(inv))
	assert.ErrorIs(t, err, ErrConflict)

	got, _ := GetInventory(ctx, database, inv.ID)
	assert.Equal(t, other.ID, *got.LocationID)
	assert.Equal(t, inv.Version+1, got.Version)
}

func TestInventoryFlagsAndTimeAtSea(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	inv := seedItem(t, database, "SN-001", nil)
	require.NoError(t, SetInventoryTest(ctx, database, inv.ID, "Pressure", true))
	require.NoError(t, SetInventoryFlag(ctx, database, inv.ID, true))
	require.NoError(t, AddInventoryTimeAtSea(ctx, database, inv.ID, 36*time.Hour))
	require.NoError(t, AddInventoryTimeAtSea(ctx, database, inv.ID, 12*time.Hour))

	got, err := GetInventory(ctx, database, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TestResult)
	assert.True(t, *got.TestResult)
	assert.Equal(t, "Pressure", got.TestType)
	assert.True(t, got.Flag)
	assert.Equal(t, 48*time.Hour, got.TimeAtSea)

	flagged, err := ListInventory(ctx, database, InventoryFilter{Flagged: true})
	require.NoError(t, err)
	assert.Len(t, flagged, 1)
}

func TestDeleteInventoryKeepsHistory(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	inv := seedItem(t, database, "SN-001", nil)
	a := &model.Action{Kind: model.ActionAdd, Subject: model.InventorySubject(inv.ID), CreatedAt: time.Now()}
	require.NoError(t, InsertAction(ctx, database, a))

	_, err := CreateEvent(ctx, database, model.Event{
		EventType: model.EventTypeCalibration, InventoryID: &inv.ID, EventDate: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, DeleteInventory(ctx, database, inv.ID))

	subject := model.InventorySubject(inv.ID)
	actions, err := ListActions(ctx, database, model.ActionFilter{Subject: &subject})
	require.NoError(t, err)
	assert.Len(t, actions, 1)

	n, err := DeleteOrphanedEvents(ctx, database)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInTxRollsBack(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	err := InTx(ctx, database, func(tx *sql.Tx) error {
		seedItem(t, tx, "SN-001", nil)
		return ErrConflict
	})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := GetInventoryBySerial(ctx, database, "SN-001")
	require.NoError(t, err)
	assert.Nil(t, got)
}
