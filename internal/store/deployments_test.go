package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/rdb/internal/db"
	"github.com/erazemk/rdb/internal/model"
)

func TestCurrentDeploymentSkipsRetired(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	build, err := CreateBuild(ctx, database, "B-1", nil, nil, "")
	require.NoError(t, err)

	none, err := CurrentDeployment(ctx, database, build.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := CreateDeployment(ctx, database, model.Deployment{
		DeploymentNumber: "D-1", BuildID: build.ID,
		PhaseDates: model.PhaseDates{StartDate: &start},
	})
	require.NoError(t, err)
	require.NotNil(t, d.StartDate)
	assert.True(t, start.Equal(*d.StartDate))

	current, err := CurrentDeployment(ctx, database, build.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, d.ID, current.ID)

	retire := start.Add(24 * time.Hour)
	d.RetireDate = &retire
	require.NoError(t, UpdateDeployment(ctx, database, d))
	assert.Equal(t, int64(2), d.Version)

	current, err = CurrentDeployment(ctx, database, build.ID)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestUpdateDeploymentConflict(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	build, _ := CreateBuild(ctx, database, "B-1", nil, nil, "")
	d, err := CreateDeployment(ctx, database, model.Deployment{DeploymentNumber: "D-1", BuildID: build.ID})
	require.NoError(t, err)

	stale := *d
	require.NoError(t, UpdateDeployment(ctx, database, d))
	assert.ErrorIs(t, UpdateDeployment(ctx, database, &stale), ErrConflict)
}

func TestActiveInventoryDeployment(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	inv := seedItem(t, database, "SN-001", nil)
	build, _ := CreateBuild(ctx, database, "B-1", nil, nil, "")
	d, _ := CreateDeployment(ctx, database, model.Deployment{DeploymentNumber: "D-1", BuildID: build.ID})

	start := time.Now().UTC()
	rec, err := CreateInventoryDeployment(ctx, database, model.InventoryDeployment{
		InventoryID: inv.ID, DeploymentID: d.ID, PhaseDates: model.PhaseDates{StartDate: &start},
	})
	require.NoError(t, err)

	// Only one active record per item.
	_, err = CreateInventoryDeployment(ctx, database, model.InventoryDeployment{InventoryID: inv.ID, DeploymentID: d.ID})
	assert.Error(t, err)

	active, err := ActiveInventoryDeployment(ctx, database, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, rec.ID, active.ID)

	retire := start.Add(time.Hour)
	active.RetireDate = &retire
	require.NoError(t, UpdateInventoryDeployment(ctx, database, active))

	active, err = ActiveInventoryDeployment(ctx, database, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	all, err := ListInventoryDeployments(ctx, database, inv.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
