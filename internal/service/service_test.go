package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/rdb/internal/db"
	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/jobs"
	"github.com/erazemk/rdb/internal/lifecycle"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

var day0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time { return day0.AddDate(0, 0, n) }

type fakeQueue struct {
	payloads []any
}

func (q *fakeQueue) Enqueue(payload any) (uuid.UUID, error) {
	q.payloads = append(q.payloads, payload)
	return uuid.New(), nil
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *Service
	queue *fakeQueue
	part  *model.Part
	actor int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := db.NewTestDB(t)
	ctx := context.Background()

	part, err := store.CreatePart(ctx, database, "P-100", "CTD")
	require.NoError(t, err)
	user, err := store.CreateUser(ctx, database, "alice", "x", model.RoleManager)
	require.NoError(t, err)

	engine := history.New(nil, slog.Default(), history.WithClock(func() time.Time { return day0 }))
	queue := &fakeQueue{}
	svc := New(database, engine, queue, slog.Default())
	svc.now = func() time.Time { return day0 }

	return &fixture{t: t, ctx: ctx, svc: svc, queue: queue, part: part, actor: user.ID}
}

func (f *fixture) location(name string) *model.Location {
	f.t.Helper()
	l, _, err := f.svc.CreateLocation(f.ctx, f.actor, name, nil)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) item(serial string, locationID int64, parentID *int64) *model.Inventory {
	f.t.Helper()
	inv, _, err := f.svc.CreateInventory(f.ctx, f.actor, NewInventory{
		SerialNumber: serial, PartID: f.part.ID, LocationID: locationID, ParentID: parentID,
	})
	require.NoError(f.t, err)
	return inv
}

func (f *fixture) reload(id int64) *model.Inventory {
	f.t.Helper()
	inv, err := store.GetInventory(f.ctx, f.svc.db, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, inv)
	return inv
}

func (f *fixture) history(subject model.Subject) []model.Action {
	f.t.Helper()
	actions, err := f.svc.History(f.ctx, subject, 0)
	require.NoError(f.t, err)
	return actions
}

func kindsOf(actions []model.Action) []model.ActionKind {
	var kinds []model.ActionKind
	for _, a := range actions {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

func TestDeployAndRecoverBuild(t *testing.T) {
	f := newFixture(t)
	dock := f.location("Dock")
	sea := f.location("Sea")

	b, _, err := f.svc.CreateBuild(f.ctx, f.actor, "B-1", nil, dock.ID, "")
	require.NoError(t, err)
	frame := f.item("SN-001", dock.ID, nil)
	_, err = f.svc.AddToBuild(f.ctx, f.actor, frame.ID, frame.Version, b.ID, nil)
	require.NoError(t, err)
	sensor := f.item("SN-002", dock.ID, &frame.ID)
	require.NotNil(t, sensor.BuildID, "installed item joins its parent's build")
	assert.Equal(t, b.ID, *sensor.BuildID)

	b, _ = store.GetBuild(f.ctx, f.svc.db, b.ID)
	dep, out, err := f.svc.StartDeployment(f.ctx, f.actor, b.ID, b.Version, NewDeployment{Number: "D-1", Date: day(0)})
	require.NoError(t, err)
	assert.Contains(t, kindsOf(out.Actions), model.ActionStartDeployment)

	_, _, err = f.svc.StartDeployment(f.ctx, f.actor, b.ID, b.Version+1, NewDeployment{Number: "D-2"})
	assert.ErrorIs(t, err, lifecycle.ErrActiveDeployment)

	_, _, err = f.svc.TransitionDeployment(f.ctx, f.actor, dep.ID, dep.Version, Transition{
		Kind: model.ActionDeploymentToField, Date: day(2), LocationID: &sea.ID,
	})
	assert.ErrorIs(t, err, lifecycle.ErrMissingPosition)

	lat, lon := 44.6, -124.3
	dep, _, err = f.svc.TransitionDeployment(f.ctx, f.actor, dep.ID, dep.Version, Transition{
		Kind: model.ActionDeploymentToField, Date: day(2), LocationID: &sea.ID,
		Latitude: &lat, Longitude: &lon,
	})
	require.NoError(t, err)
	assert.Equal(t, sea.ID, *f.reload(sensor.ID).LocationID)

	_, _, err = f.svc.TransitionDeployment(f.ctx, f.actor, dep.ID, dep.Version, Transition{
		Kind: model.ActionDeploymentRecover, Date: day(1), LocationID: &dock.ID,
	})
	assert.ErrorIs(t, err, lifecycle.ErrDateOrder)

	dep, _, err = f.svc.TransitionDeployment(f.ctx, f.actor, dep.ID, dep.Version, Transition{
		Kind: model.ActionDeploymentRecover, Date: day(12), LocationID: &dock.ID,
	})
	require.NoError(t, err)

	for _, id := range []int64{frame.ID, sensor.ID} {
		inv := f.reload(id)
		assert.Equal(t, dock.ID, *inv.LocationID)
		assert.Equal(t, 10*24*time.Hour, inv.TimeAtSea)
	}
	assert.Equal(t, []model.ActionKind{
		model.ActionDeploymentRecover, model.ActionLocationChange,
		model.ActionDeploymentToField, model.ActionLocationChange,
		model.ActionStartDeployment,
	}, kindsOf(f.history(model.InventorySubject(sensor.ID)))[:5])

	_, _, err = f.svc.TransitionDeployment(f.ctx, f.actor, dep.ID, dep.Version, Transition{
		Kind: model.ActionDeploymentRetire, Date: day(13),
	})
	require.NoError(t, err)
	b, _ = store.GetBuild(f.ctx, f.svc.db, b.ID)
	assert.False(t, b.IsDeployed)
	assert.Nil(t, f.reload(frame.ID).DeploymentID)

	_, _, err = f.svc.StartDeployment(f.ctx, f.actor, b.ID, b.Version, NewDeployment{Number: "D-2", Date: day(20)})
	assert.NoError(t, err)
}

func TestMoveInventoryCarriesSubtree(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	shop := f.location("Shop")
	frame := f.item("SN-001", lab.ID, nil)
	sensor := f.item("SN-002", lab.ID, &frame.ID)

	frame = f.reload(frame.ID)
	_, err := f.svc.MoveInventory(f.ctx, f.actor, frame.ID, frame.Version, shop.ID)
	require.NoError(t, err)

	got := f.reload(sensor.ID)
	assert.Equal(t, shop.ID, *got.LocationID)
	assert.Equal(t, frame.ID, *got.ParentID)

	moves := f.history(model.InventorySubject(sensor.ID))
	require.NotEmpty(t, moves)
	assert.Equal(t, model.ActionLocationChange, moves[0].Kind)
	assert.Equal(t, "Moved to Shop from Lab.", moves[0].Detail)
}

func TestSetInventoryParentRejectsCycles(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	frame := f.item("SN-001", lab.ID, nil)
	sensor := f.item("SN-002", lab.ID, &frame.ID)

	frame = f.reload(frame.ID)
	_, err := f.svc.SetInventoryParent(f.ctx, f.actor, frame.ID, frame.Version, &sensor.ID)
	assert.ErrorIs(t, err, ErrInvalidParent)
	_, err = f.svc.SetInventoryParent(f.ctx, f.actor, frame.ID, frame.Version, &frame.ID)
	assert.ErrorIs(t, err, ErrInvalidParent)

	// Detaching records one change on the child and one on the old parent.
	sensor = f.reload(sensor.ID)
	out, err := f.svc.SetInventoryParent(f.ctx, f.actor, sensor.ID, sensor.Version, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ActionKind{model.ActionSubassemblyChange, model.ActionSubassemblyChange}, kindsOf(out.Actions))
	assert.Equal(t, model.InventorySubject(frame.ID), out.Actions[1].Subject)
	assert.Equal(t, "Sub-Assembly SN-002 removed.", out.Actions[1].Detail)
}

func TestStaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	shop := f.location("Shop")
	inv := f.item("SN-001", lab.ID, nil)

	before := f.history(model.InventorySubject(inv.ID))
	_, err := f.svc.MoveInventory(f.ctx, f.actor, inv.ID, inv.Version+5, shop.ID)
	assert.ErrorIs(t, err, store.ErrConflict)

	assert.Equal(t, lab.ID, *f.reload(inv.ID).LocationID)
	assert.Len(t, f.history(model.InventorySubject(inv.ID)), len(before))
}

func TestMissingDeploymentRecordQueuesRepair(t *testing.T) {
	f := newFixture(t)
	dock := f.location("Dock")
	b, _, err := f.svc.CreateBuild(f.ctx, f.actor, "B-1", nil, dock.ID, "")
	require.NoError(t, err)
	for _, serial := range []string{"SN-001", "SN-002"} {
		inv := f.item(serial, dock.ID, nil)
		_, err = f.svc.AddToBuild(f.ctx, f.actor, inv.ID, inv.Version, b.ID, nil)
		require.NoError(t, err)
	}
	b, _ = store.GetBuild(f.ctx, f.svc.db, b.ID)
	dep, _, err := f.svc.StartDeployment(f.ctx, f.actor, b.ID, b.Version, NewDeployment{Number: "D-1"})
	require.NoError(t, err)

	_, err = f.svc.db.ExecContext(f.ctx, `DELETE FROM inventory_deployments`)
	require.NoError(t, err)

	_, out, err := f.svc.TransitionDeployment(f.ctx, f.actor, dep.ID, dep.Version, Transition{
		Kind: model.ActionDeploymentBurnin, Date: day(1),
	})
	require.NoError(t, err)
	assert.Len(t, out.Repairs, 2)
	require.Len(t, f.queue.payloads, 1, "repairs of one tree are queued once")
	assert.Equal(t, tree.Inventory, f.queue.payloads[0].(jobs.RebuildTree).Kind)
}

func TestMoveToTrashLeavesBuild(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	b, _, err := f.svc.CreateBuild(f.ctx, f.actor, "B-1", nil, lab.ID, "")
	require.NoError(t, err)
	inv := f.item("SN-001", lab.ID, nil)
	_, err = f.svc.AddToBuild(f.ctx, f.actor, inv.ID, inv.Version, b.ID, nil)
	require.NoError(t, err)

	inv = f.reload(inv.ID)
	out, err := f.svc.MoveToTrash(f.ctx, f.actor, inv.ID, inv.Version)
	require.NoError(t, err)
	assert.Contains(t, kindsOf(out.Actions), model.ActionMoveToTrash)
	assert.Contains(t, kindsOf(out.Actions), model.ActionRemoveFromBuild)

	got := f.reload(inv.ID)
	assert.Nil(t, got.BuildID)
	assert.Equal(t, TrashLocation, got.LocationName)

	// The trash location is reused.
	other := f.item("SN-002", lab.ID, nil)
	_, err = f.svc.MoveToTrash(f.ctx, f.actor, other.ID, other.Version)
	require.NoError(t, err)
	assert.Equal(t, *got.LocationID, *f.reload(other.ID).LocationID)
}

func TestMoveToTrashDetachesFromParent(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	parent := f.item("P-1", lab.ID, nil)
	child := f.item("C-1", lab.ID, &parent.ID)

	out, err := f.svc.MoveToTrash(f.ctx, f.actor, child.ID, child.Version)
	require.NoError(t, err)
	assert.Contains(t, kindsOf(out.Actions), model.ActionSubassemblyChange)
	assert.Nil(t, f.reload(child.ID).ParentID)

	got := f.history(model.InventorySubject(parent.ID))
	require.NotEmpty(t, got)
	assert.Equal(t, model.ActionSubassemblyChange, got[0].Kind)
	assert.Equal(t, "Sub-Assembly C-1 removed.", got[0].Detail)

	// A loose item has no parent to notify.
	loose := f.item("SN-003", lab.ID, nil)
	out, err = f.svc.MoveToTrash(f.ctx, f.actor, loose.ID, loose.Version)
	require.NoError(t, err)
	assert.NotContains(t, kindsOf(out.Actions), model.ActionSubassemblyChange)
}

func TestItemLevelDeployment(t *testing.T) {
	f := newFixture(t)
	dock := f.location("Dock")
	b, _, err := f.svc.CreateBuild(f.ctx, f.actor, "B-1", nil, dock.ID, "")
	require.NoError(t, err)
	dep, _, err := f.svc.StartDeployment(f.ctx, f.actor, b.ID, b.Version, NewDeployment{Number: "D-1"})
	require.NoError(t, err)

	inv := f.item("SN-001", dock.ID, nil)
	_, err = f.svc.TransitionInventory(f.ctx, f.actor, inv.ID, inv.Version, Transition{
		Kind: model.ActionDeploymentRecover, Date: day(1),
	})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = f.svc.TransitionInventory(f.ctx, f.actor, inv.ID, inv.Version, Transition{
		Kind: model.ActionStartDeployment, Date: day(1), DeploymentID: &dep.ID,
	})
	require.NoError(t, err)

	inv = f.reload(inv.ID)
	_, err = f.svc.TransitionInventory(f.ctx, f.actor, inv.ID, inv.Version, Transition{
		Kind: model.ActionDeploymentRecover, Date: day(2),
	})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	active, err := store.ActiveInventoryDeployment(f.ctx, f.svc.db, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, dep.ID, active.DeploymentID)
	assert.Equal(t, lifecycle.Created, lifecycle.PhaseOf(active.PhaseDates))
}

func TestRecoverItemLeavesBuildDeployment(t *testing.T) {
	f := newFixture(t)
	dock := f.location("Dock")
	sea := f.location("Sea")
	b, _, err := f.svc.CreateBuild(f.ctx, f.actor, "B-1", nil, dock.ID, "")
	require.NoError(t, err)
	inv := f.item("SN-001", dock.ID, nil)
	_, err = f.svc.AddToBuild(f.ctx, f.actor, inv.ID, inv.Version, b.ID, nil)
	require.NoError(t, err)

	b, _ = store.GetBuild(f.ctx, f.svc.db, b.ID)
	dep, _, err := f.svc.StartDeployment(f.ctx, f.actor, b.ID, b.Version, NewDeployment{Number: "D-1", Date: day(0)})
	require.NoError(t, err)
	lat, lon := 44.6, -124.3
	_, _, err = f.svc.TransitionDeployment(f.ctx, f.actor, dep.ID, dep.Version, Transition{
		Kind: model.ActionDeploymentToField, Date: day(2), LocationID: &sea.ID,
		Latitude: &lat, Longitude: &lon,
	})
	require.NoError(t, err)
	inv = f.reload(inv.ID)
	require.NotNil(t, inv.DeploymentID)

	_, err = f.svc.TransitionInventory(f.ctx, f.actor, inv.ID, inv.Version, Transition{
		Kind: model.ActionDeploymentRecover, Date: day(5), LocationID: &dock.ID,
	})
	require.NoError(t, err)

	got := f.reload(inv.ID)
	assert.Nil(t, got.BuildID)
	assert.Nil(t, got.DeploymentID)
	assert.Equal(t, dock.ID, *got.LocationID)

	active, err := store.ActiveInventoryDeployment(f.ctx, f.svc.db, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, lifecycle.Recovered, lifecycle.PhaseOf(active.PhaseDates))

	out, err := f.svc.SetFlag(f.ctx, f.actor, inv.ID, true)
	require.NoError(t, err)
	require.Len(t, out.Actions, 1)
	assert.Nil(t, out.Actions[0].DeploymentID)
}

func TestMoveBuildSkipsItemsAlreadyThere(t *testing.T) {
	f := newFixture(t)
	dock := f.location("Dock")
	shed := f.location("Shed")
	b, _, err := f.svc.CreateBuild(f.ctx, f.actor, "B-1", nil, dock.ID, "")
	require.NoError(t, err)
	moved := f.item("SN-001", dock.ID, nil)
	_, err = f.svc.AddToBuild(f.ctx, f.actor, moved.ID, moved.Version, b.ID, nil)
	require.NoError(t, err)
	stayed := f.item("SN-002", dock.ID, nil)
	_, err = f.svc.AddToBuild(f.ctx, f.actor, stayed.ID, stayed.Version, b.ID, nil)
	require.NoError(t, err)

	stayed = f.reload(stayed.ID)
	p := store.PlacementOf(stayed)
	p.LocationID = &shed.ID
	require.NoError(t, store.UpdateInventoryPlacement(f.ctx, f.svc.db, stayed.ID, stayed.Version, p))

	b, _ = store.GetBuild(f.ctx, f.svc.db, b.ID)
	_, err = f.svc.MoveBuild(f.ctx, f.actor, b.ID, b.Version, shed.ID)
	require.NoError(t, err)

	assert.Equal(t, shed.ID, *f.reload(moved.ID).LocationID)
	got := f.history(model.InventorySubject(moved.ID))
	assert.Equal(t, model.ActionLocationChange, got[0].Kind)
	assert.Equal(t, "Moved to Shed from Dock.", got[0].Detail)
	assert.NotContains(t, kindsOf(f.history(model.InventorySubject(stayed.ID))), model.ActionLocationChange)
}

func TestEventNeedsEveryReviewer(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	inv := f.item("SN-001", lab.ID, nil)
	bob, err := store.CreateUser(f.ctx, f.svc.db, "bob", "x", model.RoleUser)
	require.NoError(t, err)
	carol, err := store.CreateUser(f.ctx, f.svc.db, "carol", "x", model.RoleUser)
	require.NoError(t, err)

	ev, _, err := f.svc.CreateEvent(f.ctx, f.actor, NewEvent{
		Type: model.EventTypeCalibration, InventoryID: &inv.ID, Reviewers: []int64{f.actor, bob.ID},
	})
	require.NoError(t, err)

	_, err = f.svc.ApproveEvent(f.ctx, carol.ID, ev.ID)
	assert.ErrorIs(t, err, ErrInvalid)

	out, err := f.svc.ApproveEvent(f.ctx, f.actor, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.ActionKind{model.ActionReviewApprove}, kindsOf(out.Actions))
	assert.Equal(t, "Reviewer approved Calibration Event: alice", out.Actions[0].Detail)

	out, err = f.svc.ApproveEvent(f.ctx, bob.ID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.ActionKind{model.ActionReviewApprove, model.ActionEventApprove}, kindsOf(out.Actions))

	got, err := store.GetEvent(f.ctx, f.svc.db, ev.ID)
	require.NoError(t, err)
	assert.True(t, got.Approved)
}

func TestMoveLocation(t *testing.T) {
	f := newFixture(t)
	site := f.location("Site")
	shed := f.location("Shed")
	shelf, _, err := f.svc.CreateLocation(f.ctx, f.actor, "Shelf", &shed.ID)
	require.NoError(t, err)

	_, err = f.svc.MoveLocation(f.ctx, f.actor, shed.ID, &shelf.ID)
	assert.ErrorIs(t, err, ErrInvalidParent)

	out, err := f.svc.MoveLocation(f.ctx, f.actor, shed.ID, &site.ID)
	require.NoError(t, err)
	require.Len(t, out.Actions, 1)
	assert.Equal(t, "Moved to Site.", out.Actions[0].Detail)

	below, err := tree.Descendants(f.ctx, f.svc.db, tree.Locations, site.ID, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{shed.ID, shelf.ID}, below)
}

func TestNotFoundAndInvalid(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")

	_, err := f.svc.MoveInventory(f.ctx, f.actor, 999, 1, lab.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.AddNote(f.ctx, f.actor, model.BuildSubject(999), "hello")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.AddNote(f.ctx, f.actor, model.LocationSubject(lab.ID), "  ")
	assert.ErrorIs(t, err, ErrInvalid)

	f.item("SN-001", lab.ID, nil)
	_, _, err = f.svc.CreateInventory(f.ctx, f.actor, NewInventory{SerialNumber: "SN-001", PartID: f.part.ID, LocationID: lab.ID})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFieldsFlagsAndDestination(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	inv := f.item("SN-001", lab.ID, nil)
	frame := f.item("SN-900", lab.ID, nil)

	out, err := f.svc.UpdateInventoryFields(f.ctx, f.actor, inv.ID, inv.Version, model.InventoryFields{
		SerialNumber: "SN-001", Revision: "B",
	})
	require.NoError(t, err)
	require.Len(t, out.Actions, 1)
	assert.JSONEq(t, `{"revision":"B"}`, out.Actions[0].Detail)

	_, err = f.svc.SetFlag(f.ctx, f.actor, inv.ID, true)
	require.NoError(t, err)
	assert.True(t, f.reload(inv.ID).Flag)

	out, err = f.svc.AssignDestination(f.ctx, f.actor, inv.ID, &frame.ID)
	require.NoError(t, err)
	assert.Equal(t, "Destination assigned: SN-900.", out.Actions[0].Detail)
	out, err = f.svc.AssignDestination(f.ctx, f.actor, inv.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ActionRemoveDestination, out.Actions[0].Kind)

	_, err = f.svc.DeleteInventory(f.ctx, f.actor, frame.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, f.history(model.InventorySubject(frame.ID)), "history outlives the item")
}

func TestBuildSnapshot(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	b, _, err := f.svc.CreateBuild(f.ctx, f.actor, "B-1", nil, lab.ID, "")
	require.NoError(t, err)
	frame := f.item("SN-001", lab.ID, nil)
	_, err = f.svc.AddToBuild(f.ctx, f.actor, frame.ID, frame.Version, b.ID, nil)
	require.NoError(t, err)
	f.item("SN-002", lab.ID, &frame.ID)

	snap, out, err := f.svc.CreateBuildSnapshot(f.ctx, f.actor, b.ID, "before cruise")
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)

	nodes, err := store.ListInventorySnapshots(f.ctx, f.svc.db, snap.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "SN-001", nodes[0].SerialNumber)
	assert.Equal(t, nodes[0].ID, *nodes[1].ParentID)
}
