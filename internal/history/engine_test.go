package history

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/rdb/internal/db"
	"github.com/erazemk/rdb/internal/lifecycle"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	db     *sql.DB
	engine *Engine
	part   *model.Part
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	database := db.NewTestDB(t)
	ctx := context.Background()
	part, err := store.CreatePart(ctx, database, "P-100", "CTD")
	require.NoError(t, err)

	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return &fixture{
		t:      t,
		ctx:    ctx,
		db:     database,
		engine: New(nil, slog.Default(), opts...),
		part:   part,
	}
}

func (f *fixture) location(name string) *model.Location {
	f.t.Helper()
	l, err := store.CreateLocation(f.ctx, f.db, name, nil)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) item(serial string, locationID int64) *model.Inventory {
	f.t.Helper()
	inv, err := store.CreateInventory(f.ctx, f.db, model.Inventory{
		SerialNumber: serial, PartID: f.part.ID, LocationID: &locationID,
	})
	require.NoError(f.t, err)
	return inv
}

func (f *fixture) build(number string, locationID int64) *model.Build {
	f.t.Helper()
	b, err := store.CreateBuild(f.ctx, f.db, number, nil, &locationID, "")
	require.NoError(f.t, err)
	return b
}

// place applies edit to an item's placement and returns the reloaded item.
func (f *fixture) place(inv *model.Inventory, edit func(p *store.Placement)) *model.Inventory {
	f.t.Helper()
	p := store.PlacementOf(inv)
	edit(&p)
	require.NoError(f.t, store.UpdateInventoryPlacement(f.ctx, f.db, inv.ID, inv.Version, p))
	got, err := store.GetInventory(f.ctx, f.db, inv.ID)
	require.NoError(f.t, err)
	return got
}

func (f *fixture) record(req Request) *Result {
	f.t.Helper()
	res, err := f.engine.Record(f.ctx, f.db, req)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) actions(subject model.Subject, kind model.ActionKind) []model.Action {
	f.t.Helper()
	got, err := store.ListActions(f.ctx, f.db, model.ActionFilter{Subject: &subject, Kind: kind})
	require.NoError(f.t, err)
	return got
}

func kindsOf(actions []model.Action) []model.ActionKind {
	var kinds []model.ActionKind
	for _, a := range actions {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

func TestAddThenRemoveFromBuild(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	b := f.build("B-1", lab.ID)
	inv := f.item("SN-001", lab.ID)

	inv = f.place(inv, func(p *store.Placement) { p.BuildID = &b.ID })
	res := f.record(Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionAddToBuild})
	assert.Equal(t, []model.ActionKind{model.ActionAddToBuild, model.ActionSubassemblyChange}, kindsOf(res.Actions))
	assert.Equal(t, "Moved to Build B-1.", res.Actions[0].Detail)
	assert.Equal(t, model.BuildSubject(b.ID), res.Actions[1].Subject)
	assert.Equal(t, "Sub-Assembly SN-001 added.", res.Actions[1].Detail)

	inv = f.place(inv, func(p *store.Placement) { p.BuildID = nil })
	res = f.record(Request{
		Subject: model.InventorySubject(inv.ID), Kind: model.ActionRemoveFromBuild,
		Change: Change{OldBuildID: &b.ID},
	})
	assert.Empty(t, res.Repairs)
	assert.Equal(t, "Moved to Build B-1.", f.actions(model.InventorySubject(inv.ID), model.ActionAddToBuild)[0].Detail)

	assert.Nil(t, inv.BuildID)
	subject := model.InventorySubject(inv.ID)
	added := f.actions(subject, model.ActionAddToBuild)
	removed := f.actions(subject, model.ActionRemoveFromBuild)
	require.Len(t, added, 1)
	require.Len(t, removed, 1)
	assert.Equal(t, lab.ID, *added[0].LocationID)
	assert.Equal(t, lab.ID, *removed[0].LocationID)
	assert.Equal(t, b.ID, *removed[0].BuildID)
	assert.Equal(t, "Removed from Build B-1.", removed[0].Detail)

	buildHistory := f.actions(model.BuildSubject(b.ID), model.ActionSubassemblyChange)
	require.Len(t, buildHistory, 2)
	assert.Equal(t, "Sub-Assembly SN-001 removed.", buildHistory[0].Detail)
}

func TestRemoveFromBuildFindsBuildInHistory(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	b := f.build("B-1", lab.ID)
	inv := f.item("SN-001", lab.ID)

	inv = f.place(inv, func(p *store.Placement) { p.BuildID = &b.ID })
	f.record(Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionAddToBuild})
	inv = f.place(inv, func(p *store.Placement) { p.BuildID = nil })

	// The caller lost track of the previous build.
	res := f.record(Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionRemoveFromBuild})
	assert.Empty(t, res.Repairs)
	assert.Equal(t, "Removed from Build B-1.", res.Actions[0].Detail)
}

func TestRemoveFromBuildWithoutHistoryRepairs(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	inv := f.item("SN-001", lab.ID)

	res := f.record(Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionRemoveFromBuild})
	require.Len(t, res.Repairs, 1)
	assert.Equal(t, tree.Inventory, res.Repairs[0].Tree)
	assert.Equal(t, model.InventorySubject(inv.ID), res.Repairs[0].Subject)

	// The record is still written.
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "Removed from Build.", res.Actions[0].Detail)
}

func TestLocationChangeCascadesFirst(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	dock := f.location("Dock")
	b := f.build("B-1", dock.ID)
	inv := f.item("SN-001", lab.ID)

	inv = f.place(inv, func(p *store.Placement) {
		p.BuildID = &b.ID
		p.LocationID = &dock.ID
	})
	res := f.record(Request{
		Subject: model.InventorySubject(inv.ID), Kind: model.ActionAddToBuild,
		Change: Change{OldLocationID: &lab.ID},
	})

	require.Equal(t, []model.ActionKind{
		model.ActionLocationChange, model.ActionAddToBuild, model.ActionSubassemblyChange,
	}, kindsOf(res.Actions))
	assert.Equal(t, "Moved to Dock from Lab.", res.Actions[0].Detail)
	for i := 1; i < len(res.Actions); i++ {
		assert.Greater(t, res.Actions[i].Seq, res.Actions[i-1].Seq)
		assert.Equal(t, now, res.Actions[i].CreatedAt)
	}
}

func TestSubassemblyChangeNotifiesBothParents(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	p1 := f.item("P-1", lab.ID)
	p2 := f.item("P-2", lab.ID)
	child := f.item("C-1", lab.ID)
	child = f.place(child, func(p *store.Placement) { p.ParentID = &p1.ID })

	child = f.place(child, func(p *store.Placement) { p.ParentID = &p2.ID })
	res := f.record(Request{
		Subject: model.InventorySubject(child.ID), Kind: model.ActionSubassemblyChange,
		Change: Change{OldParentID: &p1.ID},
	})

	require.Len(t, res.Actions, 3)
	assert.Equal(t, "Added to P-2. Removed from P-1.", res.Actions[0].Detail)

	added := f.actions(model.InventorySubject(p2.ID), model.ActionSubassemblyChange)
	require.Len(t, added, 1)
	assert.Equal(t, "Sub-Assembly C-1 added.", added[0].Detail)

	removed := f.actions(model.InventorySubject(p1.ID), model.ActionSubassemblyChange)
	require.Len(t, removed, 1)
	assert.Equal(t, "Sub-Assembly C-1 removed.", removed[0].Detail)
}

func TestAddToDeployedBuildInBurnin(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	b := f.build("B-1", lab.ID)
	start, burnin := now.AddDate(0, 0, -3), now.AddDate(0, 0, -1)
	d, err := store.CreateDeployment(f.ctx, f.db, model.Deployment{
		DeploymentNumber: "D-1", BuildID: b.ID, PhaseDates: model.PhaseDates{StartDate: &start},
	})
	require.NoError(t, err)
	d.BurninDate = &burnin
	require.NoError(t, store.UpdateDeployment(f.ctx, f.db, d))
	require.NoError(t, store.UpdateBuildPlacement(f.ctx, f.db, b.ID, b.Version, &lab.ID, true))

	inv := f.item("SN-001", lab.ID)
	inv = f.place(inv, func(p *store.Placement) {
		p.BuildID = &b.ID
		p.DeploymentID = &d.ID
	})
	res := f.record(Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionAddToBuild})

	assert.Equal(t, []model.ActionKind{
		model.ActionAddToBuild, model.ActionStartDeployment, model.ActionDeploymentBurnin, model.ActionSubassemblyChange,
	}, kindsOf(res.Actions))
	assert.Equal(t, model.DeploymentTypeBuild, res.Actions[1].DeploymentType)
	assert.Equal(t, "Deployment D-1 started.", res.Actions[1].Detail)

	rec, err := store.ActiveInventoryDeployment(f.ctx, f.db, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, d.ID, rec.DeploymentID)
	assert.Equal(t, lifecycle.Burnin, lifecycle.PhaseOf(rec.PhaseDates))
	assert.Equal(t, rec.ID, *res.Actions[2].InventoryDeploymentID)
}

func TestBuildDeployAndRecover(t *testing.T) {
	f := newFixture(t)
	dock := f.location("Dock")
	sea := f.location("Sea")
	b := f.build("B-1", dock.ID)
	inv := f.item("SN-001", dock.ID)
	inv = f.place(inv, func(p *store.Placement) { p.BuildID = &b.ID })
	f.record(Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionAddToBuild})

	day := func(n int) time.Time { return now.AddDate(0, 0, n) }

	start := day(0)
	d, err := store.CreateDeployment(f.ctx, f.db, model.Deployment{
		DeploymentNumber: "D-1", BuildID: b.ID, PhaseDates: model.PhaseDates{StartDate: &start},
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateBuildPlacement(f.ctx, f.db, b.ID, b.Version, &dock.ID, true))

	res := f.record(Request{
		Subject: model.BuildSubject(b.ID), Kind: model.ActionStartDeployment,
		DeploymentID: &d.ID, Date: start,
	})
	assert.Equal(t, []model.Subject{
		model.BuildSubject(b.ID), model.DeploymentSubject(d.ID), model.InventorySubject(inv.ID),
	}, []model.Subject{res.Actions[0].Subject, res.Actions[1].Subject, res.Actions[2].Subject})
	assert.Equal(t, d.ID, *res.Actions[0].DeploymentID)

	// To the field from the dock.
	deployCruise, err := store.CreateCruise(f.ctx, f.db, "C-1", "Oceanus")
	require.NoError(t, err)
	lat, lon, depth := 44.6, -124.3, 80
	b, _ = store.GetBuild(f.ctx, f.db, b.ID)
	require.NoError(t, store.UpdateBuildPlacement(f.ctx, f.db, b.ID, b.Version, &sea.ID, true))
	inv = f.place(inv, func(p *store.Placement) { p.LocationID = &sea.ID })
	f.record(Request{
		Subject: model.BuildSubject(b.ID), Kind: model.ActionDeploymentToField,
		DeploymentID: &d.ID, Date: day(2), CruiseID: &deployCruise.ID,
		Latitude: &lat, Longitude: &lon, Depth: &depth,
		Change: Change{OldLocationID: &dock.ID, Children: map[int64]Change{inv.ID: {OldLocationID: &dock.ID}}},
	})

	// Recovered back to the dock.
	recoverCruise, err := store.CreateCruise(f.ctx, f.db, "C-2", "Oceanus")
	require.NoError(t, err)
	b, _ = store.GetBuild(f.ctx, f.db, b.ID)
	require.NoError(t, store.UpdateBuildPlacement(f.ctx, f.db, b.ID, b.Version, &dock.ID, true))
	inv = f.place(inv, func(p *store.Placement) { p.LocationID = &dock.ID })
	res = f.record(Request{
		Subject: model.BuildSubject(b.ID), Kind: model.ActionDeploymentRecover,
		DeploymentID: &d.ID, Date: day(12), CruiseID: &recoverCruise.ID,
		Change: Change{OldLocationID: &sea.ID, Children: map[int64]Change{inv.ID: {OldLocationID: &sea.ID}}},
	})
	assert.Equal(t, []model.ActionKind{
		model.ActionLocationChange, model.ActionDeploymentRecover, model.ActionDeploymentRecover,
		model.ActionLocationChange, model.ActionDeploymentRecover,
	}, kindsOf(res.Actions))

	recovered := f.actions(model.InventorySubject(inv.ID), model.ActionDeploymentRecover)
	require.Len(t, recovered, 1)
	assert.Equal(t, dock.ID, *recovered[0].LocationID)
	require.NotNil(t, recovered[0].CruiseID)
	assert.Equal(t, recoverCruise.ID, *recovered[0].CruiseID)
	assert.Equal(t, "Deployment D-1 recovered from field. Cruise: C-2", recovered[0].Detail)
	assert.Equal(t, model.DeploymentTypeBuild, recovered[0].DeploymentType)

	moves := f.actions(model.InventorySubject(inv.ID), model.ActionLocationChange)
	require.Len(t, moves, 2)
	assert.Equal(t, "Moved to Dock from Sea.", moves[0].Detail)

	got, err := store.GetInventory(f.ctx, f.db, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 10*24*time.Hour, got.TimeAtSea)

	toField := f.actions(model.DeploymentSubject(d.ID), model.ActionDeploymentToField)
	require.Len(t, toField, 1)
	assert.Equal(t, lat, *toField[0].Latitude)
	assert.Equal(t, "Deployment D-1 deployed to field. Cruise: C-1", toField[0].Detail)
}

func TestItemLevelPhasesAreEnforced(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	b := f.build("B-1", lab.ID)
	d, err := store.CreateDeployment(f.ctx, f.db, model.Deployment{DeploymentNumber: "D-1", BuildID: b.ID})
	require.NoError(t, err)
	inv := f.item("SN-001", lab.ID)

	f.record(Request{
		Subject: model.InventorySubject(inv.ID), Kind: model.ActionStartDeployment,
		DeploymentType: model.DeploymentTypeInventory, DeploymentID: &d.ID,
	})

	_, err = f.engine.Record(f.ctx, f.db, Request{
		Subject: model.InventorySubject(inv.ID), Kind: model.ActionDeploymentRecover,
		DeploymentType: model.DeploymentTypeInventory,
	})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = f.engine.Record(f.ctx, f.db, Request{
		Subject: model.InventorySubject(inv.ID), Kind: model.ActionDeploymentBurnin,
		DeploymentType: model.DeploymentTypeInventory, Date: now.AddDate(0, 0, -1),
	})
	assert.ErrorIs(t, err, lifecycle.ErrDateOrder)
}

func TestItemRecoverLeavesBuild(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	b := f.build("B-1", lab.ID)
	d, err := store.CreateDeployment(f.ctx, f.db, model.Deployment{DeploymentNumber: "D-1", BuildID: b.ID})
	require.NoError(t, err)
	inv := f.item("SN-001", lab.ID)
	inv = f.place(inv, func(p *store.Placement) { p.BuildID = &b.ID })

	subject := model.InventorySubject(inv.ID)
	lat, lon := 10.0, 20.0
	for i, kind := range []model.ActionKind{model.ActionStartDeployment, model.ActionDeploymentToField} {
		f.record(Request{
			Subject: subject, Kind: kind, DeploymentType: model.DeploymentTypeInventory,
			DeploymentID: &d.ID, Date: now.AddDate(0, 0, i), Latitude: &lat, Longitude: &lon,
		})
	}

	inv = f.place(inv, func(p *store.Placement) { p.BuildID = nil })
	res := f.record(Request{
		Subject: subject, Kind: model.ActionDeploymentRecover, DeploymentType: model.DeploymentTypeInventory,
		Date: now.AddDate(0, 0, 5), Change: Change{OldBuildID: &b.ID},
	})
	assert.Equal(t, []model.ActionKind{
		model.ActionDeploymentRecover, model.ActionRemoveFromBuild, model.ActionSubassemblyChange,
	}, kindsOf(res.Actions))
	assert.Equal(t, model.DeploymentTypeInventory, res.Actions[1].DeploymentType)

	got, _ := store.GetInventory(f.ctx, f.db, inv.ID)
	assert.Equal(t, 4*24*time.Hour, got.TimeAtSea)
}

func TestMoveToTrashRemovesFromBuild(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	trash := f.location("Trash")
	b := f.build("B-1", lab.ID)
	inv := f.item("SN-001", lab.ID)
	inv = f.place(inv, func(p *store.Placement) { p.BuildID = &b.ID })

	inv = f.place(inv, func(p *store.Placement) {
		p.BuildID = nil
		p.LocationID = &trash.ID
	})
	res := f.record(Request{
		Subject: model.InventorySubject(inv.ID), Kind: model.ActionMoveToTrash,
		Change: Change{OldLocationID: &lab.ID, OldBuildID: &b.ID},
	})

	assert.Equal(t, []model.ActionKind{
		model.ActionMoveToTrash, model.ActionRemoveFromBuild, model.ActionSubassemblyChange,
	}, kindsOf(res.Actions))
	assert.Equal(t, "Moved to Trash from Lab.", res.Actions[0].Detail)
	assert.Equal(t, trash.ID, *res.Actions[1].LocationID)
}

func TestFieldChange(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	inv := f.item("SN-001", lab.ID)
	subject := model.InventorySubject(inv.ID)

	before := model.InventoryFields{SerialNumber: "SN-001", Revision: "A"}
	after := model.InventoryFields{SerialNumber: "SN-001", Revision: "B"}

	res := f.record(Request{Subject: subject, Kind: model.ActionFieldChange, Change: Change{Before: before, After: before}})
	assert.Empty(t, res.Actions)

	res = f.record(Request{Subject: subject, Kind: model.ActionFieldChange, Change: Change{Before: before, After: after}})
	require.Len(t, res.Actions, 1)
	assert.JSONEq(t, `{"revision":"B"}`, res.Actions[0].Detail)
}

func TestSimpleDetails(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	inv := f.item("SN-001", lab.ID)
	subject := model.InventorySubject(inv.ID)

	require.NoError(t, store.SetInventoryTest(f.ctx, f.db, inv.ID, "Pressure", false))
	require.NoError(t, store.SetInventoryFlag(f.ctx, f.db, inv.ID, true))

	tests := []struct {
		kind   model.ActionKind
		detail string
		want   string
	}{
		{model.ActionAdd, "", "Inventory first added."},
		{model.ActionTest, "", "Pressure: Fail"},
		{model.ActionFlag, "", "Flag on."},
		{model.ActionNote, "Cleaned connectors", "Cleaned connectors"},
		{model.ActionCSVImport, "", "Inventory imported via CSV."},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			res := f.record(Request{Subject: subject, Kind: tt.kind, Detail: tt.detail})
			require.Len(t, res.Actions, 1)
			assert.Equal(t, tt.want, res.Actions[0].Detail)
		})
	}
}

func TestLabelsRenameEntities(t *testing.T) {
	f := newFixture(t)
	f.engine = New(model.Labels{model.LabelBuild: "Mooring"}, nil, WithClock(func() time.Time { return now }))
	lab := f.location("Lab")
	b := f.build("M-7", lab.ID)
	inv := f.item("SN-001", lab.ID)
	inv = f.place(inv, func(p *store.Placement) { p.BuildID = &b.ID })

	res := f.record(Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionAddToBuild})
	assert.Equal(t, "Moved to Mooring M-7.", res.Actions[0].Detail)
}

func TestEventApprovals(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	inv := f.item("SN-001", lab.ID)
	user, err := store.CreateUser(f.ctx, f.db, "reviewer", "hash", model.RoleUser)
	require.NoError(t, err)
	ev, err := store.CreateEvent(f.ctx, f.db, model.Event{
		EventType: model.EventTypeCalibration, InventoryID: &inv.ID, EventDate: now,
	})
	require.NoError(t, err)

	res := f.record(Request{Subject: model.EventSubject(ev.ID), Kind: model.ActionReviewApprove, ActorID: &user.ID})
	assert.Equal(t, "Reviewer approved Calibration Event: reviewer", res.Actions[0].Detail)
	assert.Equal(t, lab.ID, *res.Actions[0].LocationID)

	res = f.record(Request{Subject: model.EventSubject(ev.ID), Kind: model.ActionEventApprove})
	assert.Equal(t, "Calibration Event approved.", res.Actions[0].Detail)
}

func TestCascadeDepthIsBounded(t *testing.T) {
	f := newFixture(t, WithMaxDepth(0))
	lab := f.location("Lab")
	b := f.build("B-1", lab.ID)
	inv := f.item("SN-001", lab.ID)
	inv = f.place(inv, func(p *store.Placement) { p.BuildID = &b.ID })

	_, err := f.engine.Record(f.ctx, f.db, Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionAddToBuild})
	assert.ErrorIs(t, err, ErrCascadeDepth)
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	f := newFixture(t)
	lab := f.location("Lab")
	inv := f.item("SN-001", lab.ID)

	err := store.InTx(f.ctx, f.db, func(tx *sql.Tx) error {
		if _, err := f.engine.Record(f.ctx, tx, Request{Subject: model.InventorySubject(inv.ID), Kind: model.ActionAdd}); err != nil {
			return err
		}
		// A failure after the cascade took place.
		return store.ErrConflict
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Empty(t, f.actions(model.InventorySubject(inv.ID), ""))
}

func TestRecordRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Record(f.ctx, f.db, Request{Subject: model.InventorySubject(42), Kind: model.ActionAdd})
	assert.ErrorIs(t, err, ErrSubjectNotFound)

	_, err = f.engine.Record(f.ctx, f.db, Request{Subject: model.Subject{Type: "owner", ID: 1}, Kind: model.ActionAdd})
	assert.Error(t, err)

	_, err = f.engine.Record(f.ctx, f.db, Request{Subject: model.InventorySubject(1), Kind: "teleport"})
	assert.Error(t, err)
}
