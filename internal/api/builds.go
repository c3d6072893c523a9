package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/service"
	"github.com/erazemk/rdb/internal/store"
)

// BuildsHandler handles builds, their deployments and snapshots.
type BuildsHandler struct {
	DB      *sql.DB
	Service *service.Service
}

type createBuildRequest struct {
	BuildNumber string `json:"build_number" validate:"required,max=255"`
	AssemblyID  *int64 `json:"assembly_id" validate:"omitempty,gt=0"`
	LocationID  int64  `json:"location_id" validate:"required,gt=0"`
	Detail      string `json:"detail"`
}

type startDeploymentRequest struct {
	Version          int64     `json:"version" validate:"required,gt=0"`
	DeploymentNumber string    `json:"deployment_number" validate:"required,max=255"`
	FinalLocationID  *int64    `json:"final_location_id" validate:"omitempty,gt=0"`
	Date             time.Time `json:"date"`
}

type snapshotRequest struct {
	Detail string `json:"detail"`
}

type buildDetail struct {
	*model.Build
	Inventory   []model.Inventory  `json:"inventory"`
	Deployments []model.Deployment `json:"deployments"`
}

type snapshotDetail struct {
	*model.BuildSnapshot
	Nodes []model.InventorySnapshot `json:"nodes"`
}

// List handles GET /api/builds.
func (h *BuildsHandler) List(w http.ResponseWriter, r *http.Request) {
	builds, err := store.ListBuilds(r.Context(), h.DB)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(builds))
}

// Create handles POST /api/builds.
func (h *BuildsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBuildRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, out, err := h.Service.CreateBuild(r.Context(), actor(r), req.BuildNumber, req.AssemblyID, req.LocationID, req.Detail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("build created", "user", GetClaims(r.Context()).Username, "build", b.BuildNumber)
	outcomeResponse(w, http.StatusCreated, b, out)
}

// Get handles GET /api/builds/{id}, including the build's items and
// deployments.
func (h *BuildsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := store.GetBuild(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if b == nil {
		jsonError(w, http.StatusNotFound, "build not found")
		return
	}
	items, err := store.ListBuildInventory(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	deployments, err := store.ListBuildDeployments(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, buildDetail{Build: b, Inventory: emptyIfNil(items), Deployments: emptyIfNil(deployments)})
}

// Move handles POST /api/builds/{id}/move.
func (h *BuildsHandler) Move(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.MoveBuild(r.Context(), actor(r), id, req.Version, req.LocationID)
	h.respond(w, r, id, out, err)
}

// Retire handles POST /api/builds/{id}/retire.
func (h *BuildsHandler) Retire(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req versionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.RetireBuild(r.Context(), actor(r), id, req.Version)
	h.respond(w, r, id, out, err)
}

// StartDeployment handles POST /api/builds/{id}/deployments.
func (h *BuildsHandler) StartDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req startDeploymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, out, err := h.Service.StartDeployment(r.Context(), actor(r), id, req.Version, service.NewDeployment{
		Number: req.DeploymentNumber, FinalLocationID: req.FinalLocationID, Date: req.Date,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("deployment started", "user", GetClaims(r.Context()).Username, "build", id, "deployment", d.DeploymentNumber)
	outcomeResponse(w, http.StatusCreated, d, out)
}

// GetDeployment handles GET /api/deployments/{id}.
func (h *BuildsHandler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := store.GetDeployment(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if d == nil {
		jsonError(w, http.StatusNotFound, "deployment not found")
		return
	}
	jsonResponse(w, http.StatusOK, d)
}

// TransitionDeployment handles POST /api/deployments/{id}/transition.
func (h *BuildsHandler) TransitionDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, out, err := h.Service.TransitionDeployment(r.Context(), actor(r), id, req.Version, req.transition())
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("deployment transitioned", "user", GetClaims(r.Context()).Username, "deployment", id, "phase", req.Kind)
	outcomeResponse(w, http.StatusOK, d, out)
}

// SnapshotBuild handles POST /api/builds/{id}/snapshots.
func (h *BuildsHandler) SnapshotBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req snapshotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	snap, out, err := h.Service.CreateBuildSnapshot(r.Context(), actor(r), id, req.Detail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusCreated, snap, out)
}

// SnapshotDeployment handles POST /api/deployments/{id}/snapshots.
func (h *BuildsHandler) SnapshotDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req snapshotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	snap, out, err := h.Service.CreateDeploymentSnapshot(r.Context(), actor(r), id, req.Detail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusCreated, snap, out)
}

// ListSnapshots handles GET /api/builds/{id}/snapshots.
func (h *BuildsHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	snaps, err := store.ListBuildSnapshots(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(snaps))
}

// GetSnapshot handles GET /api/snapshots/{id}.
func (h *BuildsHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	snap, err := store.GetBuildSnapshot(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if snap == nil {
		jsonError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	nodes, err := store.ListInventorySnapshots(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, snapshotDetail{BuildSnapshot: snap, Nodes: emptyIfNil(nodes)})
}

func (h *BuildsHandler) respond(w http.ResponseWriter, r *http.Request, id int64, out *service.Outcome, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := store.GetBuild(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusOK, b, out)
}
