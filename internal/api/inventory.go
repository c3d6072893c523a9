package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/rdb/internal/imaging"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/service"
	"github.com/erazemk/rdb/internal/store"
)

// InventoryHandler handles inventory item endpoints.
type InventoryHandler struct {
	DB      *sql.DB
	Service *service.Service
}

type createInventoryRequest struct {
	SerialNumber string `json:"serial_number" validate:"required,max=255"`
	PartID       int64  `json:"part_id" validate:"required,gt=0"`
	Revision     string `json:"revision" validate:"max=100"`
	LocationID   int64  `json:"location_id" validate:"required,gt=0"`
	ParentID     *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	Detail       string `json:"detail"`
}

type updateInventoryRequest struct {
	Version      int64  `json:"version" validate:"required,gt=0"`
	SerialNumber string `json:"serial_number" validate:"required,max=255"`
	Revision     string `json:"revision" validate:"max=100"`
	Detail       string `json:"detail"`
}

type versionRequest struct {
	Version int64 `json:"version" validate:"required,gt=0"`
}

type moveRequest struct {
	Version    int64 `json:"version" validate:"required,gt=0"`
	LocationID int64 `json:"location_id" validate:"required,gt=0"`
}

type parentRequest struct {
	Version  int64  `json:"version" validate:"required,gt=0"`
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

type addToBuildRequest struct {
	Version int64  `json:"version" validate:"required,gt=0"`
	BuildID int64  `json:"build_id" validate:"required,gt=0"`
	SlotID  *int64 `json:"assembly_part_id" validate:"omitempty,gt=0"`
}

type testRequest struct {
	TestType string `json:"test_type" validate:"required,max=100"`
	Passed   *bool  `json:"passed" validate:"required"`
}

type flagRequest struct {
	Flag bool `json:"flag"`
}

type destinationRequest struct {
	DestinationID *int64 `json:"destination_id" validate:"omitempty,gt=0"`
}

// transitionRequest is the body of a deployment phase change for a build
// deployment or a single item.
type transitionRequest struct {
	Version      int64            `json:"version" validate:"required,gt=0"`
	Kind         model.ActionKind `json:"action_type" validate:"required"`
	Date         time.Time        `json:"date"`
	DeploymentID *int64           `json:"deployment_id" validate:"omitempty,gt=0"`
	LocationID   *int64           `json:"location_id" validate:"omitempty,gt=0"`
	CruiseID     *int64           `json:"cruise_id" validate:"omitempty,gt=0"`
	Latitude     *float64         `json:"latitude" validate:"omitempty,latitude"`
	Longitude    *float64         `json:"longitude" validate:"omitempty,longitude"`
	Depth        *int             `json:"depth" validate:"omitempty,gte=0"`
}

func (t transitionRequest) transition() service.Transition {
	return service.Transition{
		Kind:         t.Kind,
		Date:         t.Date,
		DeploymentID: t.DeploymentID,
		LocationID:   t.LocationID,
		CruiseID:     t.CruiseID,
		Latitude:     t.Latitude,
		Longitude:    t.Longitude,
		Depth:        t.Depth,
	}
}

// List handles GET /api/inventory.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	flagged, _ := strconv.ParseBool(r.URL.Query().Get("flagged"))
	items, err := store.ListInventory(r.Context(), h.DB, store.InventoryFilter{
		LocationID: queryID(r, "location_id"),
		BuildID:    queryID(r, "build_id"),
		PartID:     queryID(r, "part_id"),
		Flagged:    flagged,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(items))
}

// Create handles POST /api/inventory.
func (h *InventoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInventoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, out, err := h.Service.CreateInventory(r.Context(), actor(r), service.NewInventory{
		SerialNumber: req.SerialNumber,
		PartID:       req.PartID,
		Revision:     req.Revision,
		LocationID:   req.LocationID,
		ParentID:     req.ParentID,
		Detail:       req.Detail,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("inventory created", "user", GetClaims(r.Context()).Username, "serial", inv.SerialNumber)
	outcomeResponse(w, http.StatusCreated, inv, out)
}

// Get handles GET /api/inventory/{id}.
func (h *InventoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := store.GetInventory(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if inv == nil {
		jsonError(w, http.StatusNotFound, "inventory not found")
		return
	}
	jsonResponse(w, http.StatusOK, inv)
}

// Update handles PUT /api/inventory/{id}.
func (h *InventoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateInventoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.UpdateInventoryFields(r.Context(), actor(r), id, req.Version, model.InventoryFields{
		SerialNumber: req.SerialNumber, Revision: req.Revision, Detail: req.Detail,
	})
	h.respond(w, r, id, out, err)
}

// Delete handles DELETE /api/inventory/{id}.
func (h *InventoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := h.Service.DeleteInventory(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("inventory deleted", "user", GetClaims(r.Context()).Username, "id", id)
	outcomeResponse(w, http.StatusOK, nil, out)
}

// Move handles POST /api/inventory/{id}/move.
func (h *InventoryHandler) Move(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.MoveInventory(r.Context(), actor(r), id, req.Version, req.LocationID)
	h.respond(w, r, id, out, err)
}

// SetParent handles PUT /api/inventory/{id}/parent.
func (h *InventoryHandler) SetParent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req parentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.SetInventoryParent(r.Context(), actor(r), id, req.Version, req.ParentID)
	h.respond(w, r, id, out, err)
}

// AddToBuild handles POST /api/inventory/{id}/build.
func (h *InventoryHandler) AddToBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req addToBuildRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.AddToBuild(r.Context(), actor(r), id, req.Version, req.BuildID, req.SlotID)
	h.respond(w, r, id, out, err)
}

// RemoveFromBuild handles POST /api/inventory/{id}/build/remove.
func (h *InventoryHandler) RemoveFromBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req versionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.RemoveFromBuild(r.Context(), actor(r), id, req.Version)
	h.respond(w, r, id, out, err)
}

// Trash handles POST /api/inventory/{id}/trash.
func (h *InventoryHandler) Trash(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req versionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.MoveToTrash(r.Context(), actor(r), id, req.Version)
	h.respond(w, r, id, out, err)
}

// Test handles POST /api/inventory/{id}/test.
func (h *InventoryHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req testRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.RecordTest(r.Context(), actor(r), id, req.TestType, *req.Passed)
	h.respond(w, r, id, out, err)
}

// Flag handles PUT /api/inventory/{id}/flag.
func (h *InventoryHandler) Flag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req flagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.SetFlag(r.Context(), actor(r), id, req.Flag)
	h.respond(w, r, id, out, err)
}

// Destination handles PUT /api/inventory/{id}/destination.
func (h *InventoryHandler) Destination(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req destinationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.AssignDestination(r.Context(), actor(r), id, req.DestinationID)
	h.respond(w, r, id, out, err)
}

// Transition handles POST /api/inventory/{id}/transition.
func (h *InventoryHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.TransitionInventory(r.Context(), actor(r), id, req.Version, req.transition())
	h.respond(w, r, id, out, err)
}

// Deployments handles GET /api/inventory/{id}/deployments.
func (h *InventoryHandler) Deployments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	records, err := store.ListInventoryDeployments(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(records))
}

// Events handles GET /api/inventory/{id}/events.
func (h *InventoryHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	events, err := store.ListInventoryEvents(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(events))
}

// UploadImage handles PUT /api/inventory/{id}/image. The photo is
// normalised before it is stored.
func (h *InventoryHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.Default.MaxBytes+1<<20)
	if err := r.ParseMultipartForm(imaging.Default.MaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, imaging.ErrTooLarge)
			return
		}
		jsonError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Default.Normalize(file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.Service.SetInventoryImage(r.Context(), actor(r), id, photo.Data, photo.MIME)
	h.respond(w, r, id, out, err)
}

// GetImage handles GET /api/inventory/{id}/image.
func (h *InventoryHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	data, mime, err := store.GetInventoryImage(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(data) == 0 {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Write(data)
}

// respond writes the reloaded item with the outcome of a mutation.
func (h *InventoryHandler) respond(w http.ResponseWriter, r *http.Request, id int64, out *service.Outcome, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := store.GetInventory(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusOK, inv, out)
}
