package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/service"
	"github.com/erazemk/rdb/internal/store"
)

// CatalogHandler serves locations, parts, templates and cruises.
type CatalogHandler struct {
	DB      *sql.DB
	Service *service.Service
}

type createLocationRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

type moveLocationRequest struct {
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

type createPartRequest struct {
	PartNumber string `json:"part_number" validate:"required,max=100"`
	Name       string `json:"name" validate:"required,max=255"`
}

type createAssemblyRequest struct {
	Name           string `json:"name" validate:"required,max=255"`
	AssemblyNumber string `json:"assembly_number" validate:"max=100"`
}

type slotRequest struct {
	PartID    int64  `json:"part_id" validate:"required,gt=0"`
	ParentID  *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	SortOrder int    `json:"sort_order"`
	Note      string `json:"note"`
}

type copyTemplateRequest struct {
	From int64 `json:"from" validate:"required,gt=0"`
}

type createCruiseRequest struct {
	Number string `json:"cruise_number" validate:"required,max=100"`
	Ship   string `json:"ship_name" validate:"max=255"`
}

// ListLocations handles GET /api/locations.
func (h *CatalogHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := store.ListLocations(r.Context(), h.DB)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(locations))
}

// CreateLocation handles POST /api/locations.
func (h *CatalogHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	loc, out, err := h.Service.CreateLocation(r.Context(), actor(r), req.Name, req.ParentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusCreated, loc, out)
}

// MoveLocation handles PUT /api/locations/{id}/parent.
func (h *CatalogHandler) MoveLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req moveLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Service.MoveLocation(r.Context(), actor(r), id, req.ParentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusOK, nil, out)
}

// ListParts handles GET /api/parts.
func (h *CatalogHandler) ListParts(w http.ResponseWriter, r *http.Request) {
	parts, err := store.ListParts(r.Context(), h.DB)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(parts))
}

// CreatePart handles POST /api/parts.
func (h *CatalogHandler) CreatePart(w http.ResponseWriter, r *http.Request) {
	var req createPartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	part, err := h.Service.CreatePart(r.Context(), req.PartNumber, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, part)
}

// CreateAssembly handles POST /api/assemblies.
func (h *CatalogHandler) CreateAssembly(w http.ResponseWriter, r *http.Request) {
	var req createAssemblyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.Service.CreateAssembly(r.Context(), req.Name, req.AssemblyNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, a)
}

// ListAssemblyParts handles GET /api/assemblies/{id}/parts.
func (h *CatalogHandler) ListAssemblyParts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	slots, err := store.ListAssemblyParts(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(slots))
}

// AddAssemblyPart handles POST /api/assemblies/{id}/parts.
func (h *CatalogHandler) AddAssemblyPart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slot, err := h.Service.AddAssemblyPart(r.Context(), model.AssemblyPart{
		AssemblyID: id, PartID: req.PartID, ParentID: req.ParentID, SortOrder: req.SortOrder, Note: req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, slot)
}

// CopyAssembly handles POST /api/assemblies/{id}/copy.
func (h *CatalogHandler) CopyAssembly(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req copyTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, out, err := h.Service.CopyAssemblyTemplate(r.Context(), req.From, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusCreated, res, out)
}

// ListMooringParts handles GET /api/locations/{id}/mooring.
func (h *CatalogHandler) ListMooringParts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	slots, err := store.ListMooringParts(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(slots))
}

// AddMooringPart handles POST /api/locations/{id}/mooring.
func (h *CatalogHandler) AddMooringPart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slot, err := h.Service.AddMooringPart(r.Context(), model.MooringPart{
		LocationID: id, PartID: req.PartID, ParentID: req.ParentID, SortOrder: req.SortOrder,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, slot)
}

// CopyMooring handles POST /api/locations/{id}/mooring/copy.
func (h *CatalogHandler) CopyMooring(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req copyTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, out, err := h.Service.CopyMooringTemplate(r.Context(), req.From, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusCreated, res, out)
}

// CreateCruise handles POST /api/cruises.
func (h *CatalogHandler) CreateCruise(w http.ResponseWriter, r *http.Request) {
	var req createCruiseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Service.CreateCruise(r.Context(), req.Number, req.Ship)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, c)
}
