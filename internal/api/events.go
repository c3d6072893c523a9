package api

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/rdb/internal/jobs"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/service"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

// HistoryHandler handles events, notes and the action log.
type HistoryHandler struct {
	DB      *sql.DB
	Service *service.Service
	Jobs    service.Enqueuer
}

type createEventRequest struct {
	EventType    string    `json:"event_type" validate:"required,oneof=calibration config"`
	InventoryID  *int64    `json:"inventory_id" validate:"omitempty,gt=0"`
	DeploymentID *int64    `json:"deployment_id" validate:"omitempty,gt=0"`
	Date         time.Time `json:"event_date"`
	Detail       string    `json:"detail"`
	Reviewers    []int64   `json:"reviewers" validate:"dive,gt=0"`
}

type noteRequest struct {
	SubjectType model.SubjectType `json:"subject_type" validate:"required,oneof=inventory build deployment location event"`
	SubjectID   int64             `json:"subject_id" validate:"required,gt=0"`
	Text        string            `json:"text" validate:"required"`
}

type eventDetail struct {
	*model.Event
	Reviewers []model.EventReviewer `json:"reviewers"`
}

// CreateEvent handles POST /api/events.
func (h *HistoryHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, out, err := h.Service.CreateEvent(r.Context(), actor(r), service.NewEvent{
		Type:         req.EventType,
		InventoryID:  req.InventoryID,
		DeploymentID: req.DeploymentID,
		Date:         req.Date,
		Detail:       req.Detail,
		Reviewers:    req.Reviewers,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusCreated, e, out)
}

// GetEvent handles GET /api/events/{id}.
func (h *HistoryHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := store.GetEvent(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if e == nil {
		jsonError(w, http.StatusNotFound, "event not found")
		return
	}
	reviewers, err := store.ListEventReviewers(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, eventDetail{Event: e, Reviewers: emptyIfNil(reviewers)})
}

// ApproveEvent handles POST /api/events/{id}/approve.
func (h *HistoryHandler) ApproveEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := h.Service.ApproveEvent(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusOK, nil, out)
}

// AddNote handles POST /api/notes.
func (h *HistoryHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	subject := model.Subject{Type: req.SubjectType, ID: req.SubjectID}
	out, err := h.Service.AddNote(r.Context(), actor(r), subject, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomeResponse(w, http.StatusCreated, nil, out)
}

// SubjectHistory returns a handler for GET /api/<subject>/{id}/history.
func (h *HistoryHandler) SubjectHistory(typ model.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		actions, err := h.Service.History(r.Context(), model.Subject{Type: typ, ID: id}, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		jsonResponse(w, http.StatusOK, emptyIfNil(actions))
	}
}

// ListActions handles GET /api/actions.
func (h *HistoryHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ActionFilter{
		Kind:         model.ActionKind(q.Get("action_type")),
		BuildID:      queryID(r, "build_id"),
		DeploymentID: queryID(r, "deployment_id"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if f.Kind != "" && !f.Kind.Valid() {
		jsonError(w, http.StatusBadRequest, "unknown action type")
		return
	}
	if typ := q.Get("subject_type"); typ != "" {
		subject := model.Subject{Type: model.SubjectType(typ), ID: queryID(r, "subject_id")}
		if !subject.Valid() {
			jsonError(w, http.StatusBadRequest, "invalid subject")
			return
		}
		f.Subject = &subject
	}

	actions, err := store.ListActions(r.Context(), h.DB, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(actions))
}

// Rebuild handles POST /api/admin/rebuild/{kind}. The rebuild is queued
// when a job queue is configured, otherwise it runs inline.
func (h *HistoryHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	kind, err := tree.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.Jobs != nil {
		id, err := h.Jobs.Enqueue(jobs.RebuildTree{Kind: kind, Reason: "requested by " + GetClaims(r.Context()).Username})
		if err != nil {
			writeError(w, r, err)
			return
		}
		jsonResponse(w, http.StatusAccepted, map[string]string{"job_id": id.String()})
		return
	}

	changed, err := h.Service.RebuildTree(r.Context(), kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"changed": changed})
}
