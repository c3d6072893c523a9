// Package history turns entity mutations into the append-only action log.
//
// Callers mutate an entity first and then call Engine.Record with the old
// values they replaced. The engine writes the primary record and every
// cascade it implies (location changes, parent and build notifications,
// deployment phases of member items) depth-first on the caller's
// transaction, so the whole call tree commits or rolls back together.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/rdb/internal/metrics"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

var (
	// ErrCascadeDepth is returned when a cascade nests deeper than the engine allows.
	ErrCascadeDepth = errors.New("action cascade too deep")
	// ErrSubjectNotFound is returned when the subject of a request does not exist.
	ErrSubjectNotFound = errors.New("action subject not found")
	// ErrMissingDeployment is returned when an item starts a deployment without naming one.
	ErrMissingDeployment = errors.New("deployment not specified")
)

// Change carries the values a mutation replaced. Nil pointers mean the
// value did not change.
type Change struct {
	OldLocationID *int64
	OldParentID   *int64
	OldBuildID    *int64

	// Before and After are compared for field_change records.
	Before any
	After  any

	// Children holds per-item changes for build-wide transitions, keyed
	// by inventory ID.
	Children map[int64]Change
}

// Request describes one action to record.
type Request struct {
	Subject model.Subject
	Kind    model.ActionKind
	ActorID *int64

	// Referrer is set when this request is itself a side effect of an
	// action on another subject. For subassembly_change it names the
	// child that was added to or removed from Subject.
	Referrer      *model.Subject
	ReferringKind model.ActionKind
	Removed       bool

	// Date backdates the record. Zero means now.
	Date time.Time

	DeploymentType model.DeploymentType
	DeploymentID   *int64
	CruiseID       *int64
	Latitude       *float64
	Longitude      *float64
	Depth          *int

	Detail string
	Change Change
}

// cascade derives a side-effect request that inherits the actor, date and
// deployment context of req.
func (req Request) cascade(subject model.Subject, kind model.ActionKind) Request {
	return Request{
		Subject:        subject,
		Kind:           kind,
		ActorID:        req.ActorID,
		ReferringKind:  req.Kind,
		Date:           req.Date,
		DeploymentType: req.DeploymentType,
		DeploymentID:   req.DeploymentID,
		CruiseID:       req.CruiseID,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		Depth:          req.Depth,
	}
}

// Repair reports a missing reference found while recording. The record
// is still written with a best-effort detail; the caller schedules a
// rebuild of Tree once the transaction commits.
type Repair struct {
	Subject model.Subject `json:"subject"`
	Reason  string        `json:"reason"`
	Tree    tree.Kind     `json:"tree"`
}

// Result lists what a Record call produced, in generation order.
type Result struct {
	Actions []model.Action `json:"actions"`
	Repairs []Repair       `json:"repairs,omitempty"`
}

// Engine records actions and their cascades.
type Engine struct {
	labels   model.Labels
	logger   *slog.Logger
	now      func() time.Time
	maxDepth int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the source of default action dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxDepth caps how deep cascades may nest.
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// New creates an engine that names things using labels.
func New(labels model.Labels, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		labels:   labels,
		logger:   logger,
		now:      time.Now,
		maxDepth: 16,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// visit identifies one record within a call tree.
type visit struct {
	subject  model.Subject
	kind     model.ActionKind
	referrer model.Subject
}

// run is the state of one Record call tree.
type run struct {
	*Engine
	q       store.Querier
	res     *Result
	seen    map[visit]bool
	deepest int
}

// Record writes the action described by req and all of its cascades
// using q, which should be the transaction that performed the mutation.
func (e *Engine) Record(ctx context.Context, q store.Querier, req Request) (*Result, error) {
	if !req.Subject.Valid() {
		return nil, fmt.Errorf("recording %s: invalid subject %s", req.Kind, req.Subject)
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("recording %s: unknown action kind", req.Kind)
	}
	if req.Date.IsZero() {
		req.Date = e.now()
	}
	req.Date = req.Date.UTC()

	r := &run{Engine: e, q: q, res: &Result{}, seen: make(map[visit]bool)}
	if err := r.record(ctx, req, 0); err != nil {
		return nil, err
	}
	metrics.CascadeDepth.Observe(float64(r.deepest))
	return r.res, nil
}

func (r *run) record(ctx context.Context, req Request, depth int) error {
	if depth > r.maxDepth {
		return fmt.Errorf("recording %s on %s: %w", req.Kind, req.Subject, ErrCascadeDepth)
	}
	r.deepest = max(r.deepest, depth)

	v := visit{subject: req.Subject, kind: req.Kind}
	if req.Referrer != nil {
		v.referrer = *req.Referrer
	}
	if r.seen[v] {
		r.logger.Debug("skipping repeated cascade", "subject", req.Subject.String(), "kind", req.Kind)
		return nil
	}
	r.seen[v] = true

	switch req.Subject.Type {
	case model.SubjectInventory:
		return r.inventory(ctx, req, depth)
	case model.SubjectBuild:
		return r.build(ctx, req, depth)
	case model.SubjectDeployment:
		return r.deployment(ctx, req)
	case model.SubjectLocation:
		return r.location(ctx, req)
	case model.SubjectEvent:
		return r.event(ctx, req)
	}
	return fmt.Errorf("recording %s: unsupported subject %s", req.Kind, req.Subject)
}

// base starts a record carrying the request's context.
func (r *run) base(req Request) model.Action {
	return model.Action{
		Kind:           req.Kind,
		Subject:        req.Subject,
		Detail:         req.Detail,
		UserID:         req.ActorID,
		DeploymentType: req.DeploymentType,
		DeploymentID:   req.DeploymentID,
		CreatedAt:      req.Date,
	}
}

func (r *run) persist(ctx context.Context, a model.Action) error {
	if err := store.InsertAction(ctx, r.q, &a); err != nil {
		return fmt.Errorf("recording %s on %s: %w", a.Kind, a.Subject, err)
	}
	r.res.Actions = append(r.res.Actions, a)
	metrics.ActionsRecorded.WithLabelValues(string(a.Kind)).Inc()
	return nil
}

func (r *run) repair(subject model.Subject, kind tree.Kind, reason string) {
	r.logger.Warn("history reference missing, scheduling repair",
		"subject", subject.String(), "tree", string(kind), "reason", reason)
	r.res.Repairs = append(r.res.Repairs, Repair{Subject: subject, Reason: reason, Tree: kind})
	metrics.Repairs.WithLabelValues(string(kind)).Inc()
}

// locationMoved reports whether the change recorded a different previous
// location than cur.
func locationMoved(c Change, cur *int64) bool {
	if c.OldLocationID == nil {
		return false
	}
	return cur == nil || *cur != *c.OldLocationID
}

// cascadeLocation records the location change that precedes a structural
// action when the subject's location moved with it.
func (r *run) cascadeLocation(ctx context.Context, req Request, cur *int64, depth int) error {
	if !locationMoved(req.Change, cur) {
		return nil
	}
	sub := req.cascade(req.Subject, model.ActionLocationChange)
	sub.Change = Change{OldLocationID: req.Change.OldLocationID}
	return r.record(ctx, sub, depth+1)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
