// Package service implements the inventory use cases. Each operation
// mutates entities and records their history in a single transaction.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/jobs"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidParent is returned when a tree move would create a cycle
	// or attach a node to a parent it cannot belong to.
	ErrInvalidParent = errors.New("invalid parent")
	// ErrInvalid is returned for requests that are malformed for the
	// current state of the entity.
	ErrInvalid = errors.New("invalid request")
)

// Enqueuer accepts background jobs.
type Enqueuer interface {
	Enqueue(payload any) (uuid.UUID, error)
}

// Outcome reports what a mutation wrote to the history.
type Outcome struct {
	Actions  []model.Action   `json:"actions"`
	Repairs  []history.Repair `json:"repairs,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Service runs the use cases against one database.
type Service struct {
	db     *sql.DB
	engine *history.Engine
	jobs   Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

// New creates a service. jobs may be nil, in which case repairs are only
// logged.
func New(db *sql.DB, engine *history.Engine, jobs Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, engine: engine, jobs: jobs, logger: logger, now: time.Now}
}

// op carries one operation's transaction and accumulated outcome.
type op struct {
	s     *Service
	tx    *sql.Tx
	actor *int64
	out   *Outcome
}

// run executes fn in a transaction and schedules repairs once it commits.
func (s *Service) run(ctx context.Context, actor int64, fn func(o *op) error) (*Outcome, error) {
	o := &op{s: s, out: &Outcome{}}
	if actor > 0 {
		o.actor = &actor
	}

	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		o.tx = tx
		return fn(o)
	})
	if err != nil {
		return nil, err
	}

	s.scheduleRepairs(o.out.Repairs)
	return o.out, nil
}

func (s *Service) scheduleRepairs(repairs []history.Repair) {
	scheduled := make(map[tree.Kind]bool)
	for _, r := range repairs {
		if scheduled[r.Tree] {
			continue
		}
		scheduled[r.Tree] = true
		if s.jobs == nil {
			s.logger.Warn("repair needed but no job queue configured", "tree", string(r.Tree), "reason", r.Reason)
			continue
		}
		if _, err := s.jobs.Enqueue(jobs.RebuildTree{Kind: r.Tree, Reason: r.Reason}); err != nil {
			s.logger.Error("queueing tree repair", "tree", string(r.Tree), "error", err)
		}
	}
}

// record passes req to the engine on the operation's transaction.
func (o *op) record(ctx context.Context, req history.Request) error {
	if req.ActorID == nil {
		req.ActorID = o.actor
	}
	res, err := o.s.engine.Record(ctx, o.tx, req)
	if errors.Is(err, history.ErrSubjectNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return err
	}
	o.out.Actions = append(o.out.Actions, res.Actions...)
	o.out.Repairs = append(o.out.Repairs, res.Repairs...)
	return nil
}

func (o *op) warn(format string, args ...any) {
	o.out.Warnings = append(o.out.Warnings, fmt.Sprintf(format, args...))
}

// dateOr returns t, or the current time when t is zero.
func (s *Service) dateOr(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// History returns the action log of a subject, newest first.
func (s *Service) History(ctx context.Context, subject model.Subject, limit int) ([]model.Action, error) {
	if !subject.Valid() {
		return nil, fmt.Errorf("%w: subject %s", ErrInvalid, subject)
	}
	return store.ListActions(ctx, s.db, model.ActionFilter{Subject: &subject, Limit: limit})
}

// RebuildTree renumbers a tree immediately.
func (s *Service) RebuildTree(ctx context.Context, kind tree.Kind) (int, error) {
	var changed int
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		changed, err = tree.Rebuild(ctx, tx, kind)
		return err
	})
	return changed, err
}
