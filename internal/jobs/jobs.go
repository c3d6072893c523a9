// Package jobs runs background maintenance outside the request path.
//
// Every job carries its parameters in an explicit payload; workers share
// nothing but the database.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/rdb/internal/metrics"
	"github.com/erazemk/rdb/internal/store"
	"github.com/erazemk/rdb/internal/tree"
)

// ErrQueueFull is returned when a job cannot be queued without blocking.
var ErrQueueFull = errors.New("job queue is full")

// RebuildTree renumbers one tree table.
type RebuildTree struct {
	Kind   tree.Kind `json:"kind"`
	Reason string    `json:"reason,omitempty"`
}

// CleanupOrphans removes events whose inventory item is gone.
type CleanupOrphans struct{}

// Job is one unit of queued work.
type Job struct {
	ID       uuid.UUID `json:"id"`
	Payload  any       `json:"payload"`
	Enqueued time.Time `json:"enqueued"`
}

// Type names the job's payload for logs and metrics.
func (j Job) Type() string {
	switch j.Payload.(type) {
	case RebuildTree:
		return "rebuild_tree"
	case CleanupOrphans:
		return "cleanup_orphans"
	}
	return "unknown"
}

// Queue is a bounded in-process job queue.
type Queue struct {
	db     *sql.DB
	jobs   chan Job
	logger *slog.Logger

	mu      sync.Mutex
	pending map[tree.Kind]bool

	// done, if set, is called after each job finishes.
	done func(Job, error)
}

// NewQueue creates a queue holding up to size waiting jobs.
func NewQueue(db *sql.DB, size int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:      db,
		jobs:    make(chan Job, size),
		logger:  logger,
		pending: make(map[tree.Kind]bool),
	}
}

// Enqueue queues a payload. A rebuild of a tree that is already waiting
// to be rebuilt is merged into the waiting job and returns uuid.Nil.
func (q *Queue) Enqueue(payload any) (uuid.UUID, error) {
	switch p := payload.(type) {
	case RebuildTree:
		if _, err := tree.ParseKind(string(p.Kind)); err != nil {
			return uuid.Nil, err
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.pending[p.Kind] {
			return uuid.Nil, nil
		}
		id, err := q.push(payload)
		if err == nil {
			q.pending[p.Kind] = true
		}
		return id, err
	case CleanupOrphans:
		return q.push(payload)
	}
	return uuid.Nil, fmt.Errorf("unsupported job payload %T", payload)
}

func (q *Queue) push(payload any) (uuid.UUID, error) {
	job := Job{ID: uuid.New(), Payload: payload, Enqueued: time.Now()}
	select {
	case q.jobs <- job:
		return job.ID, nil
	default:
		return uuid.Nil, ErrQueueFull
	}
}

// Run processes jobs with the given number of workers until ctx is done.
func (q *Queue) Run(ctx context.Context, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	for range max(workers, 1) {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-q.jobs:
					q.finish(job, q.Handle(ctx, job.Payload))
				}
			}
		})
	}
	return g.Wait()
}

func (q *Queue) finish(job Job, err error) {
	if p, ok := job.Payload.(RebuildTree); ok {
		q.mu.Lock()
		delete(q.pending, p.Kind)
		q.mu.Unlock()
	}

	result := "ok"
	if err != nil {
		result = "error"
		q.logger.Error("job failed", "job_id", job.ID.String(), "type", job.Type(), "error", err)
	} else {
		q.logger.Info("job done", "job_id", job.ID.String(), "type", job.Type(),
			"waited", time.Since(job.Enqueued).Round(time.Millisecond).String())
	}
	metrics.Jobs.WithLabelValues(job.Type(), result).Inc()

	if q.done != nil {
		q.done(job, err)
	}
}

// Handle runs a payload synchronously.
func (q *Queue) Handle(ctx context.Context, payload any) error {
	switch p := payload.(type) {
	case RebuildTree:
		start := time.Now()
		var changed int
		err := store.InTx(ctx, q.db, func(tx *sql.Tx) error {
			var err error
			changed, err = tree.Rebuild(ctx, tx, p.Kind)
			return err
		})
		if err != nil {
			return err
		}
		metrics.TreeRebuilds.WithLabelValues(string(p.Kind)).Observe(time.Since(start).Seconds())
		q.logger.Info("tree rebuilt", "tree", string(p.Kind), "changed", changed, "reason", p.Reason)
		return nil

	case CleanupOrphans:
		n, err := store.DeleteOrphanedEvents(ctx, q.db)
		if err != nil {
			return err
		}
		if n > 0 {
			q.logger.Info("removed orphaned events", "count", n)
		}
		return nil
	}
	return fmt.Errorf("unsupported job payload %T", payload)
}

// Janitor periodically queues orphan cleanup and a rebuild of every tree
// whose numbering has drifted from its parent pointers.
func (q *Queue) Janitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.sweep(ctx)
		}
	}
}

func (q *Queue) sweep(ctx context.Context) {
	if _, err := q.Enqueue(CleanupOrphans{}); err != nil {
		q.logger.Warn("queueing orphan cleanup", "error", err)
	}
	for _, kind := range tree.Kinds {
		stale, err := tree.Check(ctx, q.db, kind)
		if err != nil {
			q.logger.Error("checking tree", "tree", string(kind), "error", err)
			continue
		}
		if stale == 0 {
			continue
		}
		reason := fmt.Sprintf("%d rows out of order", stale)
		if _, err := q.Enqueue(RebuildTree{Kind: kind, Reason: reason}); err != nil {
			q.logger.Warn("queueing tree rebuild", "tree", string(kind), "error", err)
		}
	}
}
