package history

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookstand/pkg/docstore"
)

// Sweep tuning. One batch is one atomic delete; maxSweepRounds bounds a
// single Cleanup call so a huge backlog cannot pin the process (the next
// scheduled run picks up the remainder).
const (
	DefaultRetentionMonths = 3
	DefaultBatchSize       = 500
	DefaultSweepInterval   = 7 * 24 * time.Hour
	maxSweepRounds         = 50
)

// RunLog persists when the sweep last ran, surviving restarts.
type RunLog interface {
	LastCleanup() (time.Time, bool)
	SetLastCleanup(t time.Time) error
}

// Sweeper deletes audit entries past the retention age in fixed-size
// atomic batches.
type Sweeper struct {
	store     docstore.Store
	runLog    RunLog
	tracer    trace.Tracer
	retention func(now time.Time) time.Time
	batchSize int
	interval  time.Duration
}

// NewSweeper creates a sweeper with the default three-month retention,
// 500-entry batches and weekly schedule.
func NewSweeper(store docstore.Store, runLog RunLog) *Sweeper {
	return &Sweeper{
		store:  store,
		runLog: runLog,
		tracer: otel.Tracer("bookstand/history"),
		retention: func(now time.Time) time.Time {
			return now.AddDate(0, -DefaultRetentionMonths, 0)
		},
		batchSize: DefaultBatchSize,
		interval:  DefaultSweepInterval,
	}
}

// WithRetention overrides the age threshold computation.
func (s *Sweeper) WithRetention(fn func(now time.Time) time.Time) *Sweeper {
	s.retention = fn
	return s
}

// WithBatchSize overrides the per-batch record ceiling.
func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	s.batchSize = n
	return s
}

// WithInterval overrides the minimum time between scheduled runs.
func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	s.interval = d
	return s
}

// Cleanup deletes every entry older than the retention threshold,
// batch by batch, until a batch comes back short. Each batch is deleted
// atomically, so a failure part-way through loses nothing already
// committed: Cleanup returns the count deleted so far along with the
// error, and the caller may simply run it again.
func (s *Sweeper) Cleanup(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "history.cleanup")
	defer span.End()

	threshold := s.retention(time.Now().UTC())
	span.SetAttributes(attribute.String("threshold", threshold.Format(time.RFC3339)))

	deleted := 0
	for round := 0; round < maxSweepRounds; round++ {
		res, err := s.store.Query(ctx, Collection, docstore.Query{
			CreatedAtMax: threshold,
			Limit:        s.batchSize,
		})
		if err != nil {
			return deleted, fmt.Errorf("query expired entries: %w", err)
		}
		if len(res.Documents) == 0 {
			break
		}

		ids := make([]string, len(res.Documents))
		for i, d := range res.Documents {
			ids[i] = d.ID
		}
		if err := s.store.BatchDelete(ctx, Collection, ids); err != nil {
			return deleted, fmt.Errorf("delete batch of %d: %w", len(ids), err)
		}
		deleted += len(ids)

		// A short batch means the backlog is exhausted.
		if len(ids) < s.batchSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("entries.deleted", deleted))
	return deleted, nil
}

// RunIfDue runs Cleanup when the persisted last-run timestamp is older
// than the sweep interval. It is meant to be called once at process
// start; there is no background timer. Returns the deleted count and
// whether a sweep actually ran.
func (s *Sweeper) RunIfDue(ctx context.Context) (int, bool, error) {
	if last, ok := s.runLog.LastCleanup(); ok && time.Since(last) < s.interval {
		return 0, false, nil
	}

	deleted, err := s.Cleanup(ctx)
	if err != nil {
		return deleted, true, err
	}
	if err := s.runLog.SetLastCleanup(time.Now().UTC()); err != nil {
		log.Printf("history: persist cleanup timestamp: %v", err)
	}
	return deleted, true, nil
}
