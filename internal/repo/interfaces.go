package repo

import (
	"context"
	"time"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
)

// RunFilter narrows ListRuns. Zero values mean "no constraint".
type RunFilter struct {
	TenantID string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

type RunRepository interface {
	Create(ctx context.Context, run domain.Run) (domain.Run, error)
	Get(ctx context.Context, id string) (domain.Run, error)
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	// UpdateStatus persists a derived status together with the lifecycle
	// timestamps that accompany it.
	UpdateStatus(ctx context.Context, id string, status domain.RunStatus, startedAt, endedAt *time.Time) (domain.Run, error)
	SetStopAfter(ctx context.Context, id string, stopAfter string) (domain.Run, error)
}

type StepAttemptRepository interface {
	// Insert persists one attempt. A duplicate (run, step index, attempt)
	// key yields ErrConflict.
	Insert(ctx context.Context, attempt domain.StepAttempt) (domain.StepAttempt, error)
	// ListByRun returns the full history ordered by step index, then
	// attempt, both ascending.
	ListByRun(ctx context.Context, runID string) ([]domain.StepAttempt, error)
	// Last returns the most recently recorded attempt for the run.
	Last(ctx context.Context, runID string) (domain.StepAttempt, error)
}

type SchedulerQueueRepository interface {
	// Insert adds a queued entry. An entry for the same run id yields
	// ErrConflict; callers treat that as an idempotent no-op.
	Insert(ctx context.Context, entry domain.QueueEntry) (domain.QueueEntry, error)
	Get(ctx context.Context, runID string) (domain.QueueEntry, error)
	Delete(ctx context.Context, runID string) error
	// SetState flips an entry between queued and active, preserving its
	// original enqueue time.
	SetState(ctx context.Context, runID string, state domain.QueueState) (domain.QueueEntry, error)
	// ListQueued returns queued entries in scheduling order: priority
	// descending, enqueued_at ascending, run id ascending.
	ListQueued(ctx context.Context) ([]domain.QueueEntry, error)
	ListActive(ctx context.Context) ([]domain.QueueEntry, error)
	CountQueued(ctx context.Context) (int, error)
	CountActive(ctx context.Context) (int, error)
	CountActiveByTenant(ctx context.Context, tenantID string) (int, error)
}
