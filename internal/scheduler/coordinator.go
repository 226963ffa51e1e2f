package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/execution/engine"
	"github.com/forgeline-labs/forgeline-go/internal/repo"
)

// ErrQueueFull is the backpressure signal: the queue is at its policy
// limit and the enqueue was not applied.
var ErrQueueFull = errors.New("scheduler queue is full")

// AuditFunc records a scheduler action. A nil func disables auditing.
type AuditFunc func(ctx context.Context, action, entityID string, payload map[string]any)

type CoordinatorConfig struct {
	Queue  repo.SchedulerQueueRepository
	Runs   repo.RunRepository
	Engine *engine.Engine
	Policy *PolicyManager
	Logger *slog.Logger
	Audit  AuditFunc
	Clock  func() time.Time
}

// Coordinator owns the lease/step cycle. Scheduling is cooperative and
// single-threaded: nothing happens until a caller invokes Step, and each
// Step runs to completion before returning. The internal mutex only
// serializes overlapping callers; it does not introduce background work.
type Coordinator struct {
	queue  repo.SchedulerQueueRepository
	runs   repo.RunRepository
	engine *engine.Engine
	policy *PolicyManager
	logger *slog.Logger
	audit  AuditFunc
	clock  func() time.Time

	mu    sync.Mutex
	stats Stats
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("scheduler queue repository is required")
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("policy manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		queue:  cfg.Queue,
		runs:   cfg.Runs,
		engine: cfg.Engine,
		policy: cfg.Policy,
		logger: cfg.Logger,
		audit:  cfg.Audit,
		clock:  cfg.Clock,
	}, nil
}

// Enqueue adds a run to the queue. It is idempotent per run id: a second
// enqueue returns the existing entry with created=false. A full queue
// returns ErrQueueFull without any partial write.
func (c *Coordinator) Enqueue(ctx context.Context, runID string, priority int) (domain.QueueEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.QueueEntry{}, false, fmt.Errorf("run id is required")
	}
	run, err := c.runs.Get(ctx, runID)
	if err != nil {
		return domain.QueueEntry{}, false, err
	}
	if run.Status.Terminal() {
		return domain.QueueEntry{}, false, fmt.Errorf("run %s is %s: %w", run.ID, run.Status, engine.ErrInvalidState)
	}

	if existing, err := c.queue.Get(ctx, runID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.QueueEntry{}, false, err
	}

	policy := c.policy.Get()
	queued, err := c.queue.CountQueued(ctx)
	if err != nil {
		return domain.QueueEntry{}, false, err
	}
	if queued >= policy.QueueMax {
		return domain.QueueEntry{}, false, fmt.Errorf("queue at limit %d: %w", policy.QueueMax, ErrQueueFull)
	}

	entry, err := c.queue.Insert(ctx, domain.QueueEntry{
		RunID:      runID,
		TenantID:   run.TenantID,
		Priority:   priority,
		State:      domain.QueueStateQueued,
		EnqueuedAt: c.clock(),
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			existing, getErr := c.queue.Get(ctx, runID)
			if getErr != nil {
				return domain.QueueEntry{}, false, getErr
			}
			return existing, false, nil
		}
		return domain.QueueEntry{}, false, err
	}
	c.recordAudit(ctx, "scheduler.enqueue", runID, map[string]any{
		"tenant_id": run.TenantID,
		"priority":  priority,
	})
	return entry, true, nil
}

// Reasons a Step call granted no lease.
const (
	StepReasonDisabled   = "disabled"
	StepReasonQueueEmpty = "queue_empty"
	StepReasonQuota      = "skipped_due_to_quota"
)

// StepResult is what one scheduling decision produced. Leased is empty
// when nothing was eligible; Reason then says why.
type StepResult struct {
	Leased   string          `json:"leased,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Run      *domain.Run     `json:"run,omitempty"`
	Snapshot SnapshotPayload `json:"snapshot"`
}

// SnapshotPayload is the observable scheduler state: policy, counters,
// and both queue segments in their deterministic order.
type SnapshotPayload struct {
	Policy Policy              `json:"policy"`
	Stats  Stats               `json:"stats"`
	Queue  []domain.QueueEntry `json:"queue"`
	Active []domain.QueueEntry `json:"active"`
}

// Step leases the first eligible queued run under the current policy and
// advances it by exactly one graph step. Paused and terminal runs are
// dequeued without advancing. Tenants already at their active quota are
// skipped; if runnable queued work exists but nothing is eligible,
// skipped_due_to_quota increments and no lease is granted.
func (c *Coordinator) Step(ctx context.Context) (StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	policy := c.policy.Get()
	if !policy.Enabled {
		return c.result(ctx, "", nil, StepReasonDisabled)
	}

	queued, err := c.queue.ListQueued(ctx)
	if err != nil {
		return StepResult{}, err
	}
	if len(queued) == 0 {
		return c.result(ctx, "", nil, StepReasonQueueEmpty)
	}

	active, err := c.queue.CountActive(ctx)
	if err != nil {
		return StepResult{}, err
	}

	var lease *domain.QueueEntry
	blocked := false
	for i := range queued {
		entry := queued[i]
		run, err := c.runs.Get(ctx, entry.RunID)
		if err != nil {
			return StepResult{}, err
		}
		// Paused and terminal runs hold no queue slot. A pause marker is
		// lifted only by an explicit resume, which re-enqueues the run.
		if run.Status == domain.RunStatusPaused || run.Status.Terminal() {
			if err := c.queue.Delete(ctx, entry.RunID); err != nil && !errors.Is(err, repo.ErrNotFound) {
				return StepResult{}, err
			}
			c.logger.InfoContext(ctx, "unrunnable entry dequeued",
				"run_id", entry.RunID,
				"status", string(run.Status),
			)
			c.recordAudit(ctx, "scheduler.dequeue", entry.RunID, map[string]any{
				"status": string(run.Status),
			})
			continue
		}
		if active >= policy.GlobalConcurrency {
			blocked = true
			continue
		}
		tenantActive, err := c.queue.CountActiveByTenant(ctx, entry.TenantID)
		if err != nil {
			return StepResult{}, err
		}
		if tenantActive >= policy.TenantMaxActive {
			blocked = true
			continue
		}
		lease = &entry
		break
	}
	if lease == nil {
		if blocked {
			c.stats.SkippedDueToQuota++
			return c.result(ctx, "", nil, StepReasonQuota)
		}
		return c.result(ctx, "", nil, StepReasonQueueEmpty)
	}

	if _, err := c.queue.SetState(ctx, lease.RunID, domain.QueueStateActive); err != nil {
		return StepResult{}, err
	}
	c.stats.Leases++
	c.recordAudit(ctx, "scheduler.lease", lease.RunID, map[string]any{
		"tenant_id": lease.TenantID,
		"priority":  lease.Priority,
	})

	run, more, err := c.engine.AdvanceOne(ctx, lease.RunID, engine.StartOptions{})
	if err != nil {
		// Release the lease so the run is not stranded in active.
		if _, stateErr := c.queue.SetState(ctx, lease.RunID, domain.QueueStateQueued); stateErr != nil {
			c.logger.ErrorContext(ctx, "release lease after engine failure",
				"run_id", lease.RunID, "error", stateErr)
		}
		return StepResult{}, err
	}

	if more {
		// Requeue at the back of the run's priority class so equal-priority
		// runs alternate across step calls.
		if err := c.queue.Delete(ctx, lease.RunID); err != nil {
			return StepResult{}, err
		}
		if _, err := c.queue.Insert(ctx, domain.QueueEntry{
			RunID:      lease.RunID,
			TenantID:   lease.TenantID,
			Priority:   lease.Priority,
			State:      domain.QueueStateQueued,
			EnqueuedAt: c.clock(),
		}); err != nil {
			return StepResult{}, err
		}
	} else {
		if err := c.queue.Delete(ctx, lease.RunID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return StepResult{}, err
		}
		if run.Status.Terminal() {
			c.stats.Completed++
		}
	}

	c.logger.InfoContext(ctx, "scheduler step",
		"run_id", run.ID,
		"status", string(run.Status),
		"more", more,
	)
	c.recordAudit(ctx, "scheduler.step", run.ID, map[string]any{
		"status": string(run.Status),
		"more":   more,
	})
	return c.result(ctx, run.ID, &run, "")
}

// Snapshot returns the current observable scheduler state.
func (c *Coordinator) Snapshot(ctx context.Context) (SnapshotPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(ctx)
}

// GetStats returns a copy of the counters.
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// GetPolicy returns the live policy.
func (c *Coordinator) GetPolicy() Policy {
	return c.policy.Get()
}

// UpdatePolicy swaps the live policy after validation.
func (c *Coordinator) UpdatePolicy(ctx context.Context, policy Policy) (Policy, error) {
	updated, err := c.policy.Update(policy)
	if err != nil {
		return Policy{}, err
	}
	c.recordAudit(ctx, "scheduler.policy_update", "scheduler", map[string]any{
		"enabled":            updated.Enabled,
		"global_concurrency": updated.GlobalConcurrency,
		"tenant_max_active":  updated.TenantMaxActive,
		"queue_max":          updated.QueueMax,
	})
	return updated, nil
}

func (c *Coordinator) result(ctx context.Context, leased string, run *domain.Run, reason string) (StepResult, error) {
	snapshot, err := c.snapshotLocked(ctx)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Leased: leased, Reason: reason, Run: run, Snapshot: snapshot}, nil
}

func (c *Coordinator) snapshotLocked(ctx context.Context) (SnapshotPayload, error) {
	queued, err := c.queue.ListQueued(ctx)
	if err != nil {
		return SnapshotPayload{}, err
	}
	active, err := c.queue.ListActive(ctx)
	if err != nil {
		return SnapshotPayload{}, err
	}
	return SnapshotPayload{
		Policy: c.policy.Get(),
		Stats:  c.stats,
		Queue:  queued,
		Active: active,
	}, nil
}

func (c *Coordinator) recordAudit(ctx context.Context, action, entityID string, payload map[string]any) {
	if c.audit == nil {
		return
	}
	c.audit(ctx, action, entityID, payload)
}
