package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/repo"
)

const queueColumns = `run_id, tenant_id, priority, state, enqueued_at`

// schedulingOrder is the total order leases are taken in.
const schedulingOrder = ` ORDER BY priority DESC, enqueued_at ASC, run_id ASC`

type SchedulerQueueStore struct {
	db DB
}

func NewSchedulerQueueStore(db DB) *SchedulerQueueStore {
	if db == nil {
		return nil
	}
	return &SchedulerQueueStore{db: db}
}

func (s *SchedulerQueueStore) Insert(ctx context.Context, entry domain.QueueEntry) (domain.QueueEntry, error) {
	if s == nil || s.db == nil {
		return domain.QueueEntry{}, fmt.Errorf("scheduler queue store not initialized")
	}
	if err := entry.Validate(); err != nil {
		return domain.QueueEntry{}, err
	}
	entry.EnqueuedAt = normalizeTime(entry.EnqueuedAt)
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO scheduler_items (run_id, tenant_id, priority, state, enqueued_at)
		 VALUES ($1,$2,$3,$4,$5)
		 RETURNING `+queueColumns,
		strings.TrimSpace(entry.RunID),
		strings.TrimSpace(entry.TenantID),
		entry.Priority,
		string(entry.State),
		entry.EnqueuedAt,
	)
	created, err := scanQueueEntry(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.QueueEntry{}, fmt.Errorf("insert scheduler item: %w", repo.ErrConflict)
		}
		return domain.QueueEntry{}, fmt.Errorf("insert scheduler item: %w", err)
	}
	return created, nil
}

func (s *SchedulerQueueStore) Get(ctx context.Context, runID string) (domain.QueueEntry, error) {
	if s == nil || s.db == nil {
		return domain.QueueEntry{}, fmt.Errorf("scheduler queue store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.QueueEntry{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+queueColumns+` FROM scheduler_items WHERE run_id = $1`,
		runID,
	)
	entry, err := scanQueueEntry(row)
	if err != nil {
		return domain.QueueEntry{}, handleNotFound(err)
	}
	return entry, nil
}

func (s *SchedulerQueueStore) Delete(ctx context.Context, runID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("scheduler queue store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_items WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete scheduler item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete scheduler item: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *SchedulerQueueStore) SetState(ctx context.Context, runID string, state domain.QueueState) (domain.QueueEntry, error) {
	if s == nil || s.db == nil {
		return domain.QueueEntry{}, fmt.Errorf("scheduler queue store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.QueueEntry{}, fmt.Errorf("run id is required")
	}
	switch state {
	case domain.QueueStateQueued, domain.QueueStateActive:
	default:
		return domain.QueueEntry{}, fmt.Errorf("unknown queue state %q", state)
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE scheduler_items SET state = $1 WHERE run_id = $2 RETURNING `+queueColumns,
		string(state),
		runID,
	)
	entry, err := scanQueueEntry(row)
	if err != nil {
		return domain.QueueEntry{}, handleNotFound(err)
	}
	return entry, nil
}

func (s *SchedulerQueueStore) ListQueued(ctx context.Context) ([]domain.QueueEntry, error) {
	return s.listByState(ctx, domain.QueueStateQueued)
}

func (s *SchedulerQueueStore) ListActive(ctx context.Context) ([]domain.QueueEntry, error) {
	return s.listByState(ctx, domain.QueueStateActive)
}

func (s *SchedulerQueueStore) listByState(ctx context.Context, state domain.QueueState) ([]domain.QueueEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("scheduler queue store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+queueColumns+` FROM scheduler_items WHERE state = $1`+schedulingOrder,
		string(state),
	)
	if err != nil {
		return nil, fmt.Errorf("list scheduler items: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.QueueEntry, 0)
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduler item: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scheduler items: %w", err)
	}
	return entries, nil
}

func (s *SchedulerQueueStore) CountQueued(ctx context.Context) (int, error) {
	return s.countByState(ctx, domain.QueueStateQueued, "")
}

func (s *SchedulerQueueStore) CountActive(ctx context.Context) (int, error) {
	return s.countByState(ctx, domain.QueueStateActive, "")
}

func (s *SchedulerQueueStore) CountActiveByTenant(ctx context.Context, tenantID string) (int, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, fmt.Errorf("tenant id is required")
	}
	return s.countByState(ctx, domain.QueueStateActive, tenantID)
}

func (s *SchedulerQueueStore) countByState(ctx context.Context, state domain.QueueState, tenantID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("scheduler queue store not initialized")
	}
	query := `SELECT COUNT(*) FROM scheduler_items WHERE state = $1`
	args := []any{string(state)}
	if tenantID != "" {
		args = append(args, tenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count scheduler items: %w", err)
	}
	return count, nil
}

type queueEntryScanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(scanner queueEntryScanner) (domain.QueueEntry, error) {
	var entry domain.QueueEntry
	var state string
	if err := scanner.Scan(
		&entry.RunID,
		&entry.TenantID,
		&entry.Priority,
		&state,
		&entry.EnqueuedAt,
	); err != nil {
		return domain.QueueEntry{}, err
	}
	entry.State = domain.QueueState(state)
	entry.EnqueuedAt = entry.EnqueuedAt.UTC()
	return entry, nil
}
