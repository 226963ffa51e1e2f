package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/repo"
)

const runColumns = `run_id, tenant_id, work_item_id, phase, status, stop_after, created_at, started_at, ended_at`

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}
	run.CreatedAt = normalizeTime(run.CreatedAt)
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO pipeline_runs (
			run_id,
			tenant_id,
			work_item_id,
			phase,
			status,
			stop_after,
			created_at,
			started_at,
			ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+runColumns,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.TenantID),
		strings.TrimSpace(run.WorkItemID),
		nullIfEmpty(run.Phase),
		string(run.Status),
		nullIfEmpty(run.StopAfter),
		run.CreatedAt,
		nullTimePtr(run.StartedAt),
		nullTimePtr(run.EndedAt),
	)
	created, err := scanRun(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Run{}, fmt.Errorf("insert run: %w", repo.ErrConflict)
		}
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return created, nil
}

func (s *RunStore) Get(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE run_id = $1`,
		id,
	)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 4)

	if strings.TrimSpace(filter.TenantID) != "" {
		args = append(args, strings.TrimSpace(filter.TenantID))
		clauses = append(clauses, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if strings.TrimSpace(string(filter.Status)) != "" {
		status, err := domain.NormalizeRunStatus(string(filter.Status))
		if err != nil {
			return nil, err
		}
		args = append(args, string(status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, run_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) UpdateStatus(ctx context.Context, id string, status domain.RunStatus, startedAt, endedAt *time.Time) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	normalized, err := domain.NormalizeRunStatus(string(status))
	if err != nil {
		return domain.Run{}, err
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE pipeline_runs
		 SET status = $1,
		     started_at = COALESCE($2, started_at),
		     ended_at = $3
		 WHERE run_id = $4
		 RETURNING `+runColumns,
		string(normalized),
		nullTimePtr(startedAt),
		nullTimePtr(endedAt),
		id,
	)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) SetStopAfter(ctx context.Context, id string, stopAfter string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE pipeline_runs SET stop_after = $1 WHERE run_id = $2 RETURNING `+runColumns,
		nullIfEmpty(stopAfter),
		id,
	)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

type runScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner runScanner) (domain.Run, error) {
	var run domain.Run
	var phase sql.NullString
	var stopAfter sql.NullString
	var status string
	var startedAt sql.NullTime
	var endedAt sql.NullTime
	if err := scanner.Scan(
		&run.ID,
		&run.TenantID,
		&run.WorkItemID,
		&phase,
		&status,
		&stopAfter,
		&run.CreatedAt,
		&startedAt,
		&endedAt,
	); err != nil {
		return domain.Run{}, err
	}
	if phase.Valid {
		run.Phase = phase.String
	}
	if stopAfter.Valid {
		run.StopAfter = stopAfter.String
	}
	run.Status = domain.RunStatus(status)
	run.CreatedAt = run.CreatedAt.UTC()
	run.StartedAt = timePtr(startedAt)
	run.EndedAt = timePtr(endedAt)
	return run, nil
}
