package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/repo"
)

const stepAttemptColumns = `attempt_id, run_id, step_index, step_name, attempt, status, state, logs, error_message, created_at`

type StepAttemptStore struct {
	db DB
}

func NewStepAttemptStore(db DB) *StepAttemptStore {
	if db == nil {
		return nil
	}
	return &StepAttemptStore{db: db}
}

// Insert persists one attempt. The table carries
// UNIQUE (run_id, step_index, attempt); a duplicate key surfaces as
// repo.ErrConflict so callers can detect racing writers.
func (s *StepAttemptStore) Insert(ctx context.Context, attempt domain.StepAttempt) (domain.StepAttempt, error) {
	if s == nil || s.db == nil {
		return domain.StepAttempt{}, fmt.Errorf("step attempt store not initialized")
	}
	if err := attempt.Validate(); err != nil {
		return domain.StepAttempt{}, err
	}
	if strings.TrimSpace(attempt.ID) == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.CreatedAt = normalizeTime(attempt.CreatedAt)
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO step_attempts (
			attempt_id,
			run_id,
			step_index,
			step_name,
			attempt,
			status,
			state,
			logs,
			error_message,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING `+stepAttemptColumns,
		strings.TrimSpace(attempt.ID),
		strings.TrimSpace(attempt.RunID),
		attempt.StepIndex,
		strings.TrimSpace(attempt.StepName),
		attempt.Attempt,
		string(attempt.Status),
		normalizeRaw(attempt.State),
		normalizeRaw(attempt.Logs),
		nullIfEmpty(attempt.ErrorMessage),
		attempt.CreatedAt,
	)
	created, err := scanStepAttempt(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.StepAttempt{}, fmt.Errorf("insert step attempt: %w", repo.ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return domain.StepAttempt{}, fmt.Errorf("insert step attempt: %w", repo.ErrNotFound)
		}
		return domain.StepAttempt{}, fmt.Errorf("insert step attempt: %w", err)
	}
	return created, nil
}

func (s *StepAttemptStore) ListByRun(ctx context.Context, runID string) ([]domain.StepAttempt, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("step attempt store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stepAttemptColumns+`
		 FROM step_attempts
		 WHERE run_id = $1
		 ORDER BY step_index ASC, attempt ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list step attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.StepAttempt, 0)
	for rows.Next() {
		attempt, err := scanStepAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list step attempts: %w", err)
	}
	return attempts, nil
}

func (s *StepAttemptStore) Last(ctx context.Context, runID string) (domain.StepAttempt, error) {
	if s == nil || s.db == nil {
		return domain.StepAttempt{}, fmt.Errorf("step attempt store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.StepAttempt{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stepAttemptColumns+`
		 FROM step_attempts
		 WHERE run_id = $1
		 ORDER BY step_index DESC, attempt DESC
		 LIMIT 1`,
		runID,
	)
	attempt, err := scanStepAttempt(row)
	if err != nil {
		return domain.StepAttempt{}, handleNotFound(err)
	}
	return attempt, nil
}

func normalizeRaw(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

type stepAttemptScanner interface {
	Scan(dest ...any) error
}

func scanStepAttempt(scanner stepAttemptScanner) (domain.StepAttempt, error) {
	var attempt domain.StepAttempt
	var state []byte
	var logs []byte
	var status string
	var errorMessage sql.NullString
	if err := scanner.Scan(
		&attempt.ID,
		&attempt.RunID,
		&attempt.StepIndex,
		&attempt.StepName,
		&attempt.Attempt,
		&status,
		&state,
		&logs,
		&errorMessage,
		&attempt.CreatedAt,
	); err != nil {
		return domain.StepAttempt{}, err
	}
	attempt.Status = domain.AttemptStatus(status)
	attempt.State = json.RawMessage(state)
	attempt.Logs = json.RawMessage(logs)
	if errorMessage.Valid {
		attempt.ErrorMessage = errorMessage.String
	}
	attempt.CreatedAt = attempt.CreatedAt.UTC()
	return attempt, nil
}
