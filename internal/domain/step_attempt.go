package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type AttemptStatus string

const (
	AttemptStatusOK    AttemptStatus = "ok"
	AttemptStatusError AttemptStatus = "error"
)

func NormalizeAttemptStatus(raw string) (AttemptStatus, error) {
	switch AttemptStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case AttemptStatusOK:
		return AttemptStatusOK, nil
	case AttemptStatusError:
		return AttemptStatusError, nil
	default:
		return "", fmt.Errorf("unknown attempt status %q", raw)
	}
}

// StepAttempt is one persisted execution of a pipeline step. Attempts for a
// (run, step index) pair are numbered contiguously from 1, and at most one
// of them carries status ok.
type StepAttempt struct {
	ID           string          `json:"id"`
	RunID        string          `json:"runId"`
	StepIndex    int             `json:"stepIndex"`
	StepName     string          `json:"stepName"`
	Attempt      int             `json:"attempt"`
	Status       AttemptStatus   `json:"status"`
	State        json.RawMessage `json:"state,omitempty"`
	Logs         json.RawMessage `json:"logs,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (a StepAttempt) Validate() error {
	if strings.TrimSpace(a.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	if a.StepIndex < 0 {
		return fmt.Errorf("step index must be non-negative")
	}
	if strings.TrimSpace(a.StepName) == "" {
		return fmt.Errorf("step name is required")
	}
	if a.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1")
	}
	if _, err := NormalizeAttemptStatus(string(a.Status)); err != nil {
		return err
	}
	if a.Status == AttemptStatusError && strings.TrimSpace(a.ErrorMessage) == "" {
		return fmt.Errorf("error attempts require an error message")
	}
	return nil
}
