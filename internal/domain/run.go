package domain

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus is derived from the persisted attempt history plus the run's
// pause marker. It is never assigned directly by callers.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

func NormalizeRunStatus(raw string) (RunStatus, error) {
	switch RunStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case RunStatusPending:
		return RunStatusPending, nil
	case RunStatusRunning:
		return RunStatusRunning, nil
	case RunStatusPaused:
		return RunStatusPaused, nil
	case RunStatusCompleted:
		return RunStatusCompleted, nil
	case RunStatusFailed:
		return RunStatusFailed, nil
	default:
		return "", fmt.Errorf("unknown run status %q", raw)
	}
}

// Terminal reports whether the status admits no further execution.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is one delivery-pipeline execution for a tenant's work item.
type Run struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	WorkItemID string     `json:"workItemId"`
	Phase      string     `json:"phase"`
	Status     RunStatus  `json:"status"`
	StopAfter  string     `json:"stopAfter,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(r.WorkItemID) == "" {
		return fmt.Errorf("work item id is required")
	}
	if _, err := NormalizeRunStatus(string(r.Status)); err != nil {
		return err
	}
	return nil
}
