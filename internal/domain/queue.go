package domain

import (
	"fmt"
	"strings"
	"time"
)

type QueueState string

const (
	QueueStateQueued QueueState = "queued"
	QueueStateActive QueueState = "active"
)

// QueueEntry is a run waiting for (or holding) a scheduler lease. Entries
// are keyed by run id, so enqueueing the same run twice is a no-op.
type QueueEntry struct {
	RunID      string     `json:"runId"`
	TenantID   string     `json:"tenantId"`
	Priority   int        `json:"priority"`
	State      QueueState `json:"state"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
}

func (e QueueEntry) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return fmt.Errorf("tenant id is required")
	}
	switch e.State {
	case QueueStateQueued, QueueStateActive:
	default:
		return fmt.Errorf("unknown queue state %q", e.State)
	}
	return nil
}

// Less orders queue entries by priority descending, then enqueue time
// ascending, then run id ascending. The order is total, so snapshots are
// stable across calls.
func (e QueueEntry) Less(other QueueEntry) bool {
	if e.Priority != other.Priority {
		return e.Priority > other.Priority
	}
	if !e.EnqueuedAt.Equal(other.EnqueuedAt) {
		return e.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return e.RunID < other.RunID
}
