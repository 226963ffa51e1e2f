package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
)

func TestStepAttemptColumnsIncludeUniqueKey(t *testing.T) {
	for _, col := range []string{"run_id", "step_index", "attempt"} {
		if !strings.Contains(stepAttemptColumns, col) {
			t.Fatalf("step attempt columns missing %q", col)
		}
	}
}

func TestStepAttemptStoreValidatesBeforeInsert(t *testing.T) {
	s := NewStepAttemptStore(nil)
	if s != nil {
		t.Fatalf("expected nil store for nil db")
	}

	store := &StepAttemptStore{db: nil}
	_, err := store.Insert(context.Background(), domain.StepAttempt{RunID: "r", StepName: "product", Attempt: 1, Status: domain.AttemptStatusOK})
	if err == nil {
		t.Fatalf("expected error from store without db")
	}
}

func TestNormalizeRaw(t *testing.T) {
	if got := string(normalizeRaw(nil)); got != "{}" {
		t.Fatalf("normalizeRaw(nil) = %q, want {}", got)
	}
	if got := string(normalizeRaw([]byte(`{"a":1}`))); got != `{"a":1}` {
		t.Fatalf("normalizeRaw kept = %q", got)
	}
}
