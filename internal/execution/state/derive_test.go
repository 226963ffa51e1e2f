package state

import (
	"testing"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
)

func attemptRecord(index int, name string, attempt int, status domain.AttemptStatus, errMsg string) domain.StepAttempt {
	return domain.StepAttempt{
		RunID:        "run-1",
		StepIndex:    index,
		StepName:     name,
		Attempt:      attempt,
		Status:       status,
		ErrorMessage: errMsg,
	}
}

func okThrough(def graph.Definition, lastIndex int) []domain.StepAttempt {
	attempts := make([]domain.StepAttempt, 0, lastIndex+1)
	for i := 0; i <= lastIndex; i++ {
		attempts = append(attempts, attemptRecord(i, def.Steps[i].Name, 1, domain.AttemptStatusOK, ""))
	}
	return attempts
}

func TestDeriveRunStatus(t *testing.T) {
	def := graph.Default()

	cases := []struct {
		name      string
		stopAfter string
		attempts  []domain.StepAttempt
		want      domain.RunStatus
	}{
		{
			name:     "no attempts is pending",
			attempts: nil,
			want:     domain.RunStatusPending,
		},
		{
			name:     "mid pipeline is running",
			attempts: okThrough(def, 2),
			want:     domain.RunStatusRunning,
		},
		{
			name:     "retrying step is running",
			attempts: append(okThrough(def, 1), attemptRecord(2, "research", 1, domain.AttemptStatusError, "boom")),
			want:     domain.RunStatusRunning,
		},
		{
			name: "budget exhausted is failed",
			attempts: append(okThrough(def, 1),
				attemptRecord(2, "research", 1, domain.AttemptStatusError, "boom"),
				attemptRecord(2, "research", 2, domain.AttemptStatusError, "boom"),
				attemptRecord(2, "research", 3, domain.AttemptStatusError, "boom"),
			),
			want: domain.RunStatusFailed,
		},
		{
			name:      "stop marker pauses after the named step",
			stopAfter: "design",
			attempts:  okThrough(def, 1),
			want:      domain.RunStatusPaused,
		},
		{
			name:      "resumed run past the marker keeps running",
			stopAfter: "design",
			attempts:  okThrough(def, 2),
			want:      domain.RunStatusRunning,
		},
		{
			name:     "all steps ok is completed",
			attempts: okThrough(def, def.Len()-1),
			want:     domain.RunStatusCompleted,
		},
		{
			name:      "stop marker on final step still completes",
			stopAfter: "release",
			attempts:  okThrough(def, def.Len()-1),
			want:      domain.RunStatusCompleted,
		},
	}

	for _, tc := range cases {
		got := DeriveRunStatus(def, tc.stopAfter, tc.attempts)
		if got != tc.want {
			t.Fatalf("%s: DeriveRunStatus = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestNextStep(t *testing.T) {
	def := graph.Default()

	fresh := NextStep(def, nil)
	if fresh.Kind != DecisionNext || fresh.Index != 0 || fresh.NextAttempt != 1 {
		t.Fatalf("fresh run decision = %+v", fresh)
	}

	mid := NextStep(def, okThrough(def, 2))
	if mid.Kind != DecisionNext || mid.Index != 3 || mid.Name != "plan" || mid.NextAttempt != 1 {
		t.Fatalf("mid run decision = %+v", mid)
	}

	retrying := NextStep(def, append(okThrough(def, 2), attemptRecord(3, "plan", 1, domain.AttemptStatusError, "nope")))
	if retrying.Kind != DecisionNext || retrying.Index != 3 || retrying.NextAttempt != 2 || retrying.LastError != "nope" {
		t.Fatalf("retrying decision = %+v", retrying)
	}

	exhausted := NextStep(def, append(okThrough(def, 2),
		attemptRecord(3, "plan", 1, domain.AttemptStatusError, "nope"),
		attemptRecord(3, "plan", 2, domain.AttemptStatusError, "nope"),
		attemptRecord(3, "plan", 3, domain.AttemptStatusError, "nope"),
	))
	if exhausted.Kind != DecisionExhausted || exhausted.Index != 3 {
		t.Fatalf("exhausted decision = %+v", exhausted)
	}

	done := NextStep(def, okThrough(def, def.Len()-1))
	if done.Kind != DecisionComplete {
		t.Fatalf("complete decision = %+v", done)
	}
}

func TestValidateHistory(t *testing.T) {
	def := graph.Default()

	good := append(okThrough(def, 0), attemptRecord(1, "design", 1, domain.AttemptStatusError, "x"), attemptRecord(1, "design", 2, domain.AttemptStatusOK, ""))
	if err := ValidateHistory(def, good); err != nil {
		t.Fatalf("valid history rejected: %v", err)
	}

	gap := []domain.StepAttempt{attemptRecord(0, "product", 2, domain.AttemptStatusOK, "")}
	if err := ValidateHistory(def, gap); err == nil {
		t.Fatalf("expected error for attempt gap")
	}

	doubleOK := []domain.StepAttempt{
		attemptRecord(0, "product", 1, domain.AttemptStatusOK, ""),
		attemptRecord(0, "product", 2, domain.AttemptStatusOK, ""),
	}
	if err := ValidateHistory(def, doubleOK); err == nil {
		t.Fatalf("expected error for two ok attempts")
	}

	outOfRange := []domain.StepAttempt{attemptRecord(42, "ghost", 1, domain.AttemptStatusOK, "")}
	if err := ValidateHistory(def, outOfRange); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}
