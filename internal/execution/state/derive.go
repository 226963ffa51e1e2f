package state

import (
	"fmt"
	"sort"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
)

// StepOutcome summarizes all attempts of one step index.
type StepOutcome struct {
	Index    int
	Name     string
	Attempts int
	// Passed is set when any attempt recorded ok.
	Passed bool
	// LastError holds the most recent error message when Passed is false.
	LastError string
}

// groupByIndex buckets attempts by step index, each bucket ordered by
// attempt number ascending.
func groupByIndex(attempts []domain.StepAttempt) map[int][]domain.StepAttempt {
	grouped := make(map[int][]domain.StepAttempt)
	for _, attempt := range attempts {
		grouped[attempt.StepIndex] = append(grouped[attempt.StepIndex], attempt)
	}
	for index := range grouped {
		bucket := grouped[index]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Attempt < bucket[j].Attempt })
		grouped[index] = bucket
	}
	return grouped
}

// DeriveStepOutcome collapses one step's attempts into an outcome.
func DeriveStepOutcome(index int, name string, attempts []domain.StepAttempt) StepOutcome {
	outcome := StepOutcome{Index: index, Name: name, Attempts: len(attempts)}
	for _, attempt := range attempts {
		if attempt.Status == domain.AttemptStatusOK {
			outcome.Passed = true
		}
	}
	if !outcome.Passed && len(attempts) > 0 {
		outcome.LastError = attempts[len(attempts)-1].ErrorMessage
	}
	return outcome
}

// DeriveRunStatus computes the run status from the attempt history and the
// run's pause marker. Status is never stored authority; the history is.
func DeriveRunStatus(def graph.Definition, stopAfter string, attempts []domain.StepAttempt) domain.RunStatus {
	if len(attempts) == 0 {
		return domain.RunStatusPending
	}
	grouped := groupByIndex(attempts)

	for index := 0; index < def.Len(); index++ {
		step := def.Steps[index]
		outcome := DeriveStepOutcome(index, step.Name, grouped[index])
		if outcome.Passed {
			if step.Name == stopAfter && len(grouped[index+1]) == 0 && index+1 < def.Len() {
				return domain.RunStatusPaused
			}
			continue
		}
		if outcome.Attempts >= step.Budget() && outcome.Attempts > 0 {
			return domain.RunStatusFailed
		}
		return domain.RunStatusRunning
	}
	return domain.RunStatusCompleted
}

// ValidateHistory checks the structural invariants of a persisted history:
// attempt numbers contiguous from 1 per step index, at most one ok attempt
// per index, and indexes within the definition.
func ValidateHistory(def graph.Definition, attempts []domain.StepAttempt) error {
	grouped := groupByIndex(attempts)
	for index, bucket := range grouped {
		if index < 0 || index >= def.Len() {
			return fmt.Errorf("step index %d outside definition", index)
		}
		oks := 0
		for i, attempt := range bucket {
			if attempt.Attempt != i+1 {
				return fmt.Errorf("step %d: attempt numbers not contiguous (have %d at position %d)", index, attempt.Attempt, i)
			}
			if attempt.Status == domain.AttemptStatusOK {
				oks++
			}
		}
		if oks > 1 {
			return fmt.Errorf("step %d: %d ok attempts, at most one allowed", index, oks)
		}
	}
	return nil
}
