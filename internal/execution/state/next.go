package state

import (
	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
)

type DecisionKind string

const (
	// DecisionNext means the named step should run its NextAttempt.
	DecisionNext DecisionKind = "next"
	// DecisionComplete means every step already has an ok attempt.
	DecisionComplete DecisionKind = "complete"
	// DecisionExhausted means a step spent its budget without an ok.
	DecisionExhausted DecisionKind = "exhausted"
)

type Decision struct {
	Kind        DecisionKind
	Index       int
	Name        string
	NextAttempt int
	LastError   string
}

// NextStep finds the first step index without an ok attempt and decides
// what the engine should do there. Completed steps are never re-executed.
func NextStep(def graph.Definition, attempts []domain.StepAttempt) Decision {
	grouped := groupByIndex(attempts)
	for index := 0; index < def.Len(); index++ {
		step := def.Steps[index]
		outcome := DeriveStepOutcome(index, step.Name, grouped[index])
		if outcome.Passed {
			continue
		}
		if outcome.Attempts >= step.Budget() {
			return Decision{
				Kind:      DecisionExhausted,
				Index:     index,
				Name:      step.Name,
				LastError: outcome.LastError,
			}
		}
		return Decision{
			Kind:        DecisionNext,
			Index:       index,
			Name:        step.Name,
			NextAttempt: outcome.Attempts + 1,
			LastError:   outcome.LastError,
		}
	}
	return Decision{Kind: DecisionComplete, Index: def.Len()}
}
