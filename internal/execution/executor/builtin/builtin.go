package builtin

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/forgeline-labs/forgeline-go/internal/execution/executor"
	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
)

// deterministicScore maps a seed to a stable value in [0, 100). The same
// seed always yields the same score, which keeps runs replayable.
func deterministicScore(seed string) int {
	sum := sha256.Sum256([]byte(seed))
	return int(binary.BigEndian.Uint32(sum[:4]) % 100)
}

func recordHistory(sc executor.StepContext) {
	sc.Snapshot.History = append(sc.Snapshot.History, sc.Step.Name)
}

// DefaultRegistry wires one builtin executor per pipeline step. The
// release executor publishes through publisher when it is non-nil.
func DefaultRegistry(publisher ReleasePublisher) (*executor.Registry, error) {
	registry := executor.NewRegistry()
	executors := []executor.Executor{
		&ProductExecutor{},
		&DesignExecutor{},
		&ResearchExecutor{},
		&PlanExecutor{},
		&ImplementExecutor{},
		&VerifyExecutor{},
		&ReleaseExecutor{Publisher: publisher},
	}
	for _, exec := range executors {
		if err := registry.Register(exec); err != nil {
			return nil, fmt.Errorf("register %s executor: %w", exec.Name(), err)
		}
	}
	for _, name := range graph.Default().Names() {
		if _, err := registry.Lookup(name); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
