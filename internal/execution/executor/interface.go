package executor

import (
	"context"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
)

// Hooks are deterministic test levers threaded through from run options.
type Hooks struct {
	// ForceVerifyFail makes every verification pass fail, exercising the
	// loop budget.
	ForceVerifyFail bool
}

// StepContext is everything one attempt of one step may read. Executors
// mutate Snapshot in place; the engine persists it with the attempt.
type StepContext struct {
	Run      domain.Run
	Step     graph.Step
	Index    int
	Attempt  int
	Snapshot *domain.RunSnapshot
	Hooks    Hooks
}

// Executor runs one attempt of a pipeline step. A returned error records an
// error attempt; nil records ok. Executors must be deterministic for a
// given StepContext.
type Executor interface {
	Name() string
	Execute(ctx context.Context, sc StepContext) error
}
