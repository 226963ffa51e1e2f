package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/execution/executor"
	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
)

// ImplementExecutor produces the change itself as a patch derived from the
// plan.
type ImplementExecutor struct{}

func (e *ImplementExecutor) Name() string { return graph.StepImplement }

func (e *ImplementExecutor) Execute(ctx context.Context, sc executor.StepContext) error {
	if len(sc.Snapshot.Plan) == 0 {
		return fmt.Errorf("implement requires a plan")
	}
	var patch strings.Builder
	fmt.Fprintf(&patch, "--- a/%s\n+++ b/%s\n", sc.Run.WorkItemID, sc.Run.WorkItemID)
	fmt.Fprintf(&patch, "@@ run %s attempt %d @@\n", sc.Run.ID, sc.Attempt)
	fmt.Fprintf(&patch, "+implemented %s for tenant %s\n", sc.Run.WorkItemID, sc.Run.TenantID)
	sc.Snapshot.Patch = patch.String()
	recordHistory(sc)
	return nil
}

// VerifyExecutor checks the implemented patch. Failed passes return an
// error so the loop is recorded attempt by attempt; the final allowed pass
// may accept a degraded result when the step's loop policy says so.
type VerifyExecutor struct{}

func (e *VerifyExecutor) Name() string { return graph.StepVerify }

func (e *VerifyExecutor) Execute(ctx context.Context, sc executor.StepContext) error {
	if sc.Snapshot.Patch == "" {
		return fmt.Errorf("verify requires an implemented patch")
	}
	budget := sc.Step.Budget()
	acceptDegraded := sc.Step.Loop != nil && sc.Step.Loop.AcceptDegraded
	score := deterministicScore(fmt.Sprintf("%s:verify:%d", sc.Run.ID, sc.Attempt))

	passed := !sc.Hooks.ForceVerifyFail

	if !passed {
		if acceptDegraded && sc.Attempt >= budget {
			sc.Snapshot.Verify = &domain.VerifyReport{
				Passed:   true,
				Score:    score,
				Loops:    sc.Attempt,
				Degraded: true,
				Summary:  "verification gate opened after exhausting the loop budget",
			}
			recordHistory(sc)
			return nil
		}
		return fmt.Errorf("verification failed (score %d, pass %d of %d)", score, sc.Attempt, budget)
	}

	sc.Snapshot.Verify = &domain.VerifyReport{
		Passed:  true,
		Score:   score,
		Loops:   sc.Attempt,
		Summary: fmt.Sprintf("verification passed on pass %d", sc.Attempt),
	}
	recordHistory(sc)
	return nil
}

// ReleasePublisher stores the final release bundle. A nil publisher skips
// publication; the notes still land in the snapshot.
type ReleasePublisher interface {
	PublishRelease(ctx context.Context, runID string, bundle []byte) (string, error)
}

// ReleaseExecutor cuts release notes from the accumulated snapshot.
type ReleaseExecutor struct {
	Publisher ReleasePublisher
}

func (e *ReleaseExecutor) Name() string { return graph.StepRelease }

func (e *ReleaseExecutor) Execute(ctx context.Context, sc executor.StepContext) error {
	if sc.Snapshot.Verify == nil || !sc.Snapshot.Verify.Passed {
		return fmt.Errorf("release requires a passing verification")
	}
	var notes strings.Builder
	fmt.Fprintf(&notes, "Release notes for %s (run %s)\n", sc.Run.WorkItemID, sc.Run.ID)
	fmt.Fprintf(&notes, "Pipeline: %s\n", strings.Join(sc.Snapshot.History, " -> "))
	if sc.Snapshot.Verify.Degraded {
		fmt.Fprintf(&notes, "Verification: degraded pass after %d loops\n", sc.Snapshot.Verify.Loops)
	} else {
		fmt.Fprintf(&notes, "Verification: passed (score %d)\n", sc.Snapshot.Verify.Score)
	}
	sc.Snapshot.ReleaseNotes = notes.String()
	recordHistory(sc)

	if e.Publisher != nil {
		if _, err := e.Publisher.PublishRelease(ctx, sc.Run.ID, []byte(sc.Snapshot.ReleaseNotes)); err != nil {
			return fmt.Errorf("publish release bundle: %w", err)
		}
	}
	return nil
}
