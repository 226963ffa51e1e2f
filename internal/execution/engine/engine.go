package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/execution/executor"
	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
	"github.com/forgeline-labs/forgeline-go/internal/execution/state"
	"github.com/forgeline-labs/forgeline-go/internal/repo"
)

// ErrInvalidState is returned when a caller tries to drive a run that is
// already terminal.
var ErrInvalidState = errors.New("run is in a terminal state")

// ErrUnknownStopMarker is returned when a stop_after option names a step
// that is not in the graph.
var ErrUnknownStopMarker = errors.New("unknown stop_after step")

// StartOptions tune one start/resume call. The hooks exist for
// deterministic failure-path tests and mirror the API surface.
type StartOptions struct {
	// StopAfter pauses the run once the named step records ok.
	StopAfter string
	// MaxVerifyLoops overrides the verify step's loop budget when > 0.
	MaxVerifyLoops int
	// ForceVerifyFail makes every verification pass fail.
	ForceVerifyFail bool
	// InjectFailures forces the first N attempts of a step to fail,
	// keyed by step name.
	InjectFailures map[string]int
}

type Config struct {
	Runs       repo.RunRepository
	Attempts   repo.StepAttemptRepository
	Registry   *executor.Registry
	Definition graph.Definition
	Backoff    BackoffStrategy
	Waiter     Waiter
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Engine drives runs through the pipeline one persisted attempt at a time.
// It is single-threaded per run: callers must not advance the same run
// concurrently (the scheduler guarantees this by never leasing an active
// run twice).
type Engine struct {
	runs     repo.RunRepository
	attempts repo.StepAttemptRepository
	registry *executor.Registry
	def      graph.Definition
	backoff  BackoffStrategy
	waiter   Waiter
	logger   *slog.Logger
	clock    func() time.Time
}

func New(cfg Config) (*Engine, error) {
	if cfg.Runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}
	if cfg.Attempts == nil {
		return nil, fmt.Errorf("step attempt repository is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("executor registry is required")
	}
	if cfg.Definition.Len() == 0 {
		cfg.Definition = graph.Default()
	}
	if err := cfg.Definition.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff{}
	}
	if cfg.Waiter == nil {
		cfg.Waiter = TimerWaiter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		runs:     cfg.Runs,
		attempts: cfg.Attempts,
		registry: cfg.Registry,
		def:      cfg.Definition,
		backoff:  cfg.Backoff,
		waiter:   cfg.Waiter,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
	}, nil
}

// Start drives a run from its current resume point until it completes,
// fails, or pauses at the requested stop marker. A run already sitting at
// its pause point stays paused: only Resume lifts a marker.
func (e *Engine) Start(ctx context.Context, runID string, opts StartOptions) (domain.Run, error) {
	run, err := e.prepare(ctx, runID, opts, false)
	if err != nil {
		return domain.Run{}, err
	}
	return e.drive(ctx, run, opts, 0)
}

// Resume continues a paused (or still pending) run. The previous stop
// marker is cleared unless the caller provides a new one.
func (e *Engine) Resume(ctx context.Context, runID string, opts StartOptions) (domain.Run, error) {
	run, err := e.prepare(ctx, runID, opts, true)
	if err != nil {
		return domain.Run{}, err
	}
	return e.drive(ctx, run, opts, 0)
}

// AdvanceOne resolves exactly one graph step (including its internal
// retries) and recomputes the run status. It reports whether the run still
// has runnable work afterwards. A persisted stop marker is left untouched,
// so a paused run is a no-op here until someone resumes it.
func (e *Engine) AdvanceOne(ctx context.Context, runID string, opts StartOptions) (domain.Run, bool, error) {
	run, err := e.prepare(ctx, runID, opts, false)
	if err != nil {
		return domain.Run{}, false, err
	}
	run, err = e.drive(ctx, run, opts, 1)
	if err != nil {
		return domain.Run{}, false, err
	}
	more := run.Status == domain.RunStatusRunning || run.Status == domain.RunStatusPending
	return run, more, nil
}

// History returns the full ordered attempt history for a run.
func (e *Engine) History(ctx context.Context, runID string) ([]domain.StepAttempt, error) {
	if _, err := e.runs.Get(ctx, runID); err != nil {
		return nil, err
	}
	return e.attempts.ListByRun(ctx, runID)
}

// Status re-derives and persists the run's status from its history.
func (e *Engine) Status(ctx context.Context, runID string) (domain.Run, error) {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	attempts, err := e.attempts.ListByRun(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	return e.persistStatus(ctx, run, attempts)
}

// prepare validates the run and reconciles its stop marker. clearStop is
// true only for Resume: every other caller keeps a persisted marker in
// place when its options carry none.
func (e *Engine) prepare(ctx context.Context, runID string, opts StartOptions, clearStop bool) (domain.Run, error) {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	if run.Status.Terminal() {
		return domain.Run{}, fmt.Errorf("run %s is %s: %w", run.ID, run.Status, ErrInvalidState)
	}
	stopAfter := strings.TrimSpace(opts.StopAfter)
	if stopAfter != "" && e.def.Index(stopAfter) < 0 {
		return domain.Run{}, fmt.Errorf("%w %q", ErrUnknownStopMarker, stopAfter)
	}
	if stopAfter != run.StopAfter && (stopAfter != "" || clearStop) {
		run, err = e.runs.SetStopAfter(ctx, run.ID, stopAfter)
		if err != nil {
			return domain.Run{}, err
		}
	}
	return run, nil
}

// definitionFor applies per-call loop overrides.
func (e *Engine) definitionFor(opts StartOptions) graph.Definition {
	if opts.MaxVerifyLoops <= 0 {
		return e.def
	}
	def := graph.Definition{Steps: append([]graph.Step(nil), e.def.Steps...)}
	idx := def.Index(graph.StepVerify)
	if idx < 0 {
		return e.def
	}
	step := def.Steps[idx]
	if step.Loop != nil {
		loop := *step.Loop
		loop.MaxIterations = opts.MaxVerifyLoops
		step.Loop = &loop
		def.Steps[idx] = step
	}
	return def
}

// drive advances the run until terminal, paused, or maxSteps graph steps
// have been resolved (0 means unbounded).
func (e *Engine) drive(ctx context.Context, run domain.Run, opts StartOptions, maxSteps int) (domain.Run, error) {
	def := e.definitionFor(opts)

	history, err := e.attempts.ListByRun(ctx, run.ID)
	if err != nil {
		return domain.Run{}, err
	}
	if err := state.ValidateHistory(def, history); err != nil {
		return domain.Run{}, fmt.Errorf("run %s history corrupt: %w", run.ID, err)
	}
	// A run resting at its stop marker does not advance. Resume cleared
	// the marker before we got here if the caller intended to continue.
	if state.DeriveRunStatus(def, run.StopAfter, history) == domain.RunStatusPaused {
		return e.persistStatusWith(ctx, run, def, history)
	}
	snapshot, err := latestSnapshot(history)
	if err != nil {
		return domain.Run{}, err
	}
	injections := cloneInjections(opts.InjectFailures)

	resolved := 0
	for {
		decision := state.NextStep(def, history)
		switch decision.Kind {
		case state.DecisionComplete, state.DecisionExhausted:
			return e.persistStatusWith(ctx, run, def, history)
		case state.DecisionNext:
		default:
			return domain.Run{}, fmt.Errorf("unexpected decision %q", decision.Kind)
		}

		stepIndex := decision.Index
		step := def.Steps[stepIndex]
		stepResolved := false
		for !stepResolved {
			if ctx.Err() != nil {
				return domain.Run{}, ctx.Err()
			}
			decision = state.NextStep(def, history)
			if decision.Kind != state.DecisionNext || decision.Index != stepIndex {
				break
			}

			attempt, execErr := e.executeAttempt(ctx, run, def, step, decision, snapshot, opts, injections)
			persisted, err := e.attempts.Insert(ctx, attempt)
			if err != nil {
				return domain.Run{}, err
			}
			history = append(history, persisted)

			if execErr == nil {
				stepResolved = true
				break
			}
			if decision.NextAttempt >= step.Budget() {
				stepResolved = true
				break
			}
			delay := e.backoff.DelayFor(step.Retry, decision.NextAttempt)
			e.logger.InfoContext(ctx, "step retry scheduled",
				"run_id", run.ID,
				"step", step.Name,
				"attempt", decision.NextAttempt,
				"backoff_ms", delay.Milliseconds(),
			)
			if err := e.waiter.Wait(ctx, delay); err != nil {
				return domain.Run{}, err
			}
		}

		run, err = e.persistStatusWith(ctx, run, def, history)
		if err != nil {
			return domain.Run{}, err
		}
		if run.Status.Terminal() || run.Status == domain.RunStatusPaused {
			return run, nil
		}

		resolved++
		if maxSteps > 0 && resolved >= maxSteps {
			return run, nil
		}
	}
}

func (e *Engine) executeAttempt(
	ctx context.Context,
	run domain.Run,
	def graph.Definition,
	step graph.Step,
	decision state.Decision,
	snapshot *domain.RunSnapshot,
	opts StartOptions,
	injections map[string]int,
) (domain.StepAttempt, error) {
	started := e.clock()
	working := snapshot.Clone()

	var execErr error
	injected := false
	if injections[step.Name] > 0 {
		injections[step.Name]--
		injected = true
		execErr = fmt.Errorf("injected failure for step %s", step.Name)
	} else {
		exec, err := e.registry.Lookup(step.Name)
		if err != nil {
			execErr = err
		} else {
			execErr = exec.Execute(ctx, executor.StepContext{
				Run:      run,
				Step:     step,
				Index:    decision.Index,
				Attempt:  decision.NextAttempt,
				Snapshot: working,
				Hooks:    executor.Hooks{ForceVerifyFail: opts.ForceVerifyFail},
			})
		}
	}
	duration := e.clock().Sub(started)

	status := domain.AttemptStatusOK
	errorMessage := ""
	if execErr != nil {
		status = domain.AttemptStatusError
		errorMessage = execErr.Error()
	} else {
		*snapshot = *working
	}

	var backoffMS int64
	if execErr != nil && decision.NextAttempt < step.Budget() {
		backoffMS = e.backoff.DelayFor(step.Retry, decision.NextAttempt).Milliseconds()
	}
	logs, _ := json.Marshal(map[string]any{
		"durationMs": duration.Milliseconds(),
		"backoffMs":  backoffMS,
		"injected":   injected,
	})
	stateRaw, err := snapshot.Encode()
	if err != nil {
		stateRaw = json.RawMessage("{}")
	}

	e.logger.InfoContext(ctx, "step attempt recorded",
		"run_id", run.ID,
		"step", step.Name,
		"step_index", decision.Index,
		"attempt", decision.NextAttempt,
		"status", string(status),
		"duration_ms", duration.Milliseconds(),
	)

	return domain.StepAttempt{
		RunID:        run.ID,
		StepIndex:    decision.Index,
		StepName:     step.Name,
		Attempt:      decision.NextAttempt,
		Status:       status,
		State:        stateRaw,
		Logs:         logs,
		ErrorMessage: errorMessage,
		CreatedAt:    e.clock(),
	}, execErr
}

func (e *Engine) persistStatus(ctx context.Context, run domain.Run, history []domain.StepAttempt) (domain.Run, error) {
	return e.persistStatusWith(ctx, run, e.def, history)
}

func (e *Engine) persistStatusWith(ctx context.Context, run domain.Run, def graph.Definition, history []domain.StepAttempt) (domain.Run, error) {
	status := state.DeriveRunStatus(def, run.StopAfter, history)
	var startedAt *time.Time
	if run.StartedAt == nil && len(history) > 0 {
		t := history[0].CreatedAt
		startedAt = &t
	}
	var endedAt *time.Time
	if status.Terminal() {
		t := e.clock()
		endedAt = &t
	}
	if status == run.Status && startedAt == nil && endedAt == nil {
		return run, nil
	}
	return e.runs.UpdateStatus(ctx, run.ID, status, startedAt, endedAt)
}

// latestSnapshot picks the state of the furthest recorded attempt.
func latestSnapshot(history []domain.StepAttempt) (*domain.RunSnapshot, error) {
	if len(history) == 0 {
		return &domain.RunSnapshot{}, nil
	}
	last := history[len(history)-1]
	snapshot, err := domain.DecodeRunSnapshot(last.State)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

func cloneInjections(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
