package graph

import (
	"fmt"
	"strings"
	"time"
)

// Canonical step names, in pipeline order.
const (
	StepProduct   = "product"
	StepDesign    = "design"
	StepResearch  = "research"
	StepPlan      = "plan"
	StepImplement = "implement"
	StepVerify    = "verify"
	StepRelease   = "release"
)

// RetryPolicy bounds attempts for a single step. Backoff between attempt n
// and n+1 is BaseDelay * Multiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts int           `json:"maxAttempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `json:"baseDelay" yaml:"base_delay"`
	Multiplier  float64       `json:"multiplier" yaml:"multiplier"`
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1")
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must be non-negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1")
	}
	return nil
}

// LoopPolicy bounds a step that re-runs until it passes. Iterations are
// recorded as successive attempts of the same step index, so MaxIterations
// replaces the step's retry budget. When AcceptDegraded is set, the final
// allowed iteration records ok with a degraded marker instead of exhausting
// the run.
type LoopPolicy struct {
	MaxIterations  int  `json:"maxIterations" yaml:"max_iterations"`
	AcceptDegraded bool `json:"acceptDegraded" yaml:"accept_degraded"`
}

func (p LoopPolicy) Validate() error {
	if p.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1")
	}
	return nil
}

type Step struct {
	Name  string      `json:"name" yaml:"name"`
	Retry RetryPolicy `json:"retry" yaml:"retry"`
	Loop  *LoopPolicy `json:"loop,omitempty" yaml:"loop,omitempty"`
}

// Budget is the attempt budget actually enforced for the step. Looping
// steps spend their loop iterations as attempts.
func (s Step) Budget() int {
	if s.Loop != nil {
		return s.Loop.MaxIterations
	}
	return s.Retry.MaxAttempts
}

func (s Step) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("step name is required")
	}
	if err := s.Retry.Validate(); err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}
	if s.Loop != nil {
		if err := s.Loop.Validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	return nil
}

// Definition is the fixed delivery pipeline. Step order is positional;
// index i must finish with an ok attempt before index i+1 runs.
type Definition struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

const (
	defaultMaxAttempts    = 3
	defaultBaseDelay      = time.Second
	defaultMultiplier     = 2.0
	defaultMaxVerifyLoops = 3
)

func defaultRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		Multiplier:  defaultMultiplier,
	}
}

// Default returns the canonical delivery pipeline: product, design,
// research, plan, implement, verify (looping), release.
func Default() Definition {
	return Definition{Steps: []Step{
		{Name: StepProduct, Retry: defaultRetry()},
		{Name: StepDesign, Retry: defaultRetry()},
		{Name: StepResearch, Retry: defaultRetry()},
		{Name: StepPlan, Retry: defaultRetry()},
		{Name: StepImplement, Retry: defaultRetry()},
		{Name: StepVerify, Retry: defaultRetry(), Loop: &LoopPolicy{MaxIterations: defaultMaxVerifyLoops, AcceptDegraded: true}},
		{Name: StepRelease, Retry: defaultRetry()},
	}}
}

func (d Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("definition requires at least one step")
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		name := strings.TrimSpace(step.Name)
		if _, ok := seen[name]; ok {
			return fmt.Errorf("steps[%d]: duplicate step name %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Index returns the position of the named step, or -1.
func (d Definition) Index(name string) int {
	name = strings.TrimSpace(name)
	for i, step := range d.Steps {
		if step.Name == name {
			return i
		}
	}
	return -1
}

func (d Definition) StepAt(index int) (Step, error) {
	if index < 0 || index >= len(d.Steps) {
		return Step{}, fmt.Errorf("step index %d out of range", index)
	}
	return d.Steps[index], nil
}

func (d Definition) Len() int {
	return len(d.Steps)
}

// Names returns step names in pipeline order.
func (d Definition) Names() []string {
	names := make([]string, 0, len(d.Steps))
	for _, step := range d.Steps {
		names = append(names, step.Name)
	}
	return names
}
