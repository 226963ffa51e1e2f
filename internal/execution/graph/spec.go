package graph

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const SpecSchemaV1 = "forgeline.graph.v1"

// Spec is an operator-supplied tuning file. The pipeline shape is fixed;
// a spec can only adjust retry and loop budgets for known steps.
type Spec struct {
	Schema string         `json:"schema" yaml:"schema"`
	Steps  []StepOverride `json:"steps,omitempty" yaml:"steps,omitempty"`
}

type StepOverride struct {
	Name        string  `json:"name" yaml:"name"`
	MaxAttempts int     `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	BaseDelayMS int     `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty"`
	Multiplier  float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	// Loop knobs apply only to looping steps.
	MaxIterations  int   `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	AcceptDegraded *bool `json:"accept_degraded,omitempty" yaml:"accept_degraded,omitempty"`
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode graph spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("spec.schema must be %q", SpecSchemaV1)
	}
	base := Default()
	seen := make(map[string]struct{}, len(s.Steps))
	for i, override := range s.Steps {
		name := strings.TrimSpace(override.Name)
		if name == "" {
			return fmt.Errorf("spec.steps[%d].name is required", i)
		}
		if base.Index(name) < 0 {
			return fmt.Errorf("spec.steps[%d]: unknown step %q", i, name)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("spec.steps[%d]: duplicate step %q", i, name)
		}
		seen[name] = struct{}{}
		if override.MaxAttempts < 0 {
			return fmt.Errorf("spec.steps[%d].max_attempts must be non-negative", i)
		}
		if override.BaseDelayMS < 0 {
			return fmt.Errorf("spec.steps[%d].base_delay_ms must be non-negative", i)
		}
		if override.Multiplier < 0 {
			return fmt.Errorf("spec.steps[%d].multiplier must be non-negative", i)
		}
		if override.MaxIterations < 0 {
			return fmt.Errorf("spec.steps[%d].max_iterations must be non-negative", i)
		}
	}
	return nil
}

// Apply layers the spec's overrides onto the default definition.
func (s Spec) Apply() (Definition, error) {
	if err := s.Validate(); err != nil {
		return Definition{}, err
	}
	def := Default()
	for _, override := range s.Steps {
		idx := def.Index(override.Name)
		if idx < 0 {
			return Definition{}, errors.New("unknown step " + override.Name)
		}
		step := def.Steps[idx]
		if override.MaxAttempts > 0 {
			step.Retry.MaxAttempts = override.MaxAttempts
		}
		if override.BaseDelayMS > 0 {
			step.Retry.BaseDelay = time.Duration(override.BaseDelayMS) * time.Millisecond
		}
		if override.Multiplier > 0 {
			step.Retry.Multiplier = override.Multiplier
		}
		if step.Loop != nil {
			if override.MaxIterations > 0 {
				step.Loop.MaxIterations = override.MaxIterations
			}
			if override.AcceptDegraded != nil {
				step.Loop.AcceptDegraded = *override.AcceptDegraded
			}
		}
		def.Steps[idx] = step
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}
