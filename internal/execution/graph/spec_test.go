package graph

import (
	"testing"
	"time"
)

func TestParseSpecAppliesOverrides(t *testing.T) {
	input := []byte(`
schema: forgeline.graph.v1
steps:
  - name: implement
    max_attempts: 5
    base_delay_ms: 500
  - name: verify
    max_iterations: 2
    accept_degraded: false
`)
	spec, err := ParseSpec(input)
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	def, err := spec.Apply()
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	implement, _ := def.StepAt(def.Index(StepImplement))
	if implement.Retry.MaxAttempts != 5 {
		t.Fatalf("implement max attempts = %d, want 5", implement.Retry.MaxAttempts)
	}
	if implement.Retry.BaseDelay != 500*time.Millisecond {
		t.Fatalf("implement base delay = %v, want 500ms", implement.Retry.BaseDelay)
	}

	verify, _ := def.StepAt(def.Index(StepVerify))
	if verify.Loop == nil || verify.Loop.MaxIterations != 2 {
		t.Fatalf("verify loop not overridden: %+v", verify.Loop)
	}
	if verify.Loop.AcceptDegraded {
		t.Fatalf("verify accept_degraded must be disabled")
	}
}

func TestParseSpecRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{name: "wrong schema", input: "schema: forgeline.graph.v2"},
		{name: "unknown step", input: "schema: forgeline.graph.v1\nsteps:\n  - name: deploy\n"},
		{name: "duplicate step", input: "schema: forgeline.graph.v1\nsteps:\n  - name: verify\n  - name: verify\n"},
		{name: "blank name", input: "schema: forgeline.graph.v1\nsteps:\n  - name: \"  \"\n"},
	}
	for _, tc := range cases {
		if _, err := ParseSpec([]byte(tc.input)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestSpecWithoutOverridesMatchesDefault(t *testing.T) {
	spec, err := ParseSpec([]byte("schema: forgeline.graph.v1\n"))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	def, err := spec.Apply()
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := Default()
	if def.Len() != want.Len() {
		t.Fatalf("step count = %d, want %d", def.Len(), want.Len())
	}
	for i := range want.Steps {
		if def.Steps[i].Name != want.Steps[i].Name {
			t.Fatalf("step %d = %q, want %q", i, def.Steps[i].Name, want.Steps[i].Name)
		}
	}
}
