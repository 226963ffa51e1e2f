package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("FORGELINE_TEST_STRING", "value")
	if got := String("FORGELINE_TEST_STRING", "def"); got != "value" {
		t.Fatalf("String = %q, want value", got)
	}
	if got := String("FORGELINE_TEST_STRING_UNSET", "def"); got != "def" {
		t.Fatalf("String default = %q, want def", got)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("FORGELINE_TEST_INT", "42")
	got, err := Int("FORGELINE_TEST_INT", 1)
	if err != nil || got != 42 {
		t.Fatalf("Int = %d, %v", got, err)
	}
	if got, err := Int("FORGELINE_TEST_INT_UNSET", 7); err != nil || got != 7 {
		t.Fatalf("Int default = %d, %v", got, err)
	}
	t.Setenv("FORGELINE_TEST_INT", "many")
	if _, err := Int("FORGELINE_TEST_INT", 1); err == nil {
		t.Fatalf("expected error for non-numeric value")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("FORGELINE_TEST_BOOL", "true")
	got, err := Bool("FORGELINE_TEST_BOOL", false)
	if err != nil || !got {
		t.Fatalf("Bool = %v, %v", got, err)
	}
	t.Setenv("FORGELINE_TEST_BOOL", "maybe")
	if _, err := Bool("FORGELINE_TEST_BOOL", false); err == nil {
		t.Fatalf("expected error for invalid bool")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("FORGELINE_TEST_DURATION", "90s")
	got, err := Duration("FORGELINE_TEST_DURATION", time.Second)
	if err != nil || got != 90*time.Second {
		t.Fatalf("Duration = %v, %v", got, err)
	}
	t.Setenv("FORGELINE_TEST_DURATION", "soon")
	if _, err := Duration("FORGELINE_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}
