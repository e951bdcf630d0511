package environment_test

import (
	"testing"
	"time"

	"github.com/cloudops/autobot/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("AUTOBOT_TEST_STR", "hello")
	if got := environment.StringOr("AUTOBOT_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
	if got := environment.StringOr("AUTOBOT_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("AUTOBOT_TEST_REQ", "present")
	v, err := environment.RequiredString("AUTOBOT_TEST_REQ")
	if err != nil || v != "present" {
		t.Errorf("expected present, got %q (err %v)", v, err)
	}
	if _, err := environment.RequiredString("AUTOBOT_TEST_REQ_MISSING"); err == nil {
		t.Error("expected error for missing variable")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("AUTOBOT_TEST_INT", "42")
	if got := environment.IntOr("AUTOBOT_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("AUTOBOT_TEST_INT", "not-a-number")
	if got := environment.IntOr("AUTOBOT_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("AUTOBOT_TEST_DUR", "90s")
	if got := environment.DurationOr("AUTOBOT_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	if got := environment.DurationOr("AUTOBOT_TEST_DUR_MISSING", time.Minute); got != time.Minute {
		t.Errorf("expected default, got %v", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("AUTOBOT_TEST_SLICE", " a, b ,, c ")
	got := environment.StringSliceOr("AUTOBOT_TEST_SLICE", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
