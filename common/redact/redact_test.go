package redact_test

import (
	"strings"
	"testing"

	"github.com/cloudops/autobot/common/redact"
)

func TestString(t *testing.T) {
	in := `{"error":"bad auth","header":"Authentication: sk-live-abc123"}`
	out := redact.String(in, "sk-live-abc123")
	if strings.Contains(out, "sk-live-abc123") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected placeholder in %s", out)
	}
}

func TestString_ShortValuesSkipped(t *testing.T) {
	in := "status us eu"
	out := redact.String(in, "us")
	if out != in {
		t.Errorf("short value should not be redacted, got %s", out)
	}
}

func TestString_MultipleValues(t *testing.T) {
	out := redact.String("key1=aaaa key2=bbbb", "aaaa", "bbbb")
	if out != "key1=[REDACTED] key2=[REDACTED]" {
		t.Errorf("unexpected output: %s", out)
	}
}
