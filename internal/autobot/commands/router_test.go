package commands

import (
	"context"
	"errors"
	"testing"

	"maunium.net/go/mautrix/event"
)

func TestParse_NotACommand(t *testing.T) {
	r := NewRouter("!autobot")
	for _, text := range []string{"hello there", "autobot help", ""} {
		if _, err := r.Parse(text); !errors.Is(err, ErrNotACommand) {
			t.Errorf("Parse(%q) err = %v, want ErrNotACommand", text, err)
		}
	}
}

func TestParse_KeywordAndArgs(t *testing.T) {
	r := NewRouter("!autobot")
	cmd, err := r.Parse("  !autobot Test sms VOICE eu  ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Keyword != "test" {
		t.Errorf("keyword = %q", cmd.Keyword)
	}
	if len(cmd.Args) != 3 || cmd.Args[0] != "sms" || cmd.Args[2] != "eu" {
		t.Errorf("args = %v", cmd.Args)
	}
}

func TestParse_EmptyCommand(t *testing.T) {
	r := NewRouter("!autobot")
	if _, err := r.Parse("!autobot   "); err == nil || errors.Is(err, ErrNotACommand) {
		t.Fatalf("expected empty-command error, got %v", err)
	}
}

func TestExecute_UnknownKeyword(t *testing.T) {
	r := NewRouter("!autobot")
	msg, err := r.Execute(context.Background(), &Command{Keyword: "dance"}, &event.Event{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if msg == "" {
		t.Error("expected a usage hint for an unknown keyword")
	}
}

func TestExecute_RoutesToHandler(t *testing.T) {
	r := NewRouter("!autobot")
	r.Register("Ping", func(context.Context, *Command, *event.Event) (string, error) {
		return "pong", nil
	})
	cmd, err := r.Parse("!autobot ping")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	msg, err := r.Execute(context.Background(), cmd, &event.Event{})
	if err != nil || msg != "pong" {
		t.Fatalf("Execute = %q, %v", msg, err)
	}
}
