// Package commands provides command parsing and routing for AutoBot.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Command is a parsed chat command: the keyword plus the raw option tokens
// after it. Option semantics are keyword-specific, so the router does not
// interpret them.
type Command struct {
	Keyword string
	Args    []string
	RawText string
}

// ErrNotACommand is returned by Parse when the message does not start with
// the command prefix. Callers should use errors.Is to distinguish this
// expected case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler handles one keyword. The returned string, if non-empty, is posted
// back to the room; handlers that stream progress post directly and return "".
type Handler func(ctx context.Context, cmd *Command, evt *event.Event) (string, error)

// Router routes keywords to handlers.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a router for the given command prefix.
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a keyword handler. Keywords are matched case-insensitively.
func (r *Router) Register(keyword string, handler Handler) {
	r.handlers[strings.ToLower(keyword)] = handler
}

// Keywords returns the registered keywords, unsorted.
func (r *Router) Keywords() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

// Parse parses a message into a Command.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(strings.ToLower(text), r.prefix) {
		return nil, ErrNotACommand
	}

	rest := strings.TrimSpace(text[len(r.prefix):])
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	return &Command{
		Keyword: strings.ToLower(parts[0]),
		Args:    parts[1:],
		RawText: rest,
	}, nil
}

// Execute runs the handler for a parsed command. Unknown keywords return a
// usage hint, not an error.
func (r *Router) Execute(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	handler, ok := r.handlers[cmd.Keyword]
	if !ok {
		return fmt.Sprintf("Sorry, I don't know the keyword %q. Try %s help.", cmd.Keyword, r.prefix), nil
	}
	return handler(ctx, cmd, evt)
}
