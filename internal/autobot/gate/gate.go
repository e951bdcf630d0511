// Package gate implements the approve/deny confirmation step in front of
// destructive actions.
//
// There is no pending-action store. The prompt message itself carries the
// action payload; approving fetches the payload back out of the prompt event
// and the prompt is deleted before the executor runs. A second reaction on
// the same prompt finds no payload and is dropped, which is what makes the
// execution at-most-once.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudops/autobot/internal/autobot/config"
	"github.com/cloudops/autobot/internal/autobot/matrix"
)

// Action kinds the gate knows how to execute.
const (
	KindOffboard      = "offboard"
	KindRoutingSwitch = "routing-switch"
)

// Executor runs an approved action with its decoded positional parameters.
type Executor func(ctx context.Context, roomID string, params []string)

// chatClient is the slice of the Matrix client the gate needs.
type chatClient interface {
	SendPrompt(roomID, text string, action matrix.PendingAction) (string, error)
	GetPendingAction(ctx context.Context, roomID, eventID string) (*matrix.PendingAction, error)
	DeleteMessage(roomID, eventID string) error
	SendMessage(roomID, message string) (string, error)
}

// Gate renders confirmation prompts and resolves the reactions on them.
type Gate struct {
	chat      chatClient
	cfg       *config.Config
	executors map[string]Executor
}

// New creates a Gate. Executors are registered per action kind with Register.
func New(cfg *config.Config, chat chatClient) *Gate {
	return &Gate{
		chat:      chat,
		cfg:       cfg,
		executors: make(map[string]Executor),
	}
}

// Register installs the executor for an action kind. Prompts for kinds
// without an executor are rejected at Prompt time.
func (g *Gate) Register(kind string, fn Executor) {
	g.executors[kind] = fn
}

// Prompt posts an approve/deny prompt for the given action. params are
// serialized as one whitespace-joined string, so none of them may contain
// whitespace; callers validate their inputs before reaching the gate and
// this enforces it.
func (g *Gate) Prompt(ctx context.Context, roomID, text, kind string, params []string) error {
	if _, ok := g.executors[kind]; !ok {
		return fmt.Errorf("gate: no executor registered for %q", kind)
	}
	if len(params) == 0 {
		return fmt.Errorf("gate: action needs at least one parameter")
	}
	for _, p := range params {
		if p == "" || strings.ContainsAny(p, " \t\r\n") {
			return fmt.Errorf("gate: parameter %q must be non-empty and whitespace-free", p)
		}
	}

	action := matrix.PendingAction{Kind: kind, Value: strings.Join(params, " ")}
	eventID, err := g.chat.SendPrompt(roomID, text, action)
	if err != nil {
		return fmt.Errorf("gate: send prompt: %w", err)
	}
	slog.Info("confirmation prompt shown", "kind", kind, "room", roomID, "event", eventID)
	return nil
}

// HandleReaction resolves a reaction on a prompt. It is called for every
// reaction seen in an ops room; reactions that are not ✅/❌, come from
// unauthorized users, or target a non-prompt (or already consumed) event are
// dropped. Returns true when the reaction consumed a prompt.
func (g *Gate) HandleReaction(ctx context.Context, sender, roomID, key, targetEventID string) bool {
	if key != matrix.ReactionApprove && key != matrix.ReactionDeny {
		return false
	}
	if !g.cfg.IsNOC(sender) {
		slog.Warn("gate: reaction from unauthorized user ignored", "sender", sender, "event", targetEventID)
		return false
	}

	action, err := g.chat.GetPendingAction(ctx, roomID, targetEventID)
	if err != nil {
		// Not a prompt, or a prompt already redacted by the first reaction.
		slog.Debug("gate: reaction target carries no pending action", "event", targetEventID, "err", err)
		return false
	}

	// Delete before executing so a re-click cannot trigger a second run.
	if err := g.chat.DeleteMessage(roomID, targetEventID); err != nil {
		slog.Error("gate: prompt deletion failed, refusing to execute", "event", targetEventID, "err", err)
		return false
	}

	if key == matrix.ReactionDeny {
		slog.Info("action denied", "kind", action.Kind, "by", sender)
		if _, err := g.chat.SendMessage(roomID, "Okay, cancelled. Nothing was changed."); err != nil {
			slog.Error("gate: deny notice failed", "err", err)
		}
		return true
	}

	fn, ok := g.executors[action.Kind]
	if !ok {
		slog.Error("gate: approved action has no executor", "kind", action.Kind)
		return false
	}

	slog.Info("action approved", "kind", action.Kind, "by", sender)
	fn(ctx, roomID, strings.Fields(action.Value))
	return true
}
