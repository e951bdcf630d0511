// Package matrix provides the Matrix client wrapper for AutoBot.
//
// It exposes the narrow chat capabilities the rest of the bot consumes:
// post text, post an interactive approve/deny prompt, delete (redact) a
// message, and subscribe to messages and reactions in the ops rooms.
package matrix

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// pendingActionKey is the namespaced content key a prompt message carries its
// pending action under. The prompt event itself is the only place the action
// is stored; approving fetches it back out of the event.
const pendingActionKey = "com.cloudops.autobot.pending_action"

// Approve and Deny are the reaction keys that resolve a prompt.
const (
	ReactionApprove = "✅"
	ReactionDeny    = "❌"
)

// PendingAction is the payload embedded in a confirmation prompt. Value is a
// single whitespace-joined string of positional parameters.
type PendingAction struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// promptContent is a normal m.room.message with the pending action attached
// under a namespaced key. Embedding flattens the standard fields in JSON.
type promptContent struct {
	event.MessageEventContent
	Action *PendingAction `json:"com.cloudops.autobot.pending_action,omitempty"`
}

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// OpsRooms are the room IDs AutoBot accepts commands and reactions in.
	OpsRooms []string
	// DB is an optional SQLite connection used to persist the sync token
	// across restarts. When nil, an in-memory store is used and room history
	// will be replayed on every restart.
	DB *sql.DB
}

// Client wraps the mautrix client.
type Client struct {
	client          *mautrix.Client
	config          *Config
	stopCh          chan struct{}
	msgHandler      MessageHandler
	reactionHandler ReactionHandler
}

// MessageHandler processes incoming text messages in ops rooms.
type MessageHandler func(ctx context.Context, evt *event.Event)

// ReactionHandler processes incoming reactions in ops rooms. key is the
// reaction emoji, target the event being reacted to.
type ReactionHandler func(ctx context.Context, evt *event.Event, key string, target id.EventID)

// New creates a new Matrix client.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}

	// Persist the sync position so a restart does not replay old commands.
	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
	} else {
		slog.Warn("Matrix sync store: no DB configured, history will replay on restart")
	}

	return c, nil
}

// Start begins syncing with the homeserver. handler receives text messages,
// reactions receives reaction events; both are filtered to ops rooms.
func (c *Client) Start(ctx context.Context, handler MessageHandler, reactions ReactionHandler) error {
	c.msgHandler = handler
	c.reactionHandler = reactions

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.EventReaction, c.handleReaction)

	for _, roomID := range c.config.OpsRooms {
		if err := c.joinRoom(id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join ops room %s: %w", roomID, err)
		}
	}

	// Sync in the background with exponential back-off reconnection. Without
	// retries a transient homeserver error would silently kill the sync
	// goroutine and leave the bot deaf to all new messages.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			return
		}
	}()

	return nil
}

// Stop stops the Matrix client.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendMessage sends a plain text message to a room and returns the event ID.
func (c *Client) SendMessage(roomID, message string) (string, error) {
	resp, err := c.client.SendText(context.Background(), id.RoomID(roomID), message)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return resp.EventID.String(), nil
}

// SendNotice sends a notice message (less intrusive than normal messages).
func (c *Client) SendNotice(roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	_, err := c.client.SendMessageEvent(context.Background(), id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// SendPrompt posts an approve/deny prompt carrying the given pending action
// in the message content, then seeds the ✅/❌ reactions so approvers only
// have to tap one. Returns the prompt's event ID.
func (c *Client) SendPrompt(roomID, text string, action PendingAction) (string, error) {
	ctx := context.Background()
	content := promptContent{
		MessageEventContent: event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    text,
		},
		Action: &action,
	}

	resp, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return "", fmt.Errorf("failed to send prompt: %w", err)
	}

	for _, key := range []string{ReactionApprove, ReactionDeny} {
		if _, err := c.client.SendReaction(ctx, id.RoomID(roomID), resp.EventID, key); err != nil {
			slog.Warn("failed to seed prompt reaction", "room", roomID, "key", key, "err", err)
		}
	}

	return resp.EventID.String(), nil
}

// GetPendingAction fetches an event and decodes the pending action embedded
// in its content. Returns an error when the event has no action (including
// already-redacted prompts, whose content is empty).
func (c *Client) GetPendingAction(ctx context.Context, roomID string, eventID string) (*PendingAction, error) {
	evt, err := c.client.GetEvent(ctx, id.RoomID(roomID), id.EventID(eventID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event %s: %w", eventID, err)
	}
	if len(evt.Content.VeryRaw) == 0 {
		return nil, fmt.Errorf("event %s has no content", eventID)
	}

	var content promptContent
	if err := json.Unmarshal(evt.Content.VeryRaw, &content); err != nil {
		return nil, fmt.Errorf("failed to decode event content: %w", err)
	}
	if content.Action == nil || content.Action.Kind == "" {
		return nil, fmt.Errorf("event %s carries no pending action", eventID)
	}
	return content.Action, nil
}

// DeleteMessage redacts a message, removing it (and any embedded pending
// action) from the room.
func (c *Client) DeleteMessage(roomID, eventID string) error {
	_, err := c.client.RedactEvent(context.Background(), id.RoomID(roomID), id.EventID(eventID))
	if err != nil {
		return fmt.Errorf("failed to redact event %s: %w", eventID, err)
	}
	return nil
}

// IsOpsRoom checks if a room is configured as an ops room.
func (c *Client) IsOpsRoom(roomID string) bool {
	for _, opsRoom := range c.config.OpsRooms {
		if opsRoom == roomID {
			return true
		}
	}
	return false
}

// GetUserID returns the client's own user ID.
func (c *Client) GetUserID() string {
	return c.config.UserID
}

// handleMessage filters and forwards incoming messages.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}
	if !c.IsOpsRoom(evt.RoomID.String()) {
		return
	}
	if c.msgHandler != nil {
		c.msgHandler(ctx, evt)
	}
}

// handleReaction filters and forwards incoming reactions.
func (c *Client) handleReaction(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	if !c.IsOpsRoom(evt.RoomID.String()) {
		return
	}
	reaction := evt.Content.AsReaction()
	if reaction == nil || reaction.RelatesTo.EventID == "" {
		return
	}
	if c.reactionHandler != nil {
		c.reactionHandler(ctx, evt, reaction.RelatesTo.Key, reaction.RelatesTo.EventID)
	}
}

// joinRoom attempts to join a room, tolerating already-joined rooms.
func (c *Client) joinRoom(roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(context.Background(), roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
