// Package confirm receives delivery confirmation callbacks from the
// notification platform and routes them back to the chat room that started
// the matching path test.
//
// The receiver is strictly best-effort. It has no synchronous caller to
// report to: malformed payloads, unknown incident IDs and chat failures are
// logged and dropped, and the platform always gets a 204 back so it does not
// redeliver.
package confirm

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cloudops/autobot/internal/autobot/config"
	"github.com/cloudops/autobot/internal/autobot/correlation"
)

// maxBodySize caps the inbound payload. Confirmation callbacks are small;
// anything past this is not one.
const maxBodySize = 1 << 20

//go:embed schema.json
var schemaJSON string

var payloadSchema = jsonschema.MustCompileString("confirmation.schema.json", schemaJSON)

// payload is the platform's confirmation callback shape.
type payload struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
	Responses      []struct {
		ExternalID string `json:"externalId"`
	} `json:"responses"`
}

// recordGetter is the slice of the correlation store the receiver needs.
type recordGetter interface {
	Get(ctx context.Context, incidentID string) (*correlation.Record, error)
}

// messagePoster posts a message to a chat room.
type messagePoster interface {
	SendMessage(roomID, message string) (string, error)
}

// Receiver handles POST confirmation callbacks.
type Receiver struct {
	records recordGetter
	chat    messagePoster
	cfg     *config.Config
}

// NewReceiver creates a Receiver.
func NewReceiver(cfg *config.Config, records recordGetter, chat messagePoster) *Receiver {
	return &Receiver{records: records, chat: chat, cfg: cfg}
}

// ServeHTTP implements http.Handler.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rc.handle(r)
	w.WriteHeader(http.StatusNoContent)
}

// handle processes one callback. Every failure is terminal for this callback
// only, hence the bare returns after logging.
func (rc *Receiver) handle(r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		slog.Warn("confirmation: read body failed", "err", err)
		return
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		slog.Warn("confirmation: malformed JSON, dropping", "err", err)
		return
	}
	if err := payloadSchema.Validate(generic); err != nil {
		slog.Warn("confirmation: payload failed schema validation, dropping", "err", err)
		return
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		slog.Warn("confirmation: decode failed, dropping", "err", err)
		return
	}

	rec, err := rc.records.Get(r.Context(), p.ID)
	if err != nil {
		// Unknown or expired: a duplicate, a stale callback, or a test we
		// never dispatched. Nothing to do.
		if err == correlation.ErrNotFound {
			slog.Debug("confirmation: no correlation record, dropping", "incident_id", p.ID)
		} else {
			slog.Error("confirmation: correlation lookup failed, dropping", "incident_id", p.ID, "err", err)
		}
		return
	}

	msg := rc.renderMessage(&p, rec)
	if _, err := rc.chat.SendMessage(rec.ChannelID, msg); err != nil {
		slog.Error("confirmation: chat post failed", "incident_id", p.ID, "channel", rec.ChannelID, "err", err)
		return
	}
	slog.Info("confirmation routed", "incident_id", p.ID, "channel", rec.ChannelID, "recipients", len(p.Responses))
}

// renderMessage builds the operator-facing confirmation line with singular or
// plural phrasing depending on how many recipients confirmed.
func (rc *Receiver) renderMessage(p *payload, rec *correlation.Record) string {
	mentions := make([]string, 0, len(p.Responses))
	for _, resp := range p.Responses {
		mentions = append(mentions, fmt.Sprintf("<@%s>", resp.ExternalID))
	}

	stack := rc.cfg.StackForOrg(p.OrganizationID)
	if stack == "" {
		stack = "UNKNOWN"
	}

	noun := "response"
	if len(mentions) > 1 {
		noun = "responses"
	}
	return fmt.Sprintf("Received %s confirmation %s from %s on %s stack! Delivery details: %s",
		p.Name, noun, strings.Join(mentions, ", "), stack, rec.DeliveryURL)
}
