// Package dispatch submits path-test notifications to the notification
// platform and records tracking info for later confirmation matching.
//
// A dispatch is one submission to one stack for one test kind. The platform
// is eventually consistent: the tracking identifiers are not present on the
// submission response, so the dispatcher pauses, then polls a status endpoint
// and retries the tracking-info extraction a bounded number of times.
package dispatch

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudops/autobot/common/retry"
	"github.com/cloudops/autobot/internal/autobot/config"
	"github.com/cloudops/autobot/internal/autobot/correlation"
)

// TestKind selects the delivery path exercised by a dispatch.
type TestKind string

const (
	SMS   TestKind = "sms"
	Voice TestKind = "voice"
	Email TestKind = "email"
)

// Display returns the operator-facing name of the test kind.
func (k TestKind) Display() string {
	switch k {
	case SMS:
		return "SMS"
	case Voice:
		return "Voice"
	case Email:
		return "Email"
	}
	return string(k)
}

// ParseTestKind maps a command token to a TestKind.
func ParseTestKind(s string) (TestKind, bool) {
	switch strings.ToLower(s) {
	case "sms":
		return SMS, true
	case "voice":
		return Voice, true
	case "email":
		return Email, true
	}
	return "", false
}

// sourceSystemType tags our submissions on the platform side.
const sourceSystemType = "AutoBot"

// Tracking is the successful result of a dispatch.
type Tracking struct {
	IncidentID  string
	DeliveryURL string
}

// recordPutter is the slice of the correlation store the dispatcher needs.
type recordPutter interface {
	Put(ctx context.Context, rec correlation.Record, ttl time.Duration) error
}

// Dispatcher submits path tests against one stack catalog.
type Dispatcher struct {
	cfg    *config.Config
	store  recordPutter
	client *http.Client

	// settleDelay is the fixed pause between submission and the first status
	// poll. trackingRetry bounds the tracking-info extraction attempts.
	// Both are shortened in tests.
	settleDelay   time.Duration
	trackingRetry retry.Config
	recordTTL     time.Duration

	newToken func() string
}

// New creates a Dispatcher with production timing: a 3 second settle delay
// and tracking-info retries at 1s then 2s.
func New(cfg *config.Config, store recordPutter) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		store:       store,
		client:      &http.Client{Timeout: 15 * time.Second},
		settleDelay: 3 * time.Second,
		trackingRetry: retry.Config{
			Attempts: 3,
			Delay:    time.Second,
			MaxDelay: 30 * time.Second,
			Retryable: func(err error) bool {
				var de *Error
				return errors.As(err, &de) && de.Kind == KindMissingTrackingInfo
			},
		},
		recordTTL: correlation.DefaultTTL,
		newToken:  newDispatchToken,
	}
}

// submission is the platform ingestion payload.
type submission struct {
	Header struct {
		SourceSystemType string `json:"sourceSystemType"`
	} `json:"header"`
	IncidentDetails struct {
		Send string `json:"send"`
	} `json:"incidentDetails"`
	OverrideRecipients struct {
		ContactType string   `json:"contactType"`
		Contacts    []string `json:"contacts"`
	} `json:"overrideRecipients"`
	SourceSystemIncidentInfo struct {
		IncidentID string `json:"incidentID"`
	} `json:"sourceSystemIncidentInfo"`
}

// Dispatch submits a path test to the given stack for the given users and,
// on success, persists the correlation record routing later confirmations to
// channelID.
//
// Every failure is returned as a *Error. A *Error with KindStoreUnavailable
// is returned together with the tracking info: the notification did go out,
// only the correlation write failed.
func (d *Dispatcher) Dispatch(ctx context.Context, users []string, kind TestKind, stackLabel, channelID string) (*Tracking, error) {
	stack, ok := d.cfg.Stack(stackLabel)
	if !ok {
		return nil, fmt.Errorf("dispatch: unknown stack %q", stackLabel)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("dispatch: no recipients")
	}

	token := d.newToken()
	log := slog.With("stack", strings.ToUpper(stackLabel), "kind", kind, "token", token)

	if err := d.submit(ctx, stack, users, kind, token); err != nil {
		return nil, err
	}
	log.Debug("submission accepted, waiting for tracking info", "delay", d.settleDelay)

	select {
	case <-ctx.Done():
		return nil, &Error{Kind: KindConnectionFailed, err: ctx.Err()}
	case <-time.After(d.settleDelay):
	}

	tracking, err := d.awaitTracking(ctx, stack, token)
	if err != nil {
		return nil, err
	}
	log.Info("path test dispatched", "incident_id", tracking.IncidentID)

	rec := correlation.Record{
		IncidentID:  tracking.IncidentID,
		DeliveryURL: tracking.DeliveryURL,
		ChannelID:   channelID,
	}
	if err := d.store.Put(ctx, rec, d.recordTTL); err != nil {
		log.Error("correlation record write failed", "err", err)
		return tracking, &Error{Kind: KindStoreUnavailable, err: err}
	}
	return tracking, nil
}

// submit POSTs the ingestion payload and checks for the INPROGRESS ack.
func (d *Dispatcher) submit(ctx context.Context, stack config.Stack, users []string, kind TestKind, token string) error {
	var payload submission
	payload.Header.SourceSystemType = sourceSystemType
	payload.IncidentDetails.Send = string(kind)
	payload.OverrideRecipients.ContactType = "EXTERNAL_ID"
	payload.OverrideRecipients.Contacts = users
	payload.SourceSystemIncidentInfo.IncidentID = token

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatch: encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, stack.IngestionURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The ingestion endpoint authenticates with a bare "Authentication"
	// header, not the standard Authorization scheme.
	req.Header.Set("Authentication", stack.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return &Error{Kind: KindConnectionFailed, Upstream: err.Error(), err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Kind: KindConnectionFailed, Upstream: err.Error(), err: err}
	}

	var ack struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Status != "INPROGRESS" {
		return &Error{
			Kind:     KindUnexpectedResponse,
			Upstream: string(raw),
			err:      fmt.Errorf("submission status %q, want INPROGRESS", ack.Status),
		}
	}
	return nil
}

// statusResponse is the status-by-token payload.
type statusResponse struct {
	IncidentStatus     string `json:"incidentStatus"`
	IncidentID         string `json:"incidentID"`
	DeliveryDetailsURL string `json:"deliveryDetailsURL"`
}

// awaitTracking polls the status endpoint until both tracking identifiers are
// visible. Only the missing-tracking-info case is retried; NOTCREATED and
// transport failures stop immediately.
func (d *Dispatcher) awaitTracking(ctx context.Context, stack config.Stack, token string) (*Tracking, error) {
	var tracking *Tracking
	err := retry.Do(ctx, d.trackingRetry, func() error {
		st, err := d.fetchStatus(ctx, stack, token)
		if err != nil {
			return err
		}
		if st.IncidentStatus == "NOTCREATED" {
			return &Error{
				Kind:     KindNotCreated,
				Upstream: fmt.Sprintf("incidentStatus=%s", st.IncidentStatus),
				err:      fmt.Errorf("submission rejected downstream"),
			}
		}
		if st.IncidentID == "" || st.DeliveryDetailsURL == "" {
			return &Error{
				Kind:     KindMissingTrackingInfo,
				Upstream: fmt.Sprintf("incidentStatus=%s", st.IncidentStatus),
				err:      fmt.Errorf("tracking fields not yet visible"),
			}
		}
		tracking = &Tracking{IncidentID: st.IncidentID, DeliveryURL: st.DeliveryDetailsURL}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tracking, nil
}

func (d *Dispatcher) fetchStatus(ctx context.Context, stack config.Stack, token string) (*statusResponse, error) {
	url := strings.TrimRight(stack.IngestionURL, "/") + "/status/" + token
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dispatch: build status request: %w", err)
	}
	req.Header.Set("Authentication", stack.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindConnectionFailed, Upstream: err.Error(), err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: KindConnectionFailed, Upstream: err.Error(), err: err}
	}

	var st statusResponse
	if err := json.Unmarshal(raw, &st); err != nil || st.IncidentStatus == "" {
		return nil, &Error{
			Kind:     KindUnexpectedResponse,
			Upstream: string(raw),
			err:      fmt.Errorf("status response missing incidentStatus"),
		}
	}
	return &st, nil
}

// newDispatchToken returns 10 random lowercase letters.
func newDispatchToken() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("dispatch: read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = letters[int(b)%len(letters)]
	}
	return string(buf)
}
