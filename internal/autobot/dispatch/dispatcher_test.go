package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudops/autobot/common/retry"
	"github.com/cloudops/autobot/internal/autobot/config"
	"github.com/cloudops/autobot/internal/autobot/correlation"
)

// fakePutter records correlation writes in memory.
type fakePutter struct {
	records []correlation.Record
	ttls    []time.Duration
	err     error
}

func (f *fakePutter) Put(_ context.Context, rec correlation.Record, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	f.ttls = append(f.ttls, ttl)
	return nil
}

func testConfig(ingestionURL string) *config.Config {
	return &config.Config{
		EmailDomain: "example.com",
		Stacks: map[string]config.Stack{
			"US": {IngestionURL: ingestionURL, APIKey: "test-key", OrgID: "ORG_US"},
		},
	}
}

// newTestDispatcher shortens the production timing so tests do not sleep.
func newTestDispatcher(cfg *config.Config, store recordPutter) *Dispatcher {
	d := New(cfg, store)
	d.settleDelay = time.Millisecond
	d.trackingRetry.Delay = time.Millisecond
	return d
}

func TestDispatch_Success(t *testing.T) {
	var statusCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var sub submission
			if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
				t.Errorf("decode submission: %v", err)
			}
			if r.Header.Get("Authentication") != "test-key" {
				t.Errorf("Authentication header = %q", r.Header.Get("Authentication"))
			}
			if sub.Header.SourceSystemType != "AutoBot" {
				t.Errorf("sourceSystemType = %q", sub.Header.SourceSystemType)
			}
			if sub.IncidentDetails.Send != "sms" {
				t.Errorf("send = %q", sub.IncidentDetails.Send)
			}
			if sub.OverrideRecipients.ContactType != "EXTERNAL_ID" {
				t.Errorf("contactType = %q", sub.OverrideRecipients.ContactType)
			}
			if len(sub.OverrideRecipients.Contacts) != 1 || sub.OverrideRecipients.Contacts[0] != "U1" {
				t.Errorf("contacts = %v", sub.OverrideRecipients.Contacts)
			}
			if len(sub.SourceSystemIncidentInfo.IncidentID) != 10 {
				t.Errorf("token = %q, want 10 chars", sub.SourceSystemIncidentInfo.IncidentID)
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "INPROGRESS"})
		case strings.HasPrefix(r.URL.Path, "/status/"):
			statusCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]string{
				"incidentStatus":     "INPROGRESS",
				"incidentID":         "X1",
				"deliveryDetailsURL": "http://r/1",
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	store := &fakePutter{}
	d := newTestDispatcher(testConfig(srv.URL), store)

	tracking, err := d.Dispatch(context.Background(), []string{"U1"}, SMS, "US", "!ops:example.com")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if tracking.IncidentID != "X1" || tracking.DeliveryURL != "http://r/1" {
		t.Errorf("tracking = %+v", tracking)
	}
	if n := statusCalls.Load(); n != 1 {
		t.Errorf("status polled %d times, want 1", n)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 correlation record, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.IncidentID != "X1" || rec.DeliveryURL != "http://r/1" || rec.ChannelID != "!ops:example.com" {
		t.Errorf("record = %+v", rec)
	}
	if store.ttls[0] != time.Hour {
		t.Errorf("ttl = %v, want 1h", store.ttls[0])
	}
}

func TestDispatch_MissingTrackingInfo(t *testing.T) {
	var statusCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"status": "INPROGRESS"})
			return
		}
		statusCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"incidentStatus": "INPROGRESS"})
	}))
	defer srv.Close()

	store := &fakePutter{}
	d := newTestDispatcher(testConfig(srv.URL), store)

	_, err := d.Dispatch(context.Background(), []string{"U1"}, SMS, "US", "!ops:example.com")
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindMissingTrackingInfo {
		t.Fatalf("expected MissingTrackingInfo, got %v", err)
	}
	if n := statusCalls.Load(); n != 3 {
		t.Errorf("status polled %d times, want 3", n)
	}
	if len(store.records) != 0 {
		t.Errorf("no correlation record expected, got %d", len(store.records))
	}
}

func TestDispatch_NotCreated(t *testing.T) {
	var statusCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"status": "INPROGRESS"})
			return
		}
		statusCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"incidentStatus": "NOTCREATED"})
	}))
	defer srv.Close()

	store := &fakePutter{}
	d := newTestDispatcher(testConfig(srv.URL), store)

	_, err := d.Dispatch(context.Background(), []string{"U1"}, Voice, "US", "!ops:example.com")
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindNotCreated {
		t.Fatalf("expected NotCreated, got %v", err)
	}
	if n := statusCalls.Load(); n != 1 {
		t.Errorf("NOTCREATED must not be retried, polled %d times", n)
	}
	if len(store.records) != 0 {
		t.Errorf("no correlation record expected, got %d", len(store.records))
	}
}

func TestDispatch_ConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	store := &fakePutter{}
	d := newTestDispatcher(testConfig(srv.URL), store)

	_, err := d.Dispatch(context.Background(), []string{"U1"}, SMS, "US", "!ops:example.com")
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindConnectionFailed {
		t.Fatalf("expected ConnectionFailed, got %v", err)
	}
	if len(store.records) != 0 {
		t.Errorf("no correlation record expected, got %d", len(store.records))
	}
}

func TestDispatch_UnexpectedSubmissionResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"FAILED","reason":"bad payload"}`))
	}))
	defer srv.Close()

	store := &fakePutter{}
	d := newTestDispatcher(testConfig(srv.URL), store)

	_, err := d.Dispatch(context.Background(), []string{"U1"}, SMS, "US", "!ops:example.com")
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindUnexpectedResponse {
		t.Fatalf("expected UnexpectedResponse, got %v", err)
	}
	if !strings.Contains(de.Upstream, "bad payload") {
		t.Errorf("upstream payload not preserved: %q", de.Upstream)
	}
	if !strings.Contains(de.Message(), "bad payload") {
		t.Errorf("chat message must quote the upstream payload: %q", de.Message())
	}
}

func TestDispatch_StoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"status": "INPROGRESS"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"incidentStatus":     "INPROGRESS",
			"incidentID":         "X9",
			"deliveryDetailsURL": "http://r/9",
		})
	}))
	defer srv.Close()

	store := &fakePutter{err: errors.New("disk full")}
	d := newTestDispatcher(testConfig(srv.URL), store)

	tracking, err := d.Dispatch(context.Background(), []string{"U1"}, SMS, "US", "!ops:example.com")
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindStoreUnavailable {
		t.Fatalf("expected StoreUnavailable, got %v", err)
	}
	if tracking == nil || tracking.IncidentID != "X9" {
		t.Errorf("tracking info must survive a store failure, got %+v", tracking)
	}
}

func TestDispatch_InputValidation(t *testing.T) {
	d := newTestDispatcher(testConfig("http://unused.invalid"), &fakePutter{})

	if _, err := d.Dispatch(context.Background(), []string{"U1"}, SMS, "AP", "!c"); err == nil {
		t.Error("expected error for unknown stack")
	}
	if _, err := d.Dispatch(context.Background(), nil, SMS, "US", "!c"); err == nil {
		t.Error("expected error for empty recipient list")
	}
}

func TestNewDispatchToken(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok := newDispatchToken()
		if len(tok) != 10 {
			t.Fatalf("token %q, want 10 chars", tok)
		}
		for _, r := range tok {
			if r < 'a' || r > 'z' {
				t.Fatalf("token %q contains non-lowercase char", tok)
			}
		}
		if seen[tok] {
			t.Fatalf("token %q repeated", tok)
		}
		seen[tok] = true
	}
}

func TestParseTestKind(t *testing.T) {
	for in, want := range map[string]TestKind{"sms": SMS, "SMS": SMS, "Voice": Voice, "email": Email} {
		got, ok := ParseTestKind(in)
		if !ok || got != want {
			t.Errorf("ParseTestKind(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseTestKind("fax"); ok {
		t.Error("ParseTestKind accepted unknown kind")
	}
}

// Retryable classification is wired into the dispatcher's retry config; make
// sure only the tracking gap retries.
func TestTrackingRetryClassification(t *testing.T) {
	d := New(testConfig("http://unused.invalid"), &fakePutter{})
	cases := []struct {
		err  error
		want bool
	}{
		{&Error{Kind: KindMissingTrackingInfo}, true},
		{&Error{Kind: KindNotCreated}, false},
		{&Error{Kind: KindConnectionFailed}, false},
		{&Error{Kind: KindUnexpectedResponse}, false},
		{errors.New("plain"), false},
	}
	for _, c := range cases {
		if got := d.trackingRetry.Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
	if d.trackingRetry.Attempts != retry.DefaultConfig.Attempts {
		t.Errorf("tracking retry attempts = %d", d.trackingRetry.Attempts)
	}
}
