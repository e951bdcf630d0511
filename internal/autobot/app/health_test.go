package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStatusProvider struct {
	count int
	err   error
}

func (f *fakeStatusProvider) ActiveCount(context.Context) (int, error) {
	return f.count, f.err
}

func TestHealthEndpoint(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", &fakeStatusProvider{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestStatusEndpoint(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", &fakeStatusProvider{count: 3})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d, want 200", rec.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PendingTests != 3 {
		t.Errorf("pending_path_tests = %d, want 3", resp.PendingTests)
	}
	if resp.UptimeSecs < 0 {
		t.Errorf("uptime_seconds = %f", resp.UptimeSecs)
	}
}

func TestStatusEndpoint_StoreErrorReportsZero(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", &fakeStatusProvider{err: errors.New("db closed")})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d, want 200", rec.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PendingTests != 0 {
		t.Errorf("pending_path_tests = %d, want 0 on store error", resp.PendingTests)
	}
}

func TestExtraRouteRegistration(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", &fakeStatusProvider{})
	hs.Handle("/confirmations", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/confirmations", nil)
	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("POST /confirmations = %d, want 204", rec.Code)
	}
}
