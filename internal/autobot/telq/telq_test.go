package telq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudops/autobot/internal/autobot/config"
)

func ptr(s string) *string { return &s }

func TestCountryNetworks_FiltersPortedAndOtherCountries(t *testing.T) {
	networks := []Network{
		{MCC: "404", MNC: "45", CountryName: "India", ProviderName: "A"},
		{MCC: "404", MNC: "46", CountryName: "India", ProviderName: "B", PortedFromMNC: ptr("45")},
		{MCC: "310", MNC: "260", CountryName: "United States", ProviderName: "C"},
	}
	got := CountryNetworks(networks, "India")
	if len(got) != 1 || got[0].ProviderName != "A" {
		t.Fatalf("got %+v", got)
	}
}

func TestClient_TokenAndCreateTest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["appId"] != "app" || body["appKey"] != "key" {
				t.Errorf("token body = %v", body)
			}
			w.Write([]byte(`{"value":"tok-1","ttlSeconds":86400}`))
		case "/tests":
			if r.Header.Get("Authorization") != "tok-1" {
				t.Errorf("auth = %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`[{"id":12,"testIdText":"ABCDE","phoneNumber":"+919999999999"}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(&config.TelQ{AppID: "app", AppKey: "key"})
	c.baseURL = srv.URL

	ctx := context.Background()
	token, err := c.Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	test, err := c.CreateTest(ctx, token, "404", "45")
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	if test.TestIDText != "ABCDE" || test.PhoneNumber != "+919999999999" {
		t.Errorf("test = %+v", test)
	}
}

func TestRunner_FullRound(t *testing.T) {
	telqSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Write([]byte(`{"value":"tok-1"}`))
		case "/networks":
			w.Write([]byte(`[
				{"mcc":"404","mnc":"45","countryName":"India","providerName":"A","portedFromMnc":null},
				{"mcc":"404","mnc":"46","countryName":"India","providerName":"B","portedFromMnc":"45"}
			]`))
		case "/tests":
			w.Write([]byte(`[{"id":12,"testIdText":"ABCDE","phoneNumber":"+919999999999"}]`))
		default:
			t.Errorf("unexpected telq path %s", r.URL.Path)
		}
	}))
	defer telqSrv.Close()

	var contactCreated, smsSent, contactDeleted bool
	stackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "stack-key" {
			t.Errorf("stack auth = %q", r.Header.Get("Authorization"))
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/rest/contacts/ORG":
			contactCreated = true
			var body struct {
				ExternalID string `json:"externalId"`
				Paths      []struct {
					Value string `json:"value"`
				} `json:"paths"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.ExternalID != "+919999999999" || len(body.Paths) != 1 || body.Paths[0].Value != "+919999999999" {
				t.Errorf("contact body = %+v", body)
			}
			w.Write([]byte(`{"id":555}`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/notifications/ORG":
			smsSent = true
			var body struct {
				Message struct {
					TextMessage string `json:"textMessage"`
				} `json:"message"`
				BroadcastContacts struct {
					ContactIDs []int64 `json:"contactIds"`
				} `json:"broadcastContacts"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if !strings.HasPrefix(body.Message.TextMessage, "ABCDE") {
				t.Errorf("sms body must start with the test ID: %q", body.Message.TextMessage)
			}
			if len(body.BroadcastContacts.ContactIDs) != 1 || body.BroadcastContacts.ContactIDs[0] != 555 {
				t.Errorf("contact ids = %v", body.BroadcastContacts.ContactIDs)
			}
			w.Write([]byte(`{"id":99}`))
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/rest/contacts/ORG/555"):
			contactDeleted = true
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected stack request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer stackSrv.Close()

	cfg := &config.Config{
		EmailDomain: "example.com",
		Stacks: map[string]config.Stack{
			"US": {
				IngestionURL:   "http://unused.invalid",
				APIKey:         "stack-key",
				OrgID:          "ORG",
				RestURL:        stackSrv.URL,
				AccountID:      "ACCT",
				DeliveryPathID: "PATH",
				RecordTypeID:   "RT",
			},
		},
		TelQ: &config.TelQ{AppID: "app", AppKey: "key"},
	}
	c := NewClient(cfg.TelQ)
	c.baseURL = telqSrv.URL
	r := NewRunner(cfg, c)
	r.stepDelay = 0

	var posts []string
	if err := r.Run(context.Background(), "US", "in", func(m string) { posts = append(posts, m) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !contactCreated || !smsSent || !contactDeleted {
		t.Errorf("round incomplete: contact=%v sms=%v cleanup=%v", contactCreated, smsSent, contactDeleted)
	}
	if len(posts) == 0 || !strings.Contains(posts[len(posts)-1], "All tests successfully sent") {
		t.Errorf("posts = %v", posts)
	}
}

func TestRunner_RejectsUnpreparedStack(t *testing.T) {
	cfg := &config.Config{
		EmailDomain: "example.com",
		Stacks: map[string]config.Stack{
			"US": {IngestionURL: "http://u", APIKey: "k", OrgID: "o"},
		},
		TelQ: &config.TelQ{AppID: "app", AppKey: "key"},
	}
	r := NewRunner(cfg, NewClient(cfg.TelQ))
	err := r.Run(context.Background(), "US", "IN", func(string) {})
	if err == nil || !strings.Contains(err.Error(), "not configured for TelQ") {
		t.Fatalf("expected unprepared-stack error, got %v", err)
	}
}

func TestRunner_RejectsUnknownCountry(t *testing.T) {
	cfg := &config.Config{
		EmailDomain: "example.com",
		Stacks: map[string]config.Stack{
			"US": {IngestionURL: "http://u", APIKey: "k", OrgID: "o", RestURL: "http://r", AccountID: "a", DeliveryPathID: "p", RecordTypeID: "t"},
		},
		TelQ: &config.TelQ{AppID: "app", AppKey: "key"},
	}
	r := NewRunner(cfg, NewClient(cfg.TelQ))
	err := r.Run(context.Background(), "US", "XX", func(string) {})
	if err == nil || !strings.Contains(err.Error(), "unknown country code") {
		t.Fatalf("expected unknown-country error, got %v", err)
	}
}
