package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudops/autobot/internal/autobot/config"
)

const datadogDefaultBaseURL = "https://api.datadoghq.com"

// Datadog provisions users through the Datadog v2 users API. Offboarding
// disables the user rather than deleting it, which is all the API offers,
// and onboarding re-enables a previously disabled user when Datadog reports
// the email as already existing.
type Datadog struct {
	apiKey  string
	appKey  string
	baseURL string
	client  *http.Client
}

// NewDatadog creates a Datadog service from vendor credentials.
func NewDatadog(creds *config.Datadog) *Datadog {
	return &Datadog{
		apiKey:  creds.APIKey,
		appKey:  creds.AppKey,
		baseURL: datadogDefaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *Datadog) Name() string { return "Datadog" }

func (d *Datadog) headers() map[string]string {
	return map[string]string{
		"DD-API-KEY":         d.apiKey,
		"DD-APPLICATION-KEY": d.appKey,
	}
}

// Onboard creates the user and triggers the invitation email. A user Datadog
// reports as already existing is re-enabled instead (offboarding only
// disables, so returning users hit this path).
func (d *Datadog) Onboard(ctx context.Context, u User) (string, error) {
	createBody := map[string]any{
		"data": map[string]any{
			"type": "users",
			"attributes": map[string]string{
				"email": u.Email,
				"name":  u.FullName(),
			},
		},
	}
	status, raw, err := doJSON(ctx, d.client, http.MethodPost, d.baseURL+"/api/v2/users", d.headers(), createBody)
	if err != nil {
		return "", fmt.Errorf("error connecting to the Datadog API: %w", err)
	}

	var createResp struct {
		Errors []string `json:"errors"`
	}
	_ = json.Unmarshal(raw, &createResp)

	reactivated := false
	if len(createResp.Errors) > 0 || status >= 400 {
		if !strings.Contains(string(raw), "already exists") {
			return "", fmt.Errorf("error creating the user in Datadog: %s", raw)
		}
		// Previously offboarded user. Find it and flip disabled off.
		uid, err := d.findUserID(ctx, u.Email)
		if err != nil {
			return "", fmt.Errorf("Datadog reports this user already exists, but I could not locate the user ID to re-activate it: %w", err)
		}
		if err := d.enableUser(ctx, uid); err != nil {
			return "", fmt.Errorf("Datadog reports this user already exists, but re-activating it failed: %w", err)
		}
		reactivated = true
	}

	uid, err := d.findUserID(ctx, u.Email)
	if err != nil {
		return "", fmt.Errorf("the user exists in Datadog but I could not locate its ID to send the invite, you can send it manually from the Datadog UI: %w", err)
	}
	if err := d.sendInvite(ctx, uid); err != nil {
		return "", fmt.Errorf("the user exists in Datadog but sending the invite email failed, you can send it manually from the Datadog UI: %w", err)
	}

	if reactivated {
		return "re-activated the previously disabled user and sent a fresh invitation email.", nil
	}
	return "created the user and sent the invitation email. They must validate their email before access works.", nil
}

// Offboard disables the user.
func (d *Datadog) Offboard(ctx context.Context, u User) (string, error) {
	uid, err := d.findUserID(ctx, u.Email)
	if err != nil {
		return "", fmt.Errorf("I could not locate the user ID in Datadog, nothing was disabled: %w", err)
	}

	status, raw, err := doJSON(ctx, d.client, http.MethodDelete, d.baseURL+"/api/v2/users/"+uid, d.headers(), nil)
	if err != nil {
		return "", fmt.Errorf("error connecting to the Datadog API: %w", err)
	}
	if status != http.StatusNoContent {
		return "", fmt.Errorf("disabling the user in Datadog failed with status %d: %s", status, raw)
	}
	return "disabled the user.", nil
}

// findUserID resolves an email to a Datadog user ID, skipping service
// accounts, which may share an email with a human user.
func (d *Datadog) findUserID(ctx context.Context, email string) (string, error) {
	u := d.baseURL + "/api/v2/users?filter=" + url.QueryEscape(email)
	status, raw, err := doJSON(ctx, d.client, http.MethodGet, u, d.headers(), nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("user lookup failed with status %d: %s", status, raw)
	}

	var resp struct {
		Data []struct {
			ID         string `json:"id"`
			Attributes struct {
				ServiceAccount bool `json:"service_account"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode user lookup response: %w", err)
	}
	for _, user := range resp.Data {
		if user.Attributes.ServiceAccount {
			continue
		}
		return user.ID, nil
	}
	return "", fmt.Errorf("email not found")
}

func (d *Datadog) enableUser(ctx context.Context, uid string) error {
	body := map[string]any{
		"data": map[string]any{
			"type":       "users",
			"id":         uid,
			"attributes": map[string]bool{"disabled": false},
		},
	}
	status, raw, err := doJSON(ctx, d.client, http.MethodPatch, d.baseURL+"/api/v2/users/"+uid, d.headers(), body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("re-enable failed with status %d: %s", status, raw)
	}
	return nil
}

func (d *Datadog) sendInvite(ctx context.Context, uid string) error {
	body := map[string]any{
		"data": []map[string]any{{
			"type": "user_invitations",
			"relationships": map[string]any{
				"user": map[string]any{
					"data": map[string]string{"id": uid, "type": "users"},
				},
			},
		}},
	}
	status, raw, err := doJSON(ctx, d.client, http.MethodPost, d.baseURL+"/api/v2/user_invitations", d.headers(), body)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("invite failed with status %d: %s", status, raw)
	}
	return nil
}
