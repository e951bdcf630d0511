package provisioning

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudops/autobot/internal/autobot/config"
)

const alertsiteDefaultBaseURL = "https://api.alertsite.com/api/v3"

// AlertSite provisions users through the AlertSite v3 API. Every call needs
// a short-lived bearer token first, fetched per operation.
type AlertSite struct {
	username string
	password string
	baseURL  string
	client   *http.Client
}

// NewAlertSite creates an AlertSite service from vendor credentials.
func NewAlertSite(creds *config.AlertSite) *AlertSite {
	return &AlertSite{
		username: creds.Username,
		password: creds.Password,
		baseURL:  alertsiteDefaultBaseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *AlertSite) Name() string { return "AlertSite" }

func (a *AlertSite) authenticate(ctx context.Context) (string, error) {
	body := map[string]string{"username": a.username, "password": a.password}
	status, raw, err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/access-tokens", nil, body)
	if err != nil {
		return "", fmt.Errorf("error obtaining an AlertSite authentication token: %w", err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.AccessToken == "" {
		return "", fmt.Errorf("error obtaining an AlertSite authentication token, status %d: %s", status, raw)
	}
	return resp.AccessToken, nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// Onboard creates the user with the read-only role. AlertSite requires a
// password and a phone number at creation; the password is random throwaway
// material since login goes through SSO.
func (a *AlertSite) Onboard(ctx context.Context, u User) (string, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return "", err
	}

	body := map[string]string{
		"email":      u.Email,
		"first_name": strings.ToLower(u.FirstName),
		"last_name":  strings.ToLower(u.LastName),
		"password":   randomLetters(12),
		"work_phone": "5551234",
		"role":       "READONLY",
	}
	status, raw, err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/users", bearer(token), body)
	if err != nil {
		return "", fmt.Errorf("error creating the user in AlertSite: %w", err)
	}

	var resp struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == nil {
		return "", fmt.Errorf("error creating the user in AlertSite, status %d: %s", status, raw)
	}
	return "created the user with the read-only role.", nil
}

// Offboard deletes the user.
func (a *AlertSite) Offboard(ctx context.Context, u User) (string, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return "", err
	}

	guid, err := a.findUserGUID(ctx, token, u.Email)
	if err != nil {
		return "", fmt.Errorf("error finding the user ID in AlertSite, nothing was removed: %w", err)
	}

	status, raw, err := doJSON(ctx, a.client, http.MethodDelete, a.baseURL+"/users/"+guid, bearer(token), nil)
	if err != nil {
		return "", fmt.Errorf("error deleting the user from AlertSite: %w", err)
	}
	if status != http.StatusNoContent {
		return "", fmt.Errorf("deleting the user from AlertSite failed with status %d: %s", status, raw)
	}
	return "deleted the user.", nil
}

// findUserGUID resolves an email to an AlertSite user GUID. The API has no
// filter parameter, so every user is pulled and matched locally.
func (a *AlertSite) findUserGUID(ctx context.Context, token, email string) (string, error) {
	status, raw, err := doJSON(ctx, a.client, http.MethodGet, a.baseURL+"/users", bearer(token), nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("user listing failed with status %d: %s", status, raw)
	}

	var resp struct {
		Results []struct {
			Email string `json:"email"`
			GUID  string `json:"guid"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode user listing: %w", err)
	}
	for _, user := range resp.Results {
		if strings.EqualFold(user.Email, email) {
			return user.GUID, nil
		}
	}
	return "", fmt.Errorf("email not found")
}

func randomLetters(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("provisioning: read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = letters[int(b)%len(letters)]
	}
	return string(buf)
}
