package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudops/autobot/internal/autobot/config"
)

const digicertDefaultBaseURL = "https://www.digicert.com/services/v2"

// standardUserRoleID is DigiCert's built-in Standard User access role.
const standardUserRoleID = 5

// DigiCert provisions users through the DigiCert services v2 API.
type DigiCert struct {
	apiKey      string
	containerID int
	baseURL     string
	client      *http.Client
}

// NewDigiCert creates a DigiCert service from vendor credentials.
func NewDigiCert(creds *config.DigiCert) *DigiCert {
	return &DigiCert{
		apiKey:      creds.APIKey,
		containerID: creds.ContainerID,
		baseURL:     digicertDefaultBaseURL,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *DigiCert) Name() string { return "DigiCert" }

func (d *DigiCert) headers() map[string]string {
	return map[string]string{"X-DC-DEVKEY": d.apiKey}
}

// Onboard creates the user as SAML-SSO-only under the configured container.
func (d *DigiCert) Onboard(ctx context.Context, u User) (string, error) {
	body := map[string]any{
		"first_name":       strings.ToLower(u.FirstName),
		"last_name":        strings.ToLower(u.LastName),
		"email":            u.Email,
		"username":         u.Email,
		"container":        map[string]int{"id": d.containerID},
		"access_roles":     []map[string]int{{"id": standardUserRoleID}},
		"is_saml_sso_only": true,
	}
	status, raw, err := doJSON(ctx, d.client, http.MethodPost, d.baseURL+"/user", d.headers(), body)
	if err != nil {
		return "", fmt.Errorf("error connecting to the DigiCert API: %w", err)
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("creating the user in DigiCert failed with status %d: %s", status, raw)
	}
	return "created the user as SSO-only.", nil
}

// Offboard deletes the user.
func (d *DigiCert) Offboard(ctx context.Context, u User) (string, error) {
	uid, err := d.findUserID(ctx, u.Email)
	if err != nil {
		return "", fmt.Errorf("error finding the user ID in DigiCert, nothing was removed: %w", err)
	}

	status, raw, err := doJSON(ctx, d.client, http.MethodDelete, d.baseURL+"/user/"+strconv.Itoa(uid), d.headers(), nil)
	if err != nil {
		return "", fmt.Errorf("error connecting to the DigiCert API: %w", err)
	}
	if status != http.StatusNoContent {
		return "", fmt.Errorf("deleting the user in DigiCert failed with status %d: %s", status, raw)
	}
	return "deleted the user.", nil
}

func (d *DigiCert) findUserID(ctx context.Context, email string) (int, error) {
	u := d.baseURL + "/user?filters[search]=" + url.QueryEscape(email)
	status, raw, err := doJSON(ctx, d.client, http.MethodGet, u, d.headers(), nil)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("user lookup failed with status %d: %s", status, raw)
	}

	var resp struct {
		Users []struct {
			ID    int    `json:"id"`
			Email string `json:"email"`
		} `json:"users"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("decode user lookup response: %w", err)
	}
	for _, user := range resp.Users {
		if strings.EqualFold(user.Email, email) {
			return user.ID, nil
		}
	}
	return 0, fmt.Errorf("email not found")
}
