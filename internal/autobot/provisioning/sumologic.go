package provisioning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudops/autobot/internal/autobot/config"
)

const sumologicDefaultBaseURL = "https://api.sumologic.com/api/v1"

// SumoLogic provisions users through the SumoLogic v1 users API with basic
// auth over the access ID/key pair.
type SumoLogic struct {
	accessID  string
	accessKey string
	roleIDs   []string
	baseURL   string
	client    *http.Client
}

// NewSumoLogic creates a SumoLogic service from vendor credentials.
func NewSumoLogic(creds *config.SumoLogic) *SumoLogic {
	return &SumoLogic{
		accessID:  creds.AccessID,
		accessKey: creds.AccessKey,
		roleIDs:   creds.RoleIDs,
		baseURL:   sumologicDefaultBaseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *SumoLogic) Name() string { return "SumoLogic" }

func (s *SumoLogic) headers() map[string]string {
	cred := base64.StdEncoding.EncodeToString([]byte(s.accessID + ":" + s.accessKey))
	return map[string]string{"Authorization": "Basic " + cred}
}

// Onboard creates the user with the configured role set.
func (s *SumoLogic) Onboard(ctx context.Context, u User) (string, error) {
	body := map[string]any{
		"firstName": strings.ToLower(u.FirstName),
		"lastName":  strings.ToLower(u.LastName),
		"email":     u.Email,
		"roleIds":   s.roleIDs,
	}
	status, raw, err := doJSON(ctx, s.client, http.MethodPost, s.baseURL+"/users", s.headers(), body)
	if err != nil {
		return "", fmt.Errorf("error connecting to the SumoLogic API: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("creating the user in SumoLogic failed with status %d: %s", status, raw)
	}
	return "created the user.", nil
}

// Offboard deletes the user.
func (s *SumoLogic) Offboard(ctx context.Context, u User) (string, error) {
	uid, err := s.findUserID(ctx, u.Email)
	if err != nil {
		return "", fmt.Errorf("error finding the user ID in SumoLogic, nothing was removed: %w", err)
	}

	status, raw, err := doJSON(ctx, s.client, http.MethodDelete, s.baseURL+"/users/"+uid, s.headers(), nil)
	if err != nil {
		return "", fmt.Errorf("error connecting to the SumoLogic API: %w", err)
	}
	if status != http.StatusNoContent {
		return "", fmt.Errorf("deleting the user in SumoLogic failed with status %d: %s", status, raw)
	}
	return "deleted the user.", nil
}

func (s *SumoLogic) findUserID(ctx context.Context, email string) (string, error) {
	u := s.baseURL + "/users?email=" + url.QueryEscape(email)
	status, raw, err := doJSON(ctx, s.client, http.MethodGet, u, s.headers(), nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("user lookup failed with status %d: %s", status, raw)
	}

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode user lookup response: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].ID == "" {
		return "", fmt.Errorf("email not found")
	}
	return resp.Data[0].ID, nil
}
