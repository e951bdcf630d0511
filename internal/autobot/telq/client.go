// Package telq drives end-to-end SMS deliverability tests through the TelQ
// network testing service.
//
// A run picks every non-ported test network TelQ offers for a country,
// creates a TelQ test per network, provisions a throwaway contact for the
// test number on the notification platform, sends the test ID as an SMS
// through the platform and removes the contact again. Results are read on
// the TelQ side by the operator.
package telq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudops/autobot/internal/autobot/config"
)

const defaultBaseURL = "https://api.telqtele.com/v2/client"

// Client is a minimal TelQ API client.
type Client struct {
	appID   string
	appKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a TelQ client from credentials.
func NewClient(creds *config.TelQ) *Client {
	return &Client{
		appID:   creds.AppID,
		appKey:  creds.AppKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Network is one TelQ test destination network.
type Network struct {
	MCC           string  `json:"mcc"`
	MNC           string  `json:"mnc"`
	CountryName   string  `json:"countryName"`
	ProviderName  string  `json:"providerName"`
	PortedFromMNC *string `json:"portedFromMnc"`
}

// Test is one created TelQ test: the ID text is sent in the SMS body and the
// phone number is the destination TelQ listens on.
type Test struct {
	ID          int64  `json:"id"`
	TestIDText  string `json:"testIdText"`
	PhoneNumber string `json:"phoneNumber"`
}

// Token obtains the short-lived bearer token required by every other call.
func (c *Client) Token(ctx context.Context) (string, error) {
	body := map[string]string{"appId": c.appID, "appKey": c.appKey}
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/token", "", body)
	if err != nil {
		return "", fmt.Errorf("telq: obtain token: %w", err)
	}
	var resp struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Value == "" {
		return "", fmt.Errorf("telq: token response not understood: %s", raw)
	}
	return resp.Value, nil
}

// Networks downloads the full list of available test networks.
func (c *Client) Networks(ctx context.Context, token string) ([]Network, error) {
	raw, err := c.do(ctx, http.MethodGet, c.baseURL+"/networks", token, nil)
	if err != nil {
		return nil, fmt.Errorf("telq: list networks: %w", err)
	}
	var networks []Network
	if err := json.Unmarshal(raw, &networks); err != nil {
		return nil, fmt.Errorf("telq: decode networks: %w", err)
	}
	return networks, nil
}

// CreateTest registers a test against one destination network.
func (c *Client) CreateTest(ctx context.Context, token, mcc, mnc string) (*Test, error) {
	body := map[string]any{
		"destinationNetworks": []map[string]string{{"mcc": mcc, "mnc": mnc}},
	}
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/tests", token, body)
	if err != nil {
		return nil, fmt.Errorf("telq: create test: %w", err)
	}
	var tests []Test
	if err := json.Unmarshal(raw, &tests); err != nil || len(tests) == 0 {
		return nil, fmt.Errorf("telq: create test response not understood: %s", raw)
	}
	return &tests[0], nil
}

// CountryNetworks filters a network list down to the non-ported networks of
// one country. Ported numbers are not tested.
func CountryNetworks(networks []Network, countryName string) []Network {
	var out []Network
	for _, net := range networks {
		if net.CountryName == countryName && net.PortedFromMNC == nil {
			out = append(out, net)
		}
	}
	return out
}

func (c *Client) do(ctx context.Context, method, url, token string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}
	return raw, nil
}
