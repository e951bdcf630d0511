// Package provisioning on- and offboards users across the monitoring vendor
// accounts the team operates.
//
// Each vendor is an independent Service. The Runner calls them strictly in a
// fixed order and never short-circuits: a failure in one vendor must not
// block attempting the others, because partial success is the common case
// and the operator needs to see exactly which vendors are left to fix by
// hand.
package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// User identifies the person being on- or offboarded.
type User struct {
	FirstName string
	LastName  string
	Email     string
}

// FullName returns the title-cased display name.
func (u User) FullName() string {
	return titleWord(u.FirstName) + " " + titleWord(u.LastName)
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Service is one vendor account users are provisioned in. Both operations
// return an operator-facing detail line on success; the returned error's text
// is likewise shown to the operator on failure.
type Service interface {
	Name() string
	Onboard(ctx context.Context, u User) (string, error)
	Offboard(ctx context.Context, u User) (string, error)
}

// doJSON performs one JSON HTTP call and returns status code and body. body
// may be nil for body-less requests. Responses are capped at 1MiB.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
