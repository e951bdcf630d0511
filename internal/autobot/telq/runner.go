package telq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudops/autobot/internal/autobot/config"
)

// resultsURL is where the operator reads TelQ test outcomes.
const resultsURL = "https://app.telqtele.com/#/manual-testing"

// Runner sends one TelQ test per destination network of a country through a
// notification stack.
type Runner struct {
	telq *Client
	cfg  *config.Config
	http *http.Client
	// stepDelay spaces out per-network rounds to stay under rate limits.
	stepDelay time.Duration
}

// NewRunner creates a Runner.
func NewRunner(cfg *config.Config, telq *Client) *Runner {
	return &Runner{
		telq:      telq,
		cfg:       cfg,
		http:      &http.Client{Timeout: 15 * time.Second},
		stepDelay: time.Second,
	}
}

// Run executes a full TelQ round for countryCode from stackLabel. post
// receives progress lines. Failed networks are skipped, not fatal: the
// remaining networks still get their tests.
func (r *Runner) Run(ctx context.Context, stackLabel, countryCode string, post func(string)) error {
	stack, ok := r.cfg.Stack(stackLabel)
	if !ok {
		return fmt.Errorf("telq: unknown stack %q", stackLabel)
	}
	if stack.RestURL == "" || stack.AccountID == "" || stack.DeliveryPathID == "" || stack.RecordTypeID == "" {
		return fmt.Errorf("telq: stack %s is not configured for TelQ sends", strings.ToUpper(stackLabel))
	}
	countryName, ok := CountryName(strings.ToUpper(countryCode))
	if !ok {
		return fmt.Errorf("telq: unknown country code %q", countryCode)
	}

	token, err := r.telq.Token(ctx)
	if err != nil {
		return err
	}
	all, err := r.telq.Networks(ctx, token)
	if err != nil {
		return err
	}
	networks := CountryNetworks(all, countryName)
	if len(networks) == 0 {
		return fmt.Errorf("telq: no test networks available for %s", countryName)
	}
	post(fmt.Sprintf("Found %d test networks for %s. Sending one test per network, this can take a while.", len(networks), countryName))

	var failed []string
	for i, net := range networks {
		if i > 0 && r.stepDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.stepDelay):
			}
		}
		if err := r.runNetwork(ctx, stack, strings.ToUpper(countryCode), token, net); err != nil {
			slog.Error("telq network round failed", "provider", net.ProviderName, "mcc", net.MCC, "mnc", net.MNC, "err", err)
			failed = append(failed, net.ProviderName)
			post(fmt.Sprintf("%s (%s/%s): %v", net.ProviderName, net.MCC, net.MNC, err))
			continue
		}
		post(fmt.Sprintf("%s (%s/%s): test sent.", net.ProviderName, net.MCC, net.MNC))
	}

	if len(failed) > 0 {
		post(fmt.Sprintf("Done with errors. %d of %d networks failed: %s.\nCheck TelQ for the rest: %s",
			len(failed), len(networks), strings.Join(failed, ", "), resultsURL))
		return nil
	}
	post("All tests successfully sent!\n\nCheck TelQ for results:\n" + resultsURL)
	return nil
}

// runNetwork does one full round for one destination network: TelQ test,
// throwaway contact, SMS send, contact cleanup.
func (r *Runner) runNetwork(ctx context.Context, stack config.Stack, countryCode, token string, net Network) error {
	test, err := r.telq.CreateTest(ctx, token, net.MCC, net.MNC)
	if err != nil {
		return err
	}

	contactID, err := r.createContact(ctx, stack, countryCode, test.PhoneNumber)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	// Best effort: a leaked contact is an annoyance, a missed cleanup must
	// not fail the round after the SMS already went out.
	defer func() {
		if err := r.deleteContact(ctx, stack, contactID); err != nil {
			slog.Warn("telq contact cleanup failed", "contact_id", contactID, "err", err)
		}
	}()

	if err := r.sendNotification(ctx, stack, countryCode, test.TestIDText, contactID); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// createContact provisions the TelQ destination number as a contact and
// returns the platform-assigned contact ID.
func (r *Runner) createContact(ctx context.Context, stack config.Stack, countryCode, phoneNumber string) (int64, error) {
	body := map[string]any{
		"organizationId": stack.OrgID,
		"firstName":      "TelQ Test",
		"lastName":       phoneNumber,
		"status":         "A",
		"country":        countryCode,
		"recordTypeId":   stack.RecordTypeID,
		"accountId":      "0",
		"externalId":     phoneNumber,
		"timezoneId":     "America/New_York",
		"paths": []map[string]string{{
			"waitTime":       "0",
			"pathId":         stack.DeliveryPathID,
			"countryCode":    countryCode,
			"value":          phoneNumber,
			"skipValidation": "false",
		}},
	}

	raw, err := r.doStack(ctx, stack, http.MethodPost, "/rest/contacts/"+stack.OrgID, body)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == 0 {
		return 0, fmt.Errorf("contact response not understood: %s", raw)
	}
	return resp.ID, nil
}

func (r *Runner) deleteContact(ctx context.Context, stack config.Stack, contactID int64) error {
	path := fmt.Sprintf("/rest/contacts/%s/%d?idType=id", stack.OrgID, contactID)
	_, err := r.doStack(ctx, stack, http.MethodDelete, path, nil)
	return err
}

// sendNotification fires the SMS carrying the TelQ test ID at the contact.
func (r *Runner) sendNotification(ctx context.Context, stack config.Stack, countryCode, testIDText string, contactID int64) error {
	body := map[string]any{
		"status":   "A",
		"priority": "NonPriority",
		"type":     "Standard",
		"message": map[string]string{
			"contentType": "Text",
			"title":       countryCode + " Short Auto Message (AutoBot)",
			"textMessage": testIDText + " You may have to leave your home quickly to stay safe.",
		},
		"broadcastContacts": map[string]any{"contactIds": []int64{contactID}},
		"broadcastSettings": map[string]any{
			"confirm": "false",
			"deliverPaths": []map[string]any{{
				"accountId":      stack.AccountID,
				"pathId":         stack.DeliveryPathID,
				"organizationId": stack.OrgID,
				"id":             stack.DeliveryPathID,
				"status":         "A",
				"seq":            1,
				"prompt":         "SMS",
				"extRequired":    "false",
				"displayFlag":    "false",
				"default":        "false",
			}},
		},
		"launchtype": "SendNow",
	}

	_, err := r.doStack(ctx, stack, http.MethodPost, "/rest/notifications/"+stack.OrgID, body)
	return err
}

func (r *Runner) doStack(ctx context.Context, stack config.Stack, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(stack.RestURL, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", stack.APIKey)

	resp, err := r.http.Do(req)
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
