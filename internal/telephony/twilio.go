package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// PublicDomain is where the platform connects the media stream back
	// to, scheme-less (e.g. "bridge.example.com").
	PublicDomain string

	// APIBaseURL overrides the REST endpoint, for tests.
	APIBaseURL string
}

// TwilioProvider places calls through the Twilio REST API directly, so no
// provider SDK is pulled in for the three endpoints this service touches.
type TwilioProvider struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return &TwilioProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// PlaceCall verifies the destination against the account's allowed
// numbers, then creates the outbound call with inline stream TwiML.
func (p *TwilioProvider) PlaceCall(ctx context.Context, to string) (string, error) {
	allowed, err := p.numberAllowed(ctx, to)
	if err != nil {
		return "", fmt.Errorf("check destination: %w", err)
	}
	if !allowed {
		return "", fmt.Errorf("%w: %s", ErrNumberNotAllowed, to)
	}

	twiml, err := StreamTwiML(p.cfg.PublicDomain)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("From", p.cfg.FromNumber)
	form.Set("To", to)
	form.Set("Twiml", twiml)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", p.cfg.APIBaseURL, p.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	res, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("twilio calls status %d: %s", res.StatusCode, string(body))
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if created.SID == "" {
		return "", fmt.Errorf("twilio response missing call sid")
	}

	log.Printf("[telephony] placed call sid=%s to=%s", created.SID, to)
	return created.SID, nil
}

// numberAllowed mirrors the account's own verification rules: a number is
// callable if it is one of the account's incoming numbers or a verified
// outgoing caller id.
func (p *TwilioProvider) numberAllowed(ctx context.Context, to string) (bool, error) {
	for _, resource := range []string{"IncomingPhoneNumbers", "OutgoingCallerIds"} {
		n, err := p.countMatching(ctx, resource, to)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (p *TwilioProvider) countMatching(ctx context.Context, resource, phone string) (int, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s.json?%s",
		p.cfg.APIBaseURL, p.cfg.AccountSID, resource,
		url.Values{"PhoneNumber": []string{phone}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	res, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return 0, fmt.Errorf("twilio %s status %d: %s", resource, res.StatusCode, string(body))
	}

	var listing struct {
		IncomingPhoneNumbers []json.RawMessage `json:"incoming_phone_numbers"`
		OutgoingCallerIDs    []json.RawMessage `json:"outgoing_caller_ids"`
	}
	if err := json.NewDecoder(res.Body).Decode(&listing); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return len(listing.IncomingPhoneNumbers) + len(listing.OutgoingCallerIDs), nil
}
