package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"verify-service/internal/config"
)

// SMSSender delivers codes through the hosted SMS gateway's REST API.
type SMSSender struct {
	gatewayURL string
	apiKey     string
	sender     string
	httpClient *http.Client
}

func NewSMSSender(cfg config.SMSConfig) (*SMSSender, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("sms gateway url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sms api key is required")
	}

	return &SMSSender{
		gatewayURL: cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		sender:     cfg.Sender,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type smsPayload struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

func (s *SMSSender) Send(ctx context.Context, to, code string, ttl time.Duration) error {
	payload := smsPayload{
		To:   to,
		From: s.sender,
		Body: fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes())),
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the gateway's error body is
	// deliberately not propagated to callers.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}
