package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one outbound restock email.
type Message struct {
	RecipientEmail string `json:"recipientEmail"`
	Subject        string `json:"subject"`
	HTML           string `json:"html"`
}

// Sender is the opaque mail-send capability. Any transport works as
// long as success and failure are distinguishable per call.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// RelayClient posts messages to the HTTP mail relay.
type RelayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRelayClient(baseURL, apiKey string) *RelayClient {
	return &RelayClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RelayClient) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auto-notify/sendMail", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send to %s: %w", msg.RecipientEmail, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail relay status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
