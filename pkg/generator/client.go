// Package generator is a thin client for the external AI message generator.
// The generator writes the motivational message itself; this client only
// carries the request and supplies a static backup message when the service
// is down, because a timely email beats a fresh one.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Request describes one message to generate. RecentFingerprints lets the
// generator avoid repeating recent content; honoring them is its concern.
type Request struct {
	Goals              []string `json:"goals"`
	Personality        string   `json:"personality"`
	UserName           string   `json:"user_name"`
	RecentFingerprints []string `json:"recent_fingerprints,omitempty"`
}

// Message is the generated email content.
type Message struct {
	Subject      string `json:"subject"`
	HTMLBody     string `json:"html_body"`
	TextBody     string `json:"text_body"`
	Fingerprint  string `json:"fingerprint"`
	UsedFallback bool   `json:"used_fallback"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate requests message content from the generator service.
func (c *Client) Generate(ctx context.Context, req Request) (Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Message{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewBuffer(body))
	if err != nil {
		return Message{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Message{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Message{}, fmt.Errorf("generator API error: %s", resp.Status)
	}

	var msg Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("decode response: %w", err)
	}

	return msg, nil
}

// Fallback returns the static backup message used when the generator is
// unreachable or times out.
func Fallback(userName string) Message {
	text := fmt.Sprintf(
		"Hi %s,\n\nKeep going. Every day you show up for your goals counts, and today is no exception.\n\n— Uplift",
		userName,
	)

	return Message{
		Subject:      "Your daily boost",
		TextBody:     text,
		Fingerprint:  "fallback",
		UsedFallback: true,
	}
}
