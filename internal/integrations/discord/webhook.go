// Package discord posts webhook messages to a Discord channel.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Embed colors used for state-change notifications.
const (
	ColorGreen = 0x16A34A
	ColorAmber = 0xF59E0B
	ColorRed   = 0xDC2626
	ColorBlue  = 0x2563EB
)

// Embed represents a minimal Discord embed payload.
// See: https://discord.com/developers/docs/resources/channel#embed-object-embed-structure
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// WebhookPayload is the JSON body for Discord webhooks.
type WebhookPayload struct {
	Username string  `json:"username,omitempty"`
	Content  string  `json:"content,omitempty"`
	Embeds   []Embed `json:"embeds,omitempty"`
}

// Client posts payloads to one webhook URL.
type Client struct {
	URL  string
	HTTP *http.Client
}

func NewClient(url string) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: 8 * time.Second}}
}

// Post sends payload and fails on any non-2xx response.
func (c *Client) Post(ctx context.Context, payload WebhookPayload) error {
	if c == nil || c.URL == "" {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NewEmbed creates an embed with timestamp set to now in RFC3339 format.
func NewEmbed(title, description string, color int, footer string) Embed {
	e := Embed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if footer != "" {
		e.Footer = &EmbedFooter{Text: footer}
	}
	return e
}
