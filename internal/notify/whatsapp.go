package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Button is one quick-reply option on an interactive message. ID comes
// back verbatim in the button tap webhook.
type Button struct {
	ID    string
	Title string
}

// Messenger delivers outbound WhatsApp messages.
type Messenger interface {
	SendText(ctx context.Context, to string, body string) error
	SendButtons(ctx context.Context, to string, body string, buttons []Button) error
}

// WhatsAppClient talks to the WhatsApp Cloud API. Every send shares one
// short-timeout HTTP client; a slow provider must never stall a booking
// response.
type WhatsAppClient struct {
	baseURL       string
	phoneNumberID string
	token         string
	http          *http.Client
}

func NewWhatsAppClient(phoneNumberID string, token string) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL:       "https://graph.facebook.com/v20.0",
		phoneNumberID: strings.TrimSpace(phoneNumberID),
		token:         strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *WhatsAppClient) SendText(ctx context.Context, to string, body string) error {
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
}

func (c *WhatsAppClient) SendButtons(ctx context.Context, to string, body string, buttons []Button) error {
	replies := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		replies = append(replies, map[string]any{
			"type": "reply",
			"reply": map[string]string{
				"id":    b.ID,
				"title": b.Title,
			},
		})
	}
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]any{"buttons": replies},
		},
	})
}

func (c *WhatsAppClient) post(ctx context.Context, payload map[string]any) error {
	if c.phoneNumberID == "" || c.token == "" {
		return errors.New("whatsapp cloud api not configured")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp cloud api returned %d", resp.StatusCode)
	}
	return nil
}

// NoopMessenger drops every message. Used when no WhatsApp credentials are
// configured, so local development never reaches the provider.
type NoopMessenger struct{}

func (NoopMessenger) SendText(context.Context, string, string) error {
	return nil
}

func (NoopMessenger) SendButtons(context.Context, string, string, []Button) error {
	return nil
}
