package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const sendgridSendURL = "https://api.sendgrid.com/v3/mail/send"

// SendGridClient sends email through the SendGrid v3 mail send API.
type SendGridClient struct {
	apiKey     string
	fromEmail  string
	fromName   string
	sendURL    string
	httpClient *http.Client
}

// NewSendGridClient creates a SendGrid email client.
func NewSendGridClient(apiKey, fromEmail, fromName string) *SendGridClient {
	return &SendGridClient{
		apiKey:     apiKey,
		fromEmail:  fromEmail,
		fromName:   fromName,
		sendURL:    sendgridSendURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridPayload struct {
	Personalizations []struct {
		To []sendgridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendgridAddress `json:"from"`
	Subject string          `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

// SendEmail posts one plain-text message to the SendGrid send endpoint.
func (c *SendGridClient) SendEmail(ctx context.Context, to, subject, body string) error {
	payload := sendgridPayload{
		From:    sendgridAddress{Email: c.fromEmail, Name: c.fromName},
		Subject: subject,
	}
	payload.Personalizations = append(payload.Personalizations, struct {
		To []sendgridAddress `json:"to"`
	}{To: []sendgridAddress{{Email: to}}})
	payload.Content = append(payload.Content, struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{Type: "text/plain", Value: body})

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sendgrid payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: sendgrid status %d: %s", ErrDeliveryFailed, resp.StatusCode, excerpt)
	}
	return nil
}
