package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioClient sends SMS through the Twilio Messages API.
type TwilioClient struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

// NewTwilioClient creates a Twilio SMS client. The from number must be a
// Twilio-provisioned E.164 number.
func NewTwilioClient(accountSID, authToken, fromNumber string) *TwilioClient {
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    twilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendSMS posts one message to the Twilio Messages endpoint.
func (c *TwilioClient) SendSMS(ctx context.Context, phoneNumber, body string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	form := url.Values{}
	form.Set("To", phoneNumber)
	form.Set("From", c.fromNumber)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Twilio error bodies are short JSON; keep a bounded excerpt.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: twilio status %d: %s", ErrDeliveryFailed, resp.StatusCode, excerpt)
	}
	return nil
}
