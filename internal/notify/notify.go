// Package notify delivers one-time codes and security notices over SMS and
// email. Senders are small interfaces so the MFA layer can be tested with
// fakes and the wire clients swapped per deployment.
package notify

import (
	"context"
	"errors"
)

// Delivery errors
var (
	ErrDeliveryFailed = errors.New("notification delivery failed")
)

// SmsSender delivers a short text message to an E.164 phone number.
type SmsSender interface {
	SendSMS(ctx context.Context, phoneNumber, body string) error
}

// EmailSender delivers a plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}
