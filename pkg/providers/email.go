package providers

import "context"

// EmailMessage is one outbound mail.
type EmailMessage struct {
	To      string
	Subject string
	Body    string
}

// EmailProvider delivers mail. Send reports delivery acceptance, not read
// receipt.
type EmailProvider interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// NoopEmail drops all mail; used when notifications are disabled and in
// dry-run mode.
type NoopEmail struct{}

// Send implements EmailProvider.
func (NoopEmail) Send(context.Context, EmailMessage) error { return nil }
