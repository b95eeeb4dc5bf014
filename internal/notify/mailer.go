package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/resend/resend-go/v2"
)

// EmailChannel delivers notifications through the Resend transactional API.
// Without an API key the channel stays registered but reports every attempt
// as a transport failure, distinct from a missing template.
type EmailChannel struct {
	client  *resend.Client
	from    string
	timeout time.Duration
}

// NewEmailChannel constructs the email transport.
func NewEmailChannel(apiKey, from string, timeout time.Duration) *EmailChannel {
	c := &EmailChannel{from: from, timeout: timeout}
	if apiKey != "" {
		c.client = resend.NewClient(apiKey)
	}
	return c
}

func (c *EmailChannel) Kind() ChannelKind { return ChannelEmail }

func (c *EmailChannel) Deliver(ctx context.Context, n Notification, content Content, settings Settings) (map[string]string, error) {
	if c.client == nil {
		return nil, errors.New("notify: mail transport not configured")
	}
	if settings.EmailAddress == "" {
		return nil, errors.New("notify: no email address on file")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &resend.SendEmailRequest{
		From:    c.from,
		To:      []string{settings.EmailAddress},
		Subject: content.Subject,
		Html: fmt.Sprintf("<h2>%s</h2><p>%s</p>",
			html.EscapeString(content.Subject), html.EscapeString(content.Body)),
		Text: content.Subject + "\n\n" + content.Body,
	}
	sent, err := c.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("notify: send email: %w", err)
	}
	return map[string]string{"messageId": sent.Id}, nil
}
