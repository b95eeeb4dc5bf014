package notify

import (
	"context"
)

// Content is the channel-specific rendered material handed to a transport.
// Subject carries the in-app title or the email subject line; Body is the
// substitution-complete message for that channel.
type Content struct {
	Subject string
	Body    string
}

// Channel delivers a rendered notification over one transport. Deliver
// returns transport metadata (status codes, provider ids) on success.
type Channel interface {
	Kind() ChannelKind
	Deliver(ctx context.Context, n Notification, content Content, settings Settings) (map[string]string, error)
}

// InAppChannel marks the persisted row itself as the delivery. The row is
// already in the store when Deliver runs, so this transport cannot fail.
type InAppChannel struct{}

// NewInAppChannel constructs the in-app transport.
func NewInAppChannel() *InAppChannel { return &InAppChannel{} }

func (c *InAppChannel) Kind() ChannelKind { return ChannelInApp }

func (c *InAppChannel) Deliver(_ context.Context, _ Notification, _ Content, _ Settings) (map[string]string, error) {
	return map[string]string{"stored": "true"}, nil
}
