package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// SMSChannel posts short messages to an HTTP SMS gateway. The gateway is a
// plain bearer-token JSON endpoint; anything outside 2xx is a failure.
type SMSChannel struct {
	client     *http.Client
	gatewayURL string
	token      string
}

// NewSMSChannel constructs the SMS transport.
func NewSMSChannel(gatewayURL, token string, timeout time.Duration) *SMSChannel {
	return &SMSChannel{
		client:     &http.Client{Timeout: timeout},
		gatewayURL: gatewayURL,
		token:      token,
	}
}

func (c *SMSChannel) Kind() ChannelKind { return ChannelSMS }

func (c *SMSChannel) Deliver(ctx context.Context, n Notification, content Content, settings Settings) (map[string]string, error) {
	if settings.PhoneNumber == "" {
		return nil, errors.New("notify: no phone number on file")
	}
	if c.gatewayURL == "" {
		return nil, errors.New("notify: sms gateway not configured")
	}

	// content.Body is already the short form when the template carries one.
	// Truncation to provider limits is the gateway's concern.
	payload, err := json.Marshal(map[string]string{
		"to":      settings.PhoneNumber,
		"message": content.Body,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notify: sms gateway call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("notify: sms gateway returned %d", resp.StatusCode)
	}
	return map[string]string{"statusCode": strconv.Itoa(resp.StatusCode)}, nil
}
