package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Signer produces the HMAC-SHA256 signature carried on webhook deliveries.
// The signature is a pure function of the JSON body and the shared secret;
// the timestamp travels in its own header so receivers can reject stale
// deliveries independently of signature verification.
type Signer struct {
	secret []byte
}

// NewSigner constructs a Signer from the shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex signature for the body.
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func (s *Signer) Verify(body []byte, signature string) bool {
	return hmac.Equal([]byte(s.Sign(body)), []byte(signature))
}

// WebhookChannel POSTs signed JSON payloads to the user's configured URL.
type WebhookChannel struct {
	client *http.Client
	signer *Signer
	now    func() time.Time
}

// NewWebhookChannel constructs the webhook transport.
func NewWebhookChannel(signer *Signer, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		client: &http.Client{Timeout: timeout},
		signer: signer,
		now:    time.Now,
	}
}

func (c *WebhookChannel) Kind() ChannelKind { return ChannelWebhook }

type webhookPayload struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Priority   Priority          `json:"priority"`
	Category   string            `json:"category"`
	EntityType string            `json:"entityType,omitempty"`
	EntityID   string            `json:"entityId,omitempty"`
	ActionURL  string            `json:"actionUrl,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func (c *WebhookChannel) Deliver(ctx context.Context, n Notification, _ Content, settings Settings) (map[string]string, error) {
	if settings.WebhookURL == "" {
		return nil, errors.New("notify: no webhook url on file")
	}

	body, err := json.Marshal(webhookPayload{
		ID:         n.ID.String(),
		Title:      n.Title,
		Body:       n.Body,
		Priority:   n.Priority,
		Category:   n.Category,
		EntityType: n.EntityType,
		EntityID:   n.EntityID,
		ActionURL:  n.ActionURL,
		Data:       n.TemplateData,
		CreatedAt:  n.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "workflu-notify/1.0")
	req.Header.Set("X-Workflu-Timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	req.Header.Set("X-Workflu-Signature", c.signer.Sign(body))

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notify: webhook call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	meta := map[string]string{
		"statusCode":     strconv.Itoa(resp.StatusCode),
		"responseTimeMs": strconv.FormatInt(time.Since(started).Milliseconds(), 10),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return meta, fmt.Errorf("notify: webhook endpoint returned %d", resp.StatusCode)
	}
	return meta, nil
}
