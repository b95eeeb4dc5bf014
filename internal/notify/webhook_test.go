package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSignerIsDeterministic(t *testing.T) {
	signer := NewSigner("topsecret")
	body := []byte(`{"id":"abc"}`)

	sig1 := signer.Sign(body)
	sig2 := signer.Sign(body)
	require.Equal(t, sig1, sig2, "same body and secret must always produce the same signature")
	require.Len(t, sig1, 64, "hex sha256")

	require.NotEqual(t, sig1, signer.Sign([]byte(`{"id":"abd"}`)))
	require.NotEqual(t, sig1, NewSigner("othersecret").Sign(body))
}

func TestSignerVerify(t *testing.T) {
	signer := NewSigner("topsecret")
	body := []byte("payload")
	sig := signer.Sign(body)
	require.True(t, signer.Verify(body, sig))
	require.False(t, signer.Verify([]byte("tampered"), sig))
	require.False(t, signer.Verify(body, "deadbeef"))
}

func TestWebhookChannelSignsAndDelivers(t *testing.T) {
	signer := NewSigner("topsecret")
	var gotSig, gotTS string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Workflu-Signature")
		gotTS = r.Header.Get("X-Workflu-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	channel := NewWebhookChannel(signer, 2*time.Second)
	frozen := time.Unix(1700000000, 0)
	channel.now = func() time.Time { return frozen }

	n := Notification{
		ID:        uuid.New(),
		Title:     "Low stock",
		Body:      "Beans running out",
		Priority:  PriorityHigh,
		Category:  "monitoring",
		ActionURL: "/inventory/42",
	}
	meta, err := channel.Deliver(context.Background(), n, Content{}, Settings{WebhookEnabled: true, WebhookURL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "200", meta["statusCode"])
	require.Contains(t, meta, "responseTimeMs")

	ts, err := strconv.ParseInt(gotTS, 10, 64)
	require.NoError(t, err)
	require.Equal(t, frozen.UnixMilli(), ts)

	// The signature covers the body alone, so a receiver holding only the
	// payload and the secret can recompute it.
	require.Equal(t, NewSigner("topsecret").Sign(gotBody), gotSig)
	require.True(t, signer.Verify(gotBody, gotSig), "receiver-side verification must pass")

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, "/inventory/42", payload["actionUrl"])
}

func TestWebhookChannelTreatsNon2xxAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	channel := NewWebhookChannel(NewSigner("s"), 2*time.Second)
	meta, err := channel.Deliver(context.Background(), Notification{ID: uuid.New()}, Content{}, Settings{WebhookURL: srv.URL})
	require.Error(t, err)
	require.Equal(t, "502", meta["statusCode"])
}

func TestWebhookChannelRequiresURL(t *testing.T) {
	channel := NewWebhookChannel(NewSigner("s"), time.Second)
	_, err := channel.Deliver(context.Background(), Notification{ID: uuid.New()}, Content{}, Settings{})
	require.Error(t, err)
}
