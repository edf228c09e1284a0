// Package notify delivers domain events to an external webhook endpoint.
// Each delivery is signed with HMAC-SHA256 so receivers can authenticate
// the sender without shared infrastructure.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/store"
)

// Signature headers attached to every delivery.
const (
	HeaderEventID   = "X-Event-ID"
	HeaderTimestamp = "X-Timestamp"
	HeaderTopic     = "X-Topic"
	HeaderSignature = "X-Signature"
)

// Webhook posts each event to a single configured URL. It implements
// events.Notifier.
type Webhook struct {
	URL    string
	Secret string
	Client *http.Client
	Log    zerolog.Logger
	Now    func() time.Time
}

// NewWebhook builds a notifier with an instrumented HTTP client.
func NewWebhook(url, secret string, timeout time.Duration, log zerolog.Logger) *Webhook {
	return &Webhook{
		URL:    url,
		Secret: secret,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Log: log,
	}
}

func (wh *Webhook) now() time.Time {
	if wh.Now != nil {
		return wh.Now()
	}
	return time.Now().UTC()
}

// Notify delivers one event. A non-2xx response is an error so the bus can
// surface degraded delivery without losing the persisted event.
func (wh *Webhook) Notify(ctx context.Context, event store.DomainEvent) error {
	if wh.URL == "" {
		return nil
	}

	eventID := store.UUIDString(event.ID)
	ts := strconv.FormatInt(wh.now().Unix(), 10)
	body := event.Payload
	if len(body) == 0 {
		body = []byte("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		obs.WebhookNotifyTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderTopic, event.Topic)
	req.Header.Set(HeaderSignature, Sign(wh.Secret, ts, eventID, body))

	resp, err := wh.Client.Do(req)
	if err != nil {
		obs.WebhookNotifyTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("webhook: deliver %s: %w", event.Topic, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.WebhookNotifyTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("webhook: deliver %s: status %d", event.Topic, resp.StatusCode)
	}

	obs.WebhookNotifyTotal.WithLabelValues("ok").Inc()
	wh.Log.Debug().Str("topic", event.Topic).Str("event_id", eventID).Msg("webhook delivered")
	return nil
}

// Sign computes the hex HMAC-SHA256 over timestamp, event id and body,
// newline separated. Receivers recompute it with the shared secret.
func Sign(secret, timestamp, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write([]byte(eventID))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret, timestamp, eventID string, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, eventID, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
