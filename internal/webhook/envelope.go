// Package webhook implements the webhook delivery pipeline of spec §4.6:
// registration-backed fan-out, HMAC-signed envelopes, exponential retry
// with a token-bucket rate limiter and a per-endpoint circuit breaker, and
// a dead-letter queue with a manual replay API. Grounded on the teacher's
// rpc.HTTPRPCClient transport shape (shared *http.Client, per-call
// context timeout, failures recorded against a per-endpoint tracker) and
// chainadapter/metrics.ChainMetrics's RecordX/GetHealthStatus idiom,
// retargeted from RPC endpoints to webhook endpoints.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the JSON body POSTed to a subscriber's URL.
type Envelope struct {
	EventType string      `json:"event_type"`
	SwapID    string      `json:"swap_id"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// BuildEnvelope marshals the delivery body for eventType/swapID/data at
// the given timestamp (spec §4.6's envelope shape).
func BuildEnvelope(eventType, swapID string, data interface{}, timestamp time.Time) ([]byte, error) {
	env := Envelope{EventType: eventType, SwapID: swapID, Data: data, Timestamp: timestamp.Unix()}
	return json.Marshal(env)
}

// Sign computes the delivery signature header value: HMAC-SHA256 over
// "<unix_timestamp>.<json_body>", rendered as "sha256=<hex>" (spec §4.6).
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", timestamp)))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time;
// exposed for subscriber-side test fixtures and replay validation.
func Verify(secret string, timestamp int64, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// IdempotencyKey is SHA256(webhook_id || event_type || swap_id || event
// timestamp second), so retried and duplicate enqueue calls for the same
// underlying event collapse onto one delivery row.
func IdempotencyKey(webhookID, eventType, swapID string, timestamp time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", webhookID, eventType, swapID, timestamp.Unix())))
	return hex.EncodeToString(sum[:])
}
