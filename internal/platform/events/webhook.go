package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Endpoint is a registered webhook destination. Deliveries are signed with
// the endpoint secret so receivers can authenticate the sender.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"` // active, disabled
	CreatedAt time.Time `json:"created_at"`
}

// Delivery records one delivery attempt.
type Delivery struct {
	ID         string    `json:"id"`
	EndpointID string    `json:"endpoint_id"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	StatusCode int       `json:"status_code"`
	Attempt    int       `json:"attempt"`
	Status     string    `json:"status"` // success, failed
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Forwarder delivers bus events to registered webhook endpoints. Subscribe
// it on a Bus with SubscribeAll.
type Forwarder struct {
	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	deliveries []Delivery
	client     *http.Client
	maxRetries int
	logger     zerolog.Logger
}

// NewForwarder creates a Forwarder with a bounded HTTP client.
func NewForwarder(logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		endpoints:  make(map[string]*Endpoint),
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		logger:     logger,
	}
}

// Register adds an endpoint. A missing secret is generated.
func (f *Forwarder) Register(ep Endpoint) *Endpoint {
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.Secret == "" {
		ep.Secret = uuid.New().String()
	}
	if ep.Status == "" {
		ep.Status = "active"
	}
	ep.CreatedAt = time.Now().UTC()

	f.mu.Lock()
	f.endpoints[ep.ID] = &ep
	f.mu.Unlock()
	return &ep
}

// Deliveries returns a copy of the delivery log.
func (f *Forwarder) Deliveries() []Delivery {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Delivery, len(f.deliveries))
	copy(out, f.deliveries)
	return out
}

// Handle implements HandlerFunc; it fans the event out to every matching
// endpoint. Delivery happens inline with retries; callers that cannot block
// should publish from a goroutine.
func (f *Forwarder) Handle(ctx context.Context, evt Event) {
	f.mu.RLock()
	var targets []*Endpoint
	for _, ep := range f.endpoints {
		if ep.Status != "active" {
			continue
		}
		if matchesEvent(ep.Events, evt.Type) {
			targets = append(targets, ep)
		}
	}
	f.mu.RUnlock()

	for _, ep := range targets {
		f.deliver(ctx, ep, evt)
	}
}

func matchesEvent(subscribed []string, eventType string) bool {
	if len(subscribed) == 0 {
		return true
	}
	for _, s := range subscribed {
		if s == eventType || s == "*" {
			return true
		}
	}
	return false
}

// Sign computes the HMAC-SHA256 signature of the payload with the endpoint
// secret, hex encoded.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}

func (f *Forwarder) deliver(ctx context.Context, ep *Endpoint, evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		return
	}
	signature := Sign(ep.Secret, body)

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		d := Delivery{
			ID:         uuid.New().String(),
			EndpointID: ep.ID,
			EventID:    evt.ID,
			EventType:  evt.Type,
			Attempt:    attempt,
			CreatedAt:  time.Now().UTC(),
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
		if err != nil {
			d.Status = "failed"
			d.Error = err.Error()
			f.record(d)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", signature)
		req.Header.Set("X-Webhook-Event", evt.Type)

		resp, err := f.client.Do(req)
		if err != nil {
			d.Status = "failed"
			d.Error = err.Error()
			f.record(d)
			f.backoff(ctx, attempt)
			continue
		}
		resp.Body.Close()
		d.StatusCode = resp.StatusCode

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			d.Status = "success"
			f.record(d)
			return
		}

		d.Status = "failed"
		d.Error = fmt.Sprintf("endpoint returned %d", resp.StatusCode)
		f.record(d)
		f.backoff(ctx, attempt)
	}

	f.logger.Warn().
		Str("endpoint_id", ep.ID).
		Str("event_id", evt.ID).
		Msg("webhook delivery exhausted retries")
}

func (f *Forwarder) record(d Delivery) {
	f.mu.Lock()
	f.deliveries = append(f.deliveries, d)
	f.mu.Unlock()
}

func (f *Forwarder) backoff(ctx context.Context, attempt int) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
	}
}
