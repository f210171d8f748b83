// Package webhook delivers engine events to external HTTP endpoints, with
// optional HMAC signing and per-endpoint event filters.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/events"
)

// Endpoint holds one registered webhook target. An empty Events list
// subscribes to everything.
type Endpoint struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Events  []string `json:"events,omitempty"`
	Secret  string   `json:"secret,omitempty"`
	Enabled bool     `json:"enabled"`
}

// Payload is the JSON body sent to webhook endpoints.
type Payload struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	MonitorID int64     `json:"monitor_id,omitempty"`
	Summary   string    `json:"summary"`
	Detail    any       `json:"detail,omitempty"`
}

// Notifier manages webhook registrations and dispatch.
type Notifier struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	items      map[string]Endpoint
	httpClient *http.Client
}

// NewNotifier creates a notifier with sane defaults.
func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		logger:     logger.Named("webhook"),
		items:      make(map[string]Endpoint),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Register adds or updates an endpoint.
func (n *Notifier) Register(ep Endpoint) Endpoint {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.items[ep.ID] = ep
	return ep
}

// Remove deletes an endpoint.
func (n *Notifier) Remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.items, id)
}

// List returns all registered endpoints.
func (n *Notifier) List() []Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]Endpoint, 0, len(n.items))
	for _, ep := range n.items {
		out = append(out, ep)
	}
	return out
}

// Run bridges the event bus into webhook dispatch until ctx is done.
func (n *Notifier) Run(ctx context.Context, bus *events.Bus) {
	id := "webhook-" + uuid.NewString()
	ch := bus.Subscribe(id)
	defer bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			n.Notify(evt)
		}
	}
}

// Notify sends the event to all enabled endpoints whose filter matches.
func (n *Notifier) Notify(evt events.Event) {
	n.mu.RLock()
	targets := make([]Endpoint, 0, len(n.items))
	for _, ep := range n.items {
		if !ep.Enabled {
			continue
		}
		if !wantsEvent(ep.Events, string(evt.Type)) {
			continue
		}
		targets = append(targets, ep)
	}
	n.mu.RUnlock()

	for _, ep := range targets {
		payload := Payload{
			ID:        uuid.NewString(),
			Event:     string(evt.Type),
			Timestamp: evt.Timestamp,
			MonitorID: evt.MonitorID,
			Summary:   evt.Summary,
			Detail:    evt.Detail,
		}
		endpoint := ep
		go func() {
			if err := n.send(endpoint, payload); err != nil {
				n.logger.Warn("webhook delivery failed",
					zap.String("url", endpoint.URL),
					zap.String("event", payload.Event),
					zap.Error(err),
				)
			}
		}()
	}
}

// send posts a payload to one endpoint, retrying once on failure.
func (n *Notifier) send(ep Endpoint, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := http.NewRequest(http.MethodPost, ep.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if ep.Secret != "" {
			req.Header.Set("X-Statuswatch-Signature", signature(ep.Secret, body))
		}

		resp, err := n.httpClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// wantsEvent matches an endpoint filter; an empty filter matches all.
func wantsEvent(filter []string, event string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, e := range filter {
		if e == event {
			return true
		}
	}
	return false
}

func signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Signature computes the expected HMAC for a delivered body. Exposed for
// receivers verifying payloads.
func Signature(secret string, body []byte) string {
	return signature(secret, body)
}
