// Package heartbeat is the reporter SDK for push-style monitors: services
// embed a Client that POSTs a beat to the status engine on a fixed
// interval, with an optional stats payload attached to each beat.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config configures a heartbeat client.
type Config struct {
	// BaseURL of the status engine, e.g. "https://status.example.com".
	BaseURL string
	// MonitorID of the heartbeat monitor to report as.
	MonitorID int64
	// Interval between beats. Must match the monitor's check interval.
	Interval time.Duration
	// Metadata sent with every beat.
	Metadata map[string]string
	// Stats, when set, is called before each beat and its result attached.
	Stats func() map[string]any
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
	// Logger is optional.
	Logger *zap.Logger
}

// beatPayload is the wire shape of one beat.
type beatPayload struct {
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Stats     map[string]any    `json:"stats,omitempty"`
}

// Client reports heartbeats on a fixed interval.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient validates the configuration and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.MonitorID <= 0 {
		return nil, fmt.Errorf("monitor id is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, client: httpClient, logger: logger.Named("heartbeat")}, nil
}

// Start begins reporting. The first beat is sent immediately so the
// monitor turns green without waiting a full interval. Start is a no-op
// if the client is already running.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		c.beat(ctx)

		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.beat(ctx)
			}
		}
	}()
}

// Stop halts reporting and waits for the loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// BeatNow sends a single beat outside the regular schedule.
func (c *Client) BeatNow(ctx context.Context) error {
	return c.send(ctx)
}

func (c *Client) beat(ctx context.Context) {
	if err := c.send(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("heartbeat failed", zap.Int64("monitor_id", c.cfg.MonitorID), zap.Error(err))
	}
}

func (c *Client) send(ctx context.Context) error {
	payload := beatPayload{
		Timestamp: time.Now().UTC(),
		Metadata:  c.cfg.Metadata,
	}
	if c.cfg.Stats != nil {
		payload.Stats = c.cfg.Stats()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal beat: %w", err)
	}

	url := fmt.Sprintf("%s/heartbeat/%d", c.cfg.BaseURL, c.cfg.MonitorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post beat: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("beat rejected with status %d", resp.StatusCode)
	}
	return nil
}
