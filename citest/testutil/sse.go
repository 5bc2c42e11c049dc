package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/toolguard/internal/event"
)

// SSEEvent is one frame of the /event stream, decoded from its
// {"type": ..., "properties": ...} payload. Heartbeat comments are
// reported with Type "heartbeat".
type SSEEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"properties"`
}

// SSEClient follows the permission event stream of a test server.
type SSEClient struct {
	BaseURL string

	mu     sync.Mutex
	seen   []SSEEvent
	frames chan SSEEvent
	failed chan error
	cancel context.CancelFunc
}

// NewSSEClient creates a client for the server at baseURL.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL: baseURL,
		frames:  make(chan SSEEvent, 100),
		failed:  make(chan error, 1),
	}
}

// Connect opens path (e.g. "/event?sessionID=s1") and starts reading
// frames in the background.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("connect %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("connect %s: status %d", path, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("connect %s: content type %q", path, ct)
	}

	go func() {
		defer resp.Body.Close()
		c.read(bufio.NewScanner(resp.Body))
	}()
	return nil
}

func (c *SSEClient) read(sc *bufio.Scanner) {
	defer close(c.frames)

	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			c.deliver(SSEEvent{Type: "heartbeat"})
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && data.Len() > 0:
			var evt SSEEvent
			if err := json.Unmarshal([]byte(data.String()), &evt); err != nil {
				c.fail(fmt.Errorf("decode frame %q: %w", data.String(), err))
				return
			}
			c.deliver(evt)
			data.Reset()
		}
	}
	if err := sc.Err(); err != nil && !strings.Contains(err.Error(), "context canceled") {
		c.fail(err)
	}
}

func (c *SSEClient) deliver(evt SSEEvent) {
	c.mu.Lock()
	c.seen = append(c.seen, evt)
	c.mu.Unlock()
	select {
	case c.frames <- evt:
	default:
	}
}

func (c *SSEClient) fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

// WaitForEvent returns the next frame of eventType, skipping others.
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.frames:
			if !ok {
				return nil, fmt.Errorf("stream closed waiting for %s", eventType)
			}
			if evt.Type == eventType {
				return &evt, nil
			}
		case err := <-c.failed:
			return nil, err
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event: %s", eventType)
		}
	}
}

// Seen returns every frame received so far.
func (c *SSEClient) Seen() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SSEEvent(nil), c.seen...)
}

// Close ends the stream.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

func properties[T any](evt *SSEEvent) (*T, error) {
	var data T
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return nil, fmt.Errorf("decode %s properties: %w", evt.Type, err)
	}
	return &data, nil
}

// ParseDecisionEvent decodes a decision.made frame.
func (evt *SSEEvent) ParseDecisionEvent() (*event.DecisionMadeData, error) {
	return properties[event.DecisionMadeData](evt)
}

// ParsePermissionRequired decodes a permission.required frame.
func (evt *SSEEvent) ParsePermissionRequired() (*event.PermissionRequiredData, error) {
	return properties[event.PermissionRequiredData](evt)
}

// ParseRulesReloaded decodes a rules.reloaded frame.
func (evt *SSEEvent) ParseRulesReloaded() (*event.RulesReloadedData, error) {
	return properties[event.RulesReloadedData](evt)
}
