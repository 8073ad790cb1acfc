// Package notifier posts replay results to webhook URLs.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// ErrNotifierClosed indicates the notifier has been shut down.
var ErrNotifierClosed = errors.New("notifier is closed")

// Summary is the JSON body delivered for each finished replay.
type Summary struct {
	FlowID     string    `json:"flow_id"`
	Result     string    `json:"result"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Options 通知器配置
type Options struct {
	URLs          []string
	Timeout       time.Duration
	Retries       int
	MaxConcurrent int
}

// FromConfig converts the notify section.
func FromConfig(cfg config.NotifyConfig) Options {
	return Options{
		URLs:          cfg.URLs,
		Timeout:       time.Duration(cfg.Timeout) * time.Second,
		Retries:       cfg.MaxRetries,
		MaxConcurrent: cfg.MaxConcurrent,
	}
}

// Notifier delivers summaries asynchronously. The replay worker only pays
// for building the summary.
type Notifier struct {
	client     *http.Client
	logger     logger.Logger
	urls       []string
	retries    int
	backoff    time.Duration
	workerPool chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a notifier
func New(log logger.Logger, opts Options) *Notifier {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	return &Notifier{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: opts.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger:     log,
		urls:       opts.URLs,
		retries:    opts.Retries,
		backoff:    time.Second,
		workerPool: make(chan struct{}, opts.MaxConcurrent),
	}
}

// Enabled reports whether any URL is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.urls) > 0
}

// OnPhase implements hooks.Hook.
func (n *Notifier) OnPhase(_ context.Context, phase hooks.Phase, f *flow.Flow) hooks.Verdict {
	if phase != hooks.PhaseResponse && phase != hooks.PhaseError {
		return hooks.Pass()
	}
	if err := n.Notify(Summarize(f)); err != nil && !errors.Is(err, ErrNotifierClosed) {
		n.logger.Warn("Failed to queue replay notification", "flow_id", f.ID, "error", err)
	}
	return hooks.Pass()
}

// Summarize builds the notification for f.
func Summarize(f *flow.Flow) Summary {
	s := Summary{FlowID: f.ID, Result: "completed", Timestamp: time.Now().UTC()}
	if req := f.Request; req != nil {
		s.Method = req.Method
		s.URL = flow.HostPort(req.Scheme, req.Host, req.Port) + req.Path
	}
	if resp := f.Response; resp != nil {
		s.StatusCode = resp.StatusCode
		s.Reason = resp.Reason
		if f.Request != nil && !f.Request.TimestampStart.IsZero() && !resp.TimestampEnd.IsZero() {
			s.DurationMs = resp.TimestampEnd.Sub(f.Request.TimestampStart).Milliseconds()
		}
	}
	if f.Error != nil {
		s.Result = "failed"
		s.Error = f.Error.Msg
	}
	return s
}

// Notify queues s for delivery to every URL.
func (n *Notifier) Notify(s Summary) error {
	if !n.Enabled() {
		return nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrNotifierClosed
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		n.deliver(s.FlowID, payload)
	}()
	return nil
}

func (n *Notifier) deliver(flowID string, payload []byte) {
	var g errgroup.Group
	for _, url := range n.urls {
		g.Go(func() error {
			// Get worker token (control concurrent count)
			n.workerPool <- struct{}{}
			defer func() { <-n.workerPool }()

			return n.sendWithRetry(url, payload)
		})
	}
	if err := g.Wait(); err != nil {
		n.logger.Error("Replay notification not delivered", "flow_id", flowID, "error", err)
	}
}

// sendWithRetry posts payload to url (with retry)
func (n *Notifier) sendWithRetry(url string, payload []byte) error {
	var lastErr error

	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * n.backoff
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			time.Sleep(backoff)
		}

		err := n.send(url, payload, attempt)
		if err == nil {
			n.logger.Debug("Replay notification delivered", "url", url, "attempt", attempt+1)
			return nil
		}

		lastErr = err
		n.logger.Warn("Notification attempt failed",
			"url", url,
			"error", err.Error(),
			"attempt", attempt+1,
		)
	}

	return fmt.Errorf("%s: all %d attempts failed: %w", url, n.retries+1, lastErr)
}

func (n *Notifier) send(url string, payload []byte, attempt int) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "replaytap")
	req.Header.Set("X-ReplayTap-Attempt", fmt.Sprintf("%d", attempt+1))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response (avoid connection pool issues)
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		n.logger.Warn("Failed to read notification response", "error", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("target returned status %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting notifications and waits for pending deliveries.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	n.wg.Wait()

	if transport, ok := n.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
