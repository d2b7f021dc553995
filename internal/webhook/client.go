// Package webhook delivers notification messages to outbound HTTP endpoints with bounded,
// jittered exponential retries.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"listing_watcher/internal/backoff"
	"listing_watcher/internal/domain"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	userAgent         = "listing-watcher-webhook/1.0"
	maxDrainBytes     = 64 << 10
)

type Config struct {
	MaxRetries int // attempts after the first
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
	Jitter     bool
	Timeout    time.Duration // per attempt
}

func (c *Config) setDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.Factor < 1 {
		c.Factor = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Outcome describes one Deliver call.
type Outcome struct {
	Success    bool
	Attempts   int
	StatusCode int
	Err        error
}

type Client struct {
	httpClient *http.Client
	cfg        Config
	rnd        backoff.Rand
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.setDefaults()
	return &Client{
		httpClient: &http.Client{},
		cfg:        cfg,
		rnd:        backoff.Default,
		sleep:      backoff.Sleep,
		now:        time.Now,
		logger:     logger.With("component", "webhook"),
	}
}

// Deliver sends message to endpoint and reports whether any attempt succeeded.
func (c *Client) Deliver(ctx context.Context, endpoint, message string, opts Options) bool {
	return c.DeliverWithOutcome(ctx, endpoint, message, opts).Success
}

// DeliverWithOutcome is Deliver with attempt details. Errors never escape as panics or
// returned values; they are folded into the outcome.
func (c *Client) DeliverWithOutcome(ctx context.Context, endpoint, message string, opts Options) Outcome {
	body, err := json.Marshal(BuildPayload(message, opts, c.now()))
	if err != nil {
		return Outcome{Err: domain.NewBadInput(fmt.Sprintf("encode webhook payload: %v", err), nil)}
	}

	var out Outcome
	attempts := 1 + c.cfg.MaxRetries

	for attempt := 0; attempt < attempts; attempt++ {
		out.Attempts = attempt + 1

		status, retryAfter, err := c.send(ctx, endpoint, body, opts.Headers, attempt+1)
		out.StatusCode = status
		out.Err = err

		if err == nil {
			out.Success = true
			c.logger.Debug("webhook delivered",
				"status", status,
				"attempt", out.Attempts,
			)
			return out
		}

		if !domain.IsRetryable(err) {
			c.logger.Warn("webhook delivery rejected",
				"status", status,
				"attempt", out.Attempts,
				"error", err,
			)
			return out
		}

		if attempt == attempts-1 {
			break
		}

		delay := c.nextDelay(attempt, retryAfter)
		c.logger.Warn("webhook delivery failed, retrying",
			"status", status,
			"attempt", out.Attempts,
			"retry_after", retryAfter,
			"backoff", delay,
			"error", err,
		)

		if err := c.sleep(ctx, delay); err != nil {
			out.Err = err
			return out
		}
	}

	c.logger.Error("webhook delivery gave up",
		"attempts", out.Attempts,
		"status", out.StatusCode,
		"error", out.Err,
	)
	return out
}

// nextDelay uses the exponential backoff, stretched to a Retry-After hint when the
// endpoint asks for longer, and never beyond MaxDelay for the hint.
func (c *Client) nextDelay(attempt int, retryAfter time.Duration) time.Duration {
	delay := backoff.Delay(attempt, c.cfg.BaseDelay, c.cfg.MaxDelay, c.cfg.Factor)
	if c.cfg.Jitter {
		delay = backoff.WithJitter(c.rnd, delay)
	}
	if retryAfter > delay {
		delay = min(retryAfter, c.cfg.MaxDelay)
	}
	return backoff.NonNegative(delay)
}

func (c *Client) send(
	ctx context.Context,
	endpoint string,
	body []byte,
	headers map[string]string,
	attempt int,
) (int, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, 0, domain.NewBadInput(fmt.Sprintf("create webhook request: %v", err), map[string]any{"endpoint": endpoint})
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s (attempt %d)", userAgent, attempt))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, domain.NewDeliveryRetryable(endpoint, 0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return status, 0, nil
	case status == http.StatusTooManyRequests:
		return status, parseRetryAfter(resp.Header.Get("Retry-After"), c.now()), domain.NewDeliveryRetryable(endpoint, status, nil)
	case status >= 400 && status < 500:
		return status, 0, domain.NewDeliveryRejected(endpoint, status)
	default:
		return status, 0, domain.NewDeliveryRetryable(endpoint, status, nil)
	}
}
