// Package inference turns deals into enrichment results by calling the
// Anthropic Messages API. Client owns timeout, retry and rate limiting for a
// single call; Orchestrator decides between the unified request and the
// per-subtask fallback.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/deal-enrich/internal/cost"
	"github.com/sells-group/deal-enrich/internal/metrics"
	"github.com/sells-group/deal-enrich/internal/resilience"
	"github.com/sells-group/deal-enrich/pkg/anthropic"
)

// Caller issues one logical inference request. *Client implements it.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// Request is one prompt sent to the inference service.
type Request struct {
	DealID string
	// Phase is "unified" or a subtask name. Used for logs and metrics.
	Phase  string
	System string
	Prompt string
}

// Response is the raw text returned by the inference service.
type Response struct {
	Text     string
	Model    string
	Usage    anthropic.TokenUsage
	Attempts int
}

// CallError is returned by Client.Call once retries are exhausted or a
// non-retryable failure occurs.
type CallError struct {
	Kind     resilience.Kind
	Attempts int
	// Partial holds the text of a response that was received but rejected,
	// such as output cut off at the token limit.
	Partial string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("inference: %s error after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ClientConfig configures Client.
type ClientConfig struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	// Timeout bounds each attempt.
	Timeout time.Duration
	Retry   resilience.RetryConfig
	// RatePerSecond and Burst configure the token bucket applied to every
	// attempt. A non-positive rate disables limiting.
	RatePerSecond float64
	Burst         int
	// Pricing, if set, feeds the cost counter. Nil records no cost.
	Pricing *cost.Calculator
}

// Client wraps anthropic.Client with a per-call timeout, retries with
// backoff and jitter, and a token-bucket rate limit.
type Client struct {
	api     anthropic.Client
	cfg     ClientConfig
	limiter *rate.Limiter
}

var _ Caller = (*Client)(nil)

// NewClient creates a Client.
func NewClient(api anthropic.Client, cfg ClientConfig) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	return &Client{
		api:     api,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Call sends req and returns the response text. Failures are reported as
// *CallError.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	log := zap.L().With(zap.String("deal_id", req.DealID), zap.String("phase", req.Phase))

	msgReq := anthropic.MessageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(req.System),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &c.cfg.Temperature,
	}

	retry := c.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("anthropic", req.Phase, zap.String("deal_id", req.DealID))

	start := time.Now()
	var attempts int
	var partial string
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		attempts++
		metrics.InferenceAttempts.WithLabelValues(req.Phase).Inc()

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "inference: rate limit wait")
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.api.CreateMessage(callCtx, msgReq)
		if err != nil {
			if status := anthropic.StatusCode(err); status != 0 {
				return nil, resilience.FromHTTPStatus(err, status)
			}
			return nil, err
		}
		if resp.StopReason == "max_tokens" {
			partial = resp.Text()
			return nil, resilience.NewPermanentError(
				eris.Errorf("inference: response truncated at %d tokens", c.cfg.MaxTokens), 0)
		}
		return resp, nil
	})
	metrics.InferenceDuration.WithLabelValues(req.Phase).Observe(time.Since(start).Seconds())

	if err != nil {
		kind := resilience.Classify(err)
		metrics.InferenceCalls.WithLabelValues(req.Phase, string(kind)).Inc()
		log.Warn("inference: call failed",
			zap.String("kind", string(kind)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil, &CallError{Kind: kind, Attempts: attempts, Partial: partial, Err: err}
	}

	metrics.InferenceCalls.WithLabelValues(req.Phase, "ok").Inc()
	metrics.InferenceTokens.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
	metrics.InferenceTokens.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
	usd := c.cfg.Pricing.Claude(c.cfg.Model, resp.Usage)
	metrics.InferenceCost.Add(usd)
	resp.Usage.LogCost(c.cfg.Model, req.Phase, usd)

	return &Response{
		Text:     resp.Text(),
		Model:    resp.Model,
		Usage:    resp.Usage,
		Attempts: attempts,
	}, nil
}
