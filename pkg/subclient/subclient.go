// Package subclient is the consumer-side read path for subscription
// state. Rendering layers call Fetch before gating content; the call
// never fails, it degrades to the free tier so free content stays
// usable through an outage.
package subclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
)

const (
	maxAttempts    = 3
	initialBackoff = time.Second
)

// Result is the outcome of a status fetch. Warning is non-empty when the
// endpoint could not be reached and Subscription is the free-tier
// fallback rather than the stored truth.
type Result struct {
	Subscription     entitlement.Subscription
	CurrentPeriodEnd *time.Time
	Warning          string
}

type statusPayload struct {
	Tier             entitlement.Tier   `json:"tier"`
	Status           entitlement.Status `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"currentPeriodEnd,omitempty"`
}

// Client fetches subscription state from the status endpoint with
// bounded retry.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *slog.Logger
	sleep   func(time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithLogger sets the logger for fallback warnings.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithSleep overrides the backoff sleep, used in tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New creates a status client for the given base URL. Panics on an empty
// base URL to fail fast during initialization.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		panic("subclient: base URL is required")
	}

	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		log:     slog.Default(),
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the caller's subscription state. An empty session token
// means an anonymous visitor: the synthetic free-tier snapshot is
// returned without a network call. Authenticated fetches retry up to
// three times with 1s/2s/4s backoff, then fall back to the free tier
// with a warning instead of an error.
func (c *Client) Fetch(ctx context.Context, sessionToken string) Result {
	if sessionToken == "" {
		return Result{Subscription: entitlement.Anonymous()}
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		payload, err := c.fetchOnce(ctx, sessionToken)
		if err == nil {
			return Result{
				Subscription: entitlement.Subscription{
					Tier:   entitlement.NormalizeTier(payload.Tier),
					Status: payload.Status,
				},
				CurrentPeriodEnd: payload.CurrentPeriodEnd,
			}
		}
		lastErr = err
		c.sleep(backoff)
		backoff *= 2
	}

	c.log.WarnContext(ctx, "subscription status unavailable, falling back to free tier",
		slog.Any("error", lastErr))
	return Result{
		Subscription: entitlement.Anonymous(),
		Warning:      "subscription status is temporarily unavailable; showing free content only",
	}
}

func (c *Client) fetchOnce(ctx context.Context, sessionToken string) (*statusPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/subscription/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sessionToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
