package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stripesync/stripesync/internal/pkg/env"
	"github.com/stripesync/stripesync/internal/pkg/ratelimit"
)

const (
	defaultStripeAPIBaseURL = "https://api.stripe.com"
	stripeAPIVersion        = "2024-06-20"
)

// ErrRateLimited signals that the outbound API budget for the current window
// is exhausted. The call was not made; the caller should defer and retry.
var ErrRateLimited = errors.New("stripe api rate limit budget exhausted")

// RateLimitedError wraps ErrRateLimited with the wait until the window
// resets.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("stripe api rate limit budget exhausted, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// StripeClient is a thin client for the handful of Stripe API reads this
// system performs. Every call consults the shared rate limiter before going
// out; the limiter signals, it never blocks.
type StripeClient struct {
	SecretKey  string
	PublicKey  string
	APIBaseURL string

	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
}

// NewStripeClientFromEnv creates a client from STRIPE_* environment keys.
func NewStripeClientFromEnv(limiter *ratelimit.Limiter) *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		PublicKey:  strings.TrimSpace(env.GetEnv("STRIPE_PUBLIC_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		Limiter: limiter,
	}
}

// GetSubscription fetches the current state of a subscription, used to
// enrich checkout sessions whose payload lacks status and period detail.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}

	if c.Limiter != nil {
		res, err := c.Limiter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return nil, &RateLimitedError{RetryAfter: res.RetryAfter}
		}
	}

	baseURL := strings.TrimRight(c.APIBaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Stripe-Version", stripeAPIVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stripe subscription fetch failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out SubscriptionObject
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("stripe subscription response missing id")
	}
	return &out, nil
}
