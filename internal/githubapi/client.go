package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gdfm-dev/gdfm/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrRateLimited is returned when the quota is exhausted and the client is
// configured to fail rather than wait, or when waiting was cut short.
var ErrRateLimited = errors.New("github api quota exhausted")

// DeferMode selects what a call does when quota admission is deferred.
type DeferMode string

const (
	// DeferWait suspends the call until the quota window resets.
	DeferWait DeferMode = "wait"
	// DeferFail returns ErrRateLimited to the caller immediately.
	DeferFail DeferMode = "fail"
)

// RetryConfig configures transient-failure retry behavior.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CallMetadata reports execution metadata for a client call.
type CallMetadata struct {
	Attempts        int
	LastRateHeaders RateLimitHeaders
	Quota           QuotaSnapshot
}

// Client executes GitHub HTTP requests under the shared quota budget. Every
// attempt is admitted through the tracker first; rate-limit headers from every
// response feed back into it. Transient network and 5xx failures retry with
// bounded exponential backoff; 403/429 responses carrying a rate-limit
// signature are treated as quota exhaustion and routed back through the
// tracker; other 4xx responses are returned to the caller unretried.
type Client struct {
	doer      HTTPDoer
	retry     RetryConfig
	tracker   *QuotaTracker
	deferMode DeferMode

	// Sleep is injected for testability.
	Sleep func(duration time.Duration)
}

// NewClient creates a quota-aware request client.
func NewClient(doer HTTPDoer, tracker *QuotaTracker, retry RetryConfig, deferMode DeferMode) *Client {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if deferMode == "" {
		deferMode = DeferWait
	}
	return &Client{
		doer:      doer,
		retry:     retry,
		tracker:   tracker,
		deferMode: deferMode,
		Sleep:     time.Sleep,
	}
}

// Do executes a request. The returned response may carry a non-2xx status;
// callers classify those through endpoint status normalization.
func (c *Client) Do(req *http.Request) (*http.Response, CallMetadata, error) {
	if req == nil {
		return nil, CallMetadata{}, fmt.Errorf("request is nil")
	}
	if c.tracker == nil {
		return nil, CallMetadata{}, fmt.Errorf("quota tracker is required")
	}

	ctx := req.Context()
	var span trace.Span
	if telemetry.ShouldTraceDependencies() {
		ctx, span = otel.Tracer("gdfm/internal/githubapi").Start(
			ctx,
			"githubapi.client.do",
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.path", req.URL.EscapedPath()),
				attribute.Int("github.max_attempts", c.retry.MaxAttempts),
			),
		)
		defer span.End()
	}

	metadata := CallMetadata{}
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		metadata.Attempts = attempt

		if err := c.admit(ctx); err != nil {
			metadata.Quota = c.tracker.Snapshot()
			if span != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			return nil, metadata, err
		}

		nextReq := req.Clone(ctx)
		resp, err := c.doer.Do(nextReq)
		if err != nil {
			if span != nil {
				span.RecordError(err)
				span.AddEvent("attempt_failed", trace.WithAttributes(
					attribute.Int("github.attempt", attempt),
				))
			}
			if attempt == c.retry.MaxAttempts {
				metadata.Quota = c.tracker.Snapshot()
				if span != nil {
					span.SetStatus(codes.Error, err.Error())
				}
				return nil, metadata, fmt.Errorf("github request failed: %w", err)
			}
			c.Sleep(backoffForAttempt(c.retry, attempt))
			continue
		}

		headers := ParseRateLimitHeaders(resp.Header, resp.StatusCode)
		metadata.LastRateHeaders = headers
		if headers.Present {
			c.tracker.Observe(headers.Remaining, time.Unix(headers.ResetUnix, 0))
		}

		if span != nil {
			span.AddEvent("attempt_completed", trace.WithAttributes(
				attribute.Int("github.attempt", attempt),
				attribute.Int("http.status_code", resp.StatusCode),
				attribute.Int("github.rate_limit_remaining", headers.Remaining),
				attribute.Int64("github.rate_limit_reset_unix", headers.ResetUnix),
			))
		}

		if headers.SecondaryLimited {
			c.observeExhaustion(headers)
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			if c.deferMode == DeferFail || attempt == c.retry.MaxAttempts {
				metadata.Quota = c.tracker.Snapshot()
				if span != nil {
					span.SetStatus(codes.Error, "rate-limited")
				}
				return nil, metadata, ErrRateLimited
			}
			continue
		}

		if isTransientStatus(resp.StatusCode) && attempt < c.retry.MaxAttempts {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			c.Sleep(backoffForAttempt(c.retry, attempt))
			continue
		}

		metadata.Quota = c.tracker.Snapshot()
		if span != nil {
			span.SetStatus(codes.Ok, "request completed")
		}
		return resp, metadata, nil
	}

	metadata.Quota = c.tracker.Snapshot()
	if span != nil {
		span.SetStatus(codes.Error, "request attempts exhausted")
	}
	return nil, metadata, fmt.Errorf("request attempts exhausted")
}

func (c *Client) admit(ctx context.Context) error {
	if c.deferMode == DeferFail {
		admission := c.tracker.TryAdmit(1)
		if !admission.Admitted {
			return fmt.Errorf("%w: retry after %s", ErrRateLimited, admission.WaitUntil.Format(time.RFC3339))
		}
		return nil
	}
	return c.tracker.Acquire(ctx, 1)
}

func isTransientStatus(statusCode int) bool {
	return statusCode >= 500 && statusCode <= 599
}

// observeExhaustion drains the tracker budget when the server signals a limit.
// Retry-After wins over the primary reset header when both are present.
func (c *Client) observeExhaustion(headers RateLimitHeaders) {
	resetAt := time.Unix(headers.ResetUnix, 0)
	if headers.RetryAfter > 0 {
		retryAt := time.Now().Add(headers.RetryAfter)
		if retryAt.After(resetAt) {
			resetAt = retryAt
		}
	}
	c.tracker.Observe(0, resetAt)
}

func backoffForAttempt(retry RetryConfig, attempt int) time.Duration {
	backoff := retry.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
			return retry.MaxBackoff
		}
	}
	if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
		return retry.MaxBackoff
	}
	return backoff
}
