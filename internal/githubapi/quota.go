package githubapi

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitHeaders contains parsed GitHub rate-limit response headers.
type RateLimitHeaders struct {
	Remaining        int
	ResetUnix        int64
	Used             int
	RetryAfter       time.Duration
	SecondaryLimited bool
	Present          bool
}

// ParseRateLimitHeaders parses rate-limit and retry headers.
func ParseRateLimitHeaders(header http.Header, statusCode int) RateLimitHeaders {
	parsed := RateLimitHeaders{}
	parsed.Present = header.Get("X-RateLimit-Remaining") != ""
	parsed.Remaining = parseHeaderInt(header.Get("X-RateLimit-Remaining"))
	parsed.Used = parseHeaderInt(header.Get("X-RateLimit-Used"))
	parsed.ResetUnix = parseHeaderInt64(header.Get("X-RateLimit-Reset"))

	retryAfterSeconds := parseHeaderInt(header.Get("Retry-After"))
	if retryAfterSeconds > 0 {
		parsed.RetryAfter = time.Duration(retryAfterSeconds) * time.Second
	}

	if statusCode == http.StatusTooManyRequests {
		parsed.SecondaryLimited = true
	}
	if statusCode == http.StatusForbidden && (parsed.RetryAfter > 0 || (parsed.Present && parsed.Remaining == 0)) {
		parsed.SecondaryLimited = true
	}

	return parsed
}

// Admission is the outcome of a quota admission attempt. When not admitted,
// WaitUntil is the earliest instant at which a retry can succeed.
type Admission struct {
	Admitted  bool
	WaitUntil time.Time
}

// QuotaSnapshot is a read-only view of tracker state.
type QuotaSnapshot struct {
	Remaining  int
	ResetAt    time.Time
	ObservedAt time.Time
}

// QuotaTracker tracks the server-reported API call budget shared by all
// concurrent fetches. It is the single cross-worker mutable structure: admit
// and observe are atomic with respect to each other, and callers hold a
// reference rather than reaching for an ambient singleton.
//
// TryAdmit decrements a speculative local counter so concurrent callers cannot
// all pass the same check before a response arrives; the true consumption is
// reconciled by the next Observe.
type QuotaTracker struct {
	mu         sync.Mutex
	remaining  int
	resetAt    time.Time
	observedAt time.Time

	resetBuffer time.Duration
	now         func() time.Time

	// Sleep is injected for testability of Acquire.
	Sleep func(duration time.Duration)
}

// NewQuotaTracker creates a tracker seeded with an assumed remaining budget.
// resetBuffer pads the wait reported for deferred admissions so callers do not
// race the server-side window rollover.
func NewQuotaTracker(initialRemaining int, resetBuffer time.Duration) *QuotaTracker {
	if initialRemaining < 0 {
		initialRemaining = 0
	}
	return &QuotaTracker{
		remaining:   initialRemaining,
		resetBuffer: resetBuffer,
		now:         time.Now,
		Sleep:       time.Sleep,
	}
}

// SetNow overrides the tracker clock. Test use only.
func (t *QuotaTracker) SetNow(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Observe updates tracker state from the latest server response. Updates win
// by arrival order, except that a duplicate for the same reset window claiming
// a higher remaining budget than currently stored is discarded as stale.
func (t *QuotaTracker) Observe(remaining int, resetAt time.Time) {
	if remaining < 0 {
		remaining = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if resetAt.Equal(t.resetAt) && remaining > t.remaining {
		return
	}
	t.remaining = remaining
	t.resetAt = resetAt
	t.observedAt = t.now()
}

// TryAdmit reserves cost units of budget. When the budget is spent and the
// reset instant has not passed, the caller is deferred until reset. Once the
// reset elapses the tracker admits optimistically and relies on the next
// Observe to re-seed the true budget.
func (t *QuotaTracker) TryAdmit(cost int) Admission {
	if cost <= 0 {
		cost = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.remaining >= cost {
		t.remaining -= cost
		return Admission{Admitted: true}
	}

	now := t.now()
	if t.resetAt.IsZero() || !now.Before(t.resetAt) {
		t.remaining = 0
		return Admission{Admitted: true}
	}

	return Admission{WaitUntil: t.resetAt.Add(t.resetBuffer)}
}

// Acquire blocks until cost units are admitted or the context ends.
func (t *QuotaTracker) Acquire(ctx context.Context, cost int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		admission := t.TryAdmit(cost)
		if admission.Admitted {
			return nil
		}

		t.mu.Lock()
		wait := admission.WaitUntil.Sub(t.now())
		sleep := t.Sleep
		t.mu.Unlock()
		if wait > 0 {
			sleep(wait)
		}
	}
}

// Snapshot returns the current tracker state.
func (t *QuotaTracker) Snapshot() QuotaSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return QuotaSnapshot{
		Remaining:  t.remaining,
		ResetAt:    t.resetAt,
		ObservedAt: t.observedAt,
	}
}

func parseHeaderInt(raw string) int {
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func parseHeaderInt64(raw string) int64 {
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
