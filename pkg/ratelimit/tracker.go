package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultMaxWait caps a single throttle wait.
const DefaultMaxWait = 2 * time.Minute

// Prometheus metrics for throttle tracking.
var (
	throttleRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cnpj_throttle_remaining",
		Help: "Requests remaining in the registry's current rate limit window",
	})

	throttleBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnpj_throttle_blocks_total",
		Help: "Total number of 429 responses received from the registry",
	})

	throttleWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnpj_throttle_waits_total",
		Help: "Total number of requests held back until the registry window reset",
	})
)

// Tracker monitors the registry's throttling signals and gates requests.
type Tracker struct {
	store   Store
	logger  zerolog.Logger
	maxWait time.Duration
}

// NewTracker creates a new tracker backed by store.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:   store,
		logger:  logger,
		maxWait: DefaultMaxWait,
	}
}

// SetMaxWait changes the cap applied to a single Wait. Non-positive values are ignored.
func (t *Tracker) SetMaxWait(d time.Duration) {
	if d > 0 {
		t.maxWait = d
	}
}

// GetState retrieves the current state.
// Returns a default unthrottled state if nothing has been recorded.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		t.logger.Debug().Msg("No throttle state recorded, assuming unthrottled")
		return DefaultState(), nil
	}
	return state, nil
}

// UpdateFromResponse records the throttling signals carried by a registry response.
// Responses without any rate limit header and a non-429 status leave the state untouched.
func (t *Tracker) UpdateFromResponse(ctx context.Context, statusCode int, headers http.Header) error {
	now := time.Now()
	state := &State{
		Remaining:  RemainingUnknown,
		LastUpdate: now,
	}
	seen := false
	var headerErr error

	if remainStr := headers.Get("X-RateLimit-Remaining"); remainStr != "" {
		if remain, err := strconv.Atoi(remainStr); err != nil {
			headerErr = fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
		} else {
			state.Remaining = remain
			seen = true
		}
	}

	// A missing reset leaves ResetAt unknown; an exhausted quota then holds nothing back.
	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" && seen {
		if resetSeconds, err := strconv.Atoi(resetStr); err != nil {
			headerErr = fmt.Errorf("parse X-RateLimit-Reset header: %w", err)
		} else {
			state.ResetAt = now.Add(time.Duration(resetSeconds) * time.Second)
		}
	}

	if statusCode == http.StatusTooManyRequests {
		seen = true
		state.Blocked = true
		state.ResetAt = now.Add(parseRetryAfter(headers.Get("Retry-After"), now))
		throttleBlocksTotal.Inc()
	}

	if !seen {
		return headerErr
	}

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	if state.Remaining != RemainingUnknown {
		throttleRemaining.Set(float64(state.Remaining))
	}

	if state.Exhausted() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Bool("blocked", state.Blocked).
			Time("reset_at", state.ResetAt).
			Msg("Registry rate limit exhausted - requests will wait for reset")
	} else {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Registry rate limit state updated")
	}

	return headerErr
}

// Wait blocks until the registry window resets when the recorded state is exhausted.
// A single wait never exceeds the configured maximum. It returns ctx.Err() if the
// context ends first. Store failures are logged and do not hold the request back.
func (t *Tracker) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Throttle state unavailable, proceeding")
		return nil
	}
	if !state.NeedsWait(time.Now()) {
		return nil
	}

	wait := state.TimeUntilReset()
	if wait > t.maxWait {
		wait = t.maxWait
	}

	t.logger.Warn().
		Int("remaining", state.Remaining).
		Dur("wait_duration", wait).
		Msg("Registry rate limit exhausted - waiting for reset")
	throttleWaitsTotal.Inc()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return DefaultBlockDuration
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return DefaultBlockDuration
}
