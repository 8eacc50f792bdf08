// Package ratelimit tracks the throttling signals sent by the CNPJ registry
// (429 responses, Retry-After and X-RateLimit-* headers) and holds requests
// until the registry's window resets. State can be kept in process memory or
// shared between concurrent runs through Redis.
package ratelimit

import (
	"time"
)

// RemainingUnknown marks a state where the registry never reported a quota.
const RemainingUnknown = -1

// DefaultBlockDuration is used when a 429 arrives without a usable Retry-After.
// It matches the registry's one-minute window.
const DefaultBlockDuration = 60 * time.Second

// State represents the registry's current throttling state.
type State struct {
	// Remaining is the number of requests left in the current window.
	// Extracted from the X-RateLimit-Remaining header, RemainingUnknown if absent.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`

	// Blocked is set when the registry answered 429.
	Blocked bool `json:"blocked"`
}

// DefaultState returns the state assumed before any response has been seen.
func DefaultState() *State {
	return &State{
		Remaining:  RemainingUnknown,
		LastUpdate: time.Now(),
	}
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Expired reports whether the state has outlived its window by more than retention.
func (s *State) Expired(retention time.Duration) bool {
	window := s.ResetAt.Sub(s.LastUpdate)
	if window < 0 {
		window = 0
	}
	return s.IsStale(window + retention)
}

// Exhausted reports whether the registry asked us to stop until ResetAt.
func (s *State) Exhausted() bool {
	return s.Blocked || s.Remaining == 0
}

// NeedsWait reports whether a request issued at now must wait for the reset.
func (s *State) NeedsWait(now time.Time) bool {
	return s.Exhausted() && now.Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}
