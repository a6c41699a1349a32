// Package ratelimit bounds how often a candidate may run code for one
// question. Hits live in an injected Store so every server instance shares
// the same windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Store persists timestamped hits per key. Entries must stop counting once
// their expiry passes.
type Store interface {
	// Take records a hit at now unless key already has max hits newer than
	// now-window. Counting and recording happen as one atomic step. When the
	// hit is refused, oldest is the time of the oldest counted hit.
	Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (ok bool, oldest time.Time, err error)
}

// LimitedError is returned when a key has used up its window.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %ds", e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func (e *LimitedError) RetryAfterSeconds() int {
	seconds := int((e.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// Limiter allows at most Max hits per key inside a rolling Window.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
	now    func() time.Time
}

func New(store Store, max int, window time.Duration) *Limiter {
	if max < 1 {
		max = 3
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, max: max, window: window, now: time.Now}
}

// ExecutionKey scopes a limit to one question of one attempt.
func ExecutionKey(attemptID, questionID fmt.Stringer) string {
	return "exec:" + attemptID.String() + ":" + questionID.String()
}

// Allow records a hit for key, or returns a *LimitedError when the window is
// full. Store failures are logged and the hit is allowed.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.store == nil {
		return nil
	}
	now := l.now()

	ok, oldest, err := l.store.Take(ctx, key, now, l.window, l.max)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit store unavailable, skipping check")
		return nil
	}
	if !ok {
		retry := oldest.Add(l.window).Sub(now)
		if retry <= 0 {
			retry = time.Second
		}
		return &LimitedError{RetryAfter: retry}
	}
	return nil
}
