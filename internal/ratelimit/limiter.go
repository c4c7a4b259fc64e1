// Package ratelimit bounds draft autosave traffic with a sliding-window
// counter kept in a store shared by every server instance, so the limit
// holds across a horizontally scaled deployment.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chartkeep/api/pkg/metrics"
)

const (
	// DefaultWindow and DefaultThreshold allow 60 autosaves per rolling
	// 60 seconds per (actor, record) pair, roughly one per second of typing.
	DefaultWindow    = 60 * time.Second
	DefaultThreshold = 60
)

// CounterStore records timestamped hits and counts them inside a window.
// The production implementation lives in internal/repository and shares the
// relational database with the rest of the system.
type CounterStore interface {
	// Hit records one hit for key at the given instant and returns the total
	// number of hits for key at or after windowStart, including this one.
	Hit(ctx context.Context, key string, at, windowStart time.Time) (int, error)

	// Prune discards hits older than the cutoff. Called periodically by the
	// purge sweeper; correctness does not depend on it.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Limiter implements the sliding-window policy over a CounterStore.
//
// If the store is unreachable the limiter fails open: a clinician must never
// lose a note because the counter database is down. Every fail-open is logged
// as a warning so the condition is visible.
type Limiter struct {
	store     CounterStore
	window    time.Duration
	threshold int
	log       *zap.Logger
	collector *metrics.Collector
	now       func() time.Time
}

func New(store CounterStore, window time.Duration, threshold int, collector *metrics.Collector, log *zap.Logger) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Limiter{
		store:     store,
		window:    window,
		threshold: threshold,
		log:       log,
		collector: collector,
		now:       time.Now,
	}
}

// AutosaveKey builds the scope key for draft autosave throttling.
func AutosaveKey(actorID, recordID uuid.UUID) string {
	return fmt.Sprintf("draft_autosave:%s:%s", actorID, recordID)
}

// Allow records a hit for key and reports whether the caller is inside the
// window's threshold.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	now := l.now()

	count, err := l.store.Hit(ctx, key, now, now.Add(-l.window))
	if err != nil {
		l.collector.LimiterFailedOpen()
		l.log.Warn("rate limiter counter store unreachable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}

	return count <= l.threshold
}

// Prune discards expired hits. Safe to call from any goroutine.
func (l *Limiter) Prune(ctx context.Context) (int64, error) {
	return l.store.Prune(ctx, l.now().Add(-l.window))
}
