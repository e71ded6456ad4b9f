package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/medwire/medwire/app/database"
)

// Ceiling names for limit rejections.
const (
	CeilingMinute = "minute"
	CeilingHour   = "hour"
	CeilingDay    = "day"
	CeilingSpend  = "daily spend"
)

// LimitError is a typed refusal naming the first violated ceiling. It is
// always surfaced to the caller, never silently retried.
type LimitError struct {
	Ceiling   string
	Requested int64
	Used      int64
	Limit     int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s ceiling (requested %d, used %d of %d)",
		e.Ceiling, e.Requested, e.Used, e.Limit)
}

// Limits hold the ceilings enforced on every check.
type Limits struct {
	MinuteUnits  int64
	HourUnits    int64
	DayUnits     int64
	DailyCostCap float64
	CostPerUnit  float64
}

// Limiter guards spend and volume on paid inference calls. Counter state is
// lazily loaded from the database on first use and cached in memory for the
// process lifetime; every successful Record converges the cache and the
// persisted copy. All callers within a process share one Limiter, so
// check-then-record races are resolved by the mutex rather than the caller.
type Limiter struct {
	mu      sync.Mutex
	limits  Limits
	repo    database.UsageRepository
	counter *database.UsageCounter
	loaded  bool
}

func NewLimiter(limits Limits, repo database.UsageRepository) *Limiter {
	return &Limiter{
		limits: limits,
		repo:   repo,
	}
}

// Check verifies that consuming estimatedUnits would stay under every
// ceiling. Elapsed windows are reset before checking so stale counters never
// cause a false rejection; ceilings are checked most granular first, and the
// first violated one names the rejection.
func (l *Limiter) Check(ctx context.Context, estimatedUnits int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(ctx); err != nil {
		return err
	}

	l.resetElapsedWindows(time.Now().UTC())

	c := l.counter
	if c.MinuteUnits+estimatedUnits > l.limits.MinuteUnits {
		return &LimitError{Ceiling: CeilingMinute, Requested: estimatedUnits, Used: c.MinuteUnits, Limit: l.limits.MinuteUnits}
	}
	if c.HourUnits+estimatedUnits > l.limits.HourUnits {
		return &LimitError{Ceiling: CeilingHour, Requested: estimatedUnits, Used: c.HourUnits, Limit: l.limits.HourUnits}
	}
	if c.DayUnits+estimatedUnits > l.limits.DayUnits {
		return &LimitError{Ceiling: CeilingDay, Requested: estimatedUnits, Used: c.DayUnits, Limit: l.limits.DayUnits}
	}

	projectedSpend := float64(c.DayUnits+estimatedUnits) * l.limits.CostPerUnit
	if l.limits.DailyCostCap > 0 && projectedSpend > l.limits.DailyCostCap {
		return &LimitError{Ceiling: CeilingSpend, Requested: estimatedUnits, Used: c.DayUnits, Limit: l.limits.DayUnits}
	}

	return nil
}

// Record adds units to all three windows and persists the updated state.
// Called only after a successful external call.
func (l *Limiter) Record(ctx context.Context, units int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(ctx); err != nil {
		return err
	}

	l.resetElapsedWindows(time.Now().UTC())

	l.counter.MinuteUnits += units
	l.counter.HourUnits += units
	l.counter.DayUnits += units

	if err := l.repo.SaveCounter(ctx, l.counter); err != nil {
		return fmt.Errorf("failed to persist usage counter: %w", err)
	}

	return nil
}

func (l *Limiter) ensureLoaded(ctx context.Context) error {
	if l.loaded {
		return nil
	}

	counter, err := l.repo.LoadCounter(ctx)
	if err != nil {
		return fmt.Errorf("failed to load usage counter: %w", err)
	}

	if counter == nil {
		now := time.Now().UTC()
		counter = &database.UsageCounter{
			MinuteResetAt: now,
			HourResetAt:   now,
			DayResetAt:    now,
		}
		slog.Debug("No persisted usage counter, starting fresh")
	}

	l.counter = counter
	l.loaded = true
	return nil
}

// resetElapsedWindows zeroes each window whose period has passed since its
// last reset, most granular first.
func (l *Limiter) resetElapsedWindows(now time.Time) {
	c := l.counter

	if now.Sub(c.MinuteResetAt) >= time.Minute {
		c.MinuteUnits = 0
		c.MinuteResetAt = now
	}
	if now.Sub(c.HourResetAt) >= time.Hour {
		c.HourUnits = 0
		c.HourResetAt = now
	}
	if now.Sub(c.DayResetAt) >= 24*time.Hour {
		c.DayUnits = 0
		c.DayResetAt = now
	}
}
