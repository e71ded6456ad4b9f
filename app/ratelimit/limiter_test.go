package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medwire/medwire/app/database"
)

type fakeUsageRepo struct {
	counter    *database.UsageCounter
	loadCalls  int
	saveCalls  int
	savedState database.UsageCounter
}

func (r *fakeUsageRepo) LoadCounter(ctx context.Context) (*database.UsageCounter, error) {
	r.loadCalls++
	if r.counter == nil {
		return nil, nil
	}
	copied := *r.counter
	return &copied, nil
}

func (r *fakeUsageRepo) SaveCounter(ctx context.Context, counter *database.UsageCounter) error {
	r.saveCalls++
	r.savedState = *counter
	return nil
}

func testLimits() Limits {
	return Limits{
		MinuteUnits:  1000,
		HourUnits:    10000,
		DayUnits:     100000,
		DailyCostCap: 5.0,
		CostPerUnit:  0.00002,
	}
}

func TestCheckRejectsMinuteCeiling(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeUsageRepo{counter: &database.UsageCounter{
		MinuteUnits:   990,
		HourUnits:     990,
		DayUnits:      990,
		MinuteResetAt: now,
		HourResetAt:   now,
		DayResetAt:    now,
	}}

	limiter := NewLimiter(testLimits(), repo)

	err := limiter.Check(context.Background(), 20)
	if err == nil {
		t.Fatal("Expected rejection for 20 units at minute=990/1000")
	}

	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Expected LimitError, got: %v", err)
	}
	if limitErr.Ceiling != CeilingMinute {
		t.Errorf("Expected minute ceiling, got: %s", limitErr.Ceiling)
	}

	if err := limiter.Check(context.Background(), 5); err != nil {
		t.Errorf("Expected 5 units to be allowed, got: %v", err)
	}
}

func TestCheckResetsElapsedWindowsFirst(t *testing.T) {
	// Minute window is stale; its counter must be zeroed before checking so
	// the call is not falsely rejected.
	now := time.Now().UTC()
	repo := &fakeUsageRepo{counter: &database.UsageCounter{
		MinuteUnits:   999,
		HourUnits:     999,
		DayUnits:      999,
		MinuteResetAt: now.Add(-2 * time.Minute),
		HourResetAt:   now,
		DayResetAt:    now,
	}}

	limiter := NewLimiter(testLimits(), repo)

	if err := limiter.Check(context.Background(), 500); err != nil {
		t.Errorf("Expected stale minute window to be reset, got: %v", err)
	}
}

func TestCheckCeilingOrdering(t *testing.T) {
	// Hour is the first violated ceiling even though day would also trip.
	now := time.Now().UTC()
	repo := &fakeUsageRepo{counter: &database.UsageCounter{
		MinuteUnits:   0,
		HourUnits:     9995,
		DayUnits:      99995,
		MinuteResetAt: now,
		HourResetAt:   now,
		DayResetAt:    now,
	}}

	limiter := NewLimiter(testLimits(), repo)

	err := limiter.Check(context.Background(), 10)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Expected LimitError, got: %v", err)
	}
	if limitErr.Ceiling != CeilingHour {
		t.Errorf("Expected hour ceiling named first, got: %s", limitErr.Ceiling)
	}
}

func TestCheckDailySpendCap(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeUsageRepo{counter: &database.UsageCounter{
		MinuteResetAt: now,
		HourResetAt:   now,
		DayResetAt:    now,
	}}

	limits := testLimits()
	limits.MinuteUnits = 1000000
	limits.HourUnits = 1000000
	limits.DayUnits = 1000000
	limits.CostPerUnit = 0.01
	limits.DailyCostCap = 1.0

	limiter := NewLimiter(limits, repo)

	err := limiter.Check(context.Background(), 200)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Expected LimitError, got: %v", err)
	}
	if limitErr.Ceiling != CeilingSpend {
		t.Errorf("Expected daily spend ceiling, got: %s", limitErr.Ceiling)
	}
}

func TestRecordIncrementsAllWindowsAndPersists(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeUsageRepo{counter: &database.UsageCounter{
		MinuteUnits:   10,
		HourUnits:     20,
		DayUnits:      30,
		MinuteResetAt: now,
		HourResetAt:   now,
		DayResetAt:    now,
	}}

	limiter := NewLimiter(testLimits(), repo)

	if err := limiter.Record(context.Background(), 7); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if repo.saveCalls != 1 {
		t.Fatalf("Expected 1 save call, got: %d", repo.saveCalls)
	}
	if repo.savedState.MinuteUnits != 17 {
		t.Errorf("Expected minute units 17, got: %d", repo.savedState.MinuteUnits)
	}
	if repo.savedState.HourUnits != 27 {
		t.Errorf("Expected hour units 27, got: %d", repo.savedState.HourUnits)
	}
	if repo.savedState.DayUnits != 37 {
		t.Errorf("Expected day units 37, got: %d", repo.savedState.DayUnits)
	}
}

func TestCounterLoadedLazilyOnce(t *testing.T) {
	repo := &fakeUsageRepo{}
	limiter := NewLimiter(testLimits(), repo)

	if repo.loadCalls != 0 {
		t.Fatalf("Expected no load before first use, got: %d", repo.loadCalls)
	}

	for i := 0; i < 3; i++ {
		if err := limiter.Check(context.Background(), 1); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	if repo.loadCalls != 1 {
		t.Errorf("Expected exactly 1 load call, got: %d", repo.loadCalls)
	}
}
