package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_BurstThenEmpty(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(2, 3)
	l.now = func() time.Time { return now }
	l.lastRefill = now

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("Allow() #%d = false, want true within burst", i+1)
		}
	}
	if l.Allow() {
		t.Error("Allow() after burst should be false")
	}

	// Через полсекунды при rate=2 появляется один токен
	now = now.Add(500 * time.Millisecond)
	if !l.Allow() {
		t.Error("Allow() after refill should be true")
	}
}

func TestLimiter_RefillCappedAtBurst(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(10, 10)
	l.now = func() time.Time { return now }
	l.lastRefill = now

	now = now.Add(time.Hour)
	if got := l.Tokens(); got != 10 {
		t.Errorf("Tokens() = %v, want 10", got)
	}
}

func TestNewLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0, 0)
	if l.rate != 10 || l.burst != 10 {
		t.Errorf("rate/burst = %v/%v, want 10/10", l.rate, l.burst)
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(0.001, 1)
	l.now = func() time.Time { return now }
	l.lastRefill = now
	l.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestMultiLimiter(t *testing.T) {
	m := NewMultiLimiter()
	m.Add(CategoryTrade, 100, 100)

	ctx := context.Background()
	if err := m.Wait(ctx, CategoryTrade); err != nil {
		t.Errorf("Wait(trade) error = %v", err)
	}
	// Категория без лимита не блокирует
	if err := m.Wait(ctx, CategoryQuery); err != nil {
		t.Errorf("Wait(query) error = %v", err)
	}
}
