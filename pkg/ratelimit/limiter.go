package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter - token bucket для запросов к мосту торгового терминала
//
// Ведро наполняется со скоростью rate токенов/сек до ёмкости burst,
// каждый запрос забирает один токен. Несколько процессов мониторинга
// ходят в один терминал, поэтому лимит защищает его от всплесков,
// когда все процессы закрывают позиции в одну секунду.
//
// Использование:
//
//	l := NewLimiter(10, 20)
//	if err := l.Wait(ctx); err != nil { ... }
type Limiter struct {
	mu         sync.Mutex
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewLimiter создаёт limiter. rate <= 0 -> 10 req/sec, burst < rate -> rate
func NewLimiter(rate, burst float64) *Limiter {
	if rate <= 0 {
		rate = 10
	}
	if burst < rate {
		burst = rate
	}
	l := &Limiter{
		rate:  rate,
		burst: burst,
		now:   time.Now,
	}
	l.tokens = burst
	l.lastRefill = l.now()
	return l
}

// refill пополняет токены; вызывается под mu
func (l *Limiter) refill() {
	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// take забирает токен или возвращает время до появления следующего
func (l *Limiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second)), false
}

// Wait блокирует до получения токена или отмены контекста
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		wait, ok := l.take()
		if ok {
			return nil
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен без ожидания
func (l *Limiter) Allow() bool {
	_, ok := l.take()
	return ok
}

// Tokens возвращает текущее число токенов
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// ============ Лимиты по категориям запросов ============

// Категории запросов к терминалу
const (
	CategoryQuery = "query" // позиции, счёт, котировки
	CategoryTrade = "trade" // закрытие позиций
)

// MultiLimiter хранит отдельный limiter на категорию
type MultiLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewMultiLimiter создаёт пустой MultiLimiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{limiters: make(map[string]*Limiter)}
}

// Add регистрирует limiter для категории
func (m *MultiLimiter) Add(category string, rate, burst float64) {
	m.mu.Lock()
	m.limiters[category] = NewLimiter(rate, burst)
	m.mu.Unlock()
}

// Wait ждёт токен категории. Категория без лимита проходит сразу
func (m *MultiLimiter) Wait(ctx context.Context, category string) error {
	m.mu.RLock()
	l, ok := m.limiters[category]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
