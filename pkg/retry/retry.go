package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация повторных попыток
//
// Число попыток = 1 + MaxRetries. Задержка перед повтором n (n >= 1):
// delay = min(Delay * Multiplier^(n-1), MaxDelay) ± jitter
//
// Multiplier = 1 даёт фиксированную задержку (так работает закрытие позиций:
// параметр retry_delay задаёт паузу между попытками).
type Config struct {
	// MaxRetries - сколько раз повторить после первой неудачи.
	// 0 = только одна попытка
	MaxRetries int

	// Delay - задержка перед первым повтором
	Delay time.Duration

	// MaxDelay - верхняя граница задержки (0 = без ограничения)
	MaxDelay time.Duration

	// Multiplier - рост задержки между повторами (<= 1 = фиксированная)
	Multiplier float64

	// JitterFactor - доля случайной вариации задержки (0.0 - 1.0)
	JitterFactor float64

	// RetryIf решает, повторять ли ошибку. По умолчанию IsRetryable
	RetryIf func(error) bool

	// OnRetry вызывается перед каждым повтором
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep ожидает задержку; nil = реальный таймер.
	// Тесты подставляют мгновенное ожидание.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fixed возвращает конфигурацию с фиксированной паузой между попытками
func Fixed(maxRetries int, delay time.Duration) Config {
	return Config{
		MaxRetries: maxRetries,
		Delay:      delay,
		Multiplier: 1,
	}
}

// Backoff возвращает конфигурацию с экспоненциальным ростом и jitter.
// Используется для запросов к хранилищу и мосту терминала.
func Backoff(maxRetries int, initial, max time.Duration) Config {
	return Config{
		MaxRetries:   maxRetries,
		Delay:        initial,
		MaxDelay:     max,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

func (c *Config) normalize() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	c.JitterFactor = math.Max(0, math.Min(1, c.JitterFactor))
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
}

// delayFor вычисляет задержку перед повтором номер retry (с 1)
func (c *Config) delayFor(retry int) time.Duration {
	d := float64(c.Delay) * math.Pow(c.Multiplier, float64(retry-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d += d * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExhaustedError - все попытки исчерпаны, Err - последняя ошибка
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Attempts возвращает число выполненных попыток из ошибки Do (1 если ошибка не из Do)
func Attempts(err error) int {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return 1
}

// Do выполняет операцию с повторными попытками.
//
// Возвращает:
//   - nil: операция успешна
//   - *ExhaustedError: повторы исчерпаны
//   - исходную ошибку: RetryIf отказал в повторе
//   - ошибку контекста, если отмена случилась до первой попытки
//
// Пример:
//
//	err := retry.Do(ctx, func() error {
//	    return venue.ClosePosition(ctx, ticket, 0)
//	}, retry.Fixed(3, time.Second))
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult - Do для операций, возвращающих значение
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.normalize()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, &ExhaustedError{Attempts: attempt - 1, Err: lastErr}
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt > cfg.MaxRetries {
			break
		}

		delay := cfg.delayFor(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return zero, &ExhaustedError{Attempts: attempt, Err: lastErr}
		}
	}

	return zero, &ExhaustedError{Attempts: cfg.MaxRetries + 1, Err: lastErr}
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError - ошибка, знающая, можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет можно ли повторять ошибку
//
// Порядок:
//   - ошибки контекста не повторяются
//   - RetryableError решает сама
//   - ошибки с Temporary() решают сами
//   - остальное повторяется
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	type temporary interface {
		Temporary() bool
	}
	var temp temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}

	return true
}

// RetryIfNotContext не повторяет отмену и таймаут родительского контекста
func RetryIfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// PermanentError оборачивает ошибку, которую не нужно повторять
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError оборачивает ошибку, которую нужно повторить
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string   { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Retryable() bool { return true }
func (e *TemporaryError) Temporary() bool { return true }

// Temporary оборачивает ошибку в TemporaryError
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}
