package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных API и файлов правил
//
// Функции:
// - ValidateSymbol / NormalizeSymbol: формат символа (EURUSD, XAUUSD.m, BTC/USD)
// - ValidateTicket: идентификатор позиции (> 0)
// - ValidateVolume: объём (> 0)
// - ValidatePercentage: процент в диапазоне (0, 100]
// - ValidationErrors: накопление ошибок по полям

var (
	ErrInvalidSymbol     = errors.New("invalid symbol format")
	ErrInvalidTicket     = errors.New("ticket must be positive")
	ErrInvalidVolume     = errors.New("volume must be positive")
	ErrInvalidPercentage = errors.New("percentage must be in (0, 100]")
)

// Символы брокеров бывают с суффиксами (".m", "#"), поэтому допускаем эти знаки
var symbolRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._#/\-]{1,29}$`)

const maxVolume = 1e6

// ValidateSymbol проверяет формат символа
func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(symbol) {
		return ErrInvalidSymbol
	}
	return nil
}

// IsValidSymbol - булев вариант ValidateSymbol
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

// NormalizeSymbol приводит символ к верхнему регистру без пробелов.
// Суффиксы брокера сохраняются: EURUSD.m и EURUSD - разные инструменты.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateTicket проверяет идентификатор позиции
func ValidateTicket(ticket int64) error {
	if ticket <= 0 {
		return ErrInvalidTicket
	}
	return nil
}

// ValidateVolume проверяет объём
func ValidateVolume(volume float64) error {
	if volume <= 0 {
		return ErrInvalidVolume
	}
	if volume > maxVolume {
		return fmt.Errorf("%w: exceeds %g", ErrInvalidVolume, maxVolume)
	}
	return nil
}

// ValidatePercentage проверяет процент в диапазоне (0, 100]
func ValidatePercentage(p float64) error {
	if p <= 0 || p > 100 {
		return ErrInvalidPercentage
	}
	return nil
}

// ============================================================
// Накопление ошибок
// ============================================================

// FieldError - ошибка конкретного поля
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors - список ошибок по полям
type ValidationErrors []FieldError

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// AddError добавляет ошибку, если она не nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors возвращает true если есть хотя бы одна ошибка
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Error реализует интерфейс error
func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}
