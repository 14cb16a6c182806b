package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Торговые сессии (UTC), временные диапазоны для истории
// и форматирование длительностей для статусов процессов.
//
// Функции:
// - SessionsAt: какие сессии открыты в момент t
// - IsForexOpen: открыт ли внебиржевой рынок (сессии + выходные)
// - GetLastNHours: диапазон для истории снимков счёта
// - FormatDuration: "2h15m" для отображения давности цикла

// ============================================================
// Торговые сессии
// ============================================================

// TradingSession - торговая сессия в часах UTC, [OpenHour, CloseHour).
// Если CloseHour <= OpenHour, сессия переходит через полночь.
type TradingSession struct {
	Name      string
	OpenHour  int
	CloseHour int
}

// DefaultSessions - основные сессии внебиржевого рынка
var DefaultSessions = []TradingSession{
	{Name: "Sydney/Tokyo", OpenHour: 21, CloseHour: 8},
	{Name: "London", OpenHour: 8, CloseHour: 17},
	{Name: "New York", OpenHour: 13, CloseHour: 21},
}

// Contains проверяет, открыта ли сессия в момент t
func (s TradingSession) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	if s.CloseHour > s.OpenHour {
		return h >= s.OpenHour && h < s.CloseHour
	}
	return h >= s.OpenHour || h < s.CloseHour
}

// SessionsAt возвращает имена сессий, открытых в момент t
func SessionsAt(t time.Time, sessions []TradingSession) []string {
	var out []string
	for _, s := range sessions {
		if s.Contains(t) {
			out = append(out, s.Name)
		}
	}
	return out
}

// IsForexOpen проверяет, торгуется ли внебиржевой рынок в момент t.
//
// Рынок закрыт с пятницы 21:00 UTC до воскресенья 21:00 UTC,
// в остальное время открыт, если открыта хотя бы одна сессия.
func IsForexOpen(t time.Time, sessions []TradingSession) bool {
	t = t.UTC()
	switch t.Weekday() {
	case time.Saturday:
		return false
	case time.Friday:
		if t.Hour() >= 21 {
			return false
		}
	case time.Sunday:
		if t.Hour() < 21 {
			return false
		}
	}
	return len(SessionsAt(t, sessions)) > 0
}

// ============================================================
// Диапазоны
// ============================================================

// TimeRange представляет временной диапазон
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет, попадает ли время в диапазон
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// GetLastNHours возвращает диапазон последних n часов от now
func GetLastNHours(now time.Time, n int) TimeRange {
	if n <= 0 {
		n = 1
	}
	now = now.UTC()
	return TimeRange{
		Start: now.Add(-time.Duration(n) * time.Hour),
		End:   now,
	}
}

// ============================================================
// Форматирование
// ============================================================

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m"
//   - "51h0m" для двух суток с хвостом
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Hour {
		return d.Truncate(time.Second).String()
	}
	return trimZeroSeconds(d.Truncate(time.Minute).String())
}

// trimZeroSeconds убирает хвост "0s" у "2h15m0s"
func trimZeroSeconds(s string) string {
	if len(s) > 2 && s[len(s)-2:] == "0s" {
		return s[:len(s)-2]
	}
	return s
}
