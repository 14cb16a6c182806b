package utils

import (
	"math"
)

// math.go - математические утилиты для мониторинга позиций
//
// Назначение:
// Вспомогательные расчёты прибыли и объёмов.
// Все функции чистые, без побочных эффектов.
//
// Функции:
// - ProfitPercent: прибыль позиции в процентах от номинала
// - CalculatePNL: прибыль по стороне позиции
// - NormalizeVolume: приведение объёма к шагу инструмента
// - PartialVolume: объём частичного закрытия
// - GreaterOrEqual: сравнение порогов с допуском

// Epsilon - допуск сравнения порогов в процентах.
// 1.5 - 1.3 в float64 даёт 0.20000000000000018, такие разницы не должны влиять на решение.
const Epsilon = 1e-9

// ProfitPercent расчитывает прибыль в процентах от номинала позиции.
//
// Формула: profit / (openPrice × volume) × 100
//
// Параметры:
//   - profit: абсолютная прибыль в валюте счёта (знак уже учитывает сторону)
//   - openPrice: цена открытия
//   - volume: текущий объём позиции
//
// Возвращает 0, если номинал не положителен.
func ProfitPercent(profit, openPrice, volume float64) float64 {
	notional := openPrice * volume
	if notional <= 0 {
		return 0
	}
	return profit / notional * 100
}

// CalculatePNL расчитывает прибыль позиции по стороне.
//
//   - buy:  (current - open) × volume × contractSize
//   - sell: (open - current) × volume × contractSize
//
// contractSize <= 0 трактуется как 1.
func CalculatePNL(side string, openPrice, currentPrice, volume, contractSize float64) float64 {
	if volume <= 0 {
		return 0
	}
	if contractSize <= 0 {
		contractSize = 1
	}

	switch side {
	case "buy":
		return (currentPrice - openPrice) * volume * contractSize
	case "sell":
		return (openPrice - currentPrice) * volume * contractSize
	default:
		return 0
	}
}

// RoundToStep округляет значение ВНИЗ до ближайшего кратного step.
// Округление вниз гарантирует, что не закроем больше, чем открыто.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	// Небольшая поправка компенсирует ошибки представления (0.3/0.1 = 2.9999999999999996)
	n := math.Floor(value/step + Epsilon)
	return roundDecimals(n*step, decimalsOf(step))
}

// NormalizeVolume приводит объём к шагу инструмента в пределах [min, max].
//
// Параметры:
//   - volume: желаемый объём
//   - step: шаг объёма (0 - без округления)
//   - minVolume: минимальный объём (0 - без ограничения)
//   - maxVolume: максимальный объём (0 - без ограничения)
//
// Возвращает 0, если после округления объём меньше минимального.
func NormalizeVolume(volume, step, minVolume, maxVolume float64) float64 {
	if volume <= 0 {
		return 0
	}
	if maxVolume > 0 && volume > maxVolume {
		volume = maxVolume
	}
	v := RoundToStep(volume, step)
	if minVolume > 0 && v < minVolume-Epsilon {
		return 0
	}
	return v
}

// PartialVolume расчитывает объём частичного закрытия.
//
// Если остаток после закрытия меньше минимального объёма, частичное
// закрытие невозможно и возвращается 0.
func PartialVolume(volume, percent, step, minVolume float64) float64 {
	if volume <= 0 || percent <= 0 || percent >= 100 {
		return 0
	}
	part := NormalizeVolume(volume*percent/100, step, minVolume, 0)
	if part <= 0 {
		return 0
	}
	rest := volume - part
	if minVolume > 0 && rest < minVolume-Epsilon {
		return 0
	}
	return part
}

// GreaterOrEqual сравнивает a >= b с допуском Epsilon
func GreaterOrEqual(a, b float64) bool {
	return a >= b-Epsilon
}

// RoundTo округляет значение до заданного числа знаков после запятой
func RoundTo(value float64, decimals int) float64 {
	return roundDecimals(value, decimals)
}

func roundDecimals(value float64, decimals int) float64 {
	if decimals < 0 {
		return value
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(value*p) / p
}

// decimalsOf возвращает число значащих знаков после запятой у шага (0.01 -> 2)
func decimalsOf(step float64) int {
	for d := 0; d <= 10; d++ {
		p := math.Pow(10, float64(d))
		if math.Abs(step*p-math.Round(step*p)) < Epsilon {
			return d
		}
	}
	return 10
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
