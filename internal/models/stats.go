package models

import "time"

// Stats - агрегированная статистика закрытий для панели
type Stats struct {
	Today              PeriodStats  `json:"today"`
	Week               PeriodStats  `json:"week"`
	Month              PeriodStats  `json:"month"`
	TopSymbolsByProfit []SymbolStat `json:"top_symbols_by_profit"` // топ-5 за месяц
	TopSymbolsByLoss   []SymbolStat `json:"top_symbols_by_loss"`   // топ-5 за месяц
	LivePositions      int          `json:"live_positions"`
	GeneratedAt        time.Time    `json:"generated_at"`
}

// PeriodStats - сумма по операциям закрытия за период
type PeriodStats struct {
	Operations        int     `json:"operations"`
	PositionsClosed   int     `json:"positions_closed"`
	PositionsFailed   int     `json:"positions_failed"`
	TotalProfitClosed float64 `json:"total_profit_closed"`
	TotalLossClosed   float64 `json:"total_loss_closed"`
}

// Net - итог периода
func (p PeriodStats) Net() float64 {
	return p.TotalProfitClosed + p.TotalLossClosed
}

// SymbolStat - значение по символу
type SymbolStat struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"` // прибыль или убыток закрытых частей
}
