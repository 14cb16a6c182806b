package models

import "time"

// AccountInfo - состояние счёта от площадки
type AccountInfo struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"free_margin"`
	Currency   string  `json:"currency,omitempty"`
}

// AccountSnapshot - снимок счёта и агрегатов по позициям за один цикл
type AccountSnapshot struct {
	ID             int64     `json:"id" db:"id"`
	ProcessID      string    `json:"process_id" db:"process_id"`
	TotalPositions int       `json:"total_positions" db:"total_positions"`
	TotalProfit    float64   `json:"total_profit" db:"total_profit"` // сумма прибыльных
	TotalLoss      float64   `json:"total_loss" db:"total_loss"`     // сумма убыточных (<= 0)
	NetProfit      float64   `json:"net_profit" db:"net_profit"`
	Balance        float64   `json:"balance" db:"balance"`
	Equity         float64   `json:"equity" db:"equity"`
	Margin         float64   `json:"margin" db:"margin"`
	FreeMargin     float64   `json:"free_margin" db:"free_margin"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// NewAccountSnapshot собирает снимок из счёта и списка позиций
func NewAccountSnapshot(account AccountInfo, positions []Position, at time.Time) AccountSnapshot {
	s := AccountSnapshot{
		TotalPositions: len(positions),
		Balance:        account.Balance,
		Equity:         account.Equity,
		Margin:         account.Margin,
		FreeMargin:     account.FreeMargin,
		CreatedAt:      at,
	}
	for _, p := range positions {
		if p.Profit >= 0 {
			s.TotalProfit += p.Profit
		} else {
			s.TotalLoss += p.Profit
		}
	}
	s.NetProfit = s.TotalProfit + s.TotalLoss
	return s
}
