package models

import (
	"fmt"
	"strings"
	"time"
)

// Side - направление позиции
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide разбирает направление ("buy"/"long", "sell"/"short", регистр не важен)
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return SideBuy, nil
	case "sell", "short":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown position side %q", s)
	}
}

// Valid проверяет, что значение из перечисления
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PositionStatus - состояние позиции в хранилище.
// Переходы только open -> pending_close -> closed (см. monitor.CanTransition).
type PositionStatus string

const (
	StatusOpen         PositionStatus = "open"
	StatusPendingClose PositionStatus = "pending_close"
	StatusClosed       PositionStatus = "closed"
)

// Category - класс инструмента для долларовых целей
type Category string

const (
	CategoryCurrency  Category = "currency"
	CategoryCommodity Category = "commodity"
	CategoryCrypto    Category = "crypto"
	CategoryOther     Category = "other"
)

// ParseCategory разбирает категорию терминала.
// Терминал называет валюты mostTraded, а металлы metals.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "currency", "forex", "mosttraded":
		return CategoryCurrency
	case "commodity", "metals", "energy":
		return CategoryCommodity
	case "crypto":
		return CategoryCrypto
	default:
		return CategoryOther
	}
}

var (
	cryptoAssets    = []string{"BTC", "ETH", "LTC", "XRP", "SOL", "DOGE", "ADA", "BNB", "DOT", "AVAX", "LINK", "BCH", "TRX"}
	commodityAssets = []string{"XAU", "XAG", "XPT", "XPD", "GOLD", "SILVER", "OIL", "WTI", "BRENT", "NGAS", "COPPER"}
	currencyCodes   = map[string]bool{
		"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true, "AUD": true, "NZD": true,
		"CAD": true, "SEK": true, "NOK": true, "DKK": true, "SGD": true, "HKD": true, "ZAR": true,
		"MXN": true, "TRY": true, "PLN": true, "CNH": true, "HUF": true, "CZK": true,
	}
)

// CategoryForSymbol определяет категорию по имени символа,
// когда терминал не вернул её сам.
func CategoryForSymbol(symbol string) Category {
	s := strings.ToUpper(symbol)
	for _, a := range cryptoAssets {
		if strings.HasPrefix(s, a) {
			return CategoryCrypto
		}
	}
	for _, a := range commodityAssets {
		if strings.Contains(s, a) {
			return CategoryCommodity
		}
	}

	// Валютная пара: шесть букв кодов валют, дальше может идти суффикс брокера
	if len(s) >= 6 && currencyCodes[s[:3]] && currencyCodes[s[3:6]] {
		if len(s) == 6 || !isLetter(s[6]) {
			return CategoryCurrency
		}
	}
	return CategoryOther
}

func isLetter(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

// Position - открытая сделка на торговой площадке
type Position struct {
	Ticket            int64          `json:"ticket" db:"ticket"`
	Symbol            string         `json:"symbol" db:"symbol"`
	Side              Side           `json:"side" db:"side"`
	Volume            float64        `json:"volume" db:"volume"`
	OpenPrice         float64        `json:"open_price" db:"open_price"`
	CurrentPrice      float64        `json:"current_price" db:"current_price"`
	Profit            float64        `json:"profit" db:"profit"`                           // в валюте счёта
	ProfitPercent     float64        `json:"profit_percent" db:"profit_percent"`           // от номинала
	PeakProfitPercent float64        `json:"peak_profit_percent" db:"peak_profit_percent"` // максимум с открытия
	OpenTime          time.Time      `json:"open_time" db:"open_time"`
	Status            PositionStatus `json:"status" db:"status"`
	Category          Category       `json:"category" db:"category"`
	PartialClosed     bool           `json:"partial_closed" db:"partial_closed"` // DCA-lock уже выполнен
	Magic             int64          `json:"magic" db:"magic"`
	Comment           string         `json:"comment,omitempty" db:"comment"`
	FirstSeenAt       time.Time      `json:"first_seen_at" db:"first_seen_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
	ClosedAt          *time.Time     `json:"closed_at,omitempty" db:"closed_at"`
}

// IsLive - позиция ещё не закрыта
func (p *Position) IsLive() bool {
	return p.Status != StatusClosed
}

// ObservePeak поднимает пиковую прибыль до текущей, если текущая выше.
// Пик никогда не опускается.
func (p *Position) ObservePeak() {
	if p.ProfitPercent > p.PeakProfitPercent {
		p.PeakProfitPercent = p.ProfitPercent
	}
}

// Drawdown - откат от пика в процентных пунктах
func (p *Position) Drawdown() float64 {
	return p.PeakProfitPercent - p.ProfitPercent
}
