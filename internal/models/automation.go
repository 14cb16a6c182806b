package models

import (
	"strings"
	"time"

	"profitguard/pkg/utils"
)

// Bias - направленный уклон сигнала
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
	BiasPending Bias = "PENDING"
)

// NormalizeBias приводит уклон к верхнему регистру
func NormalizeBias(s string) Bias {
	return Bias(strings.ToUpper(strings.TrimSpace(s)))
}

// NoTrade - уклон не даёт направления
func (b Bias) NoTrade() bool {
	return b == BiasNeutral || b == BiasPending || b == ""
}

// Direction возвращает направление для уклона и false для прочих значений
func (b Bias) Direction() (Direction, bool) {
	switch b {
	case BiasBullish:
		return DirectionBuy, true
	case BiasBearish:
		return DirectionSell, true
	default:
		return "", false
	}
}

// Фазы рынка
const (
	PhaseRange     = "RANGE"
	PhaseExpansion = "EXPANSION"
	PhaseMixed     = "MIXED"
)

// Direction - направление активной пары
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Opposite возвращает противоположное направление
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// TimeframeSignal ожидаемое значение сигнала таймфрейма
func (d Direction) TimeframeSignal() string {
	if d == DirectionBuy {
		return "BUY"
	}
	return "SELL"
}

// TimeframeSignal - показания одного таймфрейма
type TimeframeSignal struct {
	Signal     string  `json:"signal"` // BUY, SELL, NEUTRAL
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
	Trend      string  `json:"trend,omitempty"`
}

// Signal - сигнал по символу со всеми известными таймфреймами
type Signal struct {
	Symbol      string                     `json:"symbol"`
	Bias        Bias                       `json:"bias"`
	MarketPhase string                     `json:"market_phase"`
	Confidence  float64                    `json:"confidence"`
	IsStale     bool                       `json:"is_stale"`
	Price       float64                    `json:"price,omitempty"`
	Timeframes  map[string]TimeframeSignal `json:"timeframes"`
	ReceivedAt  time.Time                  `json:"received_at"`
}

// AutomationRule - правило сопоставления сигналов
type AutomationRule struct {
	ID             int64     `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Name           string    `json:"name" db:"name"`
	Enabled        bool      `json:"enabled" db:"enabled"`
	Symbols        []string  `json:"symbols" db:"symbols_json"` // пусто = все символы
	Biases         []string  `json:"biases" db:"biases_json"`
	MarketPhases   []string  `json:"market_phases" db:"phases_json"`
	TimeframeChain []string  `json:"timeframe_chain" db:"timeframes_json"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// ApplyDefaults заполняет пустые фильтры значениями по умолчанию
func (r *AutomationRule) ApplyDefaults() {
	if len(r.Biases) == 0 {
		r.Biases = []string{string(BiasBullish), string(BiasBearish)}
	}
	if len(r.MarketPhases) == 0 {
		r.MarketPhases = []string{PhaseRange, PhaseExpansion, PhaseMixed}
	}
	if len(r.TimeframeChain) == 0 {
		r.TimeframeChain = []string{"D1"}
	}
}

// RuleMatchResult - результат проверки одного правила на одном сигнале
type RuleMatchResult struct {
	RuleID    int64     `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction,omitempty"`
	Matched   bool      `json:"matched"`
	Reasons   []string  `json:"reasons"`
	MatchedAt time.Time `json:"matched_at"`
}

// ActivePair - направленная возможность с ограниченным временем жизни
type ActivePair struct {
	Symbol         string    `json:"symbol" db:"symbol"`
	Direction      Direction `json:"direction" db:"direction"`
	MarketPhase    string    `json:"market_phase" db:"market_phase"`
	Timeframes     []string  `json:"timeframes" db:"timeframes_json"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	MatchedRuleIDs []int64   `json:"matched_rule_ids" db:"matched_rule_ids_json"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
}

// Expired - пара невидима потребителям начиная с ExpiresAt
func (p *ActivePair) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Таймфреймы, допустимые в цепочке правила
var KnownTimeframes = []string{"M1", "M5", "M15", "M30", "H1", "H4", "D1", "W1", "MN1"}

// Normalize приводит фильтры правила к каноническому виду и проверяет их.
// Пустые фильтры заполняются значениями по умолчанию.
func (r *AutomationRule) Normalize() error {
	var errs utils.ValidationErrors

	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		errs.Add("name", "must not be empty")
	}

	symbols := make([]string, 0, len(r.Symbols))
	for _, s := range r.Symbols {
		s = utils.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if !utils.IsValidSymbol(s) {
			errs.Add("symbols", "invalid symbol "+s)
			continue
		}
		symbols = append(symbols, s)
	}
	r.Symbols = symbols

	r.ApplyDefaults()

	for i, b := range r.Biases {
		bias := NormalizeBias(b)
		if _, ok := bias.Direction(); !ok {
			errs.Add("biases", "unsupported bias "+b)
		}
		r.Biases[i] = string(bias)
	}
	for i, p := range r.MarketPhases {
		phase := strings.ToUpper(strings.TrimSpace(p))
		if phase != PhaseRange && phase != PhaseExpansion && phase != PhaseMixed {
			errs.Add("market_phases", "unsupported phase "+p)
		}
		r.MarketPhases[i] = phase
	}
	for i, tf := range r.TimeframeChain {
		tf = strings.ToUpper(strings.TrimSpace(tf))
		if !knownTimeframe(tf) {
			errs.Add("timeframe_chain", "unsupported timeframe "+tf)
		}
		r.TimeframeChain[i] = tf
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func knownTimeframe(tf string) bool {
	for _, known := range KnownTimeframes {
		if tf == known {
			return true
		}
	}
	return false
}
