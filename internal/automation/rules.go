package automation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"profitguard/internal/models"
)

// Причины несовпадения правила
const (
	ReasonRuleDisabled     = "rule is disabled"
	ReasonStale            = "signal is stale"
	ReasonSymbolFilter     = "symbol not selected by rule"
	ReasonBiasFilter       = "bias filter did not match"
	ReasonUnknownDirection = "unrecognised bias direction"
	ReasonPhaseFilter      = "market phase filter did not match"
	ReasonEmptyChain       = "rule has no timeframe configured"
	ReasonMatched          = "matched bias, market phase and timeframe alignment"
)

// Evaluate проверяет одно правило на одном сигнале.
//
// Проверки идут по порядку, первая несработавшая даёт причину:
// правило выключено, сигнал устарел, фильтр символов, уклон без направления,
// фильтр уклонов, неизвестное направление, фильтр фазы, пустая цепочка,
// затем каждый таймфрейм цепочки должен быть и равен BUY (бычий) или SELL (медвежий).
func Evaluate(rule *models.AutomationRule, signal *models.Signal, now time.Time) models.RuleMatchResult {
	res := models.RuleMatchResult{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Symbol:    signal.Symbol,
		MatchedAt: now,
	}
	reject := func(reason string) models.RuleMatchResult {
		res.Reasons = []string{reason}
		return res
	}

	if !rule.Enabled {
		return reject(ReasonRuleDisabled)
	}
	if signal.IsStale {
		return reject(ReasonStale)
	}
	if len(rule.Symbols) > 0 && !containsFold(rule.Symbols, signal.Symbol) {
		return reject(ReasonSymbolFilter)
	}

	bias := models.NormalizeBias(string(signal.Bias))
	if bias.NoTrade() {
		return reject(fmt.Sprintf("signal bias %q treated as no-trade", string(bias)))
	}
	if len(rule.Biases) > 0 && !containsFold(rule.Biases, string(bias)) {
		return reject(ReasonBiasFilter)
	}
	direction, ok := bias.Direction()
	if !ok {
		return reject(ReasonUnknownDirection)
	}
	phase := strings.ToUpper(strings.TrimSpace(signal.MarketPhase))
	if len(rule.MarketPhases) > 0 && !containsFold(rule.MarketPhases, phase) {
		return reject(ReasonPhaseFilter)
	}

	chain := cleanChain(rule.TimeframeChain)
	if len(chain) == 0 {
		return reject(ReasonEmptyChain)
	}

	expected := direction.TimeframeSignal()
	for _, tf := range chain {
		reading, ok := signal.Timeframes[tf]
		if !ok {
			return reject(fmt.Sprintf("missing timeframe %s in signal", tf))
		}
		got := strings.ToUpper(strings.TrimSpace(reading.Signal))
		if got == "" || got == "NEUTRAL" {
			return reject(fmt.Sprintf("timeframe %s is NEUTRAL", tf))
		}
		if got != expected {
			return reject(fmt.Sprintf("timeframe %s signal %s != expected %s", tf, got, expected))
		}
	}

	res.Matched = true
	res.Direction = direction
	res.Reasons = []string{ReasonMatched}
	return res
}

// Evaluation - итог проверки всех правил на книге сигналов
type Evaluation struct {
	Matches   []models.RuleMatchResult // только совпадения
	Pairs     []*models.ActivePair     // кандидаты без срока жизни, по символу
	Conflicts []string                 // символы с противоположными совпадениями
	Evaluated int                      // число пар правило/сигнал
}

type activation struct {
	directions map[models.Direction]bool
	ruleIDs    []int64
	signal     *models.Signal
	timeframes []string
}

// EvaluateAll проверяет все правила на всех сигналах.
// Символ, для которого правила дали разные направления, в этом цикле не активируется.
func EvaluateAll(signals []models.Signal, rules []*models.AutomationRule, now time.Time) Evaluation {
	var ev Evaluation
	active := make(map[string]*activation)

	for _, rule := range rules {
		for i := range signals {
			sig := &signals[i]
			if len(rule.Symbols) > 0 && !containsFold(rule.Symbols, sig.Symbol) {
				continue
			}
			ev.Evaluated++

			res := Evaluate(rule, sig, now)
			if !res.Matched {
				continue
			}
			ev.Matches = append(ev.Matches, res)

			a, ok := active[sig.Symbol]
			if !ok {
				a = &activation{
					directions: make(map[models.Direction]bool),
					signal:     sig,
					timeframes: cleanChain(rule.TimeframeChain),
				}
				active[sig.Symbol] = a
			}
			a.directions[res.Direction] = true
			a.ruleIDs = append(a.ruleIDs, rule.ID)
		}
	}

	symbols := make([]string, 0, len(active))
	for symbol := range active {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		a := active[symbol]
		if len(a.directions) != 1 {
			ev.Conflicts = append(ev.Conflicts, symbol)
			continue
		}
		var dir models.Direction
		for d := range a.directions {
			dir = d
		}
		sort.Slice(a.ruleIDs, func(i, j int) bool { return a.ruleIDs[i] < a.ruleIDs[j] })

		ev.Pairs = append(ev.Pairs, &models.ActivePair{
			Symbol:         symbol,
			Direction:      dir,
			MarketPhase:    strings.ToUpper(a.signal.MarketPhase),
			Timeframes:     a.timeframes,
			Confidence:     a.signal.Confidence,
			MatchedRuleIDs: a.ruleIDs,
			UpdatedAt:      now,
		})
	}
	return ev
}

func containsFold(list []string, value string) bool {
	value = strings.TrimSpace(value)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}

func cleanChain(chain []string) []string {
	out := make([]string, 0, len(chain))
	for _, tf := range chain {
		tf = strings.ToUpper(strings.TrimSpace(tf))
		if tf != "" {
			out = append(out, tf)
		}
	}
	return out
}
