// Package monitor реализует цикл мониторинга позиций: отслеживание,
// принятие решений о закрытии и исполнение закрытий на площадке.
package monitor

import (
	"profitguard/internal/models"
	"profitguard/internal/venue"
	"profitguard/pkg/utils"
)

// IntentKind - полное или частичное закрытие
type IntentKind string

const (
	IntentFull    IntentKind = "full"
	IntentPartial IntentKind = "partial"
)

// Reason - правило, породившее намерение
type Reason string

const (
	ReasonTrailingStop   Reason = "trailing_stop"
	ReasonPartialLock    Reason = "partial_lock"
	ReasonPositionTarget Reason = "position_target"
	ReasonPairTarget     Reason = "pair_target"
	ReasonTotalTarget    Reason = "total_target"
	ReasonManual         Reason = "manual"
)

// Intent - решение закрыть позицию (или её часть)
type Intent struct {
	Ticket   int64
	Symbol   string
	Kind     IntentKind
	Volume   float64 // 0 = весь объём
	Reason   Reason
	Profit   float64 // прибыль закрываемой части на момент решения
	Position models.Position
}

// Partial - намерение частичного закрытия
func (i Intent) Partial() bool {
	return i.Kind == IntentPartial
}

// fullIntent строит намерение закрыть весь объём
func fullIntent(p models.Position, reason Reason) Intent {
	return Intent{
		Ticket:   p.Ticket,
		Symbol:   p.Symbol,
		Kind:     IntentFull,
		Reason:   reason,
		Profit:   p.Profit,
		Position: p,
	}
}

// BatchOperationType выводит тип автоматической операции по знаку
// прибыли намерений: все в плюсе - profit, все в минусе - loss,
// смешанный пакет или нулевая прибыль - all.
func BatchOperationType(intents []Intent) models.OperationType {
	var gains, losses int
	for _, in := range intents {
		switch {
		case in.Profit > 0:
			gains++
		case in.Profit < 0:
			losses++
		}
	}
	switch {
	case gains == len(intents):
		return models.OpProfit
	case losses == len(intents):
		return models.OpLoss
	default:
		return models.OpAll
	}
}

// Rules - параметры решения на один цикл.
// nil отключает соответствующую стратегию.
type Rules struct {
	Percent  *models.ProfitMonitorParams
	Scouting *models.ScoutingParams
}

// Decide возвращает не более одного намерения для позиции.
//
// Порядок проверок:
//  1. трейлинг-стоп: откат от пика >= trailing_stop_percent при пике >= min_profit_percent
//  2. прибыль выше min_profit_percent без отката - позиция удерживается,
//     но проверка частичного закрытия продолжается
//  3. частичное закрытие: однократно при прибыли >= partial_close_threshold
//  4. долларовая цель позиции для её категории
//
// Проверка рынка выполняется вызывающей стороной до Decide.
func Decide(p models.Position, sym venue.SymbolInfo, rules Rules) (Intent, bool) {
	if p.Status == models.StatusClosed {
		return Intent{}, false
	}

	if pm := rules.Percent; pm != nil {
		if trailingStopHit(p, pm) {
			return fullIntent(p, ReasonTrailingStop), true
		}
		if intent, ok := partialIntent(p, sym, pm); ok {
			return intent, true
		}
	}

	if sc := rules.Scouting; sc != nil && sc.Enabled {
		target := sc.TargetsFor(p.Category).Position
		if target > 0 && utils.GreaterOrEqual(p.Profit, target) {
			return fullIntent(p, ReasonPositionTarget), true
		}
	}

	return Intent{}, false
}

// trailingStopHit - пик уже достигал min_profit_percent и откат не меньше трейлинга
func trailingStopHit(p models.Position, pm *models.ProfitMonitorParams) bool {
	if !utils.GreaterOrEqual(p.PeakProfitPercent, pm.MinProfitPercent) {
		return false
	}
	return utils.GreaterOrEqual(p.Drawdown(), pm.TrailingStopPercent)
}

// partialIntent - частичное закрытие выполняется один раз и только из open
func partialIntent(p models.Position, sym venue.SymbolInfo, pm *models.ProfitMonitorParams) (Intent, bool) {
	if !pm.PartialCloseEnabled || p.Status != models.StatusOpen || p.PartialClosed {
		return Intent{}, false
	}
	if !utils.GreaterOrEqual(p.ProfitPercent, pm.PartialCloseThreshold) {
		return Intent{}, false
	}

	volume := utils.PartialVolume(p.Volume, pm.PartialClosePercent, sym.VolumeStep, sym.VolumeMin)
	if volume <= 0 {
		return Intent{}, false
	}

	return Intent{
		Ticket:   p.Ticket,
		Symbol:   p.Symbol,
		Kind:     IntentPartial,
		Volume:   volume,
		Reason:   ReasonPartialLock,
		Profit:   p.Profit * volume / p.Volume,
		Position: p,
	}, true
}
