package monitor

import (
	"sort"

	"profitguard/internal/models"
	"profitguard/pkg/utils"
)

// ScoutTargets проверяет групповые долларовые цели.
//
// Цель пары: сумма прибыли по символу >= цели - закрываются все позиции символа.
// Общая цель: сумма прибыли >= цели - закрываются все прибыльные позиции.
// В режиме by_category общая цель считается отдельно по каждой категории.
//
// Позиции из skip (уже получили намерение) не дублируются.
func ScoutTargets(positions []models.Position, params models.ScoutingParams, skip map[int64]bool) []Intent {
	if !params.Enabled {
		return nil
	}

	var intents []Intent
	marked := make(map[int64]bool, len(skip))
	for t := range skip {
		marked[t] = true
	}
	add := func(p models.Position, reason Reason) {
		if marked[p.Ticket] || p.Status == models.StatusClosed {
			return
		}
		marked[p.Ticket] = true
		intents = append(intents, fullIntent(p, reason))
	}

	// Цели по символам
	bySymbol := make(map[string][]models.Position)
	pairProfit := make(map[string]float64)
	for _, p := range positions {
		if p.Status == models.StatusClosed {
			continue
		}
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
		pairProfit[p.Symbol] += p.Profit
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		group := bySymbol[symbol]
		target := params.TargetsFor(group[0].Category).Pair
		if target > 0 && utils.GreaterOrEqual(pairProfit[symbol], target) {
			for _, p := range group {
				add(p, ReasonPairTarget)
			}
		}
	}

	// Общая цель
	groups := make(map[models.Category][]models.Position)
	totals := make(map[models.Category]float64)
	for _, symbol := range symbols {
		for _, p := range bySymbol[symbol] {
			key := models.Category("")
			if params.ByCategory {
				key = p.Category
			}
			groups[key] = append(groups[key], p)
			totals[key] += p.Profit
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := models.Category(k)
		target := params.Global.Total
		if params.ByCategory {
			target = params.TargetsFor(key).Total
		}
		if target <= 0 || !utils.GreaterOrEqual(totals[key], target) {
			continue
		}
		for _, p := range groups[key] {
			if p.Profit > 0 {
				add(p, ReasonTotalTarget)
			}
		}
	}

	return intents
}
