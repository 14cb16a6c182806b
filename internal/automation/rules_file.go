package automation

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"profitguard/internal/models"
)

// rulesFile - формат файла начальных правил
//
//	rules:
//	  - name: majors trend
//	    enabled: true
//	    symbols: [EURUSD, GBPUSD]
//	    biases: [BULLISH]
//	    market_phases: [EXPANSION]
//	    timeframe_chain: [H4, H1]
type rulesFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name           string   `yaml:"name"`
	Enabled        *bool    `yaml:"enabled"`
	Symbols        []string `yaml:"symbols"`
	Biases         []string `yaml:"biases"`
	MarketPhases   []string `yaml:"market_phases"`
	TimeframeChain []string `yaml:"timeframe_chain"`
}

// LoadRulesFile читает и нормализует правила из YAML файла.
// Правило без enabled считается включённым.
func LoadRulesFile(path string) ([]*models.AutomationRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rules := make([]*models.AutomationRule, 0, len(f.Rules))
	seen := make(map[string]bool, len(f.Rules))
	for i, e := range f.Rules {
		rule := &models.AutomationRule{
			Name:           e.Name,
			Enabled:        e.Enabled == nil || *e.Enabled,
			Symbols:        e.Symbols,
			Biases:         e.Biases,
			MarketPhases:   e.MarketPhases,
			TimeframeChain: e.TimeframeChain,
		}
		if err := rule.Normalize(); err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}
		key := strings.ToLower(rule.Name)
		if seen[key] {
			return nil, fmt.Errorf("rule #%d: duplicate name %q", i+1, rule.Name)
		}
		seen[key] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// RuleSeeder - хранилище правил для начального заполнения
type RuleSeeder interface {
	ListRules(ctx context.Context, enabledOnly bool) ([]*models.AutomationRule, error)
	CreateRule(ctx context.Context, rule *models.AutomationRule) error
}

// SeedRules добавляет правила, имён которых ещё нет в хранилище.
// Существующие правила не изменяются: их мог отредактировать оператор.
func SeedRules(ctx context.Context, store RuleSeeder, rules []*models.AutomationRule) (int, error) {
	existing, err := store.ListRules(ctx, false)
	if err != nil {
		return 0, err
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		names[strings.ToLower(strings.TrimSpace(r.Name))] = true
	}

	created := 0
	for _, r := range rules {
		if names[strings.ToLower(r.Name)] {
			continue
		}
		if err := store.CreateRule(ctx, r); err != nil {
			return created, fmt.Errorf("seed rule %q: %w", r.Name, err)
		}
		names[strings.ToLower(r.Name)] = true
		created++
	}
	return created, nil
}
