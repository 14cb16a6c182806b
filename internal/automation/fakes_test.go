package automation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"profitguard/internal/models"
)

var errStoreDown = errors.New("store unavailable")

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// memStore - хранилище правил и пар в памяти с честным истечением срока
type memStore struct {
	mu      sync.Mutex
	rules   []*models.AutomationRule
	pairs   map[string]*models.ActivePair
	matches map[string]time.Time
	listErr error
	pairErr error
	created []*models.AutomationRule
}

func newMemStore(rules ...*models.AutomationRule) *memStore {
	return &memStore{
		rules:   rules,
		pairs:   make(map[string]*models.ActivePair),
		matches: make(map[string]time.Time),
	}
}

func pairKey(symbol string, d models.Direction) string {
	return symbol + "/" + string(d)
}

func (m *memStore) ListRules(ctx context.Context, enabledOnly bool) ([]*models.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.AutomationRule
	for _, r := range m.rules {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = int64(len(m.rules) + 1)
	m.rules = append(m.rules, rule)
	m.created = append(m.created, rule)
	return nil
}

func (m *memStore) UpsertActivePair(ctx context.Context, pair *models.ActivePair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pairErr != nil {
		return m.pairErr
	}
	delete(m.pairs, pairKey(pair.Symbol, pair.Direction.Opposite()))
	cp := *pair
	m.pairs[pairKey(pair.Symbol, pair.Direction)] = &cp
	return nil
}

func (m *memStore) UpsertRuleMatch(ctx context.Context, res models.RuleMatchResult, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[res.Symbol+"#"+res.RuleName] = expiresAt
	return nil
}

func (m *memStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, p := range m.pairs {
		if p.Expired(now) {
			delete(m.pairs, k)
			n++
		}
	}
	for k, exp := range m.matches {
		if !now.Before(exp) {
			delete(m.matches, k)
		}
	}
	return n, nil
}

// live возвращает ключи пар, видимых в момент now
func (m *memStore) live(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, p := range m.pairs {
		if !p.Expired(now) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// scriptedSource отдаёт заранее заданные ответы по очереди
type scriptedSource struct {
	mu        sync.Mutex
	responses [][]models.Signal
	errs      []error
	calls     int
}

func (s *scriptedSource) Fetch(ctx context.Context) ([]models.Signal, FetchMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, FetchMeta{Source: "test"}, s.errs[i]
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	var signals []models.Signal
	if i >= 0 {
		signals = s.responses[i]
	}
	return signals, FetchMeta{Source: "test", Pages: 1, Signals: len(signals)}, nil
}

type memMirror struct {
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func (m *memMirror) Put(ctx context.Context, pair *models.ActivePair, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ttls == nil {
		m.ttls = make(map[string]time.Duration)
	}
	delete(m.ttls, pairKey(pair.Symbol, pair.Direction.Opposite()))
	m.ttls[pairKey(pair.Symbol, pair.Direction)] = ttl
	return nil
}

type memHealth struct {
	mu   sync.Mutex
	last *models.ProcessHealth
}

func (m *memHealth) Upsert(ctx context.Context, h *models.ProcessHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.last = &cp
	return nil
}

type memEvents struct {
	mu    sync.Mutex
	names []string
}

func (m *memEvents) Publish(event string, data interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, event)
}

type staticParams map[string]*models.ParamSnapshot

func (s staticParams) Snapshot(section string) *models.ParamSnapshot {
	return s[section]
}

func automationParams(ttlSeconds, pollSeconds int64) staticParams {
	return staticParams{
		models.SectionAutomation: models.NewParamSnapshot(models.SectionAutomation, 4, time.Time{}, "test",
			map[string]any{"active_ttl_seconds": ttlSeconds, "poll_seconds": pollSeconds}),
	}
}

// ============ Построители сигналов и правил ============

func tfs(kv ...string) map[string]models.TimeframeSignal {
	out := make(map[string]models.TimeframeSignal, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = models.TimeframeSignal{Signal: kv[i+1]}
	}
	return out
}

func bullish(symbol string) models.Signal {
	return models.Signal{
		Symbol:      symbol,
		Bias:        models.BiasBullish,
		MarketPhase: models.PhaseExpansion,
		Confidence:  0.8,
		Timeframes:  tfs("H4", "BUY", "H1", "BUY"),
	}
}

func bearish(symbol string) models.Signal {
	return models.Signal{
		Symbol:      symbol,
		Bias:        models.BiasBearish,
		MarketPhase: models.PhaseRange,
		Confidence:  0.7,
		Timeframes:  tfs("H4", "SELL", "H1", "SELL"),
	}
}

func trendRule(id int64, symbols ...string) *models.AutomationRule {
	return &models.AutomationRule{
		ID:             id,
		Name:           "trend",
		Enabled:        true,
		Symbols:        symbols,
		Biases:         []string{"BULLISH", "BEARISH"},
		MarketPhases:   []string{"RANGE", "EXPANSION", "MIXED"},
		TimeframeChain: []string{"H4", "H1"},
	}
}
