package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"profitguard/internal/models"
	"profitguard/internal/repository"
)

var errStoreDown = errors.New("store down")

// ============ Mock SettingsStore ============

// MockSettingsStore - общее для нескольких менеджеров хранилище секций
type MockSettingsStore struct {
	mu       sync.Mutex
	sections map[string]*repository.StoredSection
	history  []models.SettingsChange

	casCalls  int
	versionFn func(section string) error
	beforeCAS func(section string) // вызывается перед проверкой версии, без блокировки
	getErr    error
}

func NewMockSettingsStore() *MockSettingsStore {
	return &MockSettingsStore{sections: make(map[string]*repository.StoredSection)}
}

func (m *MockSettingsStore) Get(ctx context.Context, section string) (*repository.StoredSection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.sections[section]
	if !ok {
		return nil, repository.ErrSectionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSettingsStore) Version(ctx context.Context, section string) (int64, error) {
	if m.versionFn != nil {
		if err := m.versionFn(section); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sections[section]
	if !ok {
		return 0, repository.ErrSectionNotFound
	}
	return s.Version, nil
}

func (m *MockSettingsStore) CreateIfMissing(ctx context.Context, section string, doc models.ParamDocument, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sections[section]; ok {
		return false, nil
	}
	m.sections[section] = &repository.StoredSection{Section: section, Document: doc, Version: 1, UpdatedAt: at}
	m.history = append(m.history, models.SettingsChange{
		Section: section, Event: models.EventInit, ChangedBy: doc.Metadata.ChangedBy, ChangedAt: at, Version: 1,
	})
	return true, nil
}

func (m *MockSettingsStore) CompareAndSwap(ctx context.Context, section string, doc models.ParamDocument,
	expected int64, at time.Time, changes []models.SettingsChange) (int64, error) {

	if hook := m.beforeCAS; hook != nil {
		hook(section)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++

	s, ok := m.sections[section]
	if !ok {
		return 0, repository.ErrSectionNotFound
	}
	if s.Version != expected {
		return 0, repository.ErrVersionConflict
	}
	next := expected + 1
	m.sections[section] = &repository.StoredSection{Section: section, Document: doc, Version: next, UpdatedAt: at}
	for _, c := range changes {
		c.Section = section
		c.Version = next
		c.ChangedAt = at
		m.history = append(m.history, c)
	}
	return next, nil
}

func (m *MockSettingsStore) History(ctx context.Context, section string, limit int) ([]models.SettingsChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SettingsChange
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		if m.history[i].Section == section {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

// ============ Mock ChangeNotifier / EventPublisher ============

type MockNotifier struct {
	mu       sync.Mutex
	versions map[string]int64
	err      error
}

func (m *MockNotifier) NotifyChange(ctx context.Context, section string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions == nil {
		m.versions = make(map[string]int64)
	}
	m.versions[section] = version
	return m.err
}

type publishedEvent struct {
	name string
	data interface{}
}

type MockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (m *MockPublisher) Publish(event string, data interface{}) {
	m.mu.Lock()
	m.events = append(m.events, publishedEvent{name: event, data: data})
	m.mu.Unlock()
}

func (m *MockPublisher) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.name
	}
	return out
}

// ============ Mock PositionReader ============

type MockPositionReader struct {
	positions map[int64]*models.Position
	counts    map[models.PositionStatus]int
	err       error
	since     time.Time
}

func NewMockPositionReader(list ...*models.Position) *MockPositionReader {
	m := &MockPositionReader{positions: make(map[int64]*models.Position), counts: make(map[models.PositionStatus]int)}
	for _, p := range list {
		m.positions[p.Ticket] = p
		m.counts[p.Status]++
	}
	return m
}

func (m *MockPositionReader) ListLive(ctx context.Context) ([]*models.Position, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Position
	for _, p := range m.positions {
		if p.IsLive() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (m *MockPositionReader) GetByTicket(ctx context.Context, ticket int64) (*models.Position, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.positions[ticket]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	return p, nil
}

func (m *MockPositionReader) ListRecentlyClosed(ctx context.Context, since time.Time, limit int) ([]*models.Position, error) {
	m.since = since
	var out []*models.Position
	for _, p := range m.positions {
		if p.Status == models.StatusClosed && p.ClosedAt != nil && !p.ClosedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, m.err
}

func (m *MockPositionReader) CountByStatus(ctx context.Context) (map[models.PositionStatus]int, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.counts, nil
}

// ============ Mock CloseOperationRepository ============

type MockOperationRepository struct {
	ops         map[int64]*models.CloseOperation
	results     map[int64][]models.CloseResult
	summaries   map[time.Time]models.PeriodStats
	top         map[bool][]models.SymbolStat
	summarySeen []time.Time
	deleted     int64
	deleteAt    time.Time
	err         error
}

func NewMockOperationRepository() *MockOperationRepository {
	return &MockOperationRepository{
		ops:       make(map[int64]*models.CloseOperation),
		results:   make(map[int64][]models.CloseResult),
		summaries: make(map[time.Time]models.PeriodStats),
		top:       make(map[bool][]models.SymbolStat),
	}
}

func (m *MockOperationRepository) GetByID(ctx context.Context, id int64) (*models.CloseOperation, error) {
	op, ok := m.ops[id]
	if !ok {
		return nil, repository.ErrCloseOperationNotFound
	}
	return op, nil
}

func (m *MockOperationRepository) GetRecent(ctx context.Context, limit int) ([]*models.CloseOperation, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.CloseOperation
	for _, op := range m.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockOperationRepository) GetResults(ctx context.Context, operationID int64) ([]models.CloseResult, error) {
	return m.results[operationID], m.err
}

func (m *MockOperationRepository) Summary(ctx context.Context, since time.Time) (models.PeriodStats, error) {
	m.summarySeen = append(m.summarySeen, since)
	if m.err != nil {
		return models.PeriodStats{}, m.err
	}
	return m.summaries[since], nil
}

func (m *MockOperationRepository) TopSymbols(ctx context.Context, since time.Time, limit int, byProfit bool) ([]models.SymbolStat, error) {
	if m.err != nil {
		return nil, m.err
	}
	list := m.top[byProfit]
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MockOperationRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	m.deleteAt = timestamp
	return m.deleted, m.err
}

// ============ Mock AccountRepository ============

type MockAccountRepository struct {
	snaps    []*models.AccountSnapshot
	from, to time.Time
	deleted  int64
	err      error
}

func (m *MockAccountRepository) Latest(ctx context.Context) (*models.AccountSnapshot, error) {
	if len(m.snaps) == 0 {
		return nil, m.err
	}
	return m.snaps[len(m.snaps)-1], m.err
}

func (m *MockAccountRepository) History(ctx context.Context, from, to time.Time) ([]*models.AccountSnapshot, error) {
	m.from, m.to = from, to
	return m.snaps, m.err
}

func (m *MockAccountRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	return m.deleted, m.err
}

// ============ Mock CommandRepository ============

type MockCommandRepository struct {
	commands []*models.CloseCommand
	err      error
}

func (m *MockCommandRepository) Create(ctx context.Context, cmd *models.CloseCommand) error {
	if m.err != nil {
		return m.err
	}
	cmd.ID = int64(len(m.commands) + 1)
	m.commands = append(m.commands, cmd)
	return nil
}

func (m *MockCommandRepository) GetByID(ctx context.Context, id int64) (*models.CloseCommand, error) {
	for _, c := range m.commands {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, repository.ErrCommandNotFound
}

func (m *MockCommandRepository) GetRecent(ctx context.Context, limit int) ([]*models.CloseCommand, error) {
	return m.commands, m.err
}

// ============ Mock HealthRepository ============

type MockHealthRepository struct {
	list    []*models.ProcessHealth
	deleted []string
	err     error
}

func (m *MockHealthRepository) List(ctx context.Context) ([]*models.ProcessHealth, error) {
	return m.list, m.err
}

func (m *MockHealthRepository) Delete(ctx context.Context, processID string) error {
	m.deleted = append(m.deleted, processID)
	return m.err
}

// ============ Mock AutomationRepository ============

type MockAutomationRepository struct {
	rules   map[int64]*models.AutomationRule
	pairs   []*models.ActivePair
	matches []models.RuleMatchResult
	removed []string
	nextID  int64
	err     error
}

func NewMockAutomationRepository() *MockAutomationRepository {
	return &MockAutomationRepository{rules: make(map[int64]*models.AutomationRule), nextID: 1}
}

func (m *MockAutomationRepository) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	if m.err != nil {
		return m.err
	}
	rule.ID = m.nextID
	m.nextID++
	m.rules[rule.ID] = rule
	return nil
}

func (m *MockAutomationRepository) UpdateRule(ctx context.Context, rule *models.AutomationRule) error {
	if _, ok := m.rules[rule.ID]; !ok {
		return repository.ErrRuleNotFound
	}
	m.rules[rule.ID] = rule
	return nil
}

func (m *MockAutomationRepository) DeleteRule(ctx context.Context, id int64) error {
	if _, ok := m.rules[id]; !ok {
		return repository.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MockAutomationRepository) GetRule(ctx context.Context, id int64) (*models.AutomationRule, error) {
	r, ok := m.rules[id]
	if !ok {
		return nil, repository.ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockAutomationRepository) ListRules(ctx context.Context, enabledOnly bool) ([]*models.AutomationRule, error) {
	var out []*models.AutomationRule
	for _, r := range m.rules {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, m.err
}

func (m *MockAutomationRepository) CountRules(ctx context.Context) (int, error) {
	return len(m.rules), m.err
}

func (m *MockAutomationRepository) ListActivePairs(ctx context.Context, now time.Time) ([]*models.ActivePair, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.ActivePair
	for _, p := range m.pairs {
		if !p.Expired(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockAutomationRepository) DeleteActivePair(ctx context.Context, symbol string, direction models.Direction) error {
	m.removed = append(m.removed, symbol+"/"+string(direction))
	return m.err
}

func (m *MockAutomationRepository) ListRuleMatches(ctx context.Context, now time.Time) ([]models.RuleMatchResult, error) {
	return m.matches, m.err
}

// ============ Mock ActivePairSource ============

type MockPairSource struct {
	pairs   []*models.ActivePair
	err     error
	removed []string
}

func (m *MockPairSource) ActivePairs(ctx context.Context) ([]*models.ActivePair, error) {
	return m.pairs, m.err
}

func (m *MockPairSource) Remove(ctx context.Context, symbol string, direction models.Direction) error {
	m.removed = append(m.removed, symbol+"/"+string(direction))
	return m.err
}
