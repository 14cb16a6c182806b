package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"profitguard/internal/models"
	"profitguard/internal/repository"
	"profitguard/internal/service"
)

// ErrMockDatabase - ошибка хранилища для тестов
var ErrMockDatabase = errors.New("mock database error")

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// ============ Mock Config Manager ============

// MockConfigManager мок для ConfigManagerInterface
type MockConfigManager struct {
	mu        sync.Mutex
	registry  models.Registry
	snapshots map[string]*models.ParamSnapshot
	history   []models.SettingsChange
	updateErr error
	lastBy    string
}

// NewMockConfigManager создает мок с секциями по умолчанию версии 1
func NewMockConfigManager() *MockConfigManager {
	reg := models.DefaultRegistry()
	m := &MockConfigManager{registry: reg, snapshots: make(map[string]*models.ParamSnapshot)}
	for name, schema := range reg {
		m.snapshots[name] = models.NewParamSnapshot(name, 1, t0, "system", schema.Defaults())
	}
	return m
}

func (m *MockConfigManager) Sections() []string {
	names := make([]string, 0, len(m.registry))
	for name := range m.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MockConfigManager) Schema(section string) (*models.SectionSchema, error) {
	schema, ok := m.registry.Section(section)
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrUnknownSection, section)
	}
	return schema, nil
}

func (m *MockConfigManager) GetAll(section string) (*models.ParamSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[section]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrUnknownSection, section)
	}
	return snap, nil
}

func (m *MockConfigManager) UpdateBulk(ctx context.Context, section string, values map[string]any, changedBy string) (*models.ParamSnapshot, error) {
	schema, err := m.Schema(section)
	if err != nil {
		return nil, err
	}
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	normalized, err := schema.Validate(values)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.snapshots[section]
	next := current.All()
	for k, v := range normalized {
		next[k] = v
	}
	m.lastBy = changedBy
	snap := models.NewParamSnapshot(section, current.Version+1, t0, changedBy, next)
	m.snapshots[section] = snap
	return snap, nil
}

func (m *MockConfigManager) Reset(ctx context.Context, section, changedBy string) (*models.ParamSnapshot, error) {
	schema, err := m.Schema(section)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBy = changedBy
	snap := models.NewParamSnapshot(section, m.snapshots[section].Version+1, t0, changedBy, schema.Defaults())
	m.snapshots[section] = snap
	return snap, nil
}

func (m *MockConfigManager) History(ctx context.Context, section string, limit int) ([]models.SettingsChange, error) {
	if _, err := m.Schema(section); err != nil {
		return nil, err
	}
	return m.history, nil
}

// ============ Mock Position Service ============

// MockPositionService мок для PositionServiceInterface
type MockPositionService struct {
	mu         sync.Mutex
	positions  map[int64]*models.Position
	operations map[int64]*service.OperationDetail
	commands   []*models.CloseCommand
	account    *models.AccountSnapshot
	err        error
	lastHours  int
	lastLimit  int
}

// NewMockPositionService создает пустой мок
func NewMockPositionService() *MockPositionService {
	return &MockPositionService{
		positions:  make(map[int64]*models.Position),
		operations: make(map[int64]*service.OperationDetail),
	}
}

func (m *MockPositionService) ListLive(ctx context.Context) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []*models.Position{}
	for _, p := range m.positions {
		if p.IsLive() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (m *MockPositionService) GetPosition(ctx context.Context, ticket int64) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[ticket]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	return p, nil
}

func (m *MockPositionService) RecentlyClosed(ctx context.Context, hours, limit int) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHours, m.lastLimit = hours, limit
	if hours <= 0 || hours > 720 {
		return nil, service.ErrInvalidHistoryRange
	}
	return []*models.Position{}, nil
}

func (m *MockPositionService) RecentOperations(ctx context.Context, limit int) ([]*models.CloseOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	out := []*models.CloseOperation{}
	for _, op := range m.operations {
		out = append(out, op.CloseOperation)
	}
	return out, nil
}

func (m *MockPositionService) GetOperation(ctx context.Context, id int64) (*service.OperationDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operations[id]
	if !ok {
		return nil, repository.ErrCloseOperationNotFound
	}
	return op, nil
}

func (m *MockPositionService) LatestAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	return m.account, m.err
}

func (m *MockPositionService) AccountHistory(ctx context.Context, hours int) ([]*models.AccountSnapshot, error) {
	m.mu.Lock()
	m.lastHours = hours
	m.mu.Unlock()
	if hours <= 0 || hours > 720 {
		return nil, service.ErrInvalidHistoryRange
	}
	if m.account == nil {
		return []*models.AccountSnapshot{}, nil
	}
	return []*models.AccountSnapshot{m.account}, nil
}

func (m *MockPositionService) RequestClose(ctx context.Context, opType string, ticket int64, requestedBy string) (*models.CloseCommand, error) {
	parsed, err := models.ParseOperationType(opType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", service.ErrInvalidOperation, opType)
	}
	if parsed == models.OpSingle {
		p, err := m.GetPosition(ctx, ticket)
		if err != nil {
			return nil, err
		}
		if !p.IsLive() {
			return nil, fmt.Errorf("%w: %d is %s", service.ErrPositionNotLive, ticket, p.Status)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := &models.CloseCommand{
		ID:            int64(len(m.commands) + 1),
		OperationType: parsed,
		Status:        models.CommandPending,
		RequestedBy:   requestedBy,
		CreatedAt:     t0,
	}
	if parsed == models.OpSingle {
		cmd.Ticket = ticket
	}
	m.commands = append(m.commands, cmd)
	return cmd, nil
}

func (m *MockPositionService) GetCommand(ctx context.Context, id int64) (*models.CloseCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commands {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, repository.ErrCommandNotFound
}

func (m *MockPositionService) RecentCommands(ctx context.Context, limit int) ([]*models.CloseCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.CloseCommand, len(m.commands))
	copy(out, m.commands)
	return out, nil
}

// ============ Mock Stats Service ============

// MockStatsService мок для StatsServiceInterface
type MockStatsService struct {
	stats      *models.Stats
	top        map[string][]models.SymbolStat
	err        error
	lastDays   int
	lastLimit  int
	lastMetric string
}

// NewMockStatsService создает мок с пустой статистикой
func NewMockStatsService() *MockStatsService {
	return &MockStatsService{stats: &models.Stats{}, top: make(map[string][]models.SymbolStat)}
}

func (m *MockStatsService) GetStats(ctx context.Context) (*models.Stats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stats, nil
}

func (m *MockStatsService) GetTopSymbols(ctx context.Context, metric string, days, limit int) ([]models.SymbolStat, error) {
	m.lastMetric, m.lastDays, m.lastLimit = metric, days, limit
	if m.err != nil {
		return nil, m.err
	}
	return m.top[metric], nil
}

// ============ Mock Automation Service ============

// MockAutomationService мок для AutomationServiceInterface
type MockAutomationService struct {
	mu          sync.Mutex
	rules       map[int64]*models.AutomationRule
	nextID      int64
	pairs       []*models.ActivePair
	deactivated []string
	maxRules    int
}

// NewMockAutomationService создает пустой мок
func NewMockAutomationService() *MockAutomationService {
	return &MockAutomationService{rules: make(map[int64]*models.AutomationRule), nextID: 1, maxRules: service.MaxRules}
}

func (m *MockAutomationService) ListRules(ctx context.Context) ([]*models.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.AutomationRule{}
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockAutomationService) GetRule(ctx context.Context, id int64) (*models.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, repository.ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockAutomationService) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	if err := rule.Normalize(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rules) >= m.maxRules {
		return service.ErrMaxRulesReached
	}
	rule.ID = m.nextID
	rule.CreatedAt = t0
	m.nextID++
	m.rules[rule.ID] = rule
	return nil
}

func (m *MockAutomationService) UpdateRule(ctx context.Context, rule *models.AutomationRule) error {
	if err := rule.Normalize(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return repository.ErrRuleNotFound
	}
	m.rules[rule.ID] = rule
	return nil
}

func (m *MockAutomationService) SetRuleEnabled(ctx context.Context, id int64, enabled bool) (*models.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, repository.ErrRuleNotFound
	}
	r.Enabled = enabled
	return r, nil
}

func (m *MockAutomationService) DeleteRule(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return repository.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MockAutomationService) ActivePairs(ctx context.Context) ([]*models.ActivePair, error) {
	if m.pairs == nil {
		return []*models.ActivePair{}, nil
	}
	return m.pairs, nil
}

func (m *MockAutomationService) DeactivatePair(ctx context.Context, symbol, direction string) error {
	if direction != "buy" && direction != "sell" {
		return service.ErrInvalidDirection
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, symbol+"/"+direction)
	return nil
}

func (m *MockAutomationService) RuleMatches(ctx context.Context) ([]models.RuleMatchResult, error) {
	return []models.RuleMatchResult{}, nil
}

// ============ Mock Health Service ============

// MockHealthService мок для HealthServiceInterface
type MockHealthService struct {
	summary   *service.HealthSummary
	err       error
	forgotten []string
}

func (m *MockHealthService) Summary(ctx context.Context) (*service.HealthSummary, error) {
	return m.summary, m.err
}

func (m *MockHealthService) Forget(ctx context.Context, processID string) error {
	m.forgotten = append(m.forgotten, processID)
	return m.err
}
