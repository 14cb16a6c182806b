package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"profitguard/internal/models"
)

// ============ Хранилища в памяти для тестов ============

type memPositions struct {
	mu        sync.Mutex
	rows      map[int64]*models.Position
	failWrite error
}

func newMemPositions() *memPositions {
	return &memPositions{rows: make(map[int64]*models.Position)}
}

func (m *memPositions) put(p models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = models.StatusOpen
	}
	m.rows[p.Ticket] = &p
}

func (m *memPositions) get(ticket int64) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[ticket]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

func (m *memPositions) setFailure(err error) {
	m.mu.Lock()
	m.failWrite = err
	m.mu.Unlock()
}

func (m *memPositions) Upsert(ctx context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}

	row, ok := m.rows[p.Ticket]
	if !ok {
		cp := *p
		cp.Status = models.StatusOpen
		cp.PartialClosed = false
		cp.FirstSeenAt = p.UpdatedAt
		m.rows[p.Ticket] = &cp
		p.Status = cp.Status
		p.PartialClosed = false
		return nil
	}

	status, partial, peak, first := row.Status, row.PartialClosed, row.PeakProfitPercent, row.FirstSeenAt
	*row = *p
	row.Status = status
	row.PartialClosed = partial
	row.FirstSeenAt = first
	if peak > row.PeakProfitPercent {
		row.PeakProfitPercent = peak
	}

	p.Status = row.Status
	p.PartialClosed = row.PartialClosed
	p.PeakProfitPercent = row.PeakProfitPercent
	return nil
}

func (m *memPositions) ListLive(ctx context.Context) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, p := range m.rows {
		if p.Status != models.StatusClosed {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPositions) MarkPendingClose(ctx context.Context, ticket int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return false, m.failWrite
	}
	p, ok := m.rows[ticket]
	if !ok || p.Status != models.StatusOpen {
		return false, nil
	}
	p.Status = models.StatusPendingClose
	return true, nil
}

func (m *memPositions) MarkClosed(ctx context.Context, ticket int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return false, m.failWrite
	}
	p, ok := m.rows[ticket]
	if !ok || p.Status == models.StatusClosed {
		return false, nil
	}
	p.Status = models.StatusClosed
	closedAt := at
	p.ClosedAt = &closedAt
	return true, nil
}

func (m *memPositions) MarkAbsentClosed(ctx context.Context, present []int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return 0, m.failWrite
	}
	keep := make(map[int64]bool, len(present))
	for _, t := range present {
		keep[t] = true
	}
	var n int64
	for ticket, p := range m.rows {
		if !keep[ticket] && p.Status != models.StatusClosed {
			p.Status = models.StatusClosed
			closedAt := at
			p.ClosedAt = &closedAt
			n++
		}
	}
	return n, nil
}

func (m *memPositions) ClaimPartialClose(ctx context.Context, ticket int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return false, m.failWrite
	}
	p, ok := m.rows[ticket]
	if !ok || p.PartialClosed || p.Status != models.StatusOpen {
		return false, nil
	}
	p.PartialClosed = true
	return true, nil
}

func (m *memPositions) ReleasePartialClaim(ctx context.Context, ticket int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[ticket]; ok {
		p.PartialClosed = false
	}
	return nil
}

type memOperations struct {
	mu         sync.Mutex
	nextID     int64
	ops        []*models.CloseOperation
	results    map[int64][]models.CloseResult
	failCreate error
}

func newMemOperations() *memOperations {
	return &memOperations{results: make(map[int64][]models.CloseResult)}
}

func (m *memOperations) Create(ctx context.Context, op *models.CloseOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	m.nextID++
	op.ID = m.nextID
	op.Status = models.OperationPending
	m.ops = append(m.ops, op)
	return nil
}

func (m *memOperations) Finish(ctx context.Context, op *models.CloseOperation, results []models.CloseResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[op.ID] = append([]models.CloseResult(nil), results...)
	return nil
}

func (m *memOperations) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
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

func (m *memHealth) get() *models.ProcessHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

type memAccounts struct {
	mu    sync.Mutex
	snaps []models.AccountSnapshot
}

func (m *memAccounts) Insert(ctx context.Context, s *models.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, *s)
	return nil
}

type memCommands struct {
	mu        sync.Mutex
	queue     []*models.CloseCommand
	completed map[int64]models.CommandStatus
	opIDs     map[int64]*int64
	reasons   map[int64]string
}

func newMemCommands(cmds ...*models.CloseCommand) *memCommands {
	return &memCommands{queue: cmds, completed: make(map[int64]models.CommandStatus), opIDs: make(map[int64]*int64), reasons: make(map[int64]string)}
}

func (m *memCommands) ClaimNext(ctx context.Context, at time.Time) (*models.CloseCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, nil
	}
	cmd := m.queue[0]
	m.queue = m.queue[1:]
	cmd.Status = models.CommandProcessing
	return cmd, nil
}

func (m *memCommands) Complete(ctx context.Context, id int64, status models.CommandStatus, operationID *int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[id] = status
	m.opIDs[id] = operationID
	m.reasons[id] = reason
	return nil
}

type staticParams map[string]*models.ParamSnapshot

func (s staticParams) Snapshot(section string) *models.ParamSnapshot {
	return s[section]
}

// defaultParams возвращает снимки со значениями по умолчанию и заменами
func defaultParams(overrides map[string]map[string]any) staticParams {
	out := make(staticParams)
	for name, schema := range models.DefaultRegistry() {
		values := schema.Defaults()
		for k, v := range overrides[name] {
			values[k] = v
		}
		out[name] = models.NewParamSnapshot(name, 1, time.Time{}, "test", values)
	}
	return out
}

type recordedEvent struct {
	name string
	data interface{}
}

type memEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *memEvents) Publish(event string, data interface{}) {
	m.mu.Lock()
	m.events = append(m.events, recordedEvent{name: event, data: data})
	m.mu.Unlock()
}

func (m *memEvents) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.name
	}
	return out
}

var errDBDown = errors.New("database is locked")

func instantSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}
