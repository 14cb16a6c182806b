package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"profitguard/internal/models"
	"profitguard/internal/venue"
	"profitguard/pkg/utils"
)

// Observation - результат одного опроса площадки
type Observation struct {
	Positions    []models.Position // живые позиции после слияния с хранилищем
	Symbols      map[string]venue.SymbolInfo
	Account      *models.AccountInfo
	ClosedAbsent int64 // позиции, закрытые из-за отсутствия на площадке
	PersistErr   error // последняя ошибка записи в хранилище
	ObservedAt   time.Time
}

// Tracker поддерживает зеркало позиций площадки в хранилище
type Tracker struct {
	venue     venue.Venue
	positions PositionStore
	accounts  AccountStore
	processID string
	now       func() time.Time
	log       *utils.Logger

	mu      sync.Mutex
	peaks   map[int64]float64 // пики в памяти на случай сбоя хранилища
	symbols map[string]venue.SymbolInfo
}

// NewTracker создаёт трекер. accounts может быть nil
func NewTracker(v venue.Venue, positions PositionStore, accounts AccountStore, processID string) *Tracker {
	return &Tracker{
		venue:     v,
		positions: positions,
		accounts:  accounts,
		processID: processID,
		now:       time.Now,
		log:       utils.L().WithComponent("tracker"),
		peaks:     make(map[int64]float64),
		symbols:   make(map[string]venue.SymbolInfo),
	}
}

// SetClock подменяет часы
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Refresh опрашивает площадку и обновляет хранилище.
//
// Ошибка площадки возвращается как есть, хранилище при этом не меняется.
// Ошибки записи не прерывают цикл: они попадают в Observation.PersistErr,
// а решения принимаются по данным в памяти.
func (t *Tracker) Refresh(ctx context.Context) (*Observation, error) {
	raw, err := t.venue.ListOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	now := t.now().UTC()
	obs := &Observation{
		Positions:  make([]models.Position, 0, len(raw)),
		Symbols:    make(map[string]venue.SymbolInfo),
		ObservedAt: now,
	}

	present := make([]int64, 0, len(raw))
	for _, p := range raw {
		sym := t.symbolInfo(ctx, p.Symbol)
		obs.Symbols[p.Symbol] = sym

		p.Category = sym.Category
		p.ProfitPercent = utils.ProfitPercent(p.Profit, p.OpenPrice, p.Volume)
		p.Status = models.StatusOpen
		p.UpdatedAt = now

		t.mu.Lock()
		p.PeakProfitPercent = t.peaks[p.Ticket]
		t.mu.Unlock()
		p.ObservePeak()

		if err := t.positions.Upsert(ctx, &p); err != nil {
			obs.PersistErr = err
			PersistenceFailures.WithLabelValues("upsert").Inc()
			t.log.Warn("failed to persist position", utils.Ticket(p.Ticket), utils.Err(err))
		}

		t.mu.Lock()
		if p.PeakProfitPercent > t.peaks[p.Ticket] {
			t.peaks[p.Ticket] = p.PeakProfitPercent
		}
		t.mu.Unlock()

		present = append(present, p.Ticket)
		if p.Status != models.StatusClosed {
			obs.Positions = append(obs.Positions, p)
		}
	}

	closed, err := t.positions.MarkAbsentClosed(ctx, present, now)
	if err != nil {
		obs.PersistErr = err
		PersistenceFailures.WithLabelValues("mark_absent").Inc()
		t.log.Warn("failed to close absent positions", utils.Err(err))
	} else if closed > 0 {
		obs.ClosedAbsent = closed
		t.log.Info("positions gone from venue marked closed", utils.Int64("count", closed))
	}
	t.forgetAbsent(present)

	t.snapshotAccount(ctx, obs)
	return obs, nil
}

// symbolInfo возвращает параметры символа; при ошибке площадки
// категория определяется по имени, а шаг объёма берётся стандартный.
func (t *Tracker) symbolInfo(ctx context.Context, symbol string) venue.SymbolInfo {
	t.mu.Lock()
	info, ok := t.symbols[symbol]
	t.mu.Unlock()
	if ok {
		return info
	}

	info, err := t.venue.SymbolInfo(ctx, symbol)
	if err != nil {
		t.log.Debug("symbol info unavailable", utils.Symbol(symbol), utils.Err(err))
		return venue.SymbolInfo{
			Symbol:     symbol,
			Category:   models.CategoryForSymbol(symbol),
			VolumeStep: 0.01,
			VolumeMin:  0.01,
		}
	}
	if info.Category == "" {
		info.Category = models.CategoryForSymbol(symbol)
	}

	t.mu.Lock()
	t.symbols[symbol] = info
	t.mu.Unlock()
	return info
}

func (t *Tracker) forgetAbsent(present []int64) {
	keep := make(map[int64]bool, len(present))
	for _, ticket := range present {
		keep[ticket] = true
	}
	t.mu.Lock()
	for ticket := range t.peaks {
		if !keep[ticket] {
			delete(t.peaks, ticket)
		}
	}
	t.mu.Unlock()
}

// snapshotAccount пишет снимок счёта за цикл
func (t *Tracker) snapshotAccount(ctx context.Context, obs *Observation) {
	account, err := t.venue.AccountInfo(ctx)
	if err != nil {
		t.log.Warn("account info unavailable", utils.Err(err))
		return
	}
	obs.Account = &account

	if t.accounts == nil {
		return
	}
	snap := models.NewAccountSnapshot(account, obs.Positions, obs.ObservedAt)
	snap.ProcessID = t.processID
	if err := t.accounts.Insert(ctx, &snap); err != nil {
		if !errors.Is(err, context.Canceled) {
			obs.PersistErr = err
			PersistenceFailures.WithLabelValues("account_snapshot").Inc()
		}
		t.log.Warn("failed to write account snapshot", utils.Err(err))
	}
}
