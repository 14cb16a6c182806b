package venue

import (
	"context"
	"sort"
	"sync"
	"time"

	"profitguard/internal/models"
	"profitguard/pkg/utils"
)

// PaperVenue - площадка в памяти.
// Используется для бумажной торговли и в тестах движка: позволяет
// подставлять ошибки закрытия, задержки и состояние торговых сессий.
type PaperVenue struct {
	mu         sync.Mutex
	positions  map[int64]*models.Position
	symbols    map[string]SymbolInfo
	market     map[string]bool
	closeErrs  map[int64][]error
	closeCalls map[int64]int
	listErr    error
	account    models.AccountInfo
	closeDelay time.Duration
	fills      int
	nextTicket int64
	now        func() time.Time
}

// NewPaperVenue создаёт пустую площадку
func NewPaperVenue() *PaperVenue {
	return &PaperVenue{
		positions:  make(map[int64]*models.Position),
		symbols:    make(map[string]SymbolInfo),
		market:     make(map[string]bool),
		closeErrs:  make(map[int64][]error),
		closeCalls: make(map[int64]int),
		account:    models.AccountInfo{Balance: 10000, Equity: 10000, FreeMargin: 10000, Currency: "USD"},
		nextTicket: 1000,
		now:        time.Now,
	}
}

// Name возвращает имя площадки
func (v *PaperVenue) Name() string {
	return "paper"
}

// ============ Управление состоянием ============

// Open добавляет позицию. Нулевой тикет назначается автоматически
func (v *PaperVenue) Open(p models.Position) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if p.Ticket == 0 {
		v.nextTicket++
		p.Ticket = v.nextTicket
	}
	if p.OpenTime.IsZero() {
		p.OpenTime = v.now().UTC()
	}
	v.positions[p.Ticket] = &p
	return p.Ticket
}

// SetProfit меняет плавающую прибыль позиции
func (v *PaperVenue) SetProfit(ticket int64, profit float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.positions[ticket]; ok {
		p.Profit = profit
	}
}

// SetSymbol задаёт параметры символа
func (v *PaperVenue) SetSymbol(info SymbolInfo) {
	v.mu.Lock()
	v.symbols[info.Symbol] = info
	v.mu.Unlock()
}

// SetMarketOpen фиксирует состояние торгов по символу
func (v *PaperVenue) SetMarketOpen(symbol string, open bool) {
	v.mu.Lock()
	v.market[symbol] = open
	v.mu.Unlock()
}

// SetClock подменяет часы для проверки торговых сессий
func (v *PaperVenue) SetClock(now func() time.Time) {
	v.mu.Lock()
	v.now = now
	v.mu.Unlock()
}

// SetCloseDelay задаёт задержку ответа на закрытие
func (v *PaperVenue) SetCloseDelay(d time.Duration) {
	v.mu.Lock()
	v.closeDelay = d
	v.mu.Unlock()
}

// FailClose ставит в очередь ошибки для следующих закрытий тикета
func (v *PaperVenue) FailClose(ticket int64, errs ...error) {
	v.mu.Lock()
	v.closeErrs[ticket] = append(v.closeErrs[ticket], errs...)
	v.mu.Unlock()
}

// FailList заставляет ListOpenPositions возвращать ошибку (nil снимает)
func (v *PaperVenue) FailList(err error) {
	v.mu.Lock()
	v.listErr = err
	v.mu.Unlock()
}

// SetAccount задаёт состояние счёта
func (v *PaperVenue) SetAccount(a models.AccountInfo) {
	v.mu.Lock()
	v.account = a
	v.mu.Unlock()
}

// CloseCalls возвращает число запросов на закрытие тикета
func (v *PaperVenue) CloseCalls(ticket int64) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closeCalls[ticket]
}

// Fills возвращает число реально исполненных закрытий (полных и частичных)
func (v *PaperVenue) Fills() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fills
}

// Position возвращает копию открытой позиции
func (v *PaperVenue) Position(ticket int64) (models.Position, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.positions[ticket]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// ============ Venue ============

// ListOpenPositions возвращает позиции, упорядоченные по тикету
func (v *PaperVenue) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(v.Name(), 0, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.listErr != nil {
		return nil, v.listErr
	}

	out := make([]models.Position, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

// ClosePosition закрывает весь объём или его часть.
// Отсутствующий тикет возвращает StatusNotFound.
func (v *PaperVenue) ClosePosition(ctx context.Context, ticket int64, volume float64) (CloseStatus, error) {
	v.mu.Lock()
	v.closeCalls[ticket]++
	delay := v.closeDelay
	var queued error
	if errs := v.closeErrs[ticket]; len(errs) > 0 {
		queued = errs[0]
		v.closeErrs[ticket] = errs[1:]
	}
	v.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", transportError(v.Name(), ticket, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return "", transportError(v.Name(), ticket, err)
	}
	if queued != nil {
		if status, ok := AsCloseStatus(queued); ok {
			return status, nil
		}
		return "", queued
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.positions[ticket]
	if !ok {
		return StatusNotFound, nil
	}

	v.fills++
	if volume <= 0 || volume >= p.Volume-utils.Epsilon {
		delete(v.positions, ticket)
		return StatusClosed, nil
	}

	// Частичное закрытие: прибыль уменьшается пропорционально объёму
	rest := p.Volume - volume
	p.Profit = p.Profit * rest / p.Volume
	p.Volume = utils.RoundTo(rest, 8)
	return StatusClosed, nil
}

// IsMarketOpen проверяет торги: явная настройка символа, иначе
// криптовалюта торгуется всегда, остальное по сессиям UTC.
func (v *PaperVenue) IsMarketOpen(ctx context.Context, symbol string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if open, ok := v.market[symbol]; ok {
		return open, nil
	}
	category := models.CategoryForSymbol(symbol)
	if info, ok := v.symbols[symbol]; ok && info.Category != "" {
		category = info.Category
	}
	if category == models.CategoryCrypto {
		return true, nil
	}
	return utils.IsForexOpen(v.now(), utils.DefaultSessions), nil
}

// AccountInfo возвращает счёт; equity учитывает плавающую прибыль
func (v *PaperVenue) AccountInfo(ctx context.Context) (models.AccountInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	a := v.account
	for _, p := range v.positions {
		a.Equity += p.Profit
	}
	a.FreeMargin = a.Equity - a.Margin
	return a, nil
}

// SymbolInfo возвращает параметры символа или стандартные лотовые
func (v *PaperVenue) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if info, ok := v.symbols[symbol]; ok {
		return info, nil
	}
	return SymbolInfo{
		Symbol:       symbol,
		Category:     models.CategoryForSymbol(symbol),
		VolumeStep:   0.01,
		VolumeMin:    0.01,
		VolumeMax:    100,
		ContractSize: 100000,
		TradeOpen:    true,
	}, nil
}

// Close ничего не делает
func (v *PaperVenue) Close() error {
	return nil
}
