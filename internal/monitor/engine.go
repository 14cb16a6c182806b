package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"profitguard/internal/models"
	"profitguard/internal/venue"
	"profitguard/pkg/utils"
)

// Config - параметры процесса мониторинга
type Config struct {
	Role             string        // standard | enhanced | scouting | combined
	ProcessID        string        // идентификатор процесса в журналах и health
	Interval         time.Duration // 0 = check_interval из параметров
	CommandsPerCycle int           // ручных команд за цикл (default: 10)
}

// Deps - зависимости движка. Accounts, Commands и Events необязательны
type Deps struct {
	Venue      venue.Venue
	Positions  PositionStore
	Operations OperationStore
	Accounts   AccountStore
	Health     HealthStore
	Commands   CommandStore
	Params     ParamSource
	Events     EventPublisher
}

// CycleReport - итог одного цикла
type CycleReport struct {
	Role          string                   `json:"role"`
	ProcessID     string                   `json:"process_id"`
	StartedAt     time.Time                `json:"started_at"`
	Duration      time.Duration            `json:"duration"`
	Positions     int                      `json:"positions"`
	Intents       int                      `json:"intents"`
	MarketSkipped int                      `json:"market_skipped"`
	Commands      int                      `json:"commands"`
	ConfigVersion int64                    `json:"config_version"`
	Operation     *models.CloseOperation   `json:"operation,omitempty"`
	Results       []models.CloseResult     `json:"results,omitempty"`
	Manual        []*models.CloseOperation `json:"manual,omitempty"`
	PersistenceOK bool                     `json:"persistence_ok"`
}

// Engine - цикл опрос -> решение -> закрытие -> пауза для одной роли
type Engine struct {
	cfg      Config
	venue    venue.Venue
	tracker  *Tracker
	executor *Executor
	commands CommandStore
	health   HealthStore
	params   ParamSource
	events   EventPublisher
	now      func() time.Time
	log      *utils.Logger

	failures    int
	lastSuccess *time.Time
}

// NewEngine создаёт движок для роли
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	switch cfg.Role {
	case models.RoleStandard, models.RoleEnhanced, models.RoleScouting, models.RoleCombined:
	default:
		return nil, fmt.Errorf("unknown monitor role %q", cfg.Role)
	}
	if deps.Venue == nil || deps.Positions == nil || deps.Operations == nil || deps.Params == nil {
		return nil, errors.New("venue, positions, operations and params are required")
	}
	if cfg.CommandsPerCycle <= 0 {
		cfg.CommandsPerCycle = 10
	}

	return &Engine{
		cfg:      cfg,
		venue:    deps.Venue,
		tracker:  NewTracker(deps.Venue, deps.Positions, deps.Accounts, cfg.ProcessID),
		executor: NewExecutor(deps.Venue, deps.Positions, deps.Operations, cfg.ProcessID),
		commands: deps.Commands,
		health:   deps.Health,
		params:   deps.Params,
		events:   deps.Events,
		now:      time.Now,
		log:      utils.L().WithRole(cfg.Role).With(utils.ProcessID(cfg.ProcessID)),
	}, nil
}

// SetClock подменяет часы движка и его компонентов
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.tracker.SetClock(now)
	e.executor.SetClock(now)
}

// Executor возвращает исполнитель (для тестов и ручного запуска)
func (e *Engine) Executor() *Executor {
	return e.executor
}

// Run крутит циклы до отмены контекста.
// Ошибки цикла логируются, цикл продолжается.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("monitor started", utils.Dur("interval", e.Interval()))

	for {
		if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn("cycle failed", utils.Err(err), utils.Int("consecutive_failures", e.failures))
		}

		timer := time.NewTimer(e.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			e.log.Info("monitor stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Interval возвращает паузу между циклами по текущим параметрам.
// enhanced опрашивает вдвое чаще standard.
func (e *Engine) Interval() time.Duration {
	if e.cfg.Interval > 0 {
		return e.cfg.Interval
	}

	var d time.Duration
	switch e.cfg.Role {
	case models.RoleScouting:
		d = e.params.Snapshot(models.SectionProfitScouting).Scouting().CheckInterval
	case models.RoleEnhanced:
		d = e.params.Snapshot(models.SectionProfitMonitor).ProfitMonitor().CheckInterval / 2
	default:
		d = e.params.Snapshot(models.SectionProfitMonitor).ProfitMonitor().CheckInterval
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

// RunCycle выполняет один цикл.
// Ошибка возвращается только при недоступности площадки.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()
	pmSnap := e.params.Snapshot(models.SectionProfitMonitor)
	scSnap := e.params.Snapshot(models.SectionProfitScouting)
	pm := pmSnap.ProfitMonitor()
	sc := scSnap.Scouting()

	report := &CycleReport{
		Role:          e.cfg.Role,
		ProcessID:     e.cfg.ProcessID,
		StartedAt:     e.now().UTC(),
		ConfigVersion: pmSnap.Version,
		PersistenceOK: true,
	}
	defer func() {
		report.Duration = time.Since(start)
		CycleDuration.WithLabelValues(e.cfg.Role).Observe(float64(report.Duration.Milliseconds()))
	}()

	obs, err := e.tracker.Refresh(ctx)
	if err != nil {
		CyclesTotal.WithLabelValues(e.cfg.Role, "venue_error").Inc()
		e.recordHealth(ctx, report, err)
		return report, err
	}
	report.Positions = len(obs.Positions)
	report.PersistenceOK = obs.PersistErr == nil
	PositionsTracked.WithLabelValues(e.cfg.Role).Set(float64(len(obs.Positions)))

	gate := newMarketGate(e.venue, pm.EnableMarketCheck, e.now, e.log)
	execCfg := e.executorConfig(pm, sc)

	handled := e.processCommands(ctx, obs, gate, execCfg, report)

	intents := e.decide(ctx, obs, pm, sc, gate, handled, report)
	report.Intents = len(intents)

	op, results, err := e.executor.ExecuteBatch(ctx, Batch{
		OperationType: BatchOperationType(intents),
		Trigger:       e.trigger(),
		Intents:       intents,
		Config:        execCfg,
	})
	if err != nil {
		report.PersistenceOK = false
	}
	report.Operation = op
	report.Results = results

	CyclesTotal.WithLabelValues(e.cfg.Role, "ok").Inc()
	e.recordHealth(ctx, report, nil)
	e.publish(report)
	return report, nil
}

// decide собирает намерения цикла по стратегиям роли
func (e *Engine) decide(ctx context.Context, obs *Observation, pm models.ProfitMonitorParams,
	sc models.ScoutingParams, gate *marketGate, handled map[int64]bool, report *CycleReport) []Intent {

	rules := Rules{}
	switch e.cfg.Role {
	case models.RoleStandard, models.RoleEnhanced:
		rules.Percent = &pm
	case models.RoleScouting:
		rules.Scouting = &sc
	case models.RoleCombined:
		rules.Percent = &pm
		rules.Scouting = &sc
	}

	var intents []Intent
	taken := make(map[int64]bool)
	var tradable []models.Position

	for _, p := range obs.Positions {
		if handled[p.Ticket] {
			continue
		}
		if !gate.Open(ctx, p.Symbol) {
			report.MarketSkipped++
			MarketClosedSkips.Inc()
			continue
		}
		tradable = append(tradable, p)

		if intent, ok := Decide(p, obs.Symbols[p.Symbol], rules); ok {
			intents = append(intents, intent)
			taken[p.Ticket] = true
		}
	}

	if rules.Scouting != nil {
		intents = append(intents, ScoutTargets(tradable, sc, taken)...)
	}

	for _, in := range intents {
		IntentsTotal.WithLabelValues(string(in.Reason), string(in.Kind)).Inc()
		e.log.Info("close intent",
			utils.Ticket(in.Ticket),
			utils.Symbol(in.Symbol),
			utils.String("reason", string(in.Reason)),
			utils.String("kind", string(in.Kind)),
			utils.ProfitPercentField(in.Position.ProfitPercent),
			utils.Float64("peak_percent", in.Position.PeakProfitPercent),
			utils.Profit(in.Position.Profit))
	}
	return intents
}

func (e *Engine) trigger() models.Trigger {
	if e.cfg.Role == models.RoleScouting {
		return models.TriggerScouting
	}
	return models.TriggerMonitor
}

// executorConfig - scouting берёт повторы из своей секции
func (e *Engine) executorConfig(pm models.ProfitMonitorParams, sc models.ScoutingParams) ExecutorConfig {
	cfg := ExecutorConfigFrom(pm)
	if e.cfg.Role == models.RoleScouting {
		cfg.MaxRetries = sc.MaxRetries
		cfg.RetryDelay = sc.RetryDelay
	}
	return cfg
}

// recordHealth обновляет счётчики неудач и пишет статус процесса
func (e *Engine) recordHealth(ctx context.Context, report *CycleReport, cycleErr error) {
	now := e.now().UTC()
	lastError := ""
	if cycleErr != nil {
		e.failures++
		lastError = cycleErr.Error()
	} else {
		e.failures = 0
		e.lastSuccess = &now
	}
	ConsecutiveFailures.WithLabelValues(e.cfg.Role).Set(float64(e.failures))

	if e.health == nil {
		return
	}
	h := &models.ProcessHealth{
		ProcessID:           e.cfg.ProcessID,
		Role:                e.cfg.Role,
		LastCycleAt:         now,
		LastSuccessfulCycle: e.lastSuccess,
		ConsecutiveFailures: e.failures,
		LastError:           lastError,
		ConfigVersion:       report.ConfigVersion,
		PersistenceOK:       report.PersistenceOK,
		UpdatedAt:           now,
	}
	if err := e.health.Upsert(ctx, h); err != nil {
		PersistenceFailures.WithLabelValues("health").Inc()
		e.log.Warn("failed to write process health", utils.Err(err))
	}
}

func (e *Engine) publish(report *CycleReport) {
	if e.events == nil {
		return
	}
	e.events.Publish("cycle", report)
	if report.Operation != nil {
		e.events.Publish("close_operation", report.Operation)
	}
	for _, op := range report.Manual {
		e.events.Publish("close_operation", op)
	}
}

// ============ Проверка торговой сессии ============

// marketGate кэширует состояние рынка по символу на один цикл
type marketGate struct {
	enabled bool
	venue   venue.Venue
	now     func() time.Time
	log     *utils.Logger
	cache   map[string]bool
}

func newMarketGate(v venue.Venue, enabled bool, now func() time.Time, log *utils.Logger) *marketGate {
	return &marketGate{enabled: enabled, venue: v, now: now, log: log, cache: make(map[string]bool)}
}

// Open проверяет, можно ли действовать по символу.
// Если площадка не ответила, решение принимается по сессиям UTC.
func (g *marketGate) Open(ctx context.Context, symbol string) bool {
	if !g.enabled {
		return true
	}
	if open, ok := g.cache[symbol]; ok {
		return open
	}

	open, err := g.venue.IsMarketOpen(ctx, symbol)
	if err != nil {
		open = models.CategoryForSymbol(symbol) == models.CategoryCrypto ||
			utils.IsForexOpen(g.now(), utils.DefaultSessions)
		g.log.Debug("market state unavailable, using session table",
			utils.Symbol(symbol), utils.Bool("open", open), utils.Err(err))
	}
	g.cache[symbol] = open
	return open
}
