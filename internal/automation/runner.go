package automation

import (
	"context"
	"errors"
	"time"

	"profitguard/internal/models"
	"profitguard/pkg/utils"
)

// Минимальные значения параметров цикла
const (
	MinActiveTTL = 5 * time.Second
	MinPoll      = time.Second
)

// Store - хранилище правил и активных пар
type Store interface {
	ListRules(ctx context.Context, enabledOnly bool) ([]*models.AutomationRule, error)
	UpsertActivePair(ctx context.Context, pair *models.ActivePair) error
	UpsertRuleMatch(ctx context.Context, m models.RuleMatchResult, expiresAt time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Mirror - быстрая копия активных пар с собственным TTL (Redis)
type Mirror interface {
	Put(ctx context.Context, pair *models.ActivePair, ttl time.Duration) error
}

// HealthStore - статусы процессов
type HealthStore interface {
	Upsert(ctx context.Context, h *models.ProcessHealth) error
}

// ParamSource - текущие параметры
type ParamSource interface {
	Snapshot(section string) *models.ParamSnapshot
}

// EventPublisher рассылает события панели
type EventPublisher interface {
	Publish(event string, data interface{})
}

// Deps - зависимости цикла. Mirror, Health и Events необязательны
type Deps struct {
	Source Source
	Store  Store
	Params ParamSource
	Mirror Mirror
	Health HealthStore
	Events EventPublisher
}

// CycleReport - итог одного цикла оценки правил
type CycleReport struct {
	ProcessID     string               `json:"process_id"`
	StartedAt     time.Time            `json:"started_at"`
	Duration      time.Duration        `json:"duration"`
	Fetch         FetchMeta            `json:"fetch"`
	Rules         int                  `json:"rules"`
	Signals       int                  `json:"signals"`
	Evaluated     int                  `json:"evaluated"`
	Matches       int                  `json:"matches"`
	Activated     []*models.ActivePair `json:"activated"`
	Conflicts     []string             `json:"conflicts,omitempty"`
	Swept         int64                `json:"swept"`
	TTL           time.Duration        `json:"ttl"`
	ConfigVersion int64                `json:"config_version"`
	PersistenceOK bool                 `json:"persistence_ok"`
}

// Runner периодически сопоставляет сигналы с правилами
// и публикует активные пары с ограниченным временем жизни
type Runner struct {
	processID string
	source    Source
	store     Store
	params    ParamSource
	mirror    Mirror
	health    HealthStore
	events    EventPublisher
	now       func() time.Time
	log       *utils.Logger

	failures    int
	lastSuccess *time.Time
}

// NewRunner создаёт цикл автоматизации
func NewRunner(processID string, deps Deps) (*Runner, error) {
	if deps.Source == nil || deps.Store == nil || deps.Params == nil {
		return nil, errors.New("source, store and params are required")
	}
	return &Runner{
		processID: processID,
		source:    deps.Source,
		store:     deps.Store,
		params:    deps.Params,
		mirror:    deps.Mirror,
		health:    deps.Health,
		events:    deps.Events,
		now:       time.Now,
		log:       utils.L().WithRole(models.RoleAutomation).With(utils.ProcessID(processID)),
	}, nil
}

// SetClock подменяет часы
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Params возвращает TTL и период опроса с нижними границами
func (r *Runner) Params() (ttl, poll time.Duration, version int64) {
	snap := r.params.Snapshot(models.SectionAutomation)
	p := snap.Automation()
	ttl, poll = p.ActiveTTL, p.Poll
	if ttl < MinActiveTTL {
		ttl = MinActiveTTL
	}
	if poll < MinPoll {
		poll = MinPoll
	}
	return ttl, poll, snap.Version
}

// Run крутит циклы до отмены контекста
func (r *Runner) Run(ctx context.Context) error {
	_, poll, _ := r.Params()
	r.log.Info("automation started", utils.Dur("poll", poll))

	for {
		if _, err := r.RunCycle(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("automation cycle failed", utils.Err(err), utils.Int("consecutive_failures", r.failures))
		}

		_, poll, _ = r.Params()
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("automation stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle выполняет один цикл:
// правила -> сигналы -> книга -> оценка -> публикация пар -> очистка истёкших.
//
// Пары публикуются со сроком now+TTL; пара, не подтверждённая следующими
// циклами, перестаёт быть видимой по истечении срока.
func (r *Runner) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()
	now := r.now().UTC()
	ttl, _, version := r.Params()

	report := &CycleReport{
		ProcessID:     r.processID,
		StartedAt:     now,
		TTL:           ttl,
		ConfigVersion: version,
		PersistenceOK: true,
		Activated:     []*models.ActivePair{},
	}
	defer func() { report.Duration = time.Since(start) }()

	rules, err := r.store.ListRules(ctx, true)
	if err != nil {
		report.PersistenceOK = false
		CyclesTotal.WithLabelValues("store_error").Inc()
		r.recordHealth(ctx, report, err)
		return report, err
	}
	report.Rules = len(rules)

	signals, meta, err := r.source.Fetch(ctx)
	report.Fetch = meta
	if err != nil {
		CyclesTotal.WithLabelValues("fetch_error").Inc()
		r.recordHealth(ctx, report, err)
		return report, err
	}

	book := MergeBook(signals)
	report.Signals = len(book)
	SignalsFetched.Set(float64(len(book)))

	ev := EvaluateAll(book, rules, now)
	report.Evaluated = ev.Evaluated
	report.Matches = len(ev.Matches)
	report.Conflicts = ev.Conflicts
	if len(ev.Conflicts) > 0 {
		ConflictsTotal.Add(float64(len(ev.Conflicts)))
		r.log.Info("conflicting rule matches, symbols skipped", utils.Strings("symbols", ev.Conflicts))
	}

	expiresAt := now.Add(ttl)
	counts := map[models.Direction]int{}
	for _, pair := range ev.Pairs {
		pair.ExpiresAt = expiresAt
		if err := r.store.UpsertActivePair(ctx, pair); err != nil {
			report.PersistenceOK = false
			r.log.Warn("failed to publish active pair", utils.Symbol(pair.Symbol), utils.Err(err))
			continue
		}
		if r.mirror != nil {
			if err := r.mirror.Put(ctx, pair, ttl); err != nil {
				r.log.Warn("failed to mirror active pair", utils.Symbol(pair.Symbol), utils.Err(err))
			}
		}
		report.Activated = append(report.Activated, pair)
		counts[pair.Direction]++
	}
	PairsActivated.WithLabelValues(string(models.DirectionBuy)).Set(float64(counts[models.DirectionBuy]))
	PairsActivated.WithLabelValues(string(models.DirectionSell)).Set(float64(counts[models.DirectionSell]))

	for _, m := range ev.Matches {
		if err := r.store.UpsertRuleMatch(ctx, m, expiresAt); err != nil {
			report.PersistenceOK = false
			r.log.Warn("failed to record rule match", utils.Symbol(m.Symbol), utils.Err(err))
		}
	}

	swept, err := r.store.SweepExpired(ctx, now)
	if err != nil {
		report.PersistenceOK = false
		r.log.Warn("failed to sweep expired pairs", utils.Err(err))
	}
	report.Swept = swept

	CyclesTotal.WithLabelValues("ok").Inc()
	r.log.Debug("automation cycle",
		utils.Int("rules", report.Rules),
		utils.Int("signals", report.Signals),
		utils.Int("matches", report.Matches),
		utils.Int("activated", len(report.Activated)),
		utils.Int64("swept", swept))

	r.recordHealth(ctx, report, nil)
	if r.events != nil {
		r.events.Publish("automation_cycle", report)
	}
	return report, nil
}

func (r *Runner) recordHealth(ctx context.Context, report *CycleReport, cycleErr error) {
	now := r.now().UTC()
	lastError := ""
	if cycleErr != nil {
		r.failures++
		lastError = cycleErr.Error()
	} else {
		r.failures = 0
		r.lastSuccess = &now
	}
	if r.health == nil {
		return
	}
	h := &models.ProcessHealth{
		ProcessID:           r.processID,
		Role:                models.RoleAutomation,
		LastCycleAt:         now,
		LastSuccessfulCycle: r.lastSuccess,
		ConsecutiveFailures: r.failures,
		LastError:           lastError,
		ConfigVersion:       report.ConfigVersion,
		PersistenceOK:       report.PersistenceOK,
		UpdatedAt:           now,
	}
	if err := r.health.Upsert(ctx, h); err != nil {
		r.log.Warn("failed to write process health", utils.Err(err))
	}
}
