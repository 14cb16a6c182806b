package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"profitguard/internal/models"
	"profitguard/internal/venue"
	"profitguard/pkg/retry"
	"profitguard/pkg/utils"
)

// ExecutorConfig - параметры исполнения одного пакета
type ExecutorConfig struct {
	MaxRetries   int           // повторы после первой неудачи
	RetryDelay   time.Duration // фиксированная пауза между попытками
	CloseTimeout time.Duration // таймаут одной попытки
	MaxParallel  int           // размер пула закрытий
}

// ExecutorConfigFrom строит параметры исполнения из секции profit_monitor
func ExecutorConfigFrom(pm models.ProfitMonitorParams) ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:   pm.MaxRetries,
		RetryDelay:   pm.RetryDelay,
		CloseTimeout: pm.CloseTimeout,
		MaxParallel:  pm.MaxParallelCloses,
	}
}

// Batch - намерения одного цикла
type Batch struct {
	OperationType models.OperationType
	Trigger       models.Trigger
	Intents       []Intent
	Config        ExecutorConfig
}

// Executor исполняет намерения закрытия на площадке
type Executor struct {
	venue      venue.Venue
	positions  PositionStore
	operations OperationStore
	processID  string
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	log        *utils.Logger

	// Тикеты, по которым идёт закрытие в этом процессе
	mu       sync.Mutex
	inflight map[int64]struct{}
}

// NewExecutor создаёт исполнитель
func NewExecutor(v venue.Venue, positions PositionStore, operations OperationStore, processID string) *Executor {
	return &Executor{
		venue:      v,
		positions:  positions,
		operations: operations,
		processID:  processID,
		now:        time.Now,
		log:        utils.L().WithComponent("executor"),
		inflight:   make(map[int64]struct{}),
	}
}

// SetClock подменяет часы
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// SetSleep подменяет ожидание между попытками
func (e *Executor) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	e.sleep = sleep
}

// ExecuteBatch исполняет пакет и записывает одну операцию закрытия.
//
// Пустой пакет ничего не пишет. Ошибка возвращается только при сбое
// записи операции; исходы закрытий всегда в results.
func (e *Executor) ExecuteBatch(ctx context.Context, batch Batch) (*models.CloseOperation, []models.CloseResult, error) {
	intents := Dedupe(batch.Intents)
	if len(intents) == 0 {
		return nil, nil, nil
	}

	cfg := batch.Config
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}

	op := &models.CloseOperation{
		BatchID:       uuid.NewString(),
		OperationType: batch.OperationType,
		Trigger:       batch.Trigger,
		ProcessID:     e.processID,
		Timestamp:     e.now().UTC(),
	}

	var persistErr error
	if err := e.operations.Create(ctx, op); err != nil {
		persistErr = fmt.Errorf("create close operation: %w", err)
		PersistenceFailures.WithLabelValues("create_operation").Inc()
		e.log.Error("failed to record close operation, closing anyway",
			utils.String("batch_id", op.BatchID), utils.Err(err))
	}

	log := e.log.With(utils.String("batch_id", op.BatchID), utils.String("trigger", string(batch.Trigger)))
	log.Info("executing close batch",
		utils.String("operation_type", string(batch.OperationType)),
		utils.Int("intents", len(intents)),
		utils.Int("parallel", cfg.MaxParallel))

	results := make([]models.CloseResult, len(intents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxParallel)
	for i, intent := range intents {
		g.Go(func() error {
			results[i] = e.execute(gctx, intent, cfg)
			return nil
		})
	}
	_ = g.Wait()

	op.Summarize(results)
	if op.ID != 0 {
		if err := e.operations.Finish(ctx, op, results); err != nil {
			persistErr = errors.Join(persistErr, fmt.Errorf("finish close operation: %w", err))
			PersistenceFailures.WithLabelValues("finish_operation").Inc()
			log.Error("failed to finish close operation", utils.OperationID(op.ID), utils.Err(err))
		}
	}

	log.Info("close batch finished",
		utils.OperationID(op.ID),
		utils.Int("closed", op.PositionsClosed),
		utils.Int("failed", op.PositionsFailed),
		utils.String("status", string(op.Status)))

	return op, results, persistErr
}

// execute исполняет одно намерение со всеми повторами
func (e *Executor) execute(ctx context.Context, intent Intent, cfg ExecutorConfig) models.CloseResult {
	result := models.CloseResult{
		Ticket:  intent.Ticket,
		Symbol:  intent.Symbol,
		Volume:  intent.Volume,
		Partial: intent.Partial(),
		Profit:  intent.Profit,
	}
	if result.Volume == 0 {
		result.Volume = intent.Position.Volume
	}
	kind := string(intent.Kind)
	log := e.log.WithTicket(intent.Ticket).With(utils.String("reason", string(intent.Reason)))

	if !e.acquire(intent.Ticket) {
		result.Outcome = models.OutcomeSkipped
		result.Error = "close already in progress"
		CloseOutcomes.WithLabelValues(string(result.Outcome), kind).Inc()
		return result
	}
	defer e.release(intent.Ticket)

	if intent.Partial() {
		claimed, err := e.positions.ClaimPartialClose(ctx, intent.Ticket)
		if err != nil || !claimed {
			result.Outcome = models.OutcomeSkipped
			result.Error = "partial close already claimed"
			if err != nil {
				result.Error = err.Error()
				PersistenceFailures.WithLabelValues("claim_partial").Inc()
			}
			CloseOutcomes.WithLabelValues(string(result.Outcome), kind).Inc()
			return result
		}
	} else if CanTransition(intent.Position.Status, models.StatusPendingClose) {
		if _, err := e.positions.MarkPendingClose(ctx, intent.Ticket, e.now()); err != nil {
			PersistenceFailures.WithLabelValues("mark_pending").Inc()
			log.Warn("failed to mark pending close", utils.Err(err))
		}
	}

	start := time.Now()
	status, err := retry.DoWithResult(ctx, func() (venue.CloseStatus, error) {
		result.Attempts++
		actx, cancel := context.WithTimeout(ctx, cfg.CloseTimeout)
		defer cancel()
		return e.venue.ClosePosition(actx, intent.Ticket, intent.Volume)
	}, retry.Config{
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
		Multiplier: 1,
		RetryIf: func(err error) bool {
			return ctx.Err() == nil && venue.IsTransient(err)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			CloseRetries.Inc()
			log.Warn("close attempt failed, retrying",
				utils.Attempt(attempt), utils.Dur("delay", delay), utils.Err(err))
		},
		Sleep: e.sleep,
	})
	CloseLatency.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))

	switch {
	case err == nil:
		result.Outcome = status.Outcome(intent.Partial())
		e.afterSuccess(ctx, intent, status, log)
	case venue.IsMarketClosed(err):
		result.Outcome = models.OutcomeSkipped
		result.Error = err.Error()
		e.afterFailure(ctx, intent, log)
	default:
		result.Outcome = models.OutcomeFailed
		result.Error = err.Error()
		e.afterFailure(ctx, intent, log)
		log.Error("close failed", utils.Attempt(result.Attempts), utils.Err(err))
	}

	CloseOutcomes.WithLabelValues(string(result.Outcome), kind).Inc()
	return result
}

// afterSuccess фиксирует закрытие в хранилище.
// Частичное закрытие живой позиции статус не меняет.
func (e *Executor) afterSuccess(ctx context.Context, intent Intent, status venue.CloseStatus, log *utils.Logger) {
	if intent.Partial() && status == venue.StatusClosed {
		log.Info("partial close done", utils.Volume(intent.Volume), utils.Profit(intent.Profit))
		return
	}
	if _, err := e.positions.MarkClosed(ctx, intent.Ticket, e.now()); err != nil {
		PersistenceFailures.WithLabelValues("mark_closed").Inc()
		log.Warn("failed to mark position closed", utils.Err(err))
	}
	log.Info("position closed", utils.String("venue_status", string(status)), utils.Profit(intent.Profit))
}

// afterFailure снимает захват частичного закрытия, чтобы повторить его в следующем цикле.
// Полное закрытие остаётся в pending_close.
func (e *Executor) afterFailure(ctx context.Context, intent Intent, log *utils.Logger) {
	if !intent.Partial() {
		return
	}
	if err := e.positions.ReleasePartialClaim(context.WithoutCancel(ctx), intent.Ticket); err != nil {
		PersistenceFailures.WithLabelValues("release_partial").Inc()
		log.Warn("failed to release partial claim", utils.Err(err))
	}
}

func (e *Executor) acquire(ticket int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[ticket]; busy {
		return false
	}
	e.inflight[ticket] = struct{}{}
	return true
}

func (e *Executor) release(ticket int64) {
	e.mu.Lock()
	delete(e.inflight, ticket)
	e.mu.Unlock()
}

// Dedupe оставляет одно намерение на тикет; полное закрытие важнее частичного.
// Порядок первых вхождений сохраняется.
func Dedupe(intents []Intent) []Intent {
	index := make(map[int64]int, len(intents))
	out := make([]Intent, 0, len(intents))
	for _, in := range intents {
		if i, ok := index[in.Ticket]; ok {
			if out[i].Partial() && !in.Partial() {
				out[i] = in
			}
			continue
		}
		index[in.Ticket] = len(out)
		out = append(out, in)
	}
	return out
}
