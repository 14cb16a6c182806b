package service

import (
	"context"
	"fmt"
	"time"

	"profitguard/internal/models"
	"profitguard/pkg/utils"
)

// StatsService предоставляет агрегированную статистику закрытий.
//
// Функции:
// - GetStats: сводка за сегодня/неделю/месяц и топ-5 символов за месяц
// - GetTopSymbols: топ символов по прибыли или убытку
// - Cleanup: удаление истории старше срока хранения
//
// WebSocket интеграция:
// - PublishStats рассылает сводку событием "stats"
type StatsService struct {
	operations CloseOperationRepositoryInterface
	positions  PositionReaderInterface
	accounts   AccountRepositoryInterface
	hub        EventPublisher
	now        func() time.Time
}

// NewStatsService создает новый экземпляр StatsService
func NewStatsService(
	operations CloseOperationRepositoryInterface,
	positions PositionReaderInterface,
	accounts AccountRepositoryInterface,
) *StatsService {
	return &StatsService{
		operations: operations,
		positions:  positions,
		accounts:   accounts,
		now:        time.Now,
	}
}

// SetWebSocketHub устанавливает hub для рассылки статистики
func (s *StatsService) SetWebSocketHub(hub EventPublisher) {
	s.hub = hub
}

// SetClock подменяет часы
func (s *StatsService) SetClock(now func() time.Time) {
	s.now = now
}

// GetStats возвращает сводку.
//
// Периоды считаются в UTC:
// - сегодня: с начала текущих суток
// - неделя: последние 7 суток
// - месяц: последние 30 суток
func (s *StatsService) GetStats(ctx context.Context) (*models.Stats, error) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	week := now.AddDate(0, 0, -7)
	month := now.AddDate(0, 0, -30)

	stats := &models.Stats{GeneratedAt: now}

	var err error
	if stats.Today, err = s.operations.Summary(ctx, today); err != nil {
		return nil, fmt.Errorf("summary today: %w", err)
	}
	if stats.Week, err = s.operations.Summary(ctx, week); err != nil {
		return nil, fmt.Errorf("summary week: %w", err)
	}
	if stats.Month, err = s.operations.Summary(ctx, month); err != nil {
		return nil, fmt.Errorf("summary month: %w", err)
	}
	if stats.TopSymbolsByProfit, err = s.operations.TopSymbols(ctx, month, 5, true); err != nil {
		return nil, fmt.Errorf("top symbols by profit: %w", err)
	}
	if stats.TopSymbolsByLoss, err = s.operations.TopSymbols(ctx, month, 5, false); err != nil {
		return nil, fmt.Errorf("top symbols by loss: %w", err)
	}

	counts, err := s.positions.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count positions: %w", err)
	}
	stats.LivePositions = counts[models.StatusOpen] + counts[models.StatusPendingClose]

	if stats.TopSymbolsByProfit == nil {
		stats.TopSymbolsByProfit = []models.SymbolStat{}
	}
	if stats.TopSymbolsByLoss == nil {
		stats.TopSymbolsByLoss = []models.SymbolStat{}
	}
	return stats, nil
}

// GetTopSymbols возвращает топ символов за days суток.
//
// Поддерживаемые метрики: "profit", "loss".
func (s *StatsService) GetTopSymbols(ctx context.Context, metric string, days, limit int) ([]models.SymbolStat, error) {
	if limit <= 0 || limit > 50 {
		limit = 5
	}
	if days <= 0 {
		days = 30
	}
	since := s.now().UTC().AddDate(0, 0, -days)

	switch metric {
	case "profit":
		return s.operations.TopSymbols(ctx, since, limit, true)
	case "loss":
		return s.operations.TopSymbols(ctx, since, limit, false)
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
}

// PublishStats пересчитывает сводку и рассылает её подписчикам
func (s *StatsService) PublishStats(ctx context.Context) error {
	if s.hub == nil {
		return nil
	}
	stats, err := s.GetStats(ctx)
	if err != nil {
		return err
	}
	s.hub.Publish("stats", stats)
	return nil
}

// Cleanup удаляет операции и снимки счёта старше retention
func (s *StatsService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-retention)

	ops, err := s.operations.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete close operations: %w", err)
	}
	snaps, err := s.accounts.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return ops, fmt.Errorf("delete account snapshots: %w", err)
	}

	if ops+snaps > 0 {
		utils.L().WithComponent("stats").Info("history cleaned up",
			utils.Int64("operations", ops),
			utils.Int64("account_snapshots", snaps))
	}
	return ops + snaps, nil
}
