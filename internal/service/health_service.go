package service

import (
	"context"
	"time"

	"profitguard/internal/models"
)

// ProcessStatus - статус процесса с признаком устаревания
type ProcessStatus struct {
	*models.ProcessHealth
	Stale bool `json:"stale"`
}

// HealthSummary - сводка по всем процессам
type HealthSummary struct {
	Healthy   bool            `json:"healthy"`
	Processes []ProcessStatus `json:"processes"`
	CheckedAt time.Time       `json:"checked_at"`
}

// HealthService сводит статусы процессов мониторинга.
// Процесс считается устаревшим, если успешного цикла не было дольше maxAge.
type HealthService struct {
	store  HealthRepositoryInterface
	maxAge time.Duration
	now    func() time.Time
}

// NewHealthService создает новый экземпляр HealthService
func NewHealthService(store HealthRepositoryInterface, maxAge time.Duration) *HealthService {
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	return &HealthService{store: store, maxAge: maxAge, now: time.Now}
}

// SetClock подменяет часы
func (s *HealthService) SetClock(now func() time.Time) {
	s.now = now
}

// Summary возвращает статусы процессов.
// Healthy ложен, если хотя бы один процесс устарел или не может писать в хранилище.
func (s *HealthService) Summary(ctx context.Context) (*HealthSummary, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	summary := &HealthSummary{Healthy: true, Processes: make([]ProcessStatus, 0, len(list)), CheckedAt: now.UTC()}
	for _, h := range list {
		stale := h.Stale(now, s.maxAge)
		if stale || !h.PersistenceOK {
			summary.Healthy = false
		}
		summary.Processes = append(summary.Processes, ProcessStatus{ProcessHealth: h, Stale: stale})
	}
	return summary, nil
}

// Forget удаляет запись о процессе (например, после вывода из эксплуатации)
func (s *HealthService) Forget(ctx context.Context, processID string) error {
	return s.store.Delete(ctx, processID)
}
