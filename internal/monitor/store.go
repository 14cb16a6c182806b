package monitor

import (
	"context"
	"time"

	"profitguard/internal/models"
)

// ============ Зависимости мониторинга ============
// Реализуются репозиториями из internal/repository

// PositionStore - хранилище позиций
type PositionStore interface {
	Upsert(ctx context.Context, p *models.Position) error
	ListLive(ctx context.Context) ([]*models.Position, error)
	MarkPendingClose(ctx context.Context, ticket int64, at time.Time) (bool, error)
	MarkClosed(ctx context.Context, ticket int64, at time.Time) (bool, error)
	MarkAbsentClosed(ctx context.Context, present []int64, at time.Time) (int64, error)
	ClaimPartialClose(ctx context.Context, ticket int64) (bool, error)
	ReleasePartialClaim(ctx context.Context, ticket int64) error
}

// OperationStore - журнал пакетных закрытий
type OperationStore interface {
	Create(ctx context.Context, op *models.CloseOperation) error
	Finish(ctx context.Context, op *models.CloseOperation, results []models.CloseResult) error
}

// AccountStore - снимки счёта
type AccountStore interface {
	Insert(ctx context.Context, s *models.AccountSnapshot) error
}

// HealthStore - статусы процессов
type HealthStore interface {
	Upsert(ctx context.Context, h *models.ProcessHealth) error
}

// CommandStore - очередь ручных команд
type CommandStore interface {
	ClaimNext(ctx context.Context, at time.Time) (*models.CloseCommand, error)
	Complete(ctx context.Context, id int64, status models.CommandStatus, operationID *int64, reason string, at time.Time) error
}

// ParamSource отдаёт текущий снимок секции параметров
type ParamSource interface {
	Snapshot(section string) *models.ParamSnapshot
}

// EventPublisher рассылает события панели (websocket hub)
type EventPublisher interface {
	Publish(event string, data interface{})
}
