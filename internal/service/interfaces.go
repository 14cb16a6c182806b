package service

import (
	"context"
	"time"

	"profitguard/internal/models"
	"profitguard/internal/repository"
)

// SettingsStore определяет хранилище версионированных секций параметров
type SettingsStore interface {
	Get(ctx context.Context, section string) (*repository.StoredSection, error)
	Version(ctx context.Context, section string) (int64, error)
	CreateIfMissing(ctx context.Context, section string, doc models.ParamDocument, at time.Time) (bool, error)
	CompareAndSwap(ctx context.Context, section string, doc models.ParamDocument,
		expected int64, at time.Time, changes []models.SettingsChange) (int64, error)
	History(ctx context.Context, section string, limit int) ([]models.SettingsChange, error)
}

// ChangeNotifier оповещает другие процессы о новой версии секции
type ChangeNotifier interface {
	NotifyChange(ctx context.Context, section string, version int64) error
}

// EventPublisher рассылает события подписчикам панели
type EventPublisher interface {
	Publish(event string, data interface{})
}

// PositionReaderInterface определяет чтение позиций
type PositionReaderInterface interface {
	ListLive(ctx context.Context) ([]*models.Position, error)
	GetByTicket(ctx context.Context, ticket int64) (*models.Position, error)
	ListRecentlyClosed(ctx context.Context, since time.Time, limit int) ([]*models.Position, error)
	CountByStatus(ctx context.Context) (map[models.PositionStatus]int, error)
}

// CloseOperationRepositoryInterface определяет журнал операций закрытия
type CloseOperationRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*models.CloseOperation, error)
	GetRecent(ctx context.Context, limit int) ([]*models.CloseOperation, error)
	GetResults(ctx context.Context, operationID int64) ([]models.CloseResult, error)
	Summary(ctx context.Context, since time.Time) (models.PeriodStats, error)
	TopSymbols(ctx context.Context, since time.Time, limit int, byProfit bool) ([]models.SymbolStat, error)
	DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error)
}

// AccountRepositoryInterface определяет историю снимков счёта
type AccountRepositoryInterface interface {
	Latest(ctx context.Context) (*models.AccountSnapshot, error)
	History(ctx context.Context, from, to time.Time) ([]*models.AccountSnapshot, error)
	DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error)
}

// CommandRepositoryInterface определяет очередь ручных команд
type CommandRepositoryInterface interface {
	Create(ctx context.Context, cmd *models.CloseCommand) error
	GetByID(ctx context.Context, id int64) (*models.CloseCommand, error)
	GetRecent(ctx context.Context, limit int) ([]*models.CloseCommand, error)
}

// HealthRepositoryInterface определяет статусы процессов
type HealthRepositoryInterface interface {
	List(ctx context.Context) ([]*models.ProcessHealth, error)
	Delete(ctx context.Context, processID string) error
}

// AutomationRepositoryInterface определяет хранилище правил и активных пар
type AutomationRepositoryInterface interface {
	CreateRule(ctx context.Context, rule *models.AutomationRule) error
	UpdateRule(ctx context.Context, rule *models.AutomationRule) error
	DeleteRule(ctx context.Context, id int64) error
	GetRule(ctx context.Context, id int64) (*models.AutomationRule, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]*models.AutomationRule, error)
	CountRules(ctx context.Context) (int, error)
	ListActivePairs(ctx context.Context, now time.Time) ([]*models.ActivePair, error)
	DeleteActivePair(ctx context.Context, symbol string, direction models.Direction) error
	ListRuleMatches(ctx context.Context, now time.Time) ([]models.RuleMatchResult, error)
}

// ============ Интерфейсы сервисов для HTTP handlers ============

// ConfigManagerInterface определяет операции с параметрами для API
type ConfigManagerInterface interface {
	Sections() []string
	Schema(section string) (*models.SectionSchema, error)
	GetAll(section string) (*models.ParamSnapshot, error)
	UpdateBulk(ctx context.Context, section string, values map[string]any, changedBy string) (*models.ParamSnapshot, error)
	Reset(ctx context.Context, section, changedBy string) (*models.ParamSnapshot, error)
	History(ctx context.Context, section string, limit int) ([]models.SettingsChange, error)
}

// PositionServiceInterface определяет чтение позиций и постановку команд
type PositionServiceInterface interface {
	ListLive(ctx context.Context) ([]*models.Position, error)
	GetPosition(ctx context.Context, ticket int64) (*models.Position, error)
	RecentlyClosed(ctx context.Context, hours, limit int) ([]*models.Position, error)
	RecentOperations(ctx context.Context, limit int) ([]*models.CloseOperation, error)
	GetOperation(ctx context.Context, id int64) (*OperationDetail, error)
	LatestAccount(ctx context.Context) (*models.AccountSnapshot, error)
	AccountHistory(ctx context.Context, hours int) ([]*models.AccountSnapshot, error)
	RequestClose(ctx context.Context, opType string, ticket int64, requestedBy string) (*models.CloseCommand, error)
	GetCommand(ctx context.Context, id int64) (*models.CloseCommand, error)
	RecentCommands(ctx context.Context, limit int) ([]*models.CloseCommand, error)
}

// StatsServiceInterface определяет статистику закрытий
type StatsServiceInterface interface {
	GetStats(ctx context.Context) (*models.Stats, error)
	GetTopSymbols(ctx context.Context, metric string, days, limit int) ([]models.SymbolStat, error)
}

// AutomationServiceInterface определяет правила и активные пары
type AutomationServiceInterface interface {
	ListRules(ctx context.Context) ([]*models.AutomationRule, error)
	GetRule(ctx context.Context, id int64) (*models.AutomationRule, error)
	CreateRule(ctx context.Context, rule *models.AutomationRule) error
	UpdateRule(ctx context.Context, rule *models.AutomationRule) error
	SetRuleEnabled(ctx context.Context, id int64, enabled bool) (*models.AutomationRule, error)
	DeleteRule(ctx context.Context, id int64) error
	ActivePairs(ctx context.Context) ([]*models.ActivePair, error)
	DeactivatePair(ctx context.Context, symbol, direction string) error
	RuleMatches(ctx context.Context) ([]models.RuleMatchResult, error)
}

// HealthServiceInterface определяет сводку по процессам
type HealthServiceInterface interface {
	Summary(ctx context.Context) (*HealthSummary, error)
	Forget(ctx context.Context, processID string) error
}

// Проверка соответствия сервисов интерфейсам
var (
	_ ConfigManagerInterface     = (*ConfigManager)(nil)
	_ PositionServiceInterface   = (*PositionService)(nil)
	_ StatsServiceInterface      = (*StatsService)(nil)
	_ AutomationServiceInterface = (*AutomationService)(nil)
	_ HealthServiceInterface     = (*HealthService)(nil)
)

// Проверка соответствия репозиториев интерфейсам
var (
	_ SettingsStore                     = (*repository.SettingsRepository)(nil)
	_ PositionReaderInterface           = (*repository.PositionRepository)(nil)
	_ CloseOperationRepositoryInterface = (*repository.CloseOperationRepository)(nil)
	_ AccountRepositoryInterface        = (*repository.AccountRepository)(nil)
	_ CommandRepositoryInterface        = (*repository.CommandRepository)(nil)
	_ HealthRepositoryInterface         = (*repository.HealthRepository)(nil)
	_ AutomationRepositoryInterface     = (*repository.AutomationRepository)(nil)
)
