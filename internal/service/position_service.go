package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"profitguard/internal/models"
	"profitguard/pkg/utils"
)

// Ошибки сервиса позиций
var (
	ErrInvalidTicket       = errors.New("ticket must be positive")
	ErrInvalidOperation    = errors.New("invalid close operation type")
	ErrInvalidHistoryRange = errors.New("history range must be between 1 and 720 hours")
	ErrPositionNotLive     = errors.New("position is not live")
)

// OperationDetail - операция закрытия с результатами по тикетам
type OperationDetail struct {
	*models.CloseOperation
	Results []models.CloseResult `json:"results"`
}

// PositionService - чтение позиций, операций и счёта, постановка ручных команд.
// Сервер API не закрывает позиции сам: команда выполняется ближайшим циклом монитора.
type PositionService struct {
	positions  PositionReaderInterface
	operations CloseOperationRepositoryInterface
	accounts   AccountRepositoryInterface
	commands   CommandRepositoryInterface
	hub        EventPublisher
	now        func() time.Time
}

// NewPositionService создает новый экземпляр PositionService
func NewPositionService(
	positions PositionReaderInterface,
	operations CloseOperationRepositoryInterface,
	accounts AccountRepositoryInterface,
	commands CommandRepositoryInterface,
) *PositionService {
	return &PositionService{
		positions:  positions,
		operations: operations,
		accounts:   accounts,
		commands:   commands,
		now:        time.Now,
	}
}

// SetWebSocketHub устанавливает hub для рассылки событий
func (s *PositionService) SetWebSocketHub(hub EventPublisher) {
	s.hub = hub
}

// SetClock подменяет часы
func (s *PositionService) SetClock(now func() time.Time) {
	s.now = now
}

// ============ Позиции ============

// ListLive возвращает открытые и закрывающиеся позиции
func (s *PositionService) ListLive(ctx context.Context) ([]*models.Position, error) {
	list, err := s.positions.ListLive(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.Position{}
	}
	return list, nil
}

// GetPosition возвращает позицию по тикету
func (s *PositionService) GetPosition(ctx context.Context, ticket int64) (*models.Position, error) {
	if ticket <= 0 {
		return nil, ErrInvalidTicket
	}
	return s.positions.GetByTicket(ctx, ticket)
}

// RecentlyClosed возвращает позиции, закрытые за последние hours часов
func (s *PositionService) RecentlyClosed(ctx context.Context, hours, limit int) ([]*models.Position, error) {
	if hours <= 0 || hours > 720 {
		return nil, ErrInvalidHistoryRange
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	list, err := s.positions.ListRecentlyClosed(ctx, s.now().UTC().Add(-time.Duration(hours)*time.Hour), limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.Position{}
	}
	return list, nil
}

// ============ Операции закрытия ============

// RecentOperations возвращает последние операции закрытия
func (s *PositionService) RecentOperations(ctx context.Context, limit int) ([]*models.CloseOperation, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	ops, err := s.operations.GetRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if ops == nil {
		ops = []*models.CloseOperation{}
	}
	return ops, nil
}

// GetOperation возвращает операцию с результатами
func (s *PositionService) GetOperation(ctx context.Context, id int64) (*OperationDetail, error) {
	op, err := s.operations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := s.operations.GetResults(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load results of operation %d: %w", id, err)
	}
	if results == nil {
		results = []models.CloseResult{}
	}
	return &OperationDetail{CloseOperation: op, Results: results}, nil
}

// ============ Счёт ============

// LatestAccount возвращает последний снимок счёта
func (s *PositionService) LatestAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	return s.accounts.Latest(ctx)
}

// AccountHistory возвращает снимки счёта за последние hours часов
func (s *PositionService) AccountHistory(ctx context.Context, hours int) ([]*models.AccountSnapshot, error) {
	if hours <= 0 || hours > 720 {
		return nil, ErrInvalidHistoryRange
	}
	to := s.now().UTC()
	list, err := s.accounts.History(ctx, to.Add(-time.Duration(hours)*time.Hour), to)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.AccountSnapshot{}
	}
	return list, nil
}

// ============ Ручные команды ============

// RequestClose ставит ручную команду закрытия в очередь.
// Для single тикет обязан быть положительным и соответствовать живой позиции.
// pending_close принимается: после неудачного автоматического закрытия
// ручная команда повторяет его.
func (s *PositionService) RequestClose(ctx context.Context, opType string, ticket int64, requestedBy string) (*models.CloseCommand, error) {
	parsed, err := models.ParseOperationType(opType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOperation, opType)
	}

	cmd := &models.CloseCommand{
		OperationType: parsed,
		Status:        models.CommandPending,
		RequestedBy:   requestedBy,
		CreatedAt:     s.now().UTC(),
	}
	if parsed == models.OpSingle {
		if ticket <= 0 {
			return nil, ErrInvalidTicket
		}
		p, err := s.positions.GetByTicket(ctx, ticket)
		if err != nil {
			return nil, err
		}
		if !p.IsLive() {
			return nil, fmt.Errorf("%w: %d is %s", ErrPositionNotLive, ticket, p.Status)
		}
		cmd.Ticket = ticket
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	if err := s.commands.Create(ctx, cmd); err != nil {
		return nil, err
	}

	utils.L().WithComponent("positions").Info("close command queued",
		utils.Int64("command_id", cmd.ID),
		utils.String("operation_type", string(cmd.OperationType)),
		utils.Ticket(cmd.Ticket),
		utils.String("requested_by", requestedBy))

	if s.hub != nil {
		s.hub.Publish("close_command", cmd)
	}
	return cmd, nil
}

// GetCommand возвращает команду по ID
func (s *PositionService) GetCommand(ctx context.Context, id int64) (*models.CloseCommand, error) {
	return s.commands.GetByID(ctx, id)
}

// RecentCommands возвращает последние команды
func (s *PositionService) RecentCommands(ctx context.Context, limit int) ([]*models.CloseCommand, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	list, err := s.commands.GetRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.CloseCommand{}
	}
	return list, nil
}
