package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"profitguard/internal/models"
)

const commandColumns = `id, operation_type, ticket, status, requested_by, created_at, processed_at, operation_id, error_message`

// CommandRepository - очередь ручных команд закрытия
type CommandRepository struct {
	db *sql.DB
}

// NewCommandRepository создает новый экземпляр репозитория
func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

// Create ставит команду в очередь
func (r *CommandRepository) Create(ctx context.Context, cmd *models.CloseCommand) error {
	query := `
		INSERT INTO close_commands (operation_type, ticket, status, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}
	cmd.Status = models.CommandPending

	err := r.db.QueryRowContext(ctx, query,
		string(cmd.OperationType),
		cmd.Ticket,
		string(cmd.Status),
		cmd.RequestedBy,
		utc(cmd.CreatedAt),
	).Scan(&cmd.ID)
	return persistErr("create close command", err)
}

// ClaimNext забирает самую старую ожидающую команду.
// Повторная проверка статуса во внешнем UPDATE отдаёт команду только одному процессу.
// Возвращает nil, nil если очередь пуста.
func (r *CommandRepository) ClaimNext(ctx context.Context, at time.Time) (*models.CloseCommand, error) {
	query := `
		UPDATE close_commands
		SET status = $1, processed_at = $2
		WHERE id = (SELECT id FROM close_commands WHERE status = $3 ORDER BY id LIMIT 1)
			AND status = $3
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		string(models.CommandProcessing), utc(at), string(models.CommandPending)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistErr("claim close command", err)
	}
	return r.GetByID(ctx, id)
}

// Complete фиксирует итог команды.
// reason сохраняется для failed, для done передается пустая строка.
func (r *CommandRepository) Complete(ctx context.Context, id int64, status models.CommandStatus, operationID *int64, reason string, at time.Time) error {
	query := `UPDATE close_commands SET status = $1, operation_id = $2, error_message = $3, processed_at = $4 WHERE id = $5`

	result, err := r.db.ExecContext(ctx, query, string(status), operationID, reason, utc(at), id)
	if err != nil {
		return persistErr("complete close command", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return persistErr("complete close command", err)
	}
	if n == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// GetByID возвращает команду по ID
func (r *CommandRepository) GetByID(ctx context.Context, id int64) (*models.CloseCommand, error) {
	query := `SELECT ` + commandColumns + ` FROM close_commands WHERE id = $1`

	cmd, err := scanCommand(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, err
	}
	return cmd, nil
}

// GetRecent возвращает последние команды
func (r *CommandRepository) GetRecent(ctx context.Context, limit int) ([]*models.CloseCommand, error) {
	query := `SELECT ` + commandColumns + ` FROM close_commands ORDER BY id DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []*models.CloseCommand
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func scanCommand(s rowScanner) (*models.CloseCommand, error) {
	cmd := &models.CloseCommand{}
	var opType, status string
	var processedAt sql.NullTime
	var operationID sql.NullInt64

	if err := s.Scan(&cmd.ID, &opType, &cmd.Ticket, &status, &cmd.RequestedBy,
		&cmd.CreatedAt, &processedAt, &operationID, &cmd.Error); err != nil {
		return nil, err
	}

	cmd.OperationType = models.OperationType(opType)
	cmd.Status = models.CommandStatus(status)
	if processedAt.Valid {
		t := processedAt.Time
		cmd.ProcessedAt = &t
	}
	if operationID.Valid {
		id := operationID.Int64
		cmd.OperationID = &id
	}
	return cmd, nil
}
