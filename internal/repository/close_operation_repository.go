package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"profitguard/internal/models"
)

const closeOperationColumns = `id, batch_id, operation_type, trigger_source, process_id, created_at,
	positions_closed, positions_failed, total_profit_closed, total_loss_closed, status,
	error_message, finished_at`

// CloseOperationRepository - журнал пакетов закрытия и их результатов
type CloseOperationRepository struct {
	db *sql.DB
}

// NewCloseOperationRepository создает новый экземпляр репозитория
func NewCloseOperationRepository(db *sql.DB) *CloseOperationRepository {
	return &CloseOperationRepository{db: db}
}

// Create записывает операцию в статусе pending и заполняет op.ID
func (r *CloseOperationRepository) Create(ctx context.Context, op *models.CloseOperation) error {
	query := `
		INSERT INTO close_operations (batch_id, operation_type, trigger_source, process_id, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	if op.Status == "" {
		op.Status = models.OperationPending
	}

	err := r.db.QueryRowContext(ctx, query,
		op.BatchID,
		string(op.OperationType),
		string(op.Trigger),
		op.ProcessID,
		utc(op.Timestamp),
		string(op.Status),
	).Scan(&op.ID)
	return persistErr("create close operation", err)
}

// Finish сохраняет итоговые счётчики и результаты пакета в одной транзакции
func (r *CloseOperationRepository) Finish(ctx context.Context, op *models.CloseOperation, results []models.CloseResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("finish close operation", err)
	}
	defer tx.Rollback()

	finished := time.Now()
	if op.FinishedAt != nil {
		finished = *op.FinishedAt
	}

	update := `
		UPDATE close_operations
		SET positions_closed = $1, positions_failed = $2, total_profit_closed = $3,
			total_loss_closed = $4, status = $5, error_message = $6, finished_at = $7
		WHERE id = $8`

	result, err := tx.ExecContext(ctx, update,
		op.PositionsClosed,
		op.PositionsFailed,
		op.TotalProfitClosed,
		op.TotalLossClosed,
		string(op.Status),
		op.ErrorMessage,
		utc(finished),
		op.ID,
	)
	if err != nil {
		return persistErr("finish close operation", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return persistErr("finish close operation", err)
	}
	if n == 0 {
		return ErrCloseOperationNotFound
	}

	insert := `
		INSERT INTO close_results (operation_id, ticket, symbol, volume, partial, outcome, profit, attempts, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, res := range results {
		if _, err := tx.ExecContext(ctx, insert,
			op.ID, res.Ticket, res.Symbol, res.Volume, res.Partial,
			string(res.Outcome), res.Profit, res.Attempts, res.Error,
		); err != nil {
			return persistErr("insert close result", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("finish close operation", err)
	}
	op.FinishedAt = &finished
	return nil
}

// GetByID возвращает операцию по ID
func (r *CloseOperationRepository) GetByID(ctx context.Context, id int64) (*models.CloseOperation, error) {
	query := `SELECT ` + closeOperationColumns + ` FROM close_operations WHERE id = $1`

	op, err := scanCloseOperation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCloseOperationNotFound
		}
		return nil, err
	}
	return op, nil
}

// GetRecent возвращает последние операции (новые первыми)
func (r *CloseOperationRepository) GetRecent(ctx context.Context, limit int) ([]*models.CloseOperation, error) {
	query := `SELECT ` + closeOperationColumns + ` FROM close_operations ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.CloseOperation
	for rows.Next() {
		op, err := scanCloseOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetResults возвращает результаты по тикетам для операции
func (r *CloseOperationRepository) GetResults(ctx context.Context, operationID int64) ([]models.CloseResult, error) {
	query := `
		SELECT ticket, symbol, volume, partial, outcome, profit, attempts, error
		FROM close_results
		WHERE operation_id = $1
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.CloseResult
	for rows.Next() {
		var res models.CloseResult
		var outcome string
		if err := rows.Scan(&res.Ticket, &res.Symbol, &res.Volume, &res.Partial,
			&outcome, &res.Profit, &res.Attempts, &res.Error); err != nil {
			return nil, err
		}
		res.Outcome = models.CloseOutcome(outcome)
		results = append(results, res)
	}
	return results, rows.Err()
}

// Summary суммирует завершённые операции начиная с since
func (r *CloseOperationRepository) Summary(ctx context.Context, since time.Time) (models.PeriodStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(positions_closed), 0),
			COALESCE(SUM(positions_failed), 0),
			COALESCE(SUM(total_profit_closed), 0),
			COALESCE(SUM(total_loss_closed), 0)
		FROM close_operations
		WHERE created_at >= $1 AND status <> $2`

	var s models.PeriodStats
	err := r.db.QueryRowContext(ctx, query, utc(since), string(models.OperationPending)).Scan(
		&s.Operations,
		&s.PositionsClosed,
		&s.PositionsFailed,
		&s.TotalProfitClosed,
		&s.TotalLossClosed,
	)
	return s, err
}

// TopSymbols возвращает символы с наибольшей прибылью (byProfit) или убытком
// по выполненным закрытиям начиная с since
func (r *CloseOperationRepository) TopSymbols(ctx context.Context, since time.Time, limit int, byProfit bool) ([]models.SymbolStat, error) {
	having := `HAVING SUM(cr.profit) < 0 ORDER BY total ASC`
	if byProfit {
		having = `HAVING SUM(cr.profit) > 0 ORDER BY total DESC`
	}

	query := `
		SELECT cr.symbol, SUM(cr.profit) AS total
		FROM close_results cr
		JOIN close_operations co ON co.id = cr.operation_id
		WHERE co.created_at >= $1 AND cr.outcome IN ($2, $3)
		GROUP BY cr.symbol
		` + having + `
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, utc(since),
		string(models.OutcomeClosed), string(models.OutcomePartial), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.SymbolStat
	for rows.Next() {
		var s models.SymbolStat
		if err := rows.Scan(&s.Symbol, &s.Value); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// DeleteOlderThan удаляет операции и их результаты старше timestamp
func (r *CloseOperationRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr("delete close operations", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM close_results WHERE operation_id IN (SELECT id FROM close_operations WHERE created_at < $1)`,
		utc(timestamp)); err != nil {
		return 0, persistErr("delete close results", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM close_operations WHERE created_at < $1`, utc(timestamp))
	if err != nil {
		return 0, persistErr("delete close operations", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, persistErr("delete close operations", tx.Commit())
}

func scanCloseOperation(s rowScanner) (*models.CloseOperation, error) {
	op := &models.CloseOperation{}
	var opType, trigger, status string
	var finishedAt sql.NullTime

	err := s.Scan(
		&op.ID,
		&op.BatchID,
		&opType,
		&trigger,
		&op.ProcessID,
		&op.Timestamp,
		&op.PositionsClosed,
		&op.PositionsFailed,
		&op.TotalProfitClosed,
		&op.TotalLossClosed,
		&status,
		&op.ErrorMessage,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	op.OperationType = models.OperationType(opType)
	op.Trigger = models.Trigger(trigger)
	op.Status = models.OperationStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		op.FinishedAt = &t
	}
	return op, nil
}
