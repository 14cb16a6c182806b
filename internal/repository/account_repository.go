package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"profitguard/internal/models"
)

const accountSnapshotColumns = `id, process_id, total_positions, total_profit, total_loss, net_profit,
	balance, equity, margin, free_margin, created_at`

// AccountRepository - история снимков счёта
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Insert добавляет снимок
func (r *AccountRepository) Insert(ctx context.Context, s *models.AccountSnapshot) error {
	query := `
		INSERT INTO account_snapshots (process_id, total_positions, total_profit, total_loss, net_profit,
			balance, equity, margin, free_margin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		s.ProcessID,
		s.TotalPositions,
		s.TotalProfit,
		s.TotalLoss,
		s.NetProfit,
		s.Balance,
		s.Equity,
		s.Margin,
		s.FreeMargin,
		utc(s.CreatedAt),
	).Scan(&s.ID)
	return persistErr("insert account snapshot", err)
}

// Latest возвращает последний снимок или nil
func (r *AccountRepository) Latest(ctx context.Context) (*models.AccountSnapshot, error) {
	query := `SELECT ` + accountSnapshotColumns + ` FROM account_snapshots ORDER BY created_at DESC, id DESC LIMIT 1`

	s, err := scanAccountSnapshot(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// History возвращает снимки в диапазоне (старые первыми)
func (r *AccountRepository) History(ctx context.Context, from, to time.Time) ([]*models.AccountSnapshot, error) {
	query := `SELECT ` + accountSnapshotColumns + ` FROM account_snapshots
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, utc(from), utc(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*models.AccountSnapshot
	for rows.Next() {
		s, err := scanAccountSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// DeleteOlderThan удаляет старые снимки
func (r *AccountRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM account_snapshots WHERE created_at < $1`, utc(timestamp))
	if err != nil {
		return 0, persistErr("delete account snapshots", err)
	}
	return result.RowsAffected()
}

func scanAccountSnapshot(s rowScanner) (*models.AccountSnapshot, error) {
	snap := &models.AccountSnapshot{}
	err := s.Scan(
		&snap.ID,
		&snap.ProcessID,
		&snap.TotalPositions,
		&snap.TotalProfit,
		&snap.TotalLoss,
		&snap.NetProfit,
		&snap.Balance,
		&snap.Equity,
		&snap.Margin,
		&snap.FreeMargin,
		&snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return snap, nil
}
