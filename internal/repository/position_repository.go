package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"profitguard/internal/models"
)

const positionColumns = `ticket, symbol, side, volume, open_price, current_price, profit, profit_percent,
	peak_profit_percent, open_time, status, category, partial_closed, magic, comment,
	first_seen_at, updated_at, closed_at`

// PositionRepository - работа с таблицей positions
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Upsert записывает наблюдение позиции с площадки.
//
// При конфликте по ticket обновляются рыночные поля, пик только растёт,
// а status, partial_closed и first_seen_at не трогаются.
// В p возвращаются сохранённые пик, статус и флаг частичного закрытия.
func (r *PositionRepository) Upsert(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (ticket, symbol, side, volume, open_price, current_price, profit,
			profit_percent, peak_profit_percent, open_time, status, category, partial_closed,
			magic, comment, first_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, $13, $14, $15, $15)
		ON CONFLICT (ticket) DO UPDATE SET
			symbol = excluded.symbol,
			side = excluded.side,
			volume = excluded.volume,
			open_price = excluded.open_price,
			current_price = excluded.current_price,
			profit = excluded.profit,
			profit_percent = excluded.profit_percent,
			peak_profit_percent = CASE
				WHEN excluded.peak_profit_percent > positions.peak_profit_percent
				THEN excluded.peak_profit_percent
				ELSE positions.peak_profit_percent
			END,
			category = excluded.category,
			magic = excluded.magic,
			comment = excluded.comment,
			updated_at = excluded.updated_at
		RETURNING peak_profit_percent, status, partial_closed`

	now := utc(p.UpdatedAt)
	if p.UpdatedAt.IsZero() {
		now = utc(time.Now())
	}

	var status string
	err := r.db.QueryRowContext(ctx, query,
		p.Ticket,
		p.Symbol,
		string(p.Side),
		p.Volume,
		p.OpenPrice,
		p.CurrentPrice,
		p.Profit,
		p.ProfitPercent,
		p.PeakProfitPercent,
		utc(p.OpenTime),
		string(models.StatusOpen),
		string(p.Category),
		p.Magic,
		p.Comment,
		now,
	).Scan(&p.PeakProfitPercent, &status, &p.PartialClosed)
	if err != nil {
		return persistErr("upsert position", err)
	}

	p.Status = models.PositionStatus(status)
	p.UpdatedAt = now
	return nil
}

// GetByTicket возвращает позицию по тикету
func (r *PositionRepository) GetByTicket(ctx context.Context, ticket int64) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE ticket = $1`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, ticket))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListLive возвращает все незакрытые позиции
func (r *PositionRepository) ListLive(ctx context.Context) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status <> $1 ORDER BY ticket`
	return r.list(ctx, query, string(models.StatusClosed))
}

// ListByStatus возвращает позиции с указанным статусом
func (r *PositionRepository) ListByStatus(ctx context.Context, status models.PositionStatus) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = $1 ORDER BY ticket`
	return r.list(ctx, query, string(status))
}

// ListRecentlyClosed возвращает закрытые позиции начиная с since
func (r *PositionRepository) ListRecentlyClosed(ctx context.Context, since time.Time, limit int) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE status = $1 AND closed_at >= $2
		ORDER BY closed_at DESC
		LIMIT $3`
	return r.list(ctx, query, string(models.StatusClosed), utc(since), limit)
}

func (r *PositionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// MarkPendingClose переводит open -> pending_close.
// Возвращает false, если позиция уже не в open.
func (r *PositionRepository) MarkPendingClose(ctx context.Context, ticket int64, at time.Time) (bool, error) {
	query := `UPDATE positions SET status = $1, updated_at = $2 WHERE ticket = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query,
		string(models.StatusPendingClose), utc(at), ticket, string(models.StatusOpen))
	if err != nil {
		return false, persistErr("mark pending close", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, persistErr("mark pending close", err)
	}
	return n > 0, nil
}

// MarkClosed переводит позицию в closed из любого живого статуса
func (r *PositionRepository) MarkClosed(ctx context.Context, ticket int64, at time.Time) (bool, error) {
	query := `UPDATE positions SET status = $1, closed_at = $2, updated_at = $2
		WHERE ticket = $3 AND status <> $1`

	result, err := r.db.ExecContext(ctx, query, string(models.StatusClosed), utc(at), ticket)
	if err != nil {
		return false, persistErr("mark closed", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, persistErr("mark closed", err)
	}
	return n > 0, nil
}

// MarkAbsentClosed закрывает живые позиции, которых нет в ответе площадки.
// Вызывается только после успешного запроса к площадке.
func (r *PositionRepository) MarkAbsentClosed(ctx context.Context, present []int64, at time.Time) (int64, error) {
	query := `UPDATE positions SET status = $1, closed_at = $2, updated_at = $2 WHERE status <> $1`
	args := []interface{}{string(models.StatusClosed), utc(at)}

	if len(present) > 0 {
		query += ` AND ticket NOT IN (` + placeholders(3, len(present)) + `)`
		for _, t := range present {
			args = append(args, t)
		}
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, persistErr("mark absent closed", err)
	}
	return result.RowsAffected()
}

// ClaimPartialClose атомарно ставит флаг частичного закрытия.
// true получает ровно один процесс.
func (r *PositionRepository) ClaimPartialClose(ctx context.Context, ticket int64) (bool, error) {
	query := `UPDATE positions SET partial_closed = TRUE
		WHERE ticket = $1 AND partial_closed = FALSE AND status = $2`

	result, err := r.db.ExecContext(ctx, query, ticket, string(models.StatusOpen))
	if err != nil {
		return false, persistErr("claim partial close", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, persistErr("claim partial close", err)
	}
	return n > 0, nil
}

// ReleasePartialClaim снимает флаг после неудачного частичного закрытия
func (r *PositionRepository) ReleasePartialClaim(ctx context.Context, ticket int64) error {
	query := `UPDATE positions SET partial_closed = FALSE WHERE ticket = $1`

	if _, err := r.db.ExecContext(ctx, query, ticket); err != nil {
		return persistErr("release partial claim", err)
	}
	return nil
}

// CountByStatus возвращает количество позиций по статусам
func (r *PositionRepository) CountByStatus(ctx context.Context) (map[models.PositionStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM positions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.PositionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.PositionStatus(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s rowScanner) (*models.Position, error) {
	p := &models.Position{}
	var side, status, category string
	var closedAt sql.NullTime

	err := s.Scan(
		&p.Ticket,
		&p.Symbol,
		&side,
		&p.Volume,
		&p.OpenPrice,
		&p.CurrentPrice,
		&p.Profit,
		&p.ProfitPercent,
		&p.PeakProfitPercent,
		&p.OpenTime,
		&status,
		&category,
		&p.PartialClosed,
		&p.Magic,
		&p.Comment,
		&p.FirstSeenAt,
		&p.UpdatedAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Side = models.Side(side)
	p.Status = models.PositionStatus(status)
	p.Category = models.Category(category)
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return p, nil
}
