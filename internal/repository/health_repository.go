package repository

import (
	"context"
	"database/sql"

	"profitguard/internal/models"
)

// HealthRepository - статусы процессов
type HealthRepository struct {
	db *sql.DB
}

// NewHealthRepository создает новый экземпляр репозитория
func NewHealthRepository(db *sql.DB) *HealthRepository {
	return &HealthRepository{db: db}
}

// Upsert записывает статус процесса.
// last_successful_cycle не затирается пустым значением.
func (r *HealthRepository) Upsert(ctx context.Context, h *models.ProcessHealth) error {
	query := `
		INSERT INTO process_health (process_id, role, last_cycle_at, last_successful_cycle,
			consecutive_failures, last_error, config_version, persistence_ok, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (process_id) DO UPDATE SET
			role = excluded.role,
			last_cycle_at = excluded.last_cycle_at,
			last_successful_cycle = COALESCE(excluded.last_successful_cycle, process_health.last_successful_cycle),
			consecutive_failures = excluded.consecutive_failures,
			last_error = excluded.last_error,
			config_version = excluded.config_version,
			persistence_ok = excluded.persistence_ok,
			updated_at = excluded.updated_at`

	var lastOK interface{}
	if h.LastSuccessfulCycle != nil {
		lastOK = utc(*h.LastSuccessfulCycle)
	}

	_, err := r.db.ExecContext(ctx, query,
		h.ProcessID,
		h.Role,
		utc(h.LastCycleAt),
		lastOK,
		h.ConsecutiveFailures,
		h.LastError,
		h.ConfigVersion,
		h.PersistenceOK,
		utc(h.UpdatedAt),
	)
	return persistErr("upsert process health", err)
}

// List возвращает статусы всех процессов
func (r *HealthRepository) List(ctx context.Context) ([]*models.ProcessHealth, error) {
	query := `
		SELECT process_id, role, last_cycle_at, last_successful_cycle, consecutive_failures,
			last_error, config_version, persistence_ok, updated_at
		FROM process_health
		ORDER BY role, process_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.ProcessHealth
	for rows.Next() {
		h := &models.ProcessHealth{}
		var lastOK sql.NullTime
		if err := rows.Scan(&h.ProcessID, &h.Role, &h.LastCycleAt, &lastOK, &h.ConsecutiveFailures,
			&h.LastError, &h.ConfigVersion, &h.PersistenceOK, &h.UpdatedAt); err != nil {
			return nil, err
		}
		if lastOK.Valid {
			t := lastOK.Time
			h.LastSuccessfulCycle = &t
		}
		list = append(list, h)
	}
	return list, rows.Err()
}

// Delete удаляет запись процесса (при штатной остановке)
func (r *HealthRepository) Delete(ctx context.Context, processID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM process_health WHERE process_id = $1`, processID)
	return persistErr("delete process health", err)
}
