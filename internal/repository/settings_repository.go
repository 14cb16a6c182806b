package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"profitguard/internal/models"
)

// StoredSection - документ секции вместе с версией
type StoredSection struct {
	Section   string
	Document  models.ParamDocument
	Version   int64
	UpdatedAt time.Time
}

// SettingsRepository - работа с таблицами settings_sections и settings_history
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get возвращает документ секции
func (r *SettingsRepository) Get(ctx context.Context, section string) (*StoredSection, error) {
	query := `SELECT section, document, version, updated_at FROM settings_sections WHERE section = $1`

	stored := &StoredSection{}
	var raw string
	err := r.db.QueryRowContext(ctx, query, section).Scan(
		&stored.Section,
		&raw,
		&stored.Version,
		&stored.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSectionNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(raw), &stored.Document); err != nil {
		return nil, fmt.Errorf("decode settings document %s: %w", section, err)
	}
	return stored, nil
}

// Version возвращает текущую версию секции (0 если секции нет).
// Дешёвый запрос для опроса изменений.
func (r *SettingsRepository) Version(ctx context.Context, section string) (int64, error) {
	var version int64
	err := r.db.QueryRowContext(ctx,
		`SELECT version FROM settings_sections WHERE section = $1`, section).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// Versions возвращает версии всех секций
func (r *SettingsRepository) Versions(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT section, version FROM settings_sections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[string]int64)
	for rows.Next() {
		var section string
		var version int64
		if err := rows.Scan(&section, &version); err != nil {
			return nil, err
		}
		versions[section] = version
	}
	return versions, rows.Err()
}

// CreateIfMissing записывает начальный документ с версией 1.
// Возвращает false, если секцию уже создал другой процесс.
func (r *SettingsRepository) CreateIfMissing(ctx context.Context, section string, doc models.ParamDocument, at time.Time) (bool, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO settings_sections (section, document, version, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (section) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, section, string(raw), utc(at))
	if err != nil {
		return false, persistErr("create settings section", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, persistErr("create settings section", err)
	}
	if n == 0 {
		return false, nil
	}

	change := models.SettingsChange{Section: section, Event: models.EventInit, ChangedBy: doc.Metadata.ChangedBy, ChangedAt: at, Version: 1}
	if err := r.insertHistory(ctx, r.db, []models.SettingsChange{change}); err != nil {
		return true, err
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CompareAndSwap заменяет документ, если версия в хранилище равна expected.
// Версия увеличивается на единицу, журнал пишется в той же транзакции.
// При несовпадении версии возвращает ErrVersionConflict.
func (r *SettingsRepository) CompareAndSwap(ctx context.Context, section string, doc models.ParamDocument,
	expected int64, at time.Time, changes []models.SettingsChange) (int64, error) {

	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr("update settings section", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE settings_sections
		SET document = $1, version = version + 1, updated_at = $2
		WHERE section = $3 AND version = $4`

	result, err := tx.ExecContext(ctx, query, string(raw), utc(at), section, expected)
	if err != nil {
		return 0, persistErr("update settings section", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, persistErr("update settings section", err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}

	newVersion := expected + 1
	for i := range changes {
		changes[i].Section = section
		changes[i].Version = newVersion
		if changes[i].ChangedAt.IsZero() {
			changes[i].ChangedAt = at
		}
	}
	if err := r.insertHistory(ctx, tx, changes); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, persistErr("update settings section", err)
	}
	return newVersion, nil
}

func (r *SettingsRepository) insertHistory(ctx context.Context, ex execer, changes []models.SettingsChange) error {
	query := `
		INSERT INTO settings_history (section, event, param_key, old_value, new_value, changed_by, changed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, c := range changes {
		if _, err := ex.ExecContext(ctx, query,
			c.Section, c.Event, c.Key, c.OldValue, c.NewValue, c.ChangedBy, utc(c.ChangedAt), c.Version,
		); err != nil {
			return persistErr("insert settings history", err)
		}
	}
	return nil
}

// History возвращает журнал изменений секции (новые первыми)
func (r *SettingsRepository) History(ctx context.Context, section string, limit int) ([]models.SettingsChange, error) {
	query := `
		SELECT id, section, event, param_key, old_value, new_value, changed_by, changed_at, version
		FROM settings_history
		WHERE section = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, section, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.SettingsChange
	for rows.Next() {
		var c models.SettingsChange
		if err := rows.Scan(&c.ID, &c.Section, &c.Event, &c.Key, &c.OldValue, &c.NewValue,
			&c.ChangedBy, &c.ChangedAt, &c.Version); err != nil {
			return nil, err
		}
		history = append(history, c)
	}
	return history, rows.Err()
}
