package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Ошибки репозиториев
var (
	ErrPositionNotFound       = errors.New("position not found")
	ErrCloseOperationNotFound = errors.New("close operation not found")
	ErrCommandNotFound        = errors.New("close command not found")
	ErrSectionNotFound        = errors.New("settings section not found")
	ErrVersionConflict        = errors.New("settings version conflict")
	ErrRuleNotFound           = errors.New("automation rule not found")
	ErrInvalidTransition      = errors.New("invalid position status transition")
)

// PersistenceError - запись в хранилище не удалась.
// Состояние в памяти может расходиться с хранилищем до следующей успешной записи.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// persistErr оборачивает ошибку записи; sentinel-ошибки репозитория не оборачиваются
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrPositionNotFound, ErrCloseOperationNotFound, ErrCommandNotFound,
		ErrSectionNotFound, ErrVersionConflict, ErrRuleNotFound, ErrInvalidTransition,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistenceError проверяет, что ошибка пришла из слоя хранения
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// Dialect - диалект SQL для различий в DDL
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectFor определяет диалект по имени драйвера
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DBConfig - параметры подключения
type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Open открывает пул соединений и проверяет подключение.
// Для SQLite пул ограничен одним соединением: писатель в процессе всегда один,
// а параллельные процессы разводит WAL и busy_timeout.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	driverName := "postgres"
	if dialect == DialectSQLite {
		driverName = "sqlite"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	switch dialect {
	case DialectSQLite:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 25
		}
		maxIdle := cfg.MaxIdleConns
		if maxIdle <= 0 {
			maxIdle = 5
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxIdle)
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	// Проверка подключения
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to ping database: %w", err)
	}

	return db, dialect, nil
}

// SQLiteDSN собирает DSN для файла SQLite в режиме WAL.
// Время хранится в формате SQLite, чтобы сравнение строк совпадало с хронологией.
func SQLiteDSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_time_format=sqlite",
		path, busyTimeout.Milliseconds(),
	)
}

// utc приводит время к UTC; в SQLite время хранится строкой и сравнивается лексикографически
func utc(t time.Time) time.Time {
	return t.UTC()
}

// placeholders возвращает "$start, $start+1, ..." для n параметров
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
