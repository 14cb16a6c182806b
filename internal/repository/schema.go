package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schemaStatements - DDL всех таблиц.
// {{ID}} и {{TS}} подставляются по диалекту.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS positions (
		ticket BIGINT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		open_price DOUBLE PRECISION NOT NULL,
		current_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		peak_profit_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		open_time {{TS}} NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		category TEXT NOT NULL DEFAULT 'other',
		partial_closed BOOLEAN NOT NULL DEFAULT FALSE,
		magic BIGINT NOT NULL DEFAULT 0,
		comment TEXT NOT NULL DEFAULT '',
		first_seen_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL,
		closed_at {{TS}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status)`,

	`CREATE TABLE IF NOT EXISTS close_operations (
		id {{ID}},
		batch_id TEXT NOT NULL UNIQUE,
		operation_type TEXT NOT NULL,
		trigger_source TEXT NOT NULL,
		process_id TEXT NOT NULL,
		created_at {{TS}} NOT NULL,
		positions_closed INTEGER NOT NULL DEFAULT 0,
		positions_failed INTEGER NOT NULL DEFAULT 0,
		total_profit_closed DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_loss_closed DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		finished_at {{TS}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_close_operations_created ON close_operations (created_at)`,

	`CREATE TABLE IF NOT EXISTS close_results (
		id {{ID}},
		operation_id BIGINT NOT NULL,
		ticket BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		partial BOOLEAN NOT NULL DEFAULT FALSE,
		outcome TEXT NOT NULL,
		profit DOUBLE PRECISION NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_close_results_operation ON close_results (operation_id)`,

	`CREATE TABLE IF NOT EXISTS close_commands (
		id {{ID}},
		operation_type TEXT NOT NULL,
		ticket BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		requested_by TEXT NOT NULL DEFAULT '',
		created_at {{TS}} NOT NULL,
		processed_at {{TS}},
		operation_id BIGINT,
		error_message TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS account_snapshots (
		id {{ID}},
		process_id TEXT NOT NULL,
		total_positions INTEGER NOT NULL,
		total_profit DOUBLE PRECISION NOT NULL,
		total_loss DOUBLE PRECISION NOT NULL,
		net_profit DOUBLE PRECISION NOT NULL,
		balance DOUBLE PRECISION NOT NULL,
		equity DOUBLE PRECISION NOT NULL,
		margin DOUBLE PRECISION NOT NULL,
		free_margin DOUBLE PRECISION NOT NULL,
		created_at {{TS}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_account_snapshots_created ON account_snapshots (created_at)`,

	`CREATE TABLE IF NOT EXISTS settings_sections (
		section TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		version BIGINT NOT NULL,
		updated_at {{TS}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings_history (
		id {{ID}},
		section TEXT NOT NULL,
		event TEXT NOT NULL,
		param_key TEXT NOT NULL DEFAULT '',
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		changed_by TEXT NOT NULL DEFAULT '',
		changed_at {{TS}} NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settings_history_section ON settings_history (section, changed_at)`,

	`CREATE TABLE IF NOT EXISTS automation_rules (
		id {{ID}},
		user_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		symbols_json TEXT NOT NULL DEFAULT '[]',
		biases_json TEXT NOT NULL DEFAULT '[]',
		phases_json TEXT NOT NULL DEFAULT '[]',
		timeframes_json TEXT NOT NULL DEFAULT '[]',
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS active_pairs (
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		market_phase TEXT NOT NULL DEFAULT '',
		timeframes_json TEXT NOT NULL DEFAULT '[]',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		matched_rule_ids_json TEXT NOT NULL DEFAULT '[]',
		updated_at {{TS}} NOT NULL,
		expires_at {{TS}} NOT NULL,
		PRIMARY KEY (symbol, direction)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_active_pairs_expires ON active_pairs (expires_at)`,
	`CREATE TABLE IF NOT EXISTS rule_matches (
		rule_id BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		reasons_json TEXT NOT NULL DEFAULT '[]',
		matched_at {{TS}} NOT NULL,
		expires_at {{TS}} NOT NULL,
		PRIMARY KEY (rule_id, symbol)
	)`,

	`CREATE TABLE IF NOT EXISTS process_health (
		process_id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		last_cycle_at {{TS}} NOT NULL,
		last_successful_cycle {{TS}},
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		config_version BIGINT NOT NULL DEFAULT 0,
		persistence_ok BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at {{TS}} NOT NULL
	)`,
}

// renderSchema подставляет типы диалекта
func renderSchema(dialect Dialect) []string {
	r := strings.NewReplacer(
		"{{ID}}", "SERIAL PRIMARY KEY",
		"{{TS}}", "TIMESTAMPTZ",
	)
	if dialect == DialectSQLite {
		r = strings.NewReplacer(
			"{{ID}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{TS}}", "TIMESTAMP",
		)
	}
	out := make([]string, len(schemaStatements))
	for i, stmt := range schemaStatements {
		out[i] = r.Replace(stmt)
	}
	return out
}

// Migrate создаёт недостающие таблицы и индексы
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range renderSchema(dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
