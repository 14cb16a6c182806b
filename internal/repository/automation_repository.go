package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"profitguard/internal/models"
)

const ruleColumns = `id, user_id, name, enabled, symbols_json, biases_json, phases_json, timeframes_json,
	created_at, updated_at`

const activePairColumns = `symbol, direction, market_phase, timeframes_json, confidence,
	matched_rule_ids_json, updated_at, expires_at`

// AutomationRepository - правила автоматизации, активные пары и совпадения правил
type AutomationRepository struct {
	db *sql.DB
}

// NewAutomationRepository создает новый экземпляр репозитория
func NewAutomationRepository(db *sql.DB) *AutomationRepository {
	return &AutomationRepository{db: db}
}

// ============================================================
// Правила
// ============================================================

// CreateRule создает правило и заполняет ID
func (r *AutomationRepository) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	query := `
		INSERT INTO automation_rules (user_id, name, enabled, symbols_json, biases_json, phases_json,
			timeframes_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	args, err := ruleJSONArgs(rule)
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx, query,
		rule.UserID, rule.Name, rule.Enabled, args[0], args[1], args[2], args[3], utc(now),
	).Scan(&rule.ID)
	return persistErr("create automation rule", err)
}

// UpdateRule перезаписывает правило целиком
func (r *AutomationRepository) UpdateRule(ctx context.Context, rule *models.AutomationRule) error {
	query := `
		UPDATE automation_rules
		SET user_id = $1, name = $2, enabled = $3, symbols_json = $4, biases_json = $5,
			phases_json = $6, timeframes_json = $7, updated_at = $8
		WHERE id = $9`

	rule.UpdatedAt = time.Now()
	args, err := ruleJSONArgs(rule)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query,
		rule.UserID, rule.Name, rule.Enabled, args[0], args[1], args[2], args[3],
		utc(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		return persistErr("update automation rule", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return persistErr("update automation rule", err)
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule удаляет правило и его совпадения.
// Уже опубликованные активные пары живут до истечения TTL.
func (r *AutomationRepository) DeleteRule(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("delete automation rule", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return persistErr("delete automation rule", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return persistErr("delete automation rule", err)
	}
	if n == 0 {
		return ErrRuleNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_matches WHERE rule_id = $1`, id); err != nil {
		return persistErr("delete rule matches", err)
	}
	return persistErr("delete automation rule", tx.Commit())
}

// GetRule возвращает правило по ID
func (r *AutomationRepository) GetRule(ctx context.Context, id int64) (*models.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// ListRules возвращает правила; enabledOnly отбирает только включённые
func (r *AutomationRepository) ListRules(ctx context.Context, enabledOnly bool) ([]*models.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules ORDER BY id`
	var args []interface{}
	if enabledOnly {
		query = `SELECT ` + ruleColumns + ` FROM automation_rules WHERE enabled = $1 ORDER BY id`
		args = append(args, true)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CountRules возвращает количество правил
func (r *AutomationRepository) CountRules(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM automation_rules`).Scan(&n)
	return n, err
}

func ruleJSONArgs(rule *models.AutomationRule) ([4]string, error) {
	var out [4]string
	for i, list := range [][]string{rule.Symbols, rule.Biases, rule.MarketPhases, rule.TimeframeChain} {
		if list == nil {
			list = []string{}
		}
		raw, err := json.Marshal(list)
		if err != nil {
			return out, err
		}
		out[i] = string(raw)
	}
	return out, nil
}

func scanRule(s rowScanner) (*models.AutomationRule, error) {
	rule := &models.AutomationRule{}
	var symbols, biases, phases, timeframes string

	if err := s.Scan(&rule.ID, &rule.UserID, &rule.Name, &rule.Enabled,
		&symbols, &biases, &phases, &timeframes, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		raw  string
		dest *[]string
	}{
		{symbols, &rule.Symbols},
		{biases, &rule.Biases},
		{phases, &rule.MarketPhases},
		{timeframes, &rule.TimeframeChain},
	} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, err
		}
	}
	return rule, nil
}

// ============================================================
// Активные пары
// ============================================================

// UpsertActivePair публикует пару или продлевает её TTL.
// Пара противоположного направления по тому же символу удаляется.
func (r *AutomationRepository) UpsertActivePair(ctx context.Context, pair *models.ActivePair) error {
	timeframes, err := json.Marshal(nonNilStrings(pair.Timeframes))
	if err != nil {
		return err
	}
	ruleIDs := pair.MatchedRuleIDs
	if ruleIDs == nil {
		ruleIDs = []int64{}
	}
	ids, err := json.Marshal(ruleIDs)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("upsert active pair", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM active_pairs WHERE symbol = $1 AND direction = $2`,
		pair.Symbol, string(pair.Direction.Opposite())); err != nil {
		return persistErr("remove opposite active pair", err)
	}

	query := `
		INSERT INTO active_pairs (symbol, direction, market_phase, timeframes_json, confidence,
			matched_rule_ids_json, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, direction) DO UPDATE SET
			market_phase = excluded.market_phase,
			timeframes_json = excluded.timeframes_json,
			confidence = excluded.confidence,
			matched_rule_ids_json = excluded.matched_rule_ids_json,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`

	if _, err := tx.ExecContext(ctx, query,
		pair.Symbol,
		string(pair.Direction),
		pair.MarketPhase,
		string(timeframes),
		pair.Confidence,
		string(ids),
		utc(pair.UpdatedAt),
		utc(pair.ExpiresAt),
	); err != nil {
		return persistErr("upsert active pair", err)
	}

	return persistErr("upsert active pair", tx.Commit())
}

// ListActivePairs возвращает пары, не истёкшие к моменту now
func (r *AutomationRepository) ListActivePairs(ctx context.Context, now time.Time) ([]*models.ActivePair, error) {
	query := `SELECT ` + activePairColumns + ` FROM active_pairs WHERE expires_at > $1 ORDER BY symbol, direction`

	rows, err := r.db.QueryContext(ctx, query, utc(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*models.ActivePair
	for rows.Next() {
		p := &models.ActivePair{}
		var direction, timeframes, ids string
		if err := rows.Scan(&p.Symbol, &direction, &p.MarketPhase, &timeframes, &p.Confidence,
			&ids, &p.UpdatedAt, &p.ExpiresAt); err != nil {
			return nil, err
		}
		p.Direction = models.Direction(direction)
		if err := json.Unmarshal([]byte(timeframes), &p.Timeframes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &p.MatchedRuleIDs); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// DeleteActivePair снимает пару досрочно
func (r *AutomationRepository) DeleteActivePair(ctx context.Context, symbol string, direction models.Direction) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM active_pairs WHERE symbol = $1 AND direction = $2`, symbol, string(direction))
	return persistErr("delete active pair", err)
}

// SweepExpired физически удаляет истёкшие пары и совпадения
func (r *AutomationRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM active_pairs WHERE expires_at <= $1`, utc(now))
	if err != nil {
		return 0, persistErr("sweep active pairs", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM rule_matches WHERE expires_at <= $1`, utc(now)); err != nil {
		return n, persistErr("sweep rule matches", err)
	}
	return n, nil
}

// ============================================================
// Совпадения правил
// ============================================================

// UpsertRuleMatch записывает совпадение правила по символу
func (r *AutomationRepository) UpsertRuleMatch(ctx context.Context, m models.RuleMatchResult, expiresAt time.Time) error {
	reasons, err := json.Marshal(nonNilStrings(m.Reasons))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rule_matches (rule_id, symbol, direction, reasons_json, matched_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rule_id, symbol) DO UPDATE SET
			direction = excluded.direction,
			reasons_json = excluded.reasons_json,
			matched_at = excluded.matched_at,
			expires_at = excluded.expires_at`

	_, err = r.db.ExecContext(ctx, query,
		m.RuleID, m.Symbol, string(m.Direction), string(reasons), utc(m.MatchedAt), utc(expiresAt))
	return persistErr("upsert rule match", err)
}

// ListRuleMatches возвращает живые совпадения
func (r *AutomationRepository) ListRuleMatches(ctx context.Context, now time.Time) ([]models.RuleMatchResult, error) {
	query := `
		SELECT m.rule_id, COALESCE(ar.name, ''), m.symbol, m.direction, m.reasons_json, m.matched_at
		FROM rule_matches m
		LEFT JOIN automation_rules ar ON ar.id = m.rule_id
		WHERE m.expires_at > $1
		ORDER BY m.symbol, m.rule_id`

	rows, err := r.db.QueryContext(ctx, query, utc(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.RuleMatchResult
	for rows.Next() {
		var m models.RuleMatchResult
		var direction, reasons string
		if err := rows.Scan(&m.RuleID, &m.RuleName, &m.Symbol, &direction, &reasons, &m.MatchedAt); err != nil {
			return nil, err
		}
		m.Direction = models.Direction(direction)
		m.Matched = true
		if err := json.Unmarshal([]byte(reasons), &m.Reasons); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
