package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"profitguard/internal/models"
	"profitguard/pkg/utils"
)

// Ошибки сервиса автоматизации
var (
	ErrMaxRulesReached  = errors.New("maximum number of automation rules (100) reached")
	ErrInvalidDirection = errors.New("direction must be buy or sell")
)

// MaxRules - предел количества правил
const MaxRules = 100

// ActivePairSource - быстрое зеркало активных пар (Redis)
type ActivePairSource interface {
	ActivePairs(ctx context.Context) ([]*models.ActivePair, error)
	Remove(ctx context.Context, symbol string, direction models.Direction) error
}

// AutomationService - CRUD правил и чтение активных пар для панели.
// Оценку сигналов выполняет процесс automation; сервис только читает её итоги.
type AutomationService struct {
	store  AutomationRepositoryInterface
	mirror ActivePairSource
	hub    EventPublisher
	now    func() time.Time
}

// NewAutomationService создает новый экземпляр AutomationService
func NewAutomationService(store AutomationRepositoryInterface) *AutomationService {
	return &AutomationService{store: store, now: time.Now}
}

// SetMirror подключает зеркало активных пар
func (s *AutomationService) SetMirror(mirror ActivePairSource) {
	s.mirror = mirror
}

// SetWebSocketHub устанавливает hub для рассылки событий
func (s *AutomationService) SetWebSocketHub(hub EventPublisher) {
	s.hub = hub
}

// SetClock подменяет часы
func (s *AutomationService) SetClock(now func() time.Time) {
	s.now = now
}

// ============ Правила ============

// ListRules возвращает все правила
func (s *AutomationService) ListRules(ctx context.Context) ([]*models.AutomationRule, error) {
	rules, err := s.store.ListRules(ctx, false)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []*models.AutomationRule{}
	}
	return rules, nil
}

// GetRule возвращает правило по ID
func (s *AutomationService) GetRule(ctx context.Context, id int64) (*models.AutomationRule, error) {
	return s.store.GetRule(ctx, id)
}

// CreateRule проверяет и сохраняет новое правило
func (s *AutomationService) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	if err := rule.Normalize(); err != nil {
		return err
	}

	count, err := s.store.CountRules(ctx)
	if err != nil {
		return err
	}
	if count >= MaxRules {
		return ErrMaxRulesReached
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return err
	}

	utils.L().WithComponent("automation").Info("automation rule created",
		utils.Int64("rule_id", rule.ID),
		utils.String("name", rule.Name))
	s.publish("rule_created", rule)
	return nil
}

// UpdateRule проверяет и перезаписывает правило
func (s *AutomationService) UpdateRule(ctx context.Context, rule *models.AutomationRule) error {
	if err := rule.Normalize(); err != nil {
		return err
	}
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return err
	}
	s.publish("rule_updated", rule)
	return nil
}

// SetRuleEnabled включает или выключает правило
func (s *AutomationService) SetRuleEnabled(ctx context.Context, id int64, enabled bool) (*models.AutomationRule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Enabled == enabled {
		return rule, nil
	}
	rule.Enabled = enabled
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.publish("rule_updated", rule)
	return rule, nil
}

// DeleteRule удаляет правило.
// Опубликованные по нему активные пары истекают по своему TTL.
func (s *AutomationService) DeleteRule(ctx context.Context, id int64) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.publish("rule_deleted", map[string]int64{"id": id})
	return nil
}

// ============ Активные пары ============

// ActivePairs возвращает неистёкшие активные пары.
// Зеркало опрашивается первым; при его сбое ответ берётся из хранилища.
func (s *AutomationService) ActivePairs(ctx context.Context) ([]*models.ActivePair, error) {
	if s.mirror != nil {
		pairs, err := s.mirror.ActivePairs(ctx)
		if err == nil {
			return nonNilPairs(pairs), nil
		}
		utils.L().WithComponent("automation").Warn("active pair mirror unavailable", utils.Err(err))
	}
	pairs, err := s.store.ListActivePairs(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return nonNilPairs(pairs), nil
}

// DeactivatePair снимает активную пару досрочно
func (s *AutomationService) DeactivatePair(ctx context.Context, symbol, direction string) error {
	dir := models.Direction(strings.ToLower(strings.TrimSpace(direction)))
	if dir != models.DirectionBuy && dir != models.DirectionSell {
		return ErrInvalidDirection
	}
	symbol = utils.NormalizeSymbol(symbol)
	if err := utils.ValidateSymbol(symbol); err != nil {
		return err
	}
	if err := s.store.DeleteActivePair(ctx, symbol, dir); err != nil {
		return err
	}
	if s.mirror != nil {
		if err := s.mirror.Remove(ctx, symbol, dir); err != nil {
			utils.L().WithComponent("automation").Warn("failed to remove mirrored pair",
				utils.Symbol(symbol), utils.Err(err))
		}
	}
	s.publish("active_pair_removed", map[string]string{"symbol": symbol, "direction": string(dir)})
	return nil
}

// RuleMatches возвращает живые совпадения правил
func (s *AutomationService) RuleMatches(ctx context.Context) ([]models.RuleMatchResult, error) {
	matches, err := s.store.ListRuleMatches(ctx, s.now())
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []models.RuleMatchResult{}
	}
	return matches, nil
}

func (s *AutomationService) publish(event string, data interface{}) {
	if s.hub != nil {
		s.hub.Publish(event, data)
	}
}

func nonNilPairs(pairs []*models.ActivePair) []*models.ActivePair {
	if pairs == nil {
		return []*models.ActivePair{}
	}
	return pairs
}
