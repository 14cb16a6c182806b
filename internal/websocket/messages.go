package websocket

import "time"

// Типы событий панели
const (
	EventCycle           = "cycle"            // итог цикла мониторинга
	EventCloseOperation  = "close_operation"  // завершённая операция закрытия
	EventCloseCommand    = "close_command"    // ручная команда поставлена в очередь
	EventSettingsChanged = "settings_changed" // новая версия секции параметров
	EventStats           = "stats"            // агрегированная статистика
	EventAutomationCycle = "automation_cycle" // итог оценки правил
	EventRuleCreated     = "rule_created"
	EventRuleUpdated     = "rule_updated"
	EventRuleDeleted     = "rule_deleted"
	EventPairRemoved     = "active_pair_removed"
)

// Event - конверт всех сообщений, отправляемых клиентам
//
//	{"type": "close_operation", "timestamp": "...", "data": {...}}
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent создает событие с текущим временем
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
