package models

import "time"

// Роли процессов мониторинга
const (
	RoleStandard   = "standard"   // процентные правила, обычный период
	RoleEnhanced   = "enhanced"   // процентные правила, быстрый период, параллельное закрытие
	RoleScouting   = "scouting"   // долларовые цели
	RoleCombined   = "combined"   // процентные правила и долларовые цели в одном процессе
	RoleAutomation = "automation" // правила автоматизации
	RoleServer     = "server"     // API
)

// ProcessHealth - статус процесса для панели.
// Потеря связи с площадкой видна как устаревший LastSuccessfulCycle.
type ProcessHealth struct {
	ProcessID           string     `json:"process_id" db:"process_id"`
	Role                string     `json:"role" db:"role"`
	LastCycleAt         time.Time  `json:"last_cycle_at" db:"last_cycle_at"`
	LastSuccessfulCycle *time.Time `json:"last_successful_cycle,omitempty" db:"last_successful_cycle"`
	ConsecutiveFailures int        `json:"consecutive_failures" db:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty" db:"last_error"`
	ConfigVersion       int64      `json:"config_version" db:"config_version"`
	PersistenceOK       bool       `json:"persistence_ok" db:"persistence_ok"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Stale - успешного цикла не было дольше maxAge
func (h *ProcessHealth) Stale(now time.Time, maxAge time.Duration) bool {
	if h.LastSuccessfulCycle == nil {
		return true
	}
	return now.Sub(*h.LastSuccessfulCycle) > maxAge
}
