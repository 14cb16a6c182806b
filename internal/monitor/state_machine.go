package monitor

import "profitguard/internal/models"

// ValidTransitions определяет допустимые переходы статуса позиции
var ValidTransitions = map[models.PositionStatus][]models.PositionStatus{
	models.StatusOpen:         {models.StatusPendingClose, models.StatusClosed},
	models.StatusPendingClose: {models.StatusClosed}, // неудачное закрытие остаётся в pending_close
	models.StatusClosed:       {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.PositionStatus) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusInfo возвращает описание статуса для UI
func StatusInfo(s models.PositionStatus) string {
	switch s {
	case models.StatusOpen:
		return "Позиция открыта, идёт мониторинг"
	case models.StatusPendingClose:
		return "Отправлено закрытие, ожидание подтверждения"
	case models.StatusClosed:
		return "Позиция закрыта"
	default:
		return "Неизвестный статус"
	}
}
