package models

import (
	"fmt"
	"strings"
	"time"
)

// OperationType - тип пакетного закрытия
type OperationType string

const (
	OpSingle OperationType = "single" // одна позиция по тикету
	OpProfit OperationType = "profit" // все прибыльные
	OpLoss   OperationType = "loss"   // все убыточные
	OpAll    OperationType = "all"    // все открытые
)

// ParseOperationType разбирает тип операции
func ParseOperationType(s string) (OperationType, error) {
	switch OperationType(strings.ToLower(strings.TrimSpace(s))) {
	case OpSingle:
		return OpSingle, nil
	case OpProfit:
		return OpProfit, nil
	case OpLoss:
		return OpLoss, nil
	case OpAll:
		return OpAll, nil
	default:
		return "", fmt.Errorf("unknown operation type %q", s)
	}
}

// Selects проверяет, попадает ли позиция под тип операции.
// Для single сравнивается тикет.
func (t OperationType) Selects(p *Position, ticket int64) bool {
	switch t {
	case OpSingle:
		return p.Ticket == ticket
	case OpProfit:
		return p.Profit > 0
	case OpLoss:
		return p.Profit < 0
	case OpAll:
		return true
	default:
		return false
	}
}

// OperationStatus - состояние записи о пакетном закрытии
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// Trigger - кто инициировал пакет закрытий
type Trigger string

const (
	TriggerMonitor  Trigger = "monitor"  // процентные правила
	TriggerScouting Trigger = "scouting" // долларовые цели
	TriggerManual   Trigger = "manual"   // команда из панели
)

// CloseOperation - запись об одном пакете закрытий за цикл
type CloseOperation struct {
	ID                int64           `json:"id" db:"id"`
	BatchID           string          `json:"batch_id" db:"batch_id"`
	OperationType     OperationType   `json:"operation_type" db:"operation_type"`
	Trigger           Trigger         `json:"trigger" db:"trigger_source"`
	ProcessID         string          `json:"process_id" db:"process_id"`
	Timestamp         time.Time       `json:"timestamp" db:"created_at"`
	PositionsClosed   int             `json:"positions_closed" db:"positions_closed"`
	PositionsFailed   int             `json:"positions_failed" db:"positions_failed"`
	TotalProfitClosed float64         `json:"total_profit_closed" db:"total_profit_closed"`
	TotalLossClosed   float64         `json:"total_loss_closed" db:"total_loss_closed"`
	Status            OperationStatus `json:"status" db:"status"`
	ErrorMessage      string          `json:"error_message,omitempty" db:"error_message"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// CloseOutcome - итог одного намерения закрытия
type CloseOutcome string

const (
	OutcomeClosed        CloseOutcome = "closed"         // терминал закрыл позицию
	OutcomePartial       CloseOutcome = "partial"        // частичное закрытие выполнено
	OutcomeAlreadyClosed CloseOutcome = "already_closed" // закрыта кем-то раньше
	OutcomeNotFound      CloseOutcome = "not_found"      // тикета нет на площадке
	OutcomeFailed        CloseOutcome = "failed"         // повторы исчерпаны
	OutcomeSkipped       CloseOutcome = "skipped"        // рынок закрыт или намерение снято
)

// Succeeded - исход засчитывается как успешное закрытие.
// already_closed и not_found эквивалентны успеху.
func (o CloseOutcome) Succeeded() bool {
	switch o {
	case OutcomeClosed, OutcomePartial, OutcomeAlreadyClosed, OutcomeNotFound:
		return true
	default:
		return false
	}
}

// CloseResult - результат исполнения одного намерения
type CloseResult struct {
	Ticket   int64        `json:"ticket"`
	Symbol   string       `json:"symbol"`
	Volume   float64      `json:"volume"`
	Partial  bool         `json:"partial"`
	Outcome  CloseOutcome `json:"outcome"`
	Profit   float64      `json:"profit"` // прибыль закрытой части на момент решения
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}

// Summarize сводит результаты пакета в счётчики операции.
// Операция completed, если нет ни одного неуспешного исхода.
func (op *CloseOperation) Summarize(results []CloseResult) {
	var errs []string
	for _, r := range results {
		switch {
		case r.Outcome.Succeeded():
			op.PositionsClosed++
			if r.Profit >= 0 {
				op.TotalProfitClosed += r.Profit
			} else {
				op.TotalLossClosed += r.Profit
			}
		case r.Outcome == OutcomeFailed:
			op.PositionsFailed++
			errs = append(errs, fmt.Sprintf("#%d: %s", r.Ticket, r.Error))
		}
	}

	if op.PositionsFailed > 0 {
		op.Status = OperationFailed
		op.ErrorMessage = strings.Join(errs, "; ")
	} else {
		op.Status = OperationCompleted
	}
}

// CommandStatus - состояние ручной команды
type CommandStatus string

const (
	CommandPending    CommandStatus = "pending"
	CommandProcessing CommandStatus = "processing"
	CommandDone       CommandStatus = "done"
	CommandFailed     CommandStatus = "failed"
)

// CloseCommand - ручная команда закрытия из панели
type CloseCommand struct {
	ID            int64         `json:"id" db:"id"`
	OperationType OperationType `json:"operation_type" db:"operation_type"`
	Ticket        int64         `json:"ticket,omitempty" db:"ticket"` // только для single
	Status        CommandStatus `json:"status" db:"status"`
	RequestedBy   string        `json:"requested_by" db:"requested_by"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty" db:"processed_at"`
	OperationID   *int64        `json:"operation_id,omitempty" db:"operation_id"`
	Error         string        `json:"error,omitempty" db:"error_message"` // причина отказа для failed
}

// Validate проверяет согласованность команды
func (c *CloseCommand) Validate() error {
	if _, err := ParseOperationType(string(c.OperationType)); err != nil {
		return err
	}
	if c.OperationType == OpSingle && c.Ticket <= 0 {
		return fmt.Errorf("single close requires a positive ticket")
	}
	return nil
}
