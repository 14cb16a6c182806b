package monitor

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"profitguard/internal/models"
	"profitguard/pkg/utils"
)

// processCommands исполняет ручные команды из очереди.
//
// Каждая команда - отдельная операция закрытия с trigger = manual.
// Пороговые правила не применяются, проверка рынка применяется.
// Команда без единой исполнимой позиции (закрытый рынок или
// отсутствующий тикет) завершается как failed с причиной.
// Возвращает тикеты, по которым уже было действие в этом цикле.
func (e *Engine) processCommands(ctx context.Context, obs *Observation, gate *marketGate,
	cfg ExecutorConfig, report *CycleReport) map[int64]bool {

	handled := make(map[int64]bool)
	if e.commands == nil {
		return handled
	}

	for i := 0; i < e.cfg.CommandsPerCycle; i++ {
		cmd, err := e.commands.ClaimNext(ctx, e.now())
		if err != nil {
			PersistenceFailures.WithLabelValues("claim_command").Inc()
			e.log.Warn("failed to claim close command", utils.Err(err))
			return handled
		}
		if cmd == nil {
			return handled
		}
		report.Commands++

		log := e.log.With(utils.Int64("command_id", cmd.ID), utils.String("operation_type", string(cmd.OperationType)))
		if err := cmd.Validate(); err != nil {
			log.Warn("invalid close command", utils.Err(err))
			e.completeCommand(ctx, cmd, models.CommandFailed, nil, err.Error())
			continue
		}

		var intents []Intent
		var gated []string
		for _, p := range obs.Positions {
			if handled[p.Ticket] || !cmd.OperationType.Selects(&p, cmd.Ticket) {
				continue
			}
			if !gate.Open(ctx, p.Symbol) {
				report.MarketSkipped++
				MarketClosedSkips.Inc()
				if !slices.Contains(gated, p.Symbol) {
					gated = append(gated, p.Symbol)
				}
				continue
			}
			intents = append(intents, fullIntent(p, ReasonManual))
			handled[p.Ticket] = true
		}

		// single без позиции и команда, целиком упершаяся в закрытый рынок, не исполняются
		if len(intents) == 0 {
			reason := ""
			switch {
			case len(gated) > 0:
				reason = "market closed: " + strings.Join(gated, ",")
			case cmd.OperationType == models.OpSingle:
				reason = fmt.Sprintf("position %d is not open", cmd.Ticket)
			}
			if reason != "" {
				log.Warn("close command rejected", utils.String("reason", reason))
				e.completeCommand(ctx, cmd, models.CommandFailed, nil, reason)
				continue
			}
		}

		op, _, err := e.executor.ExecuteBatch(ctx, Batch{
			OperationType: cmd.OperationType,
			Trigger:       models.TriggerManual,
			Intents:       intents,
			Config:        cfg,
		})
		if err != nil {
			report.PersistenceOK = false
		}

		status := models.CommandDone
		reason := ""
		if len(gated) > 0 {
			reason = "skipped, market closed: " + strings.Join(gated, ",")
		}
		var opID *int64
		if op != nil {
			report.Manual = append(report.Manual, op)
			if op.ID != 0 {
				id := op.ID
				opID = &id
			}
			if op.Status == models.OperationFailed {
				status = models.CommandFailed
				reason = "all closes failed"
			}
		}
		log.Info("close command processed", utils.Int("positions", len(intents)), utils.String("status", string(status)))
		e.completeCommand(ctx, cmd, status, opID, reason)
	}
	return handled
}

func (e *Engine) completeCommand(ctx context.Context, cmd *models.CloseCommand, status models.CommandStatus, opID *int64, reason string) {
	if err := e.commands.Complete(ctx, cmd.ID, status, opID, reason, e.now()); err != nil {
		PersistenceFailures.WithLabelValues("complete_command").Inc()
		e.log.Warn("failed to complete close command", utils.Int64("command_id", cmd.ID), utils.Err(err))
	}
}
