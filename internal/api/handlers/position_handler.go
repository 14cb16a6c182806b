package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"profitguard/internal/service"
)

// PositionHandler отдаёт позиции, операции закрытия и счёт, принимает ручные команды.
//
// Endpoints:
// - GET /api/v1/positions - живые позиции
// - GET /api/v1/positions?status=closed&hours=24 - недавно закрытые
// - GET /api/v1/positions/{ticket}
// - POST /api/v1/positions/close - ручная команда закрытия
// - GET /api/v1/commands?limit=50, GET /api/v1/commands/{id}
// - GET /api/v1/operations?limit=50, GET /api/v1/operations/{id}
// - GET /api/v1/account, GET /api/v1/account/history?hours=24
type PositionHandler struct {
	positions service.PositionServiceInterface
}

// NewPositionHandler создает новый PositionHandler
func NewPositionHandler(positions service.PositionServiceInterface) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// CloseRequest - тело ручной команды закрытия
type CloseRequest struct {
	OperationType string `json:"operation_type"` // single, profit, loss, all
	Ticket        int64  `json:"ticket,omitempty"`
	RequestedBy   string `json:"requested_by,omitempty"`
}

// ListPositions возвращает живые или недавно закрытые позиции
//
// GET /api/v1/positions?status=live|closed&hours=24&limit=100
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	switch status := r.URL.Query().Get("status"); status {
	case "", "live":
		list, err := h.positions.ListLive(r.Context())
		if err != nil {
			respondWithServiceError(w, "failed to list positions", err)
			return
		}
		respondWithJSON(w, http.StatusOK, list)
	case "closed":
		list, err := h.positions.RecentlyClosed(r.Context(), queryInt(r, "hours", 24), queryInt(r, "limit", 100))
		if err != nil {
			respondWithServiceError(w, "failed to list closed positions", err)
			return
		}
		respondWithJSON(w, http.StatusOK, list)
	default:
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid status", "valid values: live, closed")
	}
}

// GetPosition возвращает позицию по тикету
//
// GET /api/v1/positions/{ticket}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	ticket, ok := pathInt64(mux.Vars(r)["ticket"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid ticket", "")
		return
	}
	p, err := h.positions.GetPosition(r.Context(), ticket)
	if err != nil {
		respondWithServiceError(w, "failed to get position", err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

// RequestClose ставит ручную команду закрытия в очередь монитора
//
// POST /api/v1/positions/close
//
// Request body: {"operation_type": "single", "ticket": 1001}
//
// Response 202 Accepted: созданная команда со статусом pending
// Response 400 Bad Request: неизвестный тип или тикет
// Response 404 Not Found: тикет не найден
// Response 409 Conflict: позиция уже закрывается или закрыта
func (h *PositionHandler) RequestClose(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body", err.Error())
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = changedBy(r)
	}

	cmd, err := h.positions.RequestClose(r.Context(), req.OperationType, req.Ticket, req.RequestedBy)
	if err != nil {
		respondWithServiceError(w, "failed to queue close command", err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, cmd)
}

// ListCommands возвращает последние ручные команды
//
// GET /api/v1/commands?limit=50
func (h *PositionHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	list, err := h.positions.RecentCommands(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		respondWithServiceError(w, "failed to list commands", err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

// GetCommand возвращает команду со статусом выполнения
//
// GET /api/v1/commands/{id}
func (h *PositionHandler) GetCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid command id", "")
		return
	}
	cmd, err := h.positions.GetCommand(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "failed to get command", err)
		return
	}
	respondWithJSON(w, http.StatusOK, cmd)
}

// ListOperations возвращает последние операции закрытия
//
// GET /api/v1/operations?limit=50
func (h *PositionHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.positions.RecentOperations(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		respondWithServiceError(w, "failed to list operations", err)
		return
	}
	respondWithJSON(w, http.StatusOK, ops)
}

// GetOperation возвращает операцию с результатами по тикетам
//
// GET /api/v1/operations/{id}
func (h *PositionHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid operation id", "")
		return
	}
	op, err := h.positions.GetOperation(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "failed to get operation", err)
		return
	}
	respondWithJSON(w, http.StatusOK, op)
}

// GetAccount возвращает последний снимок счёта
//
// GET /api/v1/account
func (h *PositionHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	snap, err := h.positions.LatestAccount(r.Context())
	if err != nil {
		respondWithServiceError(w, "failed to get account", err)
		return
	}
	if snap == nil {
		respondWithError(w, http.StatusNotFound, CodeNotFound, "no account snapshots yet", "")
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

// GetAccountHistory возвращает снимки счёта за период
//
// GET /api/v1/account/history?hours=24
func (h *PositionHandler) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	list, err := h.positions.AccountHistory(r.Context(), queryInt(r, "hours", 24))
	if err != nil {
		respondWithServiceError(w, "failed to get account history", err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}
