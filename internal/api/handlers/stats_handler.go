package handlers

import (
	"net/http"

	"profitguard/internal/models"
	"profitguard/internal/service"
)

// StatsHandler обрабатывает HTTP запросы для статистики закрытий.
//
// Endpoints:
// - GET /api/v1/stats - сводка за сегодня, неделю и месяц
// - GET /api/v1/stats/top-symbols?metric=profit|loss&days=30&limit=5
type StatsHandler struct {
	statsService service.StatsServiceInterface
}

// NewStatsHandler создает новый StatsHandler с внедрением зависимостей.
func NewStatsHandler(statsService service.StatsServiceInterface) *StatsHandler {
	return &StatsHandler{
		statsService: statsService,
	}
}

// GetStats возвращает агрегированную статистику.
//
// GET /api/v1/stats
//
// Response 200 OK:
//
//	{
//	  "today": {"operations": 3, "positions_closed": 7, "positions_failed": 0, "total_profit_closed": 84.2, "total_loss_closed": -12.5},
//	  "week": {...},
//	  "month": {...},
//	  "top_symbols_by_profit": [{"symbol": "XAUUSD", "value": 310.5}],
//	  "top_symbols_by_loss": [{"symbol": "GBPJPY", "value": -48.0}],
//	  "live_positions": 4,
//	  "generated_at": "2026-03-02T09:00:00Z"
//	}
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.statsService == nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "stats service not initialized", "")
		return
	}

	stats, err := h.statsService.GetStats(r.Context())
	if err != nil {
		respondWithServiceError(w, "failed to get stats", err)
		return
	}

	// Пустые массивы отдаются как [], а не null
	if stats.TopSymbolsByProfit == nil {
		stats.TopSymbolsByProfit = []models.SymbolStat{}
	}
	if stats.TopSymbolsByLoss == nil {
		stats.TopSymbolsByLoss = []models.SymbolStat{}
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// GetTopSymbols возвращает топ символов по метрике.
//
// GET /api/v1/stats/top-symbols?metric=profit|loss&days=30&limit=5
//
// Response 400 Bad Request:
//
//	{"error": "invalid metric", "details": "valid metrics: profit, loss"}
func (h *StatsHandler) GetTopSymbols(w http.ResponseWriter, r *http.Request) {
	if h.statsService == nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "stats service not initialized", "")
		return
	}

	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "profit"
	}
	if metric != "profit" && metric != "loss" {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid metric", "valid metrics: profit, loss")
		return
	}

	limit := queryInt(r, "limit", 5)
	if limit > 20 {
		limit = 20
	}

	top, err := h.statsService.GetTopSymbols(r.Context(), metric, queryInt(r, "days", 30), limit)
	if err != nil {
		respondWithServiceError(w, "failed to get top symbols", err)
		return
	}
	if top == nil {
		top = []models.SymbolStat{}
	}
	respondWithJSON(w, http.StatusOK, top)
}
