package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"profitguard/internal/models"
	"profitguard/internal/service"
)

// AutomationHandler - правила автоматизации и активные пары
//
// Endpoints:
// - GET /api/v1/automation/rules, POST /api/v1/automation/rules
// - GET|PUT|DELETE /api/v1/automation/rules/{id}
// - PATCH /api/v1/automation/rules/{id}/enabled
// - GET /api/v1/automation/active-pairs
// - DELETE /api/v1/automation/active-pairs/{symbol}/{direction}
// - GET /api/v1/automation/matches
type AutomationHandler struct {
	automation service.AutomationServiceInterface
}

// NewAutomationHandler создает новый AutomationHandler
func NewAutomationHandler(automation service.AutomationServiceInterface) *AutomationHandler {
	return &AutomationHandler{automation: automation}
}

// RuleRequest - тело создания и изменения правила
type RuleRequest struct {
	Name           string   `json:"name"`
	Enabled        *bool    `json:"enabled,omitempty"` // nil = включено
	Symbols        []string `json:"symbols"`
	Biases         []string `json:"biases"`
	MarketPhases   []string `json:"market_phases"`
	TimeframeChain []string `json:"timeframe_chain"`
}

func (req RuleRequest) toRule() *models.AutomationRule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &models.AutomationRule{
		Name:           req.Name,
		Enabled:        enabled,
		Symbols:        req.Symbols,
		Biases:         req.Biases,
		MarketPhases:   req.MarketPhases,
		TimeframeChain: req.TimeframeChain,
	}
}

// ListRules возвращает все правила
//
// GET /api/v1/automation/rules
func (h *AutomationHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.automation.ListRules(r.Context())
	if err != nil {
		respondWithServiceError(w, "failed to list rules", err)
		return
	}
	respondWithJSON(w, http.StatusOK, rules)
}

// GetRule возвращает правило
//
// GET /api/v1/automation/rules/{id}
func (h *AutomationHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid rule id", "")
		return
	}
	rule, err := h.automation.GetRule(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "failed to get rule", err)
		return
	}
	respondWithJSON(w, http.StatusOK, rule)
}

// CreateRule создает правило
//
// POST /api/v1/automation/rules
//
// Request body:
//
//	{"name": "trend", "symbols": ["EURUSD"], "biases": ["BULLISH"], "market_phases": ["EXPANSION"], "timeframe_chain": ["H4", "H1"]}
//
// Response 201 Created: созданное правило
// Response 400 Bad Request: ошибки фильтров по полям
// Response 409 Conflict: достигнут предел количества правил
func (h *AutomationHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body", err.Error())
		return
	}
	rule := req.toRule()
	if err := h.automation.CreateRule(r.Context(), rule); err != nil {
		respondWithServiceError(w, "failed to create rule", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, rule)
}

// UpdateRule перезаписывает правило
//
// PUT /api/v1/automation/rules/{id}
func (h *AutomationHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid rule id", "")
		return
	}
	var req RuleRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body", err.Error())
		return
	}

	existing, err := h.automation.GetRule(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "failed to update rule", err)
		return
	}
	rule := req.toRule()
	rule.ID = id
	rule.UserID = existing.UserID
	rule.CreatedAt = existing.CreatedAt
	if req.Enabled == nil {
		rule.Enabled = existing.Enabled
	}
	if err := h.automation.UpdateRule(r.Context(), rule); err != nil {
		respondWithServiceError(w, "failed to update rule", err)
		return
	}
	respondWithJSON(w, http.StatusOK, rule)
}

// SetRuleEnabled включает или выключает правило
//
// PATCH /api/v1/automation/rules/{id}/enabled
//
// Request body: {"enabled": false}
func (h *AutomationHandler) SetRuleEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid rule id", "")
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Enabled == nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "enabled flag is required", "")
		return
	}
	rule, err := h.automation.SetRuleEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		respondWithServiceError(w, "failed to update rule", err)
		return
	}
	respondWithJSON(w, http.StatusOK, rule)
}

// DeleteRule удаляет правило
//
// DELETE /api/v1/automation/rules/{id}
//
// Response 204 No Content
func (h *AutomationHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid rule id", "")
		return
	}
	if err := h.automation.DeleteRule(r.Context(), id); err != nil {
		respondWithServiceError(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivePairs возвращает неистёкшие активные пары
//
// GET /api/v1/automation/active-pairs
func (h *AutomationHandler) ActivePairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.automation.ActivePairs(r.Context())
	if err != nil {
		respondWithServiceError(w, "failed to list active pairs", err)
		return
	}
	respondWithJSON(w, http.StatusOK, pairs)
}

// DeactivatePair снимает активную пару до истечения TTL
//
// DELETE /api/v1/automation/active-pairs/{symbol}/{direction}
func (h *AutomationHandler) DeactivatePair(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.automation.DeactivatePair(r.Context(), vars["symbol"], vars["direction"]); err != nil {
		respondWithServiceError(w, "failed to deactivate pair", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RuleMatches возвращает живые совпадения правил
//
// GET /api/v1/automation/matches
func (h *AutomationHandler) RuleMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.automation.RuleMatches(r.Context())
	if err != nil {
		respondWithServiceError(w, "failed to list rule matches", err)
		return
	}
	respondWithJSON(w, http.StatusOK, matches)
}
