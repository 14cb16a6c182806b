package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"profitguard/internal/models"
	"profitguard/internal/service"
)

// SettingsHandler управляет версионированными секциями параметров
//
// Endpoints:
// - GET /api/v1/settings - все секции с версиями
// - GET /api/v1/settings/{section} - значения секции
// - GET /api/v1/settings/{section}/schema - объявленные параметры секции
// - PATCH|POST /api/v1/settings/{section} - изменение набора параметров
// - POST /api/v1/settings/{section}/reset - сброс к значениям по умолчанию
// - GET /api/v1/settings/{section}/history?limit=100 - журнал изменений
//
// Запись применяется целиком или не применяется вовсе. Процессы мониторинга
// подхватывают новую версию при ближайшей проверке.
type SettingsHandler struct {
	config service.ConfigManagerInterface
}

// NewSettingsHandler создает новый SettingsHandler
func NewSettingsHandler(config service.ConfigManagerInterface) *SettingsHandler {
	return &SettingsHandler{config: config}
}

// SectionResponse - снимок секции в API
type SectionResponse struct {
	Section   string         `json:"section"`
	Version   int64          `json:"version"`
	ChangedAt time.Time      `json:"changed_at"`
	ChangedBy string         `json:"changed_by,omitempty"`
	Values    map[string]any `json:"values"`
}

// SchemaResponse - схема секции в API
type SchemaResponse struct {
	Section string             `json:"section"`
	Params  []models.ParamSpec `json:"params"`
}

func toSectionResponse(snap *models.ParamSnapshot) SectionResponse {
	return SectionResponse{
		Section:   snap.Section,
		Version:   snap.Version,
		ChangedAt: snap.ChangedAt,
		ChangedBy: snap.ChangedBy,
		Values:    snap.All(),
	}
}

// ListSections возвращает все секции
//
// GET /api/v1/settings
func (h *SettingsHandler) ListSections(w http.ResponseWriter, r *http.Request) {
	sections := h.config.Sections()
	out := make([]SectionResponse, 0, len(sections))
	for _, name := range sections {
		snap, err := h.config.GetAll(name)
		if err != nil {
			respondWithServiceError(w, "failed to get settings", err)
			return
		}
		out = append(out, toSectionResponse(snap))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// GetSection возвращает текущие значения секции
//
// GET /api/v1/settings/{section}
//
// Response 200 OK:
//
//	{"section": "profit_monitor", "version": 3, "changed_at": "...", "values": {"trailing_stop_percent": 0.5}}
//
// Response 404 Not Found: неизвестная секция
func (h *SettingsHandler) GetSection(w http.ResponseWriter, r *http.Request) {
	snap, err := h.config.GetAll(mux.Vars(r)["section"])
	if err != nil {
		respondWithServiceError(w, "failed to get settings", err)
		return
	}
	respondWithJSON(w, http.StatusOK, toSectionResponse(snap))
}

// GetSchema возвращает объявленные параметры секции
//
// GET /api/v1/settings/{section}/schema
func (h *SettingsHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.config.Schema(mux.Vars(r)["section"])
	if err != nil {
		respondWithServiceError(w, "failed to get schema", err)
		return
	}
	respondWithJSON(w, http.StatusOK, SchemaResponse{Section: schema.Name, Params: schema.Params})
}

// UpdateSection применяет набор значений
//
// PATCH /api/v1/settings/{section}
//
// Request body: {"trailing_stop_percent": 0.7, "min_profit_percent": 0.3}
//
// Автор изменения берётся из заголовка X-Changed-By.
//
// Response 200 OK: новый снимок секции
// Response 400 Bad Request: {"error": "...", "code": "validation_failed", "fields": [{"field": "...", "message": "..."}]}
// Response 404 Not Found: неизвестная секция
func (h *SettingsHandler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := decodeBody(w, r, &values); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body", err.Error())
		return
	}
	if len(values) == 0 {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "no values to update", "")
		return
	}

	snap, err := h.config.UpdateBulk(r.Context(), mux.Vars(r)["section"], values, changedBy(r))
	if err != nil {
		respondWithServiceError(w, "failed to update settings", err)
		return
	}
	respondWithJSON(w, http.StatusOK, toSectionResponse(snap))
}

// ResetSection возвращает секцию к значениям по умолчанию
//
// POST /api/v1/settings/{section}/reset
func (h *SettingsHandler) ResetSection(w http.ResponseWriter, r *http.Request) {
	snap, err := h.config.Reset(r.Context(), mux.Vars(r)["section"], changedBy(r))
	if err != nil {
		respondWithServiceError(w, "failed to reset settings", err)
		return
	}
	respondWithJSON(w, http.StatusOK, toSectionResponse(snap))
}

// GetHistory возвращает журнал изменений секции
//
// GET /api/v1/settings/{section}/history?limit=100
func (h *SettingsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.config.History(r.Context(), mux.Vars(r)["section"], queryInt(r, "limit", 100))
	if err != nil {
		respondWithServiceError(w, "failed to get settings history", err)
		return
	}
	if history == nil {
		history = []models.SettingsChange{}
	}
	respondWithJSON(w, http.StatusOK, history)
}
