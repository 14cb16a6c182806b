package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"profitguard/internal/service"
)

// HealthHandler - состояние процессов мониторинга
type HealthHandler struct {
	health service.HealthServiceInterface
}

// NewHealthHandler создает новый HealthHandler
func NewHealthHandler(health service.HealthServiceInterface) *HealthHandler {
	return &HealthHandler{health: health}
}

// Health - сводная проверка для балансировщиков и оркестратора.
// 200 если все процессы живы и пишут в хранилище, иначе 503.
//
// GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	summary, err := h.health.Summary(r.Context())
	if err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unavailable",
			"details": err.Error(),
		})
		return
	}

	status, code := "ok", http.StatusOK
	if !summary.Healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, map[string]interface{}{
		"status":     status,
		"processes":  len(summary.Processes),
		"checked_at": summary.CheckedAt,
	})
}

// Processes возвращает статусы всех процессов
//
// GET /api/v1/health/processes
func (h *HealthHandler) Processes(w http.ResponseWriter, r *http.Request) {
	summary, err := h.health.Summary(r.Context())
	if err != nil {
		respondWithServiceError(w, "failed to get process health", err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// ForgetProcess удаляет запись о выведенном процессе
//
// DELETE /api/v1/health/processes/{id}
func (h *HealthHandler) ForgetProcess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "process id is required", "")
		return
	}
	if err := h.health.Forget(r.Context(), id); err != nil {
		respondWithServiceError(w, "failed to forget process", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
