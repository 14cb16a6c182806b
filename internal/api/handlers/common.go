package handlers

import (
	"errors"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"profitguard/internal/models"
	"profitguard/internal/repository"
	"profitguard/internal/service"
	"profitguard/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details string                 `json:"details,omitempty"`
	Fields  utils.ValidationErrors `json:"fields,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Коды ошибок для клиента
const (
	CodeNotFound   = "not_found"
	CodeValidation = "validation_failed"
	CodeBadRequest = "bad_request"
	CodeConflict   = "conflict"
	CodeInternal   = "internal_error"
)

// maxBodyBytes - предел тела запроса
const maxBodyBytes = 1 << 20

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		utils.L().WithComponent("api").Warn("failed to encode response", utils.Err(err))
	}
}

// respondWithError отправляет JSON ошибку
func respondWithError(w http.ResponseWriter, code int, errCode, message, details string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Code: errCode, Details: details})
}

// respondWithServiceError переводит ошибку сервиса в HTTP статус.
// Неизвестные ошибки отдаются как 500 с текстом в details.
func respondWithServiceError(w http.ResponseWriter, message string, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: message, Code: CodeValidation, Details: err.Error(), Fields: verr.Errors,
		})
		return
	}
	var ferr utils.ValidationErrors
	if errors.As(err, &ferr) {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: message, Code: CodeValidation, Details: err.Error(), Fields: ferr,
		})
		return
	}

	switch {
	case errors.Is(err, repository.ErrPositionNotFound),
		errors.Is(err, repository.ErrCloseOperationNotFound),
		errors.Is(err, repository.ErrCommandNotFound),
		errors.Is(err, repository.ErrRuleNotFound),
		errors.Is(err, repository.ErrSectionNotFound),
		errors.Is(err, service.ErrUnknownSection):
		respondWithError(w, http.StatusNotFound, CodeNotFound, message, err.Error())

	case errors.Is(err, service.ErrUnknownKey),
		errors.Is(err, service.ErrInvalidTicket),
		errors.Is(err, service.ErrInvalidOperation),
		errors.Is(err, service.ErrInvalidHistoryRange),
		errors.Is(err, service.ErrInvalidDirection),
		errors.Is(err, utils.ErrInvalidSymbol):
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, message, err.Error())

	case errors.Is(err, service.ErrPositionNotLive),
		errors.Is(err, service.ErrMaxRulesReached),
		errors.Is(err, repository.ErrVersionConflict):
		respondWithError(w, http.StatusConflict, CodeConflict, message, err.Error())

	default:
		utils.L().WithComponent("api").Error(message, utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, message, err.Error())
	}
}

// decodeBody читает JSON тело запроса с ограничением размера
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// queryInt читает целый query параметр; пустое или нечисловое значение даёт def
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// pathInt64 читает положительный целый параметр пути
func pathInt64(raw string) (int64, bool) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// changedBy определяет автора изменения: заголовок X-Changed-By или "api"
func changedBy(r *http.Request) string {
	if who := r.Header.Get("X-Changed-By"); who != "" {
		return who
	}
	return "api"
}
