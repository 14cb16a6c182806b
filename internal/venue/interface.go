// Package venue предоставляет единый интерфейс к торговой площадке,
// на которой открыты отслеживаемые позиции.
package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"profitguard/internal/models"
)

// Venue определяет операции площадки, нужные мониторингу
type Venue interface {
	// Name возвращает имя площадки для логов
	Name() string

	// ListOpenPositions возвращает все открытые позиции счёта
	ListOpenPositions(ctx context.Context) ([]models.Position, error)

	// ClosePosition закрывает позицию по тикету.
	// volume = 0 закрывает весь объём. Тикет, которого уже нет на площадке,
	// возвращается как StatusAlreadyClosed или StatusNotFound без ошибки.
	ClosePosition(ctx context.Context, ticket int64, volume float64) (CloseStatus, error)

	// IsMarketOpen проверяет, идут ли торги по символу
	IsMarketOpen(ctx context.Context, symbol string) (bool, error)

	// AccountInfo возвращает баланс и маржу счёта
	AccountInfo(ctx context.Context) (models.AccountInfo, error)

	// SymbolInfo возвращает шаг объёма и категорию символа
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)

	// Close освобождает соединения
	Close() error
}

// CloseStatus - успешный исход запроса на закрытие
type CloseStatus string

const (
	StatusClosed        CloseStatus = "closed"
	StatusAlreadyClosed CloseStatus = "already_closed"
	StatusNotFound      CloseStatus = "not_found"
)

// Outcome переводит статус площадки в исход намерения
func (s CloseStatus) Outcome(partial bool) models.CloseOutcome {
	switch s {
	case StatusAlreadyClosed:
		return models.OutcomeAlreadyClosed
	case StatusNotFound:
		return models.OutcomeNotFound
	default:
		if partial {
			return models.OutcomePartial
		}
		return models.OutcomeClosed
	}
}

// SymbolInfo - торговые параметры символа
type SymbolInfo struct {
	Symbol       string          `json:"symbol"`
	Category     models.Category `json:"category"`
	VolumeStep   float64         `json:"volume_step"`
	VolumeMin    float64         `json:"volume_min"`
	VolumeMax    float64         `json:"volume_max"`
	ContractSize float64         `json:"contract_size"`
	TradeOpen    bool            `json:"trade_open"`
}

// ============ Ошибки площадки ============

// ErrorKind - класс ошибки площадки
type ErrorKind string

const (
	KindTransient     ErrorKind = "transient"      // таймаут, лимит запросов, временный отказ
	KindAlreadyClosed ErrorKind = "already_closed" // позиция уже закрыта
	KindNotFound      ErrorKind = "not_found"      // тикета нет
	KindRejected      ErrorKind = "rejected"       // окончательный отказ
	KindMarketClosed  ErrorKind = "market_closed"  // торги по символу не идут
)

// VenueError - ошибка, возвращённая площадкой или транспортом
type VenueError struct {
	Venue   string
	Kind    ErrorKind
	Ticket  int64
	Code    int
	Message string
	Err     error
}

func (e *VenueError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Ticket != 0 {
		return fmt.Sprintf("%s: %s #%d (code %d): %s", e.Venue, e.Kind, e.Ticket, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s (code %d): %s", e.Venue, e.Kind, e.Code, msg)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// Retryable - повторять имеет смысл только временные ошибки
func (e *VenueError) Retryable() bool {
	return e.Kind == KindTransient
}

// Classify определяет класс ошибки.
// Таймауты и сбои транспорта временные, отмена контекста окончательная.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindRejected
	}
	// Сетевые ошибки и прочие сбои транспорта
	return KindTransient
}

// IsTransient проверяет, что ошибку нужно повторить
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

// IsMarketClosed проверяет, что действие подавлено закрытым рынком
func IsMarketClosed(err error) bool {
	return Classify(err) == KindMarketClosed
}

// AsCloseStatus переводит already_closed/not_found в успешный статус
func AsCloseStatus(err error) (CloseStatus, bool) {
	switch Classify(err) {
	case KindAlreadyClosed:
		return StatusAlreadyClosed, true
	case KindNotFound:
		return StatusNotFound, true
	default:
		return "", false
	}
}

// transportError оборачивает ошибку транспорта во временную ошибку площадки
func transportError(venue string, ticket int64, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &VenueError{Venue: venue, Kind: KindTransient, Ticket: ticket, Err: err}
}

// ============ Параметры подключения ============

// Config - параметры подключения к площадке
type Config struct {
	Kind       string        // bridge | paper
	BaseURL    string        // адрес HTTP-моста терминала
	Token      string        // токен моста
	Timeout    time.Duration // таймаут запроса
	QueryRate  float64       // запросов чтения в секунду
	TradeRate  float64       // запросов закрытия в секунду
	Deviation  int           // допустимое проскальзывание в пунктах
	MagicOwner int64         // magic, которым помечаются закрывающие сделки
}
