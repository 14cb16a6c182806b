package venue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"profitguard/internal/models"
	"profitguard/pkg/ratelimit"
	"profitguard/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Коды возврата торгового сервера терминала
const (
	RetcodeOK            = 0
	RetcodeRequote       = 10004
	RetcodeReject        = 10006
	RetcodeCancel        = 10007
	RetcodePlaced        = 10008
	RetcodeDone          = 10009
	RetcodeDonePartial   = 10010
	RetcodeError         = 10011
	RetcodeTimeout       = 10012
	RetcodeInvalid       = 10013
	RetcodeInvalidVolume = 10014
	RetcodeMarketClosed  = 10018
	RetcodeNoMoney       = 10019
	RetcodePriceChanged  = 10020
	RetcodePriceOff      = 10021
	RetcodeTooMany       = 10024
	RetcodeAutoTrading   = 10027
	RetcodeLocked        = 10028
	RetcodeInvalidFill   = 10030
	RetcodeConnection    = 10031
	RetcodePositionGone  = 10036
)

// Режимы исполнения, перебираемые при коде 10030.
// Пустая строка - режим, который мост выбирает по символу.
var fillingModes = []string{"", "fok", "ioc", "return"}

const maxResponseSize = 4 << 20

// BridgeVenue - клиент HTTP-моста к торговому терминалу
type BridgeVenue struct {
	baseURL   string
	token     string
	timeout   time.Duration
	deviation int
	magic     int64

	http    *HTTPClient
	limiter *ratelimit.MultiLimiter
	log     *utils.Logger

	mu      sync.RWMutex
	symbols map[string]SymbolInfo
}

// NewBridgeVenue создаёт клиент моста
func NewBridgeVenue(cfg Config) (*BridgeVenue, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bridge base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid bridge url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Deviation <= 0 {
		cfg.Deviation = 20
	}

	limiter := ratelimit.NewMultiLimiter()
	if cfg.QueryRate > 0 {
		limiter.Add(ratelimit.CategoryQuery, cfg.QueryRate, cfg.QueryRate*2)
	}
	if cfg.TradeRate > 0 {
		limiter.Add(ratelimit.CategoryTrade, cfg.TradeRate, cfg.TradeRate*2)
	}

	httpCfg := DefaultHTTPClientConfig()
	httpCfg.TotalTimeout = cfg.Timeout + 5*time.Second

	return &BridgeVenue{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		timeout:   cfg.Timeout,
		deviation: cfg.Deviation,
		magic:     cfg.MagicOwner,
		http:      NewHTTPClient(httpCfg),
		limiter:   limiter,
		log:       utils.L().WithComponent("venue.bridge"),
		symbols:   make(map[string]SymbolInfo),
	}, nil
}

// Name возвращает имя площадки
func (b *BridgeVenue) Name() string {
	return "bridge"
}

// ============ DTO моста ============

type bridgeEnvelope struct {
	Retcode int                 `json:"retcode"`
	Comment string              `json:"comment"`
	Data    jsoniter.RawMessage `json:"data"`
}

type bridgePosition struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         int     `json:"type"` // 0 = buy, 1 = sell
	Volume       float64 `json:"volume"`
	PriceOpen    float64 `json:"price_open"`
	PriceCurrent float64 `json:"price_current"`
	Profit       float64 `json:"profit"`
	Time         int64   `json:"time"` // unix, секунды
	Magic        int64   `json:"magic"`
	Comment      string  `json:"comment"`
}

type bridgeSymbol struct {
	Name         string  `json:"name"`
	Path         string  `json:"path"`
	Category     string  `json:"category"`
	VolumeStep   float64 `json:"volume_step"`
	VolumeMin    float64 `json:"volume_min"`
	VolumeMax    float64 `json:"volume_max"`
	ContractSize float64 `json:"trade_contract_size"`
	SessionOpen  bool    `json:"session_open"`
}

type bridgeAccount struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	MarginFree float64 `json:"margin_free"`
	Currency   string  `json:"currency"`
}

type closeRequest struct {
	Ticket    int64   `json:"ticket"`
	Volume    float64 `json:"volume,omitempty"` // 0 = весь объём
	Deviation int     `json:"deviation"`
	Magic     int64   `json:"magic,omitempty"`
	Filling   string  `json:"filling,omitempty"`
	Comment   string  `json:"comment"`
}

// ============ Операции ============

// ListOpenPositions возвращает открытые позиции счёта
func (b *BridgeVenue) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	var raw []bridgePosition
	if err := b.doRequest(ctx, http.MethodGet, "/positions", nil, ratelimit.CategoryQuery, 0, &raw); err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		side := models.SideBuy
		if p.Type == 1 {
			side = models.SideSell
		}
		positions = append(positions, models.Position{
			Ticket:       p.Ticket,
			Symbol:       p.Symbol,
			Side:         side,
			Volume:       p.Volume,
			OpenPrice:    p.PriceOpen,
			CurrentPrice: p.PriceCurrent,
			Profit:       p.Profit,
			OpenTime:     time.Unix(p.Time, 0).UTC(),
			Magic:        p.Magic,
			Comment:      p.Comment,
		})
	}
	return positions, nil
}

// ClosePosition закрывает позицию встречной сделкой.
// При неподдерживаемом режиме исполнения перебирает остальные режимы.
func (b *BridgeVenue) ClosePosition(ctx context.Context, ticket int64, volume float64) (CloseStatus, error) {
	var lastErr error
	for _, filling := range fillingModes {
		req := closeRequest{
			Ticket:    ticket,
			Volume:    volume,
			Deviation: b.deviation,
			Magic:     b.magic,
			Filling:   filling,
			Comment:   "profitguard_close",
		}
		err := b.doRequest(ctx, http.MethodPost, "/positions/close", req, ratelimit.CategoryTrade, ticket, nil)
		if err == nil {
			return StatusClosed, nil
		}
		if status, ok := AsCloseStatus(err); ok {
			return status, nil
		}

		var ve *VenueError
		if errors.As(err, &ve) && ve.Code == RetcodeInvalidFill {
			b.log.Debug("filling mode rejected, trying next",
				utils.Ticket(ticket), utils.String("filling", filling))
			lastErr = err
			continue
		}
		return "", err
	}
	return "", lastErr
}

// IsMarketOpen проверяет торговую сессию символа
func (b *BridgeVenue) IsMarketOpen(ctx context.Context, symbol string) (bool, error) {
	var s bridgeSymbol
	path := "/symbols/" + url.PathEscape(symbol)
	if err := b.doRequest(ctx, http.MethodGet, path, nil, ratelimit.CategoryQuery, 0, &s); err != nil {
		return false, err
	}
	b.cacheSymbol(b.toSymbolInfo(symbol, s))
	return s.SessionOpen, nil
}

// AccountInfo возвращает состояние счёта
func (b *BridgeVenue) AccountInfo(ctx context.Context) (models.AccountInfo, error) {
	var a bridgeAccount
	if err := b.doRequest(ctx, http.MethodGet, "/account", nil, ratelimit.CategoryQuery, 0, &a); err != nil {
		return models.AccountInfo{}, err
	}
	return models.AccountInfo{
		Balance:    a.Balance,
		Equity:     a.Equity,
		Margin:     a.Margin,
		FreeMargin: a.MarginFree,
		Currency:   a.Currency,
	}, nil
}

// SymbolInfo возвращает параметры символа. Статические поля кэшируются
func (b *BridgeVenue) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	b.mu.RLock()
	info, ok := b.symbols[symbol]
	b.mu.RUnlock()
	if ok {
		return info, nil
	}

	var s bridgeSymbol
	path := "/symbols/" + url.PathEscape(symbol)
	if err := b.doRequest(ctx, http.MethodGet, path, nil, ratelimit.CategoryQuery, 0, &s); err != nil {
		return SymbolInfo{}, err
	}
	info = b.toSymbolInfo(symbol, s)
	b.cacheSymbol(info)
	return info, nil
}

// Close закрывает соединения
func (b *BridgeVenue) Close() error {
	b.http.Close()
	return nil
}

func (b *BridgeVenue) cacheSymbol(info SymbolInfo) {
	b.mu.Lock()
	b.symbols[info.Symbol] = info
	b.mu.Unlock()
}

func (b *BridgeVenue) toSymbolInfo(symbol string, s bridgeSymbol) SymbolInfo {
	category := models.ParseCategory(s.Category)
	if category == models.CategoryOther {
		category = categoryFromPath(s.Path)
	}
	if category == models.CategoryOther {
		category = models.CategoryForSymbol(symbol)
	}
	return SymbolInfo{
		Symbol:       symbol,
		Category:     category,
		VolumeStep:   s.VolumeStep,
		VolumeMin:    s.VolumeMin,
		VolumeMax:    s.VolumeMax,
		ContractSize: s.ContractSize,
		TradeOpen:    s.SessionOpen,
	}
}

// categoryFromPath разбирает путь символа в дереве терминала ("Forex\Majors\EURUSD")
func categoryFromPath(path string) models.Category {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "crypto"):
		return models.CategoryCrypto
	case strings.Contains(p, "metal"), strings.Contains(p, "commod"), strings.Contains(p, "energ"):
		return models.CategoryCommodity
	case strings.Contains(p, "forex"), strings.Contains(p, "fx"):
		return models.CategoryCurrency
	default:
		return models.CategoryOther
	}
}

// ============ Транспорт ============

// doRequest выполняет запрос к мосту и разбирает конверт ответа
func (b *BridgeVenue) doRequest(ctx context.Context, method, path string, body interface{}, category string, ticket int64, out interface{}) error {
	if err := b.limiter.Wait(ctx, category); err != nil {
		return transportError(b.Name(), ticket, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	start := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		return transportError(b.Name(), ticket, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportError(b.Name(), ticket, err)
	}

	b.log.Debug("bridge request",
		utils.String("method", method),
		utils.String("path", path),
		utils.Int("status", resp.StatusCode),
		utils.Latency(float64(time.Since(start).Microseconds())/1000))

	var env bridgeEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return &VenueError{Venue: b.Name(), Kind: KindTransient, Ticket: ticket,
				Code: resp.StatusCode, Message: "malformed bridge response", Err: err}
		}
	}

	if resp.StatusCode >= 300 {
		return b.httpError(resp.StatusCode, env, ticket)
	}
	if !successRetcode(env.Retcode) {
		return b.retcodeError(env.Retcode, env.Comment, ticket)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

func successRetcode(code int) bool {
	switch code {
	case RetcodeOK, RetcodeDone, RetcodePlaced, RetcodeDonePartial:
		return true
	default:
		return false
	}
}

// httpError переводит HTTP-статус в ошибку площадки.
// Код терминала в теле ответа точнее статуса и проверяется первым.
func (b *BridgeVenue) httpError(status int, env bridgeEnvelope, ticket int64) error {
	if env.Retcode != 0 && !successRetcode(env.Retcode) {
		return b.retcodeError(env.Retcode, env.Comment, ticket)
	}

	kind := KindRejected
	switch {
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		kind = KindTransient
	}
	msg := env.Comment
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &VenueError{Venue: b.Name(), Kind: kind, Ticket: ticket, Code: status, Message: msg}
}

func (b *BridgeVenue) retcodeError(code int, comment string, ticket int64) error {
	return &VenueError{Venue: b.Name(), Kind: RetcodeKind(code), Ticket: ticket, Code: code, Message: comment}
}

// RetcodeKind классифицирует код возврата терминала
func RetcodeKind(code int) ErrorKind {
	switch code {
	case RetcodeRequote, RetcodeReject, RetcodeCancel, RetcodeError, RetcodeTimeout,
		RetcodePriceChanged, RetcodePriceOff, RetcodeTooMany, RetcodeLocked, RetcodeConnection:
		return KindTransient
	case RetcodeMarketClosed:
		return KindMarketClosed
	case RetcodePositionGone:
		return KindAlreadyClosed
	default:
		return KindRejected
	}
}
