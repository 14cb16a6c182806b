package automation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"profitguard/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnsupportedPayload - ответ источника не содержит списка сигналов
var ErrUnsupportedPayload = errors.New("signal payload has no signal list")

// Ключи, под которыми источник может вернуть список сигналов
var envelopeKeys = []string{"data", "results", "items", "symbols"}

// ParseSignals разбирает ответ источника.
//
// Поддерживаемые формы:
//   - список объектов сигналов
//   - объект со списком под ключом data, results, items или symbols
//
// Элементы без символа пропускаются. Чтение одного таймфрейма
// ({"symbol", "timeframe", "signal", ...}) превращается в сигнал с одним таймфреймом.
func ParseSignals(payload []byte, receivedAt time.Time) ([]models.Signal, error) {
	var root interface{}
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	return parseRoot(root, receivedAt)
}

func parseRoot(root interface{}, receivedAt time.Time) ([]models.Signal, error) {
	items, ok := signalItems(root)
	if !ok {
		return nil, ErrUnsupportedPayload
	}

	signals := make([]models.Signal, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if s, ok := parseSignal(obj, receivedAt); ok {
			signals = append(signals, s)
		}
	}
	return signals, nil
}

func signalItems(root interface{}) ([]interface{}, bool) {
	switch v := root.(type) {
	case []interface{}:
		return v, true
	case map[string]interface{}:
		for _, key := range envelopeKeys {
			if inner, ok := v[key]; ok {
				list, ok := inner.([]interface{})
				return list, ok
			}
		}
	}
	return nil, false
}

func parseSignal(obj map[string]interface{}, receivedAt time.Time) (models.Signal, bool) {
	s := models.Signal{
		Symbol:      upper(obj["symbol"]),
		Bias:        models.NormalizeBias(text(obj["bias"])),
		MarketPhase: upper(obj["market_phase"]),
		Timeframes:  make(map[string]models.TimeframeSignal),
		ReceivedAt:  receivedAt,
	}
	if s.Symbol == "" {
		return s, false
	}
	if f, ok := number(obj["confidence"]); ok {
		s.Confidence = f
	}
	if f, ok := number(obj["price"]); ok {
		s.Price = f
	}
	if b, ok := obj["is_stale"].(bool); ok {
		s.IsStale = b
	}

	if tfs, ok := obj["timeframes"].(map[string]interface{}); ok {
		for tf, raw := range tfs {
			reading, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			s.Timeframes[strings.ToUpper(strings.TrimSpace(tf))] = parseTimeframe(reading)
		}
	}

	// Чтение одного таймфрейма
	if tf := upper(obj["timeframe"]); tf != "" {
		if _, exists := s.Timeframes[tf]; !exists {
			s.Timeframes[tf] = parseTimeframe(obj)
		}
	}
	return s, true
}

func parseTimeframe(obj map[string]interface{}) models.TimeframeSignal {
	tf := models.TimeframeSignal{
		Signal: upper(obj["signal"]),
		Trend:  upper(obj["trend"]),
	}
	if tf.Signal == "" {
		tf.Signal = "NEUTRAL"
	}
	if f, ok := number(obj["strength"]); ok {
		tf.Strength = f
	}
	if f, ok := number(obj["confidence"]); ok {
		tf.Confidence = f
	}
	return tf
}

// MergeBook сводит чтения по символу в одну книгу.
//
// Таймфреймы объединяются, более позднее чтение того же таймфрейма заменяет раннее.
// Скалярные поля берутся из последнего чтения, где они заданы; признак
// устаревания всегда берётся из последнего чтения.
// Результат отсортирован по символу.
func MergeBook(signals []models.Signal) []models.Signal {
	book := make(map[string]*models.Signal, len(signals))
	for _, s := range signals {
		cur, ok := book[s.Symbol]
		if !ok {
			cp := s
			cp.Timeframes = make(map[string]models.TimeframeSignal, len(s.Timeframes))
			for tf, v := range s.Timeframes {
				cp.Timeframes[tf] = v
			}
			book[s.Symbol] = &cp
			continue
		}

		if s.Bias != "" {
			cur.Bias = s.Bias
		}
		if s.MarketPhase != "" {
			cur.MarketPhase = s.MarketPhase
		}
		if s.Confidence != 0 {
			cur.Confidence = s.Confidence
		}
		if s.Price != 0 {
			cur.Price = s.Price
		}
		cur.IsStale = s.IsStale
		if s.ReceivedAt.After(cur.ReceivedAt) {
			cur.ReceivedAt = s.ReceivedAt
		}
		for tf, v := range s.Timeframes {
			cur.Timeframes[tf] = v
		}
	}

	out := make([]models.Signal, 0, len(book))
	for _, s := range book {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// nextPage определяет следующую страницу ответа.
// Порядок: ссылка next, пара page/total_pages (pages), полная страница списка.
func nextPage(root interface{}, currentURL string, currentPage, pageSize int) (string, int, bool) {
	obj, ok := root.(map[string]interface{})
	if !ok {
		return "", 0, false
	}

	if next := strings.TrimSpace(text(obj["next"])); next != "" {
		return next, 0, true
	}

	page, okPage := number(obj["page"])
	total, okTotal := number(obj["total_pages"])
	if !okTotal {
		total, okTotal = number(obj["pages"])
	}
	if okPage && okTotal && page > 0 {
		if page < total {
			return currentURL, int(page) + 1, true
		}
		return "", 0, false
	}

	if items, ok := signalItems(obj); ok && pageSize > 0 && len(items) >= pageSize {
		if currentPage <= 0 {
			return currentURL, 2, true
		}
		return currentURL, currentPage + 1, true
	}
	return "", 0, false
}

// ============ Приведение типов ============

func text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func upper(v interface{}) string {
	return strings.ToUpper(strings.TrimSpace(text(v)))
}

func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
