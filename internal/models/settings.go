package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"profitguard/pkg/utils"
)

// ============================================================
// Схема параметров
// ============================================================

// Секции параметров
const (
	SectionProfitMonitor  = "profit_monitor"
	SectionProfitScouting = "profit_scouting"
	SectionAutomation     = "automation"
)

// ParamType - объявленный тип параметра
type ParamType string

const (
	ParamFloat ParamType = "float"
	ParamInt   ParamType = "int"
	ParamBool  ParamType = "bool"
	ParamEnum  ParamType = "enum"
)

// ErrValidation - корень всех ошибок валидации параметров
var ErrValidation = errors.New("parameter validation failed")

// ValidationError - отклонённая запись параметров.
// Errors содержит все ключи, не прошедшие проверку.
type ValidationError struct {
	Section string                 `json:"section"`
	Errors  utils.ValidationErrors `json:"errors"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("section %s: %s", e.Section, e.Errors.Error())
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ParamSpec - объявление параметра: тип, диапазон, значение по умолчанию
type ParamSpec struct {
	Key         string    `json:"key"`
	Type        ParamType `json:"type"`
	Min         *float64  `json:"min,omitempty"`
	Max         *float64  `json:"max,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Default     any       `json:"default"`
	Description string    `json:"description,omitempty"`
}

// Normalize приводит значение к типу параметра и проверяет диапазон.
// Числа из JSON приходят как float64, из TOML как int64, строки допускаются для всех типов.
func (p ParamSpec) Normalize(v any) (any, error) {
	switch p.Type {
	case ParamBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("expected bool, got %q", b)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("expected bool, got %T", v)
		}

	case ParamEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected one of %v, got %T", p.Enum, v)
		}
		for _, allowed := range p.Enum {
			if strings.EqualFold(s, allowed) {
				return allowed, nil
			}
		}
		return nil, fmt.Errorf("expected one of %v, got %q", p.Enum, s)

	case ParamFloat, ParamInt:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("value must be finite")
		}
		if p.Type == ParamInt && f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", f)
		}
		if p.Min != nil && f < *p.Min {
			return nil, fmt.Errorf("value %v below minimum %v", f, *p.Min)
		}
		if p.Max != nil && f > *p.Max {
			return nil, fmt.Errorf("value %v above maximum %v", f, *p.Max)
		}
		if p.Type == ParamInt {
			return int64(f), nil
		}
		return f, nil

	default:
		return nil, fmt.Errorf("unknown parameter type %q", p.Type)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// SectionSchema - набор объявленных параметров секции
type SectionSchema struct {
	Name   string
	Params []ParamSpec
	index  map[string]int
}

func newSection(name string, params ...ParamSpec) *SectionSchema {
	s := &SectionSchema{Name: name, Params: params, index: make(map[string]int, len(params))}
	for i, p := range params {
		s.index[p.Key] = i
	}
	return s
}

// Spec возвращает объявление параметра
func (s *SectionSchema) Spec(key string) (ParamSpec, bool) {
	i, ok := s.index[key]
	if !ok {
		return ParamSpec{}, false
	}
	return s.Params[i], true
}

// Keys возвращает ключи в порядке объявления
func (s *SectionSchema) Keys() []string {
	keys := make([]string, len(s.Params))
	for i, p := range s.Params {
		keys[i] = p.Key
	}
	return keys
}

// Defaults возвращает копию значений по умолчанию
func (s *SectionSchema) Defaults() map[string]any {
	out := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		out[p.Key] = p.Default
	}
	return out
}

// Validate проверяет частичный набор значений целиком.
// Возвращает нормализованные значения или *ValidationError со всеми ошибками.
func (s *SectionSchema) Validate(values map[string]any) (map[string]any, error) {
	var errs utils.ValidationErrors
	out := make(map[string]any, len(values))

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		spec, ok := s.Spec(k)
		if !ok {
			errs.Add(k, "unknown parameter")
			continue
		}
		v, err := spec.Normalize(values[k])
		if err != nil {
			errs.AddError(k, err)
			continue
		}
		out[k] = v
	}

	if errs.HasErrors() {
		return nil, &ValidationError{Section: s.Name, Errors: errs}
	}
	return out, nil
}

// withDefaults возвращает копию схемы с заменёнными значениями по умолчанию
func (s *SectionSchema) withDefaults(defaults map[string]any) *SectionSchema {
	params := make([]ParamSpec, len(s.Params))
	copy(params, s.Params)
	for i := range params {
		if v, ok := defaults[params[i].Key]; ok {
			params[i].Default = v
		}
	}
	return newSection(s.Name, params...)
}

func bound(v float64) *float64 { return &v }

func floatParam(key string, min, max, def float64, desc string) ParamSpec {
	return ParamSpec{Key: key, Type: ParamFloat, Min: bound(min), Max: bound(max), Default: def, Description: desc}
}

func intParam(key string, min, max float64, def int64, desc string) ParamSpec {
	return ParamSpec{Key: key, Type: ParamInt, Min: bound(min), Max: bound(max), Default: def, Description: desc}
}

func boolParam(key string, def bool, desc string) ParamSpec {
	return ParamSpec{Key: key, Type: ParamBool, Default: def, Description: desc}
}

func enumParam(key string, values []string, def string, desc string) ParamSpec {
	return ParamSpec{Key: key, Type: ParamEnum, Enum: values, Default: def, Description: desc}
}

// Registry - схемы всех секций
type Registry map[string]*SectionSchema

// DefaultRegistry возвращает схемы со статическими значениями по умолчанию
func DefaultRegistry() Registry {
	const maxTarget = 1e6
	return Registry{
		SectionProfitMonitor: newSection(SectionProfitMonitor,
			floatParam("min_profit_percent", 0.01, 100, 0.5, "profit percent that arms the trailing stop"),
			floatParam("trailing_stop_percent", 0.01, 100, 0.2, "retracement from peak that triggers a full close"),
			intParam("check_interval", 1, 3600, 10, "seconds between monitor cycles"),
			boolParam("partial_close_enabled", true, "lock part of the position once"),
			floatParam("partial_close_threshold", 0.01, 100, 1.0, "profit percent for the partial close"),
			floatParam("partial_close_percent", 1, 99, 40, "percent of current volume to close"),
			intParam("max_retries", 0, 10, 3, "retries after the first failed close attempt"),
			floatParam("retry_delay", 0, 60, 1, "seconds between close attempts"),
			boolParam("enable_market_check", true, "skip actions while the market is closed"),
			intParam("max_parallel_closes", 1, 64, 8, "close worker pool size"),
			intParam("close_timeout", 1, 120, 10, "seconds per close attempt"),
			enumParam("log_level", []string{"DEBUG", "INFO", "WARNING", "ERROR"}, "INFO", "log level"),
		),
		SectionProfitScouting: newSection(SectionProfitScouting,
			boolParam("enabled", true, "dollar target closing"),
			enumParam("targets_mode", []string{"global", "by_category"}, "by_category", "target source"),
			floatParam("target_profit_position", 0, maxTarget, 8, "per position target, global mode"),
			floatParam("target_profit_pair", 0, maxTarget, 15, "per symbol target, global mode"),
			floatParam("total_target_profit", 0, maxTarget, 30, "account target, global mode"),
			floatParam("currency_target_position", 0, maxTarget, 6, ""),
			floatParam("currency_target_pair", 0, maxTarget, 12, ""),
			floatParam("currency_target_total", 0, maxTarget, 25, ""),
			floatParam("commodity_target_position", 0, maxTarget, 10, ""),
			floatParam("commodity_target_pair", 0, maxTarget, 20, ""),
			floatParam("commodity_target_total", 0, maxTarget, 40, ""),
			floatParam("crypto_target_position", 0, maxTarget, 15, ""),
			floatParam("crypto_target_pair", 0, maxTarget, 30, ""),
			floatParam("crypto_target_total", 0, maxTarget, 60, ""),
			intParam("check_interval", 1, 3600, 5, "seconds between scouting cycles"),
			intParam("max_retries", 0, 10, 3, ""),
			floatParam("retry_delay", 0, 60, 1, ""),
		),
		SectionAutomation: newSection(SectionAutomation,
			intParam("active_ttl_seconds", 5, 86400, 30, "active pair lifetime"),
			intParam("poll_seconds", 1, 3600, 10, "seconds between rule evaluations"),
		),
	}
}

// Section возвращает схему секции
func (r Registry) Section(name string) (*SectionSchema, bool) {
	s, ok := r[name]
	return s, ok
}

// WithOverridesFile возвращает реестр с заменой значений по умолчанию из TOML.
//
// Формат:
//
//	[profit_monitor]
//	check_interval = 5
//
// Диапазоны не переопределяются; новые значения проверяются по ним.
func (r Registry) WithOverridesFile(path string) (Registry, error) {
	var raw map[string]map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("decode overrides %s: %w", path, err)
	}
	return r.WithOverrides(raw)
}

// WithOverrides - то же для уже разобранных значений
func (r Registry) WithOverrides(raw map[string]map[string]any) (Registry, error) {
	out := make(Registry, len(r))
	for name, s := range r {
		out[name] = s
	}
	for section, values := range raw {
		s, ok := r[section]
		if !ok {
			return nil, fmt.Errorf("unknown section %q in overrides", section)
		}
		normalized, err := s.Validate(values)
		if err != nil {
			return nil, err
		}
		out[section] = s.withDefaults(normalized)
	}
	return out, nil
}

// ============================================================
// Снимок параметров
// ============================================================

// ParamSnapshot - неизменяемый снимок секции.
// Новые значения создают новый снимок, старый не меняется.
type ParamSnapshot struct {
	Section   string
	Version   int64
	ChangedAt time.Time
	ChangedBy string
	values    map[string]any
}

// NewParamSnapshot создаёт снимок, копируя значения
func NewParamSnapshot(section string, version int64, changedAt time.Time, changedBy string, values map[string]any) *ParamSnapshot {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &ParamSnapshot{Section: section, Version: version, ChangedAt: changedAt, ChangedBy: changedBy, values: cp}
}

// Get возвращает значение параметра
func (s *ParamSnapshot) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// All возвращает копию всех значений
func (s *ParamSnapshot) All() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Float возвращает числовой параметр (0 если отсутствует)
func (s *ParamSnapshot) Float(key string) float64 {
	f, _ := toFloat(s.values[key])
	return f
}

// Int возвращает целый параметр
func (s *ParamSnapshot) Int(key string) int64 {
	return int64(s.Float(key))
}

// Bool возвращает логический параметр
func (s *ParamSnapshot) Bool(key string) bool {
	b, _ := s.values[key].(bool)
	return b
}

// String возвращает строковый параметр
func (s *ParamSnapshot) String(key string) string {
	str, _ := s.values[key].(string)
	return str
}

// Seconds возвращает параметр в секундах как Duration
func (s *ParamSnapshot) Seconds(key string) time.Duration {
	return time.Duration(s.Float(key) * float64(time.Second))
}

// ProfitMonitorParams - типизированный вид секции profit_monitor
type ProfitMonitorParams struct {
	MinProfitPercent      float64
	TrailingStopPercent   float64
	CheckInterval         time.Duration
	PartialCloseEnabled   bool
	PartialCloseThreshold float64
	PartialClosePercent   float64
	MaxRetries            int
	RetryDelay            time.Duration
	EnableMarketCheck     bool
	MaxParallelCloses     int
	CloseTimeout          time.Duration
	LogLevel              string
}

// ProfitMonitor строит типизированный вид из снимка секции profit_monitor
func (s *ParamSnapshot) ProfitMonitor() ProfitMonitorParams {
	return ProfitMonitorParams{
		MinProfitPercent:      s.Float("min_profit_percent"),
		TrailingStopPercent:   s.Float("trailing_stop_percent"),
		CheckInterval:         s.Seconds("check_interval"),
		PartialCloseEnabled:   s.Bool("partial_close_enabled"),
		PartialCloseThreshold: s.Float("partial_close_threshold"),
		PartialClosePercent:   s.Float("partial_close_percent"),
		MaxRetries:            int(s.Int("max_retries")),
		RetryDelay:            s.Seconds("retry_delay"),
		EnableMarketCheck:     s.Bool("enable_market_check"),
		MaxParallelCloses:     int(s.Int("max_parallel_closes")),
		CloseTimeout:          s.Seconds("close_timeout"),
		LogLevel:              s.String("log_level"),
	}
}

// DollarTargets - долларовые цели для категории
type DollarTargets struct {
	Position float64
	Pair     float64
	Total    float64
}

// ScoutingParams - типизированный вид секции profit_scouting
type ScoutingParams struct {
	Enabled       bool
	ByCategory    bool
	Global        DollarTargets
	Categories    map[Category]DollarTargets
	CheckInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

// TargetsFor возвращает цели для категории.
// В режиме global и для категории other используются глобальные цели.
func (p ScoutingParams) TargetsFor(c Category) DollarTargets {
	if p.ByCategory {
		if t, ok := p.Categories[c]; ok {
			return t
		}
	}
	return p.Global
}

// Scouting строит типизированный вид из снимка секции profit_scouting
func (s *ParamSnapshot) Scouting() ScoutingParams {
	cat := func(prefix string) DollarTargets {
		return DollarTargets{
			Position: s.Float(prefix + "_target_position"),
			Pair:     s.Float(prefix + "_target_pair"),
			Total:    s.Float(prefix + "_target_total"),
		}
	}
	return ScoutingParams{
		Enabled:    s.Bool("enabled"),
		ByCategory: s.String("targets_mode") == "by_category",
		Global: DollarTargets{
			Position: s.Float("target_profit_position"),
			Pair:     s.Float("target_profit_pair"),
			Total:    s.Float("total_target_profit"),
		},
		Categories: map[Category]DollarTargets{
			CategoryCurrency:  cat("currency"),
			CategoryCommodity: cat("commodity"),
			CategoryCrypto:    cat("crypto"),
		},
		CheckInterval: s.Seconds("check_interval"),
		MaxRetries:    int(s.Int("max_retries")),
		RetryDelay:    s.Seconds("retry_delay"),
	}
}

// AutomationParams - типизированный вид секции automation
type AutomationParams struct {
	ActiveTTL time.Duration
	Poll      time.Duration
}

// Automation строит типизированный вид из снимка секции automation
func (s *ParamSnapshot) Automation() AutomationParams {
	return AutomationParams{
		ActiveTTL: s.Seconds("active_ttl_seconds"),
		Poll:      s.Seconds("poll_seconds"),
	}
}

// ============================================================
// Хранимый документ секции
// ============================================================

// События изменения параметров
const (
	EventInit   = "init"
	EventUpdate = "update"
	EventReset  = "reset"
)

// ParamEntry - значение параметра вместе с объявлением
type ParamEntry struct {
	Value   any       `json:"value"`
	Type    ParamType `json:"type"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	Enum    []string  `json:"enum,omitempty"`
	Default any       `json:"default"`
}

// DocumentMetadata - кто, когда и что поменял последним
type DocumentMetadata struct {
	ChangedBy      string         `json:"changed_by"`
	ChangedAt      time.Time      `json:"changed_at"`
	Event          string         `json:"event"`
	PreviousValues map[string]any `json:"previous_values,omitempty"`
}

// ParamDocument - хранимое представление секции
type ParamDocument struct {
	Parameters map[string]ParamEntry `json:"parameters"`
	Metadata   DocumentMetadata      `json:"metadata"`
}

// BuildDocument собирает документ из значений и схемы
func BuildDocument(schema *SectionSchema, values map[string]any, meta DocumentMetadata) ParamDocument {
	doc := ParamDocument{Parameters: make(map[string]ParamEntry, len(schema.Params)), Metadata: meta}
	for _, p := range schema.Params {
		v, ok := values[p.Key]
		if !ok {
			v = p.Default
		}
		doc.Parameters[p.Key] = ParamEntry{
			Value: v, Type: p.Type, Min: p.Min, Max: p.Max, Enum: p.Enum, Default: p.Default,
		}
	}
	return doc
}

// Values извлекает значения из документа, нормализуя их по схеме.
// Ключи, которых нет в схеме, отбрасываются; отсутствующие и невалидные
// получают значение по умолчанию (документ мог записать процесс другой версии).
func (d ParamDocument) Values(schema *SectionSchema) map[string]any {
	out := schema.Defaults()
	for _, p := range schema.Params {
		entry, ok := d.Parameters[p.Key]
		if !ok {
			continue
		}
		if v, err := p.Normalize(entry.Value); err == nil {
			out[p.Key] = v
		}
	}
	return out
}

// SettingsChange - строка журнала изменений параметров
type SettingsChange struct {
	ID        int64     `json:"id" db:"id"`
	Section   string    `json:"section" db:"section"`
	Event     string    `json:"event" db:"event"`
	Key       string    `json:"key,omitempty" db:"param_key"`
	OldValue  string    `json:"old_value,omitempty" db:"old_value"`
	NewValue  string    `json:"new_value,omitempty" db:"new_value"`
	ChangedBy string    `json:"changed_by" db:"changed_by"`
	ChangedAt time.Time `json:"changed_at" db:"changed_at"`
	Version   int64     `json:"version" db:"version"`
}
