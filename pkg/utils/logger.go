package utils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logger.go - структурированное логирование на базе zap
//
// Назначение:
// Единый логгер для всех процессов (monitor, automation, server).
//
// Возможности:
// - формат json или text (console encoder)
// - вывод в stdout/stderr или файл с ротацией (lumberjack)
// - уровень меняется на лету через SetLevel (параметр log_level)
// - глобальный логгер и хелперы с контекстными полями

// LogConfig - параметры инициализации логгера
type LogConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	Output      string // stdout, stderr или путь к файлу
	Development bool

	// Ротация (только для файлового вывода)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger - обёртка над zap.Logger с sugared-вариантом и управляемым уровнем
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт логгер по конфигурации.
// Пустые поля получают значения по умолчанию: info, json, stdout.
// Если файл недоступен для записи, вывод идёт в stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	writer, isFile := openOutput(cfg)

	var encoder zapcore.Encoder
	// В файл всегда пишем JSON, чтобы логи можно было разбирать
	if strings.EqualFold(cfg.Format, "text") && !isFile {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, writer, level)

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	z := zap.New(core, opts...)
	return &Logger{
		Logger: z,
		sugar:  z.Sugar(),
		level:  level,
	}
}

// openOutput возвращает приёмник логов и признак файлового вывода
func openOutput(cfg LogConfig) (zapcore.WriteSyncer, bool) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), false
	case "stderr":
		return zapcore.Lock(os.Stderr), false
	}

	if cfg.Output == os.DevNull {
		f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return zapcore.Lock(os.Stderr), false
		}
		return zapcore.AddSync(f), true
	}

	// Проверяем, что файл можно открыть, до передачи в lumberjack:
	// lumberjack откроет файл лениво и ошибка всплывёт только при записи
	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return zapcore.Lock(os.Stderr), false
	}
	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zapcore.Lock(os.Stderr), false
	}
	f.Close()

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}), true
}

// parseLevel переводит строковый уровень в zapcore.Level.
// Понимает "warning" (так уровень хранится в параметрах), неизвестное -> info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel меняет уровень логирования без пересоздания логгера
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(parseLevel(level))
}

// Level возвращает текущий уровень
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// ============ Глобальный логгер ============

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая его с настройками по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============ Контекстные логгеры ============

// With возвращает дочерний логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.Logger.With(fields...)
	return &Logger{Logger: z, sugar: z.Sugar(), level: l.level}
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Component(component))
}

func (l *Logger) WithRole(role string) *Logger {
	return l.With(Role(role))
}

func (l *Logger) WithTicket(ticket int64) *Logger {
	return l.With(Ticket(ticket))
}

func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

func (l *Logger) WithOperationID(id int64) *Logger {
	return l.With(OperationID(id))
}

// Sugar возвращает sugared-логгер для printf-стиля
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============ Глобальные функции ============

func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

func Debugf(template string, args ...interface{}) {
	L().sugar.Debugf(template, args...)
}

func Infof(template string, args ...interface{}) {
	L().sugar.Infof(template, args...)
}

func Warnf(template string, args ...interface{}) {
	L().sugar.Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	L().sugar.Errorf(template, args...)
}

// ============ Конструкторы полей предметной области ============

func Ticket(ticket int64) zap.Field {
	return zap.Int64("ticket", ticket)
}

func Symbol(symbol string) zap.Field {
	return zap.String("symbol", symbol)
}

func Side(side string) zap.Field {
	return zap.String("side", side)
}

func Volume(v float64) zap.Field {
	return zap.Float64("volume", v)
}

func Price(p float64) zap.Field {
	return zap.Float64("price", p)
}

func Profit(p float64) zap.Field {
	return zap.Float64("profit", p)
}

func ProfitPercentField(p float64) zap.Field {
	return zap.Float64("profit_percent", p)
}

func Role(role string) zap.Field {
	return zap.String("role", role)
}

func Section(section string) zap.Field {
	return zap.String("section", section)
}

func ConfigVersion(v int64) zap.Field {
	return zap.Int64("config_version", v)
}

func OperationID(id int64) zap.Field {
	return zap.Int64("operation_id", id)
}

func ProcessID(id string) zap.Field {
	return zap.String("process_id", id)
}

func Attempt(n int) zap.Field {
	return zap.Int("attempt", n)
}

func Latency(ms float64) zap.Field {
	return zap.Float64("latency_ms", ms)
}

func RequestID(id string) zap.Field {
	return zap.String("request_id", id)
}

func Component(component string) zap.Field {
	return zap.String("component", component)
}

func State(state string) zap.Field {
	return zap.String("state", state)
}

// Field - поле структурированного лога
type Field = zap.Field

// Переэкспорт базовых конструкторов zap, чтобы пакетам не нужен был прямой импорт
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
	Dur     = zap.Duration
	Time    = zap.Time
	Strings = zap.Strings
)

// fieldsToInterface разворачивает zap-поля в пары ключ/значение для sugared API
func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key)
		switch f.Type {
		case zapcore.StringType:
			out = append(out, f.String)
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
			out = append(out, f.Integer)
		case zapcore.BoolType:
			out = append(out, f.Integer == 1)
		default:
			if f.Interface != nil {
				out = append(out, f.Interface)
			} else {
				out = append(out, f.Integer)
			}
		}
	}
	return out
}

// Infow пишет сообщение с полями через sugared-логгер
func (l *Logger) Infow(msg string, fields ...zap.Field) {
	l.sugar.Infow(msg, fieldsToInterface(fields)...)
}
