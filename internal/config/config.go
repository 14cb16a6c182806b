package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"profitguard/internal/automation"
	"profitguard/internal/cache"
	"profitguard/internal/models"
	"profitguard/internal/repository"
	"profitguard/internal/venue"
	"profitguard/pkg/utils"
)

// Config содержит конфигурацию процесса.
// Настраиваемые на лету параметры (пороги, интервалы, TTL) хранятся в БД
// и управляются ConfigManager; здесь только то, что нужно для запуска.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Venue      VenueConfig
	Monitor    MonitorConfig
	Automation AutomationConfig
	Redis      RedisConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Params     ParamsConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string      // origins панели для CORS и WebSocket
	StatsInterval   time.Duration // период рассылки статистики в WebSocket
	Retention       time.Duration // срок хранения операций и снимков счёта
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string // postgres | sqlite
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// SQLite: файл общий для всех процессов (WAL, один писатель)
	SQLitePath  string
	BusyTimeout time.Duration

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// VenueConfig - подключение к торговой площадке
type VenueConfig struct {
	Kind       string // bridge | paper
	BaseURL    string
	Token      string
	Timeout    time.Duration
	QueryRate  float64
	TradeRate  float64
	Deviation  int
	MagicOwner int64
}

// MonitorConfig - параметры процесса мониторинга
type MonitorConfig struct {
	Role               string
	ProcessID          string        // пусто = <role>-<hostname>-<pid>
	CycleInterval      time.Duration // 0 = check_interval из параметров
	ConfigPollInterval time.Duration // 0 = период по роли
	CommandsPerCycle   int
	HealthMaxAge       time.Duration // процесс без цикла дольше считается зависшим
	MetricsAddr        string        // адрес /metrics фоновых процессов; пусто = выключено
}

// AutomationConfig - источник сигналов и файл правил.
// TTL активных пар и период опроса - параметры секции automation.
type AutomationConfig struct {
	ProcessID   string
	SignalFile  string // при заданном файле HTTP источник не используется
	SignalURL   string
	SignalKey   string
	AuthMode    string
	PageSize    int
	RateLimit   float64
	MaxRetries  int
	RequestWait time.Duration
	RulesFile   string // YAML с правилами для первичного заполнения
	RulesOwner  string // user_id правил из файла
}

// RedisConfig - ускоренное распространение изменений. Пустой Addr отключает Redis.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	PoolSize    int
	DialTimeout time.Duration
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	APITokenHash string // bcrypt хеш токена API; пусто = без проверки
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Development bool
	Format      string
	Output      string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// ParamsConfig - переопределение значений параметров по умолчанию
type ParamsConfig struct {
	DefaultsFile string // TOML: [section] key = value
}

// Load загружает конфигурацию из переменных окружения.
// Файл .env (или указанные files) читается первым и не перекрывает
// уже заданные переменные.
func Load(files ...string) (*Config, error) {
	if err := loadDotEnv(files...); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS"),
			StatsInterval:   getEnvAsDuration("STATS_INTERVAL", 5*time.Second),
			Retention:       getEnvAsDuration("HISTORY_RETENTION", 90*24*time.Hour),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "profitguard"),
			User:            getEnv("DB_USER", "profitguard"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:      getEnv("DB_SQLITE_PATH", "profitguard.db"),
			BusyTimeout:     getEnvAsDuration("DB_BUSY_TIMEOUT", 5*time.Second),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Venue: VenueConfig{
			Kind:       getEnv("VENUE_KIND", "paper"),
			BaseURL:    getEnv("VENUE_URL", ""),
			Token:      getEnv("VENUE_TOKEN", ""),
			Timeout:    getEnvAsDuration("VENUE_TIMEOUT", 10*time.Second),
			QueryRate:  getEnvAsFloat("VENUE_QUERY_RATE", 10),
			TradeRate:  getEnvAsFloat("VENUE_TRADE_RATE", 5),
			Deviation:  getEnvAsInt("VENUE_DEVIATION", 20),
			MagicOwner: int64(getEnvAsInt("VENUE_MAGIC", 0)),
		},
		Monitor: MonitorConfig{
			Role:               getEnv("MONITOR_ROLE", models.RoleStandard),
			ProcessID:          getEnv("MONITOR_PROCESS_ID", ""),
			CycleInterval:      getEnvAsDuration("MONITOR_CYCLE_INTERVAL", 0),
			ConfigPollInterval: getEnvAsDuration("CONFIG_POLL_INTERVAL", 0),
			CommandsPerCycle:   getEnvAsInt("MONITOR_COMMANDS_PER_CYCLE", 10),
			HealthMaxAge:       getEnvAsDuration("HEALTH_MAX_AGE", 2*time.Minute),
			MetricsAddr:        getEnv("METRICS_ADDR", ""),
		},
		Automation: AutomationConfig{
			ProcessID:   getEnv("AUTOMATION_PROCESS_ID", ""),
			SignalFile:  getEnv("SIGNAL_FILE", ""),
			SignalURL:   getEnv("SIGNAL_URL", ""),
			SignalKey:   getEnv("SIGNAL_API_KEY", ""),
			AuthMode:    getEnv("SIGNAL_AUTH_MODE", automation.AuthBearer),
			PageSize:    getEnvAsInt("SIGNAL_PAGE_SIZE", 200),
			RateLimit:   getEnvAsFloat("SIGNAL_RATE_LIMIT", 5),
			MaxRetries:  getEnvAsInt("SIGNAL_MAX_RETRIES", 3),
			RequestWait: getEnvAsDuration("SIGNAL_TIMEOUT", 15*time.Second),
			RulesFile:   getEnv("AUTOMATION_RULES_FILE", ""),
			RulesOwner:  getEnv("AUTOMATION_RULES_OWNER", "operator"),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			Prefix:      getEnv("REDIS_PREFIX", "profitguard"),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 3*time.Second),
		},
		Security: SecurityConfig{
			APITokenHash: getEnv("API_TOKEN_HASH", ""),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", "stdout"),
			MaxSizeMB:   getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups:  getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays:  getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		},
		Params: ParamsConfig{
			DefaultsFile: getEnv("PARAMS_DEFAULTS_FILE", ""),
		},
	}

	// Валидация значений-перечислений
	if err := cfg.validateKinds(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv читает .env; отсутствие файла по умолчанию не ошибка
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// validateKinds проверяет драйвер, площадку и роль
func (c *Config) validateKinds() error {
	if _, err := repository.DialectFor(c.Database.Driver); err != nil {
		return fmt.Errorf("DB_DRIVER: %w", err)
	}

	if !venue.IsSupported(c.Venue.Kind) {
		return fmt.Errorf("VENUE_KIND must be bridge or paper, got %q", c.Venue.Kind)
	}
	if c.Venue.Kind == "bridge" && c.Venue.BaseURL == "" {
		return fmt.Errorf("VENUE_URL is required for the bridge venue")
	}

	switch c.Monitor.Role {
	case models.RoleStandard, models.RoleEnhanced, models.RoleScouting, models.RoleCombined:
	default:
		return fmt.Errorf("MONITOR_ROLE must be standard, enhanced, scouting or combined, got %q", c.Monitor.Role)
	}

	switch strings.ToLower(c.Automation.AuthMode) {
	case automation.AuthBearer, automation.AuthAPIKey, automation.AuthQuery, automation.AuthNone:
	default:
		return fmt.Errorf("SIGNAL_AUTH_MODE must be bearer, x_api_key, query or none, got %q", c.Automation.AuthMode)
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Driver == "postgres" && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Пул соединений
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.Database.MaxOpenConns)
	}

	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS must be between 0 and %d, got %d",
			c.Database.MaxOpenConns, c.Database.MaxIdleConns)
	}

	// Валидация таймаутов (должны быть положительными)
	if c.Venue.Timeout <= 0 {
		return fmt.Errorf("VENUE_TIMEOUT must be positive, got %v", c.Venue.Timeout)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SERVER_SHUTDOWN_TIMEOUT must be positive, got %v", c.Server.ShutdownTimeout)
	}

	if c.Server.StatsInterval < time.Second {
		return fmt.Errorf("STATS_INTERVAL must be at least 1s, got %v", c.Server.StatsInterval)
	}

	// Лимиты запросов к площадке
	if c.Venue.QueryRate <= 0 || c.Venue.TradeRate <= 0 {
		return fmt.Errorf("VENUE_QUERY_RATE and VENUE_TRADE_RATE must be positive, got %v and %v",
			c.Venue.QueryRate, c.Venue.TradeRate)
	}

	// Интервалы процесса (0 = из параметров или по роли)
	if c.Monitor.CycleInterval < 0 {
		return fmt.Errorf("MONITOR_CYCLE_INTERVAL cannot be negative, got %v", c.Monitor.CycleInterval)
	}

	if c.Monitor.ConfigPollInterval < 0 {
		return fmt.Errorf("CONFIG_POLL_INTERVAL cannot be negative, got %v", c.Monitor.ConfigPollInterval)
	}

	if c.Monitor.CommandsPerCycle < 1 || c.Monitor.CommandsPerCycle > 100 {
		return fmt.Errorf("MONITOR_COMMANDS_PER_CYCLE must be between 1 and 100, got %d", c.Monitor.CommandsPerCycle)
	}

	// Источник сигналов
	if c.Automation.MaxRetries < 0 || c.Automation.MaxRetries > 10 {
		return fmt.Errorf("SIGNAL_MAX_RETRIES must be between 0 and 10, got %d", c.Automation.MaxRetries)
	}

	if c.Automation.RateLimit <= 0 {
		return fmt.Errorf("SIGNAL_RATE_LIMIT must be positive, got %v", c.Automation.RateLimit)
	}

	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15, got %d", c.Redis.DB)
	}

	return nil
}

// ============ Производные настройки ============

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" || d.Driver == "sqlite3" {
		return repository.SQLiteDSN(d.SQLitePath, d.BusyTimeout)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	if d.Driver == "sqlite" || d.Driver == "sqlite3" {
		return "sqlite:" + d.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// DBConfig - параметры для repository.Open
func (d DatabaseConfig) DBConfig() repository.DBConfig {
	return repository.DBConfig{
		Driver:          d.Driver,
		DSN:             d.DSN(),
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

// VenueConfig - параметры для venue.New
func (v VenueConfig) VenueConfig() venue.Config {
	return venue.Config{
		Kind:       v.Kind,
		BaseURL:    v.BaseURL,
		Token:      v.Token,
		Timeout:    v.Timeout,
		QueryRate:  v.QueryRate,
		TradeRate:  v.TradeRate,
		Deviation:  v.Deviation,
		MagicOwner: v.MagicOwner,
	}
}

// HTTPSource - параметры HTTP источника сигналов
func (a AutomationConfig) HTTPSource() automation.HTTPSourceConfig {
	return automation.HTTPSourceConfig{
		URL:        a.SignalURL,
		APIKey:     a.SignalKey,
		AuthMode:   a.AuthMode,
		Timeout:    a.RequestWait,
		MaxRetries: a.MaxRetries,
		PageSize:   a.PageSize,
		RateLimit:  a.RateLimit,
	}
}

// Enabled - задан ли адрес Redis
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// URL собирает redis:// адрес из частей
func (r RedisConfig) URL() string {
	u := url.URL{
		Scheme: "redis",
		Host:   r.Addr,
		Path:   "/" + strconv.Itoa(r.DB),
	}
	if r.Password != "" {
		u.User = url.UserPassword("", r.Password)
	}
	return u.String()
}

// CacheConfig - параметры для cache.New
func (r RedisConfig) CacheConfig() cache.Config {
	return cache.Config{
		URL:         r.URL(),
		Prefix:      r.Prefix,
		PoolSize:    r.PoolSize,
		DialTimeout: r.DialTimeout,
	}
}

// LogConfig - параметры для utils.InitGlobalLogger
func (l LoggingConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:       l.Level,
		Format:      l.Format,
		Output:      l.Output,
		Development: l.Development,
		MaxSizeMB:   l.MaxSizeMB,
		MaxBackups:  l.MaxBackups,
		MaxAgeDays:  l.MaxAgeDays,
	}
}

// Addr - адрес, который слушает HTTP сервер
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ProcessIDFor возвращает заданный идентификатор или собирает <role>-<host>-<pid>
func ProcessIDFor(role, configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%s-%d", role, host, os.Getpid())
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
