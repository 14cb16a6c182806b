// Package app собирает общие для всех процессов части:
// логгер, базу, менеджер параметров и подключение к Redis.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"profitguard/internal/cache"
	"profitguard/internal/config"
	"profitguard/internal/models"
	"profitguard/internal/repository"
	"profitguard/internal/service"
	"profitguard/pkg/utils"
)

// Base - инфраструктура процесса
type Base struct {
	Config    *config.Config
	Role      string
	ProcessID string
	Log       *utils.Logger

	DB       *sql.DB
	Settings *service.ConfigManager
	Watcher  *service.Watcher
	Cache    *cache.Client // nil, если Redis не настроен или недоступен
	Events   *cache.EventBus
}

// Open инициализирует логгер, БД со схемой, параметры и Redis.
// Недоступный Redis не ошибка: процесс работает на опросе версий.
func Open(ctx context.Context, cfg *config.Config, role, processID string) (*Base, error) {
	utils.InitGlobalLogger(cfg.Logging.LogConfig())
	b := &Base{
		Config:    cfg,
		Role:      role,
		ProcessID: processID,
		Log:       utils.L().WithRole(role).With(utils.ProcessID(processID)),
	}

	db, dialect, err := repository.Open(ctx, cfg.Database.DBConfig())
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	b.DB = db
	b.Log.Info("database ready",
		utils.String("driver", string(dialect)),
		utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	registry := models.DefaultRegistry()
	if path := cfg.Params.DefaultsFile; path != "" {
		registry, err = registry.WithOverridesFile(path)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load parameter defaults: %w", err)
		}
		b.Log.Info("parameter defaults overridden", utils.String("file", path))
	}

	b.Settings = service.NewConfigManager(repository.NewSettingsRepository(db), registry, processID)
	if err := b.Settings.Load(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load parameters: %w", err)
	}

	interval := cfg.Monitor.ConfigPollInterval
	if interval <= 0 {
		interval = service.WatchInterval(role)
	}
	b.Watcher = service.NewWatcher(b.Settings, interval)

	if cfg.Redis.Enabled() {
		client, err := cache.New(ctx, cfg.Redis.CacheConfig())
		if err != nil {
			b.Log.Warn("redis unavailable, falling back to version polling", utils.Err(err))
		} else {
			b.Cache = client
			b.Settings.SetNotifier(cache.NewNotifier(client, processID))
			b.Events = cache.NewEventBus(client, processID)
		}
	}

	return b, nil
}

// Go запускает наблюдатель параметров и подписку на оповещения Redis
func (b *Base) Go(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		b.Watcher.Run(ctx)
		return nil
	})

	if b.Cache == nil {
		return
	}
	notifier := cache.NewNotifier(b.Cache, b.ProcessID)
	g.Go(func() error {
		err := notifier.Listen(ctx, func(cache.ChangeMessage) {
			b.Watcher.Nudge()
		})
		if err != nil {
			// подписка не критична: изменения дойдут опросом
			b.Log.Warn("settings notifications disabled", utils.Err(err))
		}
		return nil
	})
}

// ServeMetrics поднимает /metrics фонового процесса, если задан METRICS_ADDR
func (b *Base) ServeMetrics(ctx context.Context, g *errgroup.Group) {
	addr := b.Config.Monitor.MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		b.Log.Info("metrics listening", utils.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// Publisher возвращает шину событий или nil.
// Типизированный nil в интерфейсе не возвращается.
func (b *Base) Publisher() service.EventPublisher {
	if b.Events == nil {
		return nil
	}
	return b.Events
}

// Close освобождает ресурсы в обратном порядке
func (b *Base) Close() {
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			b.Log.Warn("redis close failed", utils.Err(err))
		}
	}
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			b.Log.Warn("database close failed", utils.Err(err))
		}
	}
	_ = utils.L().Sync()
}
