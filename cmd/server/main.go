package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"profitguard/internal/api"
	"profitguard/internal/app"
	"profitguard/internal/cache"
	"profitguard/internal/config"
	"profitguard/internal/models"
	"profitguard/internal/repository"
	"profitguard/internal/service"
	"profitguard/internal/websocket"
	"profitguard/pkg/crypto"
	"profitguard/pkg/utils"
)

func main() {
	hashToken := flag.String("hash-token", "", "print bcrypt hash of the given API token and exit")
	genToken := flag.Bool("gen-token", false, "generate a random API token with its hash and exit")
	flag.Parse()

	if *hashToken != "" || *genToken {
		if err := printToken(*hashToken); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

// printToken печатает хеш для API_TOKEN_HASH; пустой token генерируется
func printToken(token string) error {
	if token == "" {
		var err error
		if token, err = crypto.GenerateToken(32); err != nil {
			return err
		}
		fmt.Println("token:", token)
	}
	hash, err := crypto.HashToken(token, crypto.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println("API_TOKEN_HASH=" + hash)
	return nil
}

func run() error {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	processID := config.ProcessIDFor(models.RoleServer, "")
	base, err := app.Open(ctx, cfg, models.RoleServer, processID)
	if err != nil {
		return err
	}
	defer base.Close()
	log := base.Log

	// Инициализация репозиториев
	db := base.DB
	positionRepo := repository.NewPositionRepository(db)
	operationRepo := repository.NewCloseOperationRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	commandRepo := repository.NewCommandRepository(db)
	automationRepo := repository.NewAutomationRepository(db)
	healthRepo := repository.NewHealthRepository(db)

	// WebSocket hub
	hub := websocket.NewHub(websocket.NewOriginChecker(cfg.Server.AllowedOrigins))
	go hub.Run()
	defer hub.Stop()

	// Инициализация сервисов
	positionService := service.NewPositionService(positionRepo, operationRepo, accountRepo, commandRepo)
	positionService.SetWebSocketHub(hub)

	statsService := service.NewStatsService(operationRepo, positionRepo, accountRepo)
	statsService.SetWebSocketHub(hub)

	automationService := service.NewAutomationService(automationRepo)
	automationService.SetWebSocketHub(hub)

	healthService := service.NewHealthService(healthRepo, cfg.Monitor.HealthMaxAge)

	base.Settings.OnChange(func(snap *models.ParamSnapshot) {
		hub.Publish(websocket.EventSettingsChanged, map[string]interface{}{
			"section":    snap.Section,
			"version":    snap.Version,
			"changed_by": snap.ChangedBy,
			"changed_at": snap.ChangedAt,
		})
	})

	g, gctx := errgroup.WithContext(ctx)
	base.Go(gctx, g)

	// События мониторов и автоматизации приходят через Redis
	if base.Cache != nil {
		automationService.SetMirror(cache.NewActivePairMirror(base.Cache))
		g.Go(func() error {
			if err := base.Events.Relay(gctx, hub); err != nil {
				log.Warn("event relay disabled", utils.Err(err))
			}
			return nil
		})
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		ConfigManager:     base.Settings,
		PositionService:   positionService,
		StatsService:      statsService,
		AutomationService: automationService,
		HealthService:     healthService,
		WebSocket:         hub.ServeWS,
		AuthTokenHash:     cfg.Security.APITokenHash,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	})
	if cfg.Security.APITokenHash == "" {
		log.Warn("API_TOKEN_HASH is empty, API is not protected")
	}

	// HTTP сервер
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		log.Info("starting server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Периодическая статистика для панели и очистка истории
	g.Go(func() error {
		runPeriodic(gctx, statsService, cfg.Server.StatsInterval, cfg.Server.Retention, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited")
	return nil
}

// runPeriodic рассылает статистику и раз в час удаляет старую историю
func runPeriodic(ctx context.Context, stats *service.StatsService, every, retention time.Duration, log *utils.Logger) {
	statsTicker := time.NewTicker(every)
	defer statsTicker.Stop()
	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			if err := stats.PublishStats(ctx); err != nil && ctx.Err() == nil {
				log.Debug("stats publish failed", utils.Err(err))
			}
		case <-cleanupTicker.C:
			removed, err := stats.Cleanup(ctx, retention)
			if err != nil {
				log.Warn("history cleanup failed", utils.Err(err))
				continue
			}
			if removed > 0 {
				log.Info("history cleaned up", utils.Int64("removed", removed))
			}
		}
	}
}
