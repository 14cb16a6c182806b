package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"profitguard/internal/app"
	"profitguard/internal/config"
	"profitguard/internal/monitor"
	"profitguard/internal/repository"
	"profitguard/internal/venue"
	"profitguard/pkg/utils"
)

// Процесс мониторинга одной роли: standard, enhanced, scouting или combined.
// Несколько процессов работают с общей базой независимо друг от друга.
func main() {
	role := flag.String("role", "", "monitor role: standard, enhanced, scouting, combined (overrides MONITOR_ROLE)")
	processID := flag.String("id", "", "process id (overrides MONITOR_PROCESS_ID)")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	if err := run(*role, *processID, *once); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}

func run(role, processID string, once bool) error {
	if role != "" {
		os.Setenv("MONITOR_ROLE", role)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if processID == "" {
		processID = cfg.Monitor.ProcessID
	}
	processID = config.ProcessIDFor(cfg.Monitor.Role, processID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base, err := app.Open(ctx, cfg, cfg.Monitor.Role, processID)
	if err != nil {
		return err
	}
	defer base.Close()
	log := base.Log

	v, err := venue.New(cfg.Venue.VenueConfig())
	if err != nil {
		return fmt.Errorf("failed to create venue: %w", err)
	}
	defer v.Close()
	log.Info("venue ready", utils.String("venue", v.Name()))

	db := base.DB
	engine, err := monitor.NewEngine(monitor.Config{
		Role:             cfg.Monitor.Role,
		ProcessID:        processID,
		Interval:         cfg.Monitor.CycleInterval,
		CommandsPerCycle: cfg.Monitor.CommandsPerCycle,
	}, monitor.Deps{
		Venue:      v,
		Positions:  repository.NewPositionRepository(db),
		Operations: repository.NewCloseOperationRepository(db),
		Accounts:   repository.NewAccountRepository(db),
		Health:     repository.NewHealthRepository(db),
		Commands:   repository.NewCommandRepository(db),
		Params:     base.Settings,
		Events:     base.Publisher(),
	})
	if err != nil {
		return err
	}

	if once {
		report, err := engine.RunCycle(ctx)
		if err != nil {
			return err
		}
		log.Info("cycle finished",
			utils.Int("positions", report.Positions),
			utils.Dur("duration", report.Duration))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	base.Go(gctx, g)
	base.ServeMetrics(gctx, g)
	g.Go(func() error {
		return engine.Run(gctx)
	})

	return g.Wait()
}
