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
	"profitguard/internal/automation"
	"profitguard/internal/cache"
	"profitguard/internal/config"
	"profitguard/internal/models"
	"profitguard/internal/repository"
	"profitguard/pkg/utils"
)

// Процесс правил автоматизации: сопоставляет сигналы с правилами
// и публикует активные пары с ограниченным временем жизни.
func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		fmt.Fprintf(os.Stderr, "automation: %v\n", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	processID := config.ProcessIDFor(models.RoleAutomation, cfg.Automation.ProcessID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base, err := app.Open(ctx, cfg, models.RoleAutomation, processID)
	if err != nil {
		return err
	}
	defer base.Close()
	log := base.Log

	source, err := newSource(cfg.Automation)
	if err != nil {
		return err
	}

	store := repository.NewAutomationRepository(base.DB)
	if path := cfg.Automation.RulesFile; path != "" {
		rules, err := automation.LoadRulesFile(path)
		if err != nil {
			return err
		}
		for _, r := range rules {
			r.UserID = cfg.Automation.RulesOwner
		}
		created, err := automation.SeedRules(ctx, store, rules)
		if err != nil {
			return err
		}
		log.Info("rules seeded", utils.String("file", path), utils.Int("created", created), utils.Int("total", len(rules)))
	}

	deps := automation.Deps{
		Source: source,
		Store:  store,
		Params: base.Settings,
		Health: repository.NewHealthRepository(base.DB),
		Events: base.Publisher(),
	}
	if base.Cache != nil {
		deps.Mirror = cache.NewActivePairMirror(base.Cache)
	}

	runner, err := automation.NewRunner(processID, deps)
	if err != nil {
		return err
	}

	if once {
		report, err := runner.RunCycle(ctx)
		if err != nil {
			return err
		}
		log.Info("cycle finished",
			utils.Int("signals", report.Signals),
			utils.Int("matches", report.Matches),
			utils.Int("activated", len(report.Activated)))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	base.Go(gctx, g)
	base.ServeMetrics(gctx, g)
	g.Go(func() error {
		return runner.Run(gctx)
	})

	return g.Wait()
}

// newSource выбирает файл сигналов, если он задан, иначе HTTP API
func newSource(cfg config.AutomationConfig) (automation.Source, error) {
	if cfg.SignalFile != "" {
		return automation.NewFileSource(cfg.SignalFile), nil
	}
	if cfg.SignalURL == "" {
		return nil, fmt.Errorf("either SIGNAL_FILE or SIGNAL_URL must be set")
	}
	return automation.NewHTTPSource(cfg.HTTPSource())
}
