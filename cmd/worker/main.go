package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"draftr/internal/app"
	"draftr/internal/engine/schedules"
	"draftr/internal/pkg/logger"
	"draftr/internal/platform/config"
	"draftr/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	scheduleSync := flag.Duration("schedule-sync", 30*time.Second, "How often to reload cron schedules")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Init(cfg.Logging)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Starting draftr background workers")

	var wg sync.WaitGroup
	wg.Add(2)

	// Workflow runs
	go func() {
		defer wg.Done()
		workers.ProcessWorkflowRuns(ctx, a.Runner, cfg.Workflows)
	}()

	// Cron triggers
	go func() {
		defer wg.Done()
		workers.SyncSchedules(ctx, schedules.NewRunner(a.Schedules, a.Triggers), *scheduleSync)
	}()

	wg.Wait()
	log.Info().Msg("Workers stopped")
}
