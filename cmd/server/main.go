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

	"github.com/rs/zerolog/log"
	"draftr/internal/api"
	"draftr/internal/api/handlers"
	"draftr/internal/api/middleware"
	"draftr/internal/app"
	"draftr/internal/pkg/logger"
	"draftr/internal/platform/auth"
	"draftr/internal/platform/config"
	"draftr/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
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

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	rateLimiter := middleware.NewRateLimiter()
	go workers.SweepIdle(ctx, rateLimiter, time.Minute, 10*time.Minute)

	// Router
	deps := &api.Dependencies{
		WebhookHandler:     handlers.NewWebhookHandler(a.Gateway),
		IntegrationHandler: handlers.NewIntegrationHandler(a.Registry),
		TriggerHandler:     handlers.NewTriggerHandler(a.Triggers),
		WorkflowHandler:    handlers.NewWorkflowHandler(a.Orchestrator, a.Registry, a.Organizations),
		WebhookLogHandler:  handlers.NewWebhookLogHandler(a.Logs),
		ContentHandler:     handlers.NewContentHandler(a.Posts, a.Brands),
		AuditHandler:       handlers.NewAuditHandler(a.Audit),
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"database": a.DB,
			"redis":    handlers.PingFunc(a.Store.Ping),
		}),
		MetricsHandler:    handlers.NewMetricsHandler(),
		AuthMiddleware:    middleware.NewAuthMiddleware(tokenSvc),
		TenantMiddleware:  middleware.NewTenantMiddleware(a.Organizations),
		RateLimiter:       rateLimiter,
		WebhooksPerMinute: cfg.RateLimit.WebhooksPerMinute,
		APIPerMinute:      cfg.RateLimit.APIPerMinute,
	}
	router := api.NewRouter(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}
