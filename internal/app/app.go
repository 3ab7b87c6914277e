// Package app wires the platform components shared by the server and worker
// processes.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"draftr/internal/engine/gateway"
	"draftr/internal/engine/github"
	"draftr/internal/engine/registry"
	"draftr/internal/engine/schedules"
	"draftr/internal/engine/triggers"
	"draftr/internal/engine/webhooks"
	"draftr/internal/engine/workflows"
	"draftr/internal/platform/audit"
	"draftr/internal/platform/billing"
	"draftr/internal/platform/config"
	"draftr/internal/platform/database"
	"draftr/internal/platform/events"
	"draftr/internal/platform/kv"
	"draftr/internal/platform/llm"
	"draftr/internal/platform/repositories"
	"draftr/internal/platform/scraper"
	"draftr/internal/platform/vault"
)

type App struct {
	Config *config.Config

	DB     *sqlx.DB
	Redis  *redis.Client
	Store  *kv.RedisStore
	Events events.Publisher
	Audit  *audit.Logger

	Organizations *repositories.OrganizationRepository
	Posts         *repositories.PostRepository
	Brands        *repositories.BrandSettingsRepository

	Entitlements billing.Entitlements
	Registry     *registry.Service
	Schedules    *schedules.RedisRegistry
	Triggers     *triggers.Service
	Orchestrator *workflows.Orchestrator
	Runner       *workflows.Runner
	Logs         *webhooks.LogWriter
	Gateway      *gateway.Gateway
}

// New opens the database, Redis and the event publisher and builds every
// service on top of them. Close releases them.
func New(cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	client, err := kv.Connect(cfg.Redis.URL)
	if err != nil {
		db.Close()
		return nil, err
	}
	if client == nil {
		log.Warn().Msg("redis.url is empty, workflow starts and webhook logs are disabled")
	}

	publisher, err := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("event publisher: %w", err)
	}

	tokenVault, err := vault.NewFromBase64(cfg.Vault.Key, vault.PurposeIntegrationToken)
	if err != nil {
		db.Close()
		return nil, err
	}
	secretVault, err := vault.NewFromBase64(cfg.Vault.Key, vault.PurposeWebhookSecret)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		Config:        cfg,
		DB:            db,
		Redis:         client,
		Store:         kv.NewRedisStore(client),
		Events:        publisher,
		Audit:         audit.NewLogger(db),
		Organizations: repositories.NewOrganizationRepository(db),
		Posts:         repositories.NewPostRepository(db),
		Brands:        repositories.NewBrandSettingsRepository(db),
		Schedules:     schedules.NewRedisRegistry(client),
	}
	a.Entitlements = billing.NewPlanEntitlements(a.Organizations)

	githubFactory := github.NewFactory(cfg.GitHub)

	a.Registry = registry.NewService(registry.Deps{
		Integrations:  repositories.NewIntegrationRepository(db),
		Repos:         repositories.NewRepoRepository(db),
		Outputs:       repositories.NewOutputRepository(db),
		TokenVault:    tokenVault,
		SecretVault:   secretVault,
		GitHub:        githubFactory,
		Audit:         a.Audit,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})

	a.Logs = webhooks.NewLogWriter(a.Store, a.Entitlements, cfg.WebhookLogs)

	model := llm.New(cfg.LLM)
	a.Orchestrator = workflows.NewOrchestrator(repositories.NewWorkflowRunRepository(db), a.Store, a.Entitlements, cfg.Workflows)
	a.Orchestrator.Register(workflows.BrandAnalysis(scraper.New(cfg.Scraper), model, a.Brands))
	a.Orchestrator.Register(workflows.ContentGeneration(workflows.ContentDeps{
		Repositories: a.Registry,
		Outputs:      a.Registry,
		Activity:     workflows.GitHubActivity{Factory: githubFactory},
		LLM:          model,
		Brands:       a.Brands,
		Posts:        a.Posts,
		Deliverer:    webhooks.NewDispatcher(a.Logs),
		Secrets:      secretVault,
		Events:       publisher,
	}))
	a.Runner = workflows.NewRunner(a.Orchestrator, publisher)

	a.Triggers = triggers.NewService(triggers.Deps{
		Triggers:  repositories.NewTriggerRepository(db),
		Owner:     a.Registry,
		Outputs:   a.Registry,
		Scheduler: a.Schedules,
		Starter:   a.Orchestrator,
		Secrets:   secretVault,
		Audit:     a.Audit,
	})

	a.Gateway = gateway.New(gateway.Deps{
		Resolver: a.Registry,
		Triggers: a.Triggers,
		Logs:     a.Logs,
		Store:    a.Store,
		Config:   cfg.WebhookLogs,
	})

	return a, nil
}

// Ping checks the database and, when configured, Redis.
func (a *App) Ping(ctx context.Context) error {
	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Redis != nil {
		if err := a.Store.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) Close() {
	if err := a.Events.Close(); err != nil {
		log.Warn().Err(err).Msg("closing event publisher")
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.DB.Close()
}
