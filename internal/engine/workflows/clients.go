package workflows

import (
	"context"
	"errors"
	"net"
	"time"

	"draftr/internal/engine/github"
	"draftr/internal/engine/webhooks"
	"draftr/internal/platform/llm"
	"draftr/internal/platform/models"
	"draftr/internal/platform/scraper"
)

type Scraper interface {
	Scrape(ctx context.Context, url string) (*scraper.Page, error)
}

type LLM interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	ExtractJSON(ctx context.Context, system, prompt string, out interface{}) error
}

type BrandStore interface {
	Upsert(ctx context.Context, s *models.BrandSettings) error
	Get(ctx context.Context, orgID string) (*models.BrandSettings, error)
}

type PostStore interface {
	UpsertByRun(ctx context.Context, p *models.Post) error
	GetByRun(ctx context.Context, runID string) (*models.Post, error)
	SetStatus(ctx context.Context, id, status string) error
}

// RepositoryResolver finds a repository, its integration and the
// integration's decrypted token.
type RepositoryResolver interface {
	GetRepository(ctx context.Context, id string) (*models.Repository, error)
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	Token(ctx context.Context, integration *models.Integration) (string, error)
}

// OutputLookup finds a repository's configured output of one type.
type OutputLookup interface {
	Output(ctx context.Context, repositoryID, outputType string) (*models.Output, error)
}

type ActivityFetcher interface {
	FetchActivity(ctx context.Context, token, owner, repo string, since time.Time) (*github.Activity, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, d webhooks.Delivery) (int, error)
}

// GitHubActivity fetches activity through a per-token GitHub client.
type GitHubActivity struct {
	Factory *github.Factory
}

func (g GitHubActivity) FetchActivity(ctx context.Context, token, owner, repo string, since time.Time) (*github.Activity, error) {
	client, err := g.Factory.Client(ctx, token)
	if err != nil {
		return nil, err
	}
	return client.FetchActivity(ctx, owner, repo, since)
}

// temporary reports whether err is a transient upstream or network failure.
func temporary(err error) bool {
	var llmErr *llm.StatusError
	if errors.As(err, &llmErr) {
		return llmErr.Temporary()
	}
	var scrapeErr *scraper.StatusError
	if errors.As(err, &scrapeErr) {
		return scrapeErr.Temporary()
	}
	if errors.Is(err, github.ErrRateLimited) || errors.Is(err, llm.ErrEmptyCompletion) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
