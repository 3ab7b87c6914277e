package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"draftr/internal/engine/github"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/platform/audit"
	"draftr/internal/platform/config"
	"draftr/internal/platform/database/dbtest"
	"draftr/internal/platform/models"
	"draftr/internal/platform/repositories"
	"draftr/internal/platform/vault"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T, githubURL string) *Service {
	t.Helper()
	db := dbtest.New(t)
	dbtest.SeedOrganization(t, db, "org_1", models.PlanFree)
	dbtest.SeedOrganization(t, db, "org_2", models.PlanFree)

	tokens, err := vault.New(testKey, vault.PurposeIntegrationToken)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	secrets, err := vault.New(testKey, vault.PurposeWebhookSecret)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	logger := audit.NewLogger(db)
	logger.Synchronous = true

	return NewService(Deps{
		Integrations:  repositories.NewIntegrationRepository(db),
		Repos:         repositories.NewRepoRepository(db),
		Outputs:       repositories.NewOutputRepository(db),
		TokenVault:    tokens,
		SecretVault:   secrets,
		GitHub:        github.NewFactory(config.GitHubConfig{APIBaseURL: githubURL}),
		Audit:         logger,
		PublicBaseURL: "https://draftr.example/",
	})
}

func createIntegration(t *testing.T, s *Service, orgID string, token *string) *models.Integration {
	t.Helper()
	created, err := s.CreateIntegration(context.Background(), CreateIntegrationInput{
		OrganizationID:  orgID,
		CreatedByUserID: "usr_1",
		Type:            models.IntegrationTypeGitHub,
		Token:           token,
		DisplayName:     "Acme GitHub",
		Owner:           "acme",
		Repo:            "api",
	})
	if err != nil {
		t.Fatalf("create integration: %v", err)
	}
	return created.Integration
}

func TestCreateIntegration_ReturnsWorkingWebhook(t *testing.T) {
	s := newTestService(t, "")
	ctx := context.Background()

	created, err := s.CreateIntegration(ctx, CreateIntegrationInput{
		OrganizationID: "org_1",
		Type:           models.IntegrationTypeGitHub,
		DisplayName:    "Acme",
		Owner:          "acme",
		Repo:           "api",
	})
	if err != nil {
		t.Fatalf("create integration: %v", err)
	}
	repo := created.Repositories[0]
	want := "https://draftr.example/webhooks/github/org_1/" + created.ID + "/" + repo.ID
	if created.Webhook == nil || created.Webhook.URL != want || len(created.Webhook.Secret) != 64 {
		t.Fatalf("webhook = %+v, want url %s", created.Webhook, want)
	}

	stored, _ := s.GetRepository(ctx, repo.ID)
	if secret, err := s.WebhookSecret(ctx, stored); err != nil || secret != created.Webhook.Secret {
		t.Errorf("stored secret = %q, %v", secret, err)
	}
}

func TestAddRepository_ReturnsWorkingWebhook(t *testing.T) {
	s := newTestService(t, "")
	integration := createIntegration(t, s, "org_1", nil)
	ctx := context.Background()

	conn, err := s.AddRepository(ctx, "org_1", integration.ID, "acme", "web")
	if err != nil {
		t.Fatalf("add repository: %v", err)
	}
	if conn.Repository.FullName() != "acme/web" || conn.Webhook == nil || conn.Webhook.Secret == "" {
		t.Fatalf("connection = %+v", conn)
	}
	if !strings.HasSuffix(conn.Webhook.URL, "/"+integration.ID+"/"+conn.Repository.ID) {
		t.Errorf("webhook url = %s", conn.Webhook.URL)
	}

	stored, _ := s.GetRepository(ctx, conn.Repository.ID)
	if secret, err := s.WebhookSecret(ctx, stored); err != nil || secret != conn.Webhook.Secret {
		t.Errorf("stored secret = %q, %v", secret, err)
	}
}

func TestCreateIntegration_EncryptsTokenAndCreatesRepository(t *testing.T) {
	s := newTestService(t, "")
	token := "ghp_secret"
	integration := createIntegration(t, s, "org_1", &token)

	if !integration.HasToken() || strings.Contains(*integration.EncryptedToken, token) {
		t.Fatalf("token not encrypted: %v", integration.EncryptedToken)
	}
	plain, err := s.Token(context.Background(), integration)
	if err != nil || plain != token {
		t.Errorf("Token() = %q, %v", plain, err)
	}

	list, err := s.ListIntegrations(context.Background(), "org_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || len(list[0].Repositories) != 1 || list[0].Repositories[0].FullName() != "acme/api" {
		t.Errorf("unexpected listing: %+v", list)
	}
}

func TestCreateIntegration_Validation(t *testing.T) {
	s := newTestService(t, "")
	_, err := s.CreateIntegration(context.Background(), CreateIntegrationInput{
		OrganizationID: "org_1",
		Type:           "gitlab",
		Owner:          "bad owner",
	})

	var v *apperrors.ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(v.Issues) != 4 {
		t.Errorf("expected 4 issues, got %+v", v.Issues)
	}
}

func TestAddRepository_DuplicateIsAlreadyConnected(t *testing.T) {
	s := newTestService(t, "")
	integration := createIntegration(t, s, "org_1", nil)
	ctx := context.Background()

	_, err := s.AddRepository(ctx, "org_1", integration.ID, "acme", "api")
	if !errors.Is(err, ErrRepositoryAlreadyConnected) {
		t.Fatalf("expected ErrRepositoryAlreadyConnected, got %v", err)
	}

	list, _ := s.ListIntegrations(ctx, "org_1")
	if n := len(list[0].Repositories); n != 1 {
		t.Errorf("expected exactly one repository row, got %d", n)
	}
}

func TestAddRepository_ConcurrentDuplicates(t *testing.T) {
	s := newTestService(t, "")
	integration := createIntegration(t, s, "org_1", nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddRepository(ctx, "org_1", integration.ID, "acme", "web")
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else if !errors.Is(err, ErrRepositoryAlreadyConnected) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("expected exactly one successful add, got %d", created)
	}
}

func TestCrossTenantAccessIsNotFound(t *testing.T) {
	s := newTestService(t, "")
	integration := createIntegration(t, s, "org_1", nil)
	repoID := integration.Repositories[0].ID
	ctx := context.Background()

	if _, err := s.AddRepository(ctx, "org_2", integration.ID, "acme", "web"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddRepository: expected ErrNotFound, got %v", err)
	}
	if _, err := s.SetRepositoryEnabled(ctx, "org_2", repoID, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetRepositoryEnabled: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteIntegration(ctx, "org_2", integration.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteIntegration: expected ErrNotFound, got %v", err)
	}
	if _, err := s.RotateWebhookSecret(ctx, "org_2", repoID); !errors.Is(err, ErrNotFound) {
		t.Errorf("RotateWebhookSecret: expected ErrNotFound, got %v", err)
	}
}

func TestConfigureOutput_Upserts(t *testing.T) {
	s := newTestService(t, "")
	integration := createIntegration(t, s, "org_1", nil)
	repoID := integration.Repositories[0].ID
	ctx := context.Background()

	if _, err := s.ConfigureOutput(ctx, "org_1", repoID, models.OutputChangelog, models.JSONText(`{"a":1}`)); err != nil {
		t.Fatalf("configure: %v", err)
	}
	out, err := s.ConfigureOutput(ctx, "org_1", repoID, models.OutputChangelog, models.JSONText(`{"a":2}`))
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if string(out.Config) != `{"a":2}` {
		t.Errorf("config not updated: %s", out.Config)
	}

	if err := s.SetOutputEnabled(ctx, "org_1", repoID, models.OutputBlogPost, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("toggling an unconfigured output: expected ErrNotFound, got %v", err)
	}

	if _, err := s.ConfigureOutput(ctx, "org_1", repoID, "tweetstorm", nil); err == nil {
		t.Error("expected validation error for unknown output type")
	}

	out, err = s.ConfigureOutput(ctx, "org_1", repoID, models.OutputSocialPost, models.JSONText(`{"webhook_url":"https://hooks.example.com","webhook_secret":"s3cret"}`))
	if err != nil {
		t.Fatalf("configure with secret: %v", err)
	}
	if strings.Contains(string(out.Config), "s3cret") || !strings.Contains(string(out.Config), `"webhook_secret_set":true`) {
		t.Errorf("returned config leaks or hides the secret state: %s", out.Config)
	}
	stored, _ := s.Output(ctx, repoID, models.OutputSocialPost)
	if strings.Contains(string(stored.Config), "s3cret") {
		t.Errorf("secret stored in plain text: %s", stored.Config)
	}

	_, err = s.ConfigureOutput(ctx, "org_1", repoID, models.OutputBlogPost, models.JSONText(`{"webhook_url":"ftp://example.com"}`))
	var verr *apperrors.ValidationError
	if !errors.As(err, &verr) || verr.Issues[0].Field != "config.webhook_url" {
		t.Errorf("expected webhook_url validation error, got %v", err)
	}
}

func TestDeleteIntegration_Cascades(t *testing.T) {
	s := newTestService(t, "")
	integration := createIntegration(t, s, "org_1", nil)
	repoID := integration.Repositories[0].ID
	ctx := context.Background()

	if _, err := s.ConfigureOutput(ctx, "org_1", repoID, models.OutputChangelog, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := s.DeleteIntegration(ctx, "org_1", integration.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if repo, _ := s.GetRepository(ctx, repoID); repo != nil {
		t.Error("repository survived integration delete")
	}
	if out, _ := s.Output(ctx, repoID, models.OutputChangelog); out != nil {
		t.Error("output survived integration delete")
	}
}

func TestRotateWebhookSecret(t *testing.T) {
	s := newTestService(t, "")
	integration := createIntegration(t, s, "org_1", nil)
	repoID := integration.Repositories[0].ID
	ctx := context.Background()

	cfg, err := s.RotateWebhookSecret(ctx, "org_1", repoID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	want := "https://draftr.example/webhooks/github/org_1/" + integration.ID + "/" + repoID
	if cfg.URL != want {
		t.Errorf("URL = %s, want %s", cfg.URL, want)
	}
	if len(cfg.Secret) != 64 {
		t.Errorf("expected 32 byte hex secret, got %q", cfg.Secret)
	}

	repo, _ := s.GetRepository(ctx, repoID)
	secret, err := s.WebhookSecret(ctx, repo)
	if err != nil || secret != cfg.Secret {
		t.Errorf("stored secret mismatch: %q, %v", secret, err)
	}
}

func TestListAvailableRepositories_SurfacesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1999999999")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"API rate limit exceeded"}`))
	}))
	defer srv.Close()

	s := newTestService(t, srv.URL)
	integration := createIntegration(t, s, "org_1", nil)

	_, err := s.ListAvailableRepositories(context.Background(), "org_1", integration.ID, "acme")
	if !errors.Is(err, github.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}
