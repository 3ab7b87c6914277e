// Package registry manages integrations, their repositories and per-repository
// outputs. Every operation is scoped to one organization.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"draftr/internal/engine/github"
	"draftr/internal/engine/webhooks"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/pkg/validator"
	"draftr/internal/platform/audit"
	"draftr/internal/platform/database"
	"draftr/internal/platform/models"
	"draftr/internal/platform/repositories"
	"draftr/internal/platform/vault"
)

var (
	ErrNotFound                   = errors.New("not found")
	ErrRepositoryAlreadyConnected = errors.New("repository already connected")
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)

	outputTypes = map[string]bool{
		models.OutputChangelog:  true,
		models.OutputBlogPost:   true,
		models.OutputSocialPost: true,
	}
	integrationTypes = map[string]bool{
		models.IntegrationTypeGitHub: true,
		models.IntegrationTypeLinear: true,
	}
)

func IsOutputType(t string) bool { return outputTypes[t] }

type Service struct {
	integrations *repositories.IntegrationRepository
	repos        *repositories.RepoRepository
	outputs      *repositories.OutputRepository
	tokens       *vault.Vault
	secrets      *vault.Vault
	github       *github.Factory
	audit        *audit.Logger
	baseURL      string
}

type Deps struct {
	Integrations  *repositories.IntegrationRepository
	Repos         *repositories.RepoRepository
	Outputs       *repositories.OutputRepository
	TokenVault    *vault.Vault
	SecretVault   *vault.Vault
	GitHub        *github.Factory
	Audit         *audit.Logger
	PublicBaseURL string
}

func NewService(d Deps) *Service {
	return &Service{
		integrations: d.Integrations,
		repos:        d.Repos,
		outputs:      d.Outputs,
		tokens:       d.TokenVault,
		secrets:      d.SecretVault,
		github:       d.GitHub,
		audit:        d.Audit,
		baseURL:      strings.TrimRight(d.PublicBaseURL, "/"),
	}
}

type CreateIntegrationInput struct {
	OrganizationID  string  `json:"-"`
	CreatedByUserID string  `json:"-"`
	Type            string  `json:"type"`
	Token           *string `json:"token,omitempty"`
	DisplayName     string  `json:"display_name"`
	Owner           string  `json:"owner"`
	Repo            string  `json:"repo"`
}

func (in CreateIntegrationInput) validate() error {
	v := &apperrors.ValidationError{}
	if !integrationTypes[in.Type] {
		v.Add("type", "must be github or linear")
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		v.Add("display_name", "is required")
	}
	if !namePattern.MatchString(in.Owner) {
		v.Add("owner", "must be a valid owner name")
	}
	if !namePattern.MatchString(in.Repo) {
		v.Add("repo", "must be a valid repository name")
	}
	return v.OrNil()
}

// CreatedIntegration is a new integration and the webhook its first
// repository must be registered with.
type CreatedIntegration struct {
	*models.Integration
	Webhook *WebhookConfig `json:"webhook"`
}

// Connection is a newly connected repository and its webhook.
type Connection struct {
	Repository *models.Repository `json:"repository"`
	Webhook    *WebhookConfig     `json:"webhook"`
}

// CreateIntegration stores the integration and its first repository, with a
// fresh webhook secret, in one transaction.
func (s *Service) CreateIntegration(ctx context.Context, in CreateIntegrationInput) (*CreatedIntegration, error) {
	if in.Type == "" {
		in.Type = models.IntegrationTypeGitHub
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	integration := &models.Integration{
		ID:              "int_" + uuid.NewString(),
		OrganizationID:  in.OrganizationID,
		CreatedByUserID: in.CreatedByUserID,
		Type:            in.Type,
		DisplayName:     strings.TrimSpace(in.DisplayName),
		Enabled:         true,
	}
	if in.Token != nil && *in.Token != "" {
		encrypted, err := s.tokens.Encrypt(*in.Token)
		if err != nil {
			return nil, fmt.Errorf("encrypt token: %w", err)
		}
		integration.EncryptedToken = &encrypted
	}

	secret, sealed, err := s.newWebhookSecret()
	if err != nil {
		return nil, err
	}
	repo := &models.Repository{
		ID:                     "repo_" + uuid.NewString(),
		IntegrationID:          integration.ID,
		Owner:                  in.Owner,
		Repo:                   in.Repo,
		Enabled:                true,
		EncryptedWebhookSecret: &sealed,
	}

	tx, err := s.integrations.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.integrations.CreateTx(ctx, tx, integration); err != nil {
		return nil, fmt.Errorf("create integration: %w", err)
	}
	if err := s.repos.CreateTx(ctx, tx, repo); err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	integration.Repositories = []*models.Repository{repo}
	s.audit.Log(ctx, in.OrganizationID, audit.ActionCreate, "integration", integration.ID, map[string]interface{}{"type": in.Type})
	log.Info().Str("org_id", in.OrganizationID).Str("integration_id", integration.ID).Msg("integration created")

	return &CreatedIntegration{Integration: integration, Webhook: s.webhookConfig(integration, repo, secret)}, nil
}

type UpdateIntegrationInput struct {
	Enabled     *bool   `json:"enabled,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
}

func (s *Service) UpdateIntegration(ctx context.Context, orgID, integrationID string, in UpdateIntegrationInput) (*models.Integration, error) {
	integration, err := s.ownedIntegration(ctx, orgID, integrationID)
	if err != nil {
		return nil, err
	}

	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return nil, (&apperrors.ValidationError{}).Add("display_name", "must not be empty")
		}
		integration.DisplayName = name
	}
	if in.Enabled != nil {
		integration.Enabled = *in.Enabled
	}

	if err := s.integrations.Update(ctx, integration); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, orgID, audit.ActionUpdate, "integration", integrationID, nil)
	return integration, nil
}

// DeleteIntegration removes outputs, then repositories, then the integration.
func (s *Service) DeleteIntegration(ctx context.Context, orgID, integrationID string) error {
	if _, err := s.ownedIntegration(ctx, orgID, integrationID); err != nil {
		return err
	}

	tx, err := s.integrations.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.outputs.DeleteByIntegrationTx(ctx, tx, integrationID); err != nil {
		return fmt.Errorf("delete outputs: %w", err)
	}
	if err := s.repos.DeleteByIntegrationTx(ctx, tx, integrationID); err != nil {
		return fmt.Errorf("delete repositories: %w", err)
	}
	if err := s.integrations.DeleteTx(ctx, tx, integrationID); err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.Log(ctx, orgID, audit.ActionDelete, "integration", integrationID, nil)
	return nil
}

// ListIntegrations returns the organization's integrations with repositories
// and outputs attached.
func (s *Service) ListIntegrations(ctx context.Context, orgID string) ([]*models.Integration, error) {
	integrations, err := s.integrations.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	for _, integration := range integrations {
		repos, err := s.repos.ListByIntegration(ctx, integration.ID)
		if err != nil {
			return nil, err
		}
		for _, repo := range repos {
			outputs, err := s.outputs.ListByRepository(ctx, repo.ID)
			if err != nil {
				return nil, err
			}
			for _, out := range outputs {
				out.Config = webhooks.RedactConfig(out.Config)
			}
			repo.Outputs = outputs
		}
		integration.Repositories = repos
	}

	if integrations == nil {
		integrations = []*models.Integration{}
	}
	return integrations, nil
}

// AddRepository connects owner/name under the integration. The repository is
// stored with its webhook secret, so it verifies deliveries at once.
func (s *Service) AddRepository(ctx context.Context, orgID, integrationID, owner, name string) (*Connection, error) {
	v := &apperrors.ValidationError{}
	if !namePattern.MatchString(owner) {
		v.Add("owner", "must be a valid owner name")
	}
	if !namePattern.MatchString(name) {
		v.Add("repo", "must be a valid repository name")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	integration, err := s.ownedIntegration(ctx, orgID, integrationID)
	if err != nil {
		return nil, err
	}

	exists, err := s.repos.Exists(ctx, integrationID, owner, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrRepositoryAlreadyConnected
	}

	secret, sealed, err := s.newWebhookSecret()
	if err != nil {
		return nil, err
	}
	repo := &models.Repository{
		ID:                     "repo_" + uuid.NewString(),
		IntegrationID:          integrationID,
		Owner:                  owner,
		Repo:                   name,
		Enabled:                true,
		EncryptedWebhookSecret: &sealed,
	}
	if err := s.repos.Create(ctx, repo); err != nil {
		// A concurrent insert of the same triple loses here.
		if database.IsUniqueViolation(err) {
			return nil, ErrRepositoryAlreadyConnected
		}
		return nil, err
	}

	s.audit.Log(ctx, orgID, audit.ActionCreate, "repository", repo.ID, map[string]interface{}{"full_name": repo.FullName()})
	return &Connection{Repository: repo, Webhook: s.webhookConfig(integration, repo, secret)}, nil
}

func (s *Service) SetRepositoryEnabled(ctx context.Context, orgID, repositoryID string, enabled bool) (*models.Repository, error) {
	repo, err := s.ownedRepository(ctx, orgID, repositoryID)
	if err != nil {
		return nil, err
	}
	if err := s.repos.SetEnabled(ctx, repositoryID, enabled); err != nil {
		return nil, err
	}
	repo.Enabled = enabled

	action := audit.ActionDisable
	if enabled {
		action = audit.ActionEnable
	}
	s.audit.Log(ctx, orgID, action, "repository", repositoryID, nil)
	return repo, nil
}

// DeleteRepository removes the repository's outputs, then the repository.
func (s *Service) DeleteRepository(ctx context.Context, orgID, repositoryID string) error {
	if _, err := s.ownedRepository(ctx, orgID, repositoryID); err != nil {
		return err
	}

	tx, err := s.repos.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.outputs.DeleteByRepositoryTx(ctx, tx, repositoryID); err != nil {
		return fmt.Errorf("delete outputs: %w", err)
	}
	if err := s.repos.DeleteTx(ctx, tx, repositoryID); err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.Log(ctx, orgID, audit.ActionDelete, "repository", repositoryID, nil)
	return nil
}

func (s *Service) ConfigureOutput(ctx context.Context, orgID, repositoryID, outputType string, config models.JSONText) (*models.Output, error) {
	if !IsOutputType(outputType) {
		return nil, (&apperrors.ValidationError{}).Add("output_type", "must be changelog, blog_post or social_post")
	}
	if _, err := s.ownedRepository(ctx, orgID, repositoryID); err != nil {
		return nil, err
	}
	if len(config) == 0 {
		config = models.JSONText(`{}`)
	}
	if field, err := validator.OutputConfig(config); err != nil {
		return nil, (&apperrors.ValidationError{}).Add(field, err.Error())
	}

	var previous models.JSONText
	existing, err := s.outputs.Get(ctx, repositoryID, outputType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		previous = existing.Config
	}
	sealed, err := webhooks.SealConfig(config, previous, s.secrets)
	if err != nil {
		return nil, err
	}

	if err := s.outputs.Upsert(ctx, &models.Output{RepositoryID: repositoryID, OutputType: outputType, Config: sealed}); err != nil {
		return nil, err
	}
	out, err := s.outputs.Get(ctx, repositoryID, outputType)
	if err != nil || out == nil {
		return out, err
	}
	out.Config = webhooks.RedactConfig(out.Config)
	return out, nil
}

// SealOutputConfig encrypts the webhook secret of a run's own output config.
func (s *Service) SealOutputConfig(config models.JSONText) (models.JSONText, error) {
	return webhooks.SealConfig(config, nil, s.secrets)
}

func (s *Service) SetOutputEnabled(ctx context.Context, orgID, repositoryID, outputType string, enabled bool) error {
	if _, err := s.ownedRepository(ctx, orgID, repositoryID); err != nil {
		return err
	}
	found, err := s.outputs.SetEnabled(ctx, repositoryID, outputType, enabled)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// ListAvailableRepositories asks GitHub which repositories can be connected.
// github.ErrRateLimited and github.ErrUnauthorized pass through unchanged.
func (s *Service) ListAvailableRepositories(ctx context.Context, orgID, integrationID, owner string) ([]github.RepositorySummary, error) {
	integration, err := s.ownedIntegration(ctx, orgID, integrationID)
	if err != nil {
		return nil, err
	}

	token, err := s.Token(ctx, integration)
	if err != nil {
		return nil, err
	}

	client, err := s.github.Client(ctx, token)
	if err != nil {
		return nil, err
	}

	repos, err := client.ListRepositories(ctx, owner)
	if err != nil {
		log.Warn().Err(err).Str("org_id", orgID).Str("integration_id", integrationID).Msg("listing github repositories failed")
		return nil, err
	}
	return repos, nil
}

// WebhookConfig is what the caller registers with the upstream provider.
type WebhookConfig struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// RotateWebhookSecret replaces the repository's signing secret. The old
// secret stops verifying immediately.
func (s *Service) RotateWebhookSecret(ctx context.Context, orgID, repositoryID string) (*WebhookConfig, error) {
	repo, err := s.ownedRepository(ctx, orgID, repositoryID)
	if err != nil {
		return nil, err
	}
	integration, err := s.integrations.GetByID(ctx, repo.IntegrationID)
	if err != nil {
		return nil, err
	}

	secret, encrypted, err := s.newWebhookSecret()
	if err != nil {
		return nil, err
	}
	if err := s.repos.SetWebhookSecret(ctx, repositoryID, encrypted); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, orgID, audit.ActionRotate, "repository", repositoryID, nil)
	return s.webhookConfig(integration, repo, secret), nil
}

// newWebhookSecret returns a random signing secret and its ciphertext.
func (s *Service) newWebhookSecret() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	secret := hex.EncodeToString(raw)

	encrypted, err := s.secrets.Encrypt(secret)
	if err != nil {
		return "", "", fmt.Errorf("encrypt webhook secret: %w", err)
	}
	return secret, encrypted, nil
}

func (s *Service) webhookConfig(integration *models.Integration, repo *models.Repository, secret string) *WebhookConfig {
	return &WebhookConfig{
		URL:    fmt.Sprintf("%s/webhooks/%s/%s/%s/%s", s.baseURL, integration.Type, integration.OrganizationID, integration.ID, repo.ID),
		Secret: secret,
	}
}

// GetIntegration resolves an integration without a tenant check. Callers
// compare OrganizationID themselves.
func (s *Service) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	return s.integrations.GetByID(ctx, id)
}

func (s *Service) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	return s.repos.GetByID(ctx, id)
}

// GetOwnedRepository returns the repository when it belongs to orgID.
func (s *Service) GetOwnedRepository(ctx context.Context, orgID, id string) (*models.Repository, *models.Integration, error) {
	repo, err := s.repos.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if repo == nil {
		return nil, nil, ErrNotFound
	}
	integration, err := s.ownedIntegration(ctx, orgID, repo.IntegrationID)
	if err != nil {
		return nil, nil, err
	}
	return repo, integration, nil
}

// Output returns the stored output config with its secret sealed; nil when
// the repository has no such output.
func (s *Service) Output(ctx context.Context, repositoryID, outputType string) (*models.Output, error) {
	return s.outputs.Get(ctx, repositoryID, outputType)
}

// WebhookSecret decrypts the repository's signing secret; "" when none is set.
func (s *Service) WebhookSecret(_ context.Context, repo *models.Repository) (string, error) {
	if repo.EncryptedWebhookSecret == nil || *repo.EncryptedWebhookSecret == "" {
		return "", nil
	}
	return s.secrets.Decrypt(*repo.EncryptedWebhookSecret)
}

// Token decrypts the integration's access token; "" when none is set.
func (s *Service) Token(_ context.Context, integration *models.Integration) (string, error) {
	if !integration.HasToken() {
		return "", nil
	}
	token, err := s.tokens.Decrypt(*integration.EncryptedToken)
	if err != nil {
		return "", fmt.Errorf("decrypt token for %s: %w", integration.ID, err)
	}
	return token, nil
}

// OwnedRepositories reports which repository ids belong to orgID.
func (s *Service) OwnedRepositories(ctx context.Context, orgID string, ids []string) (map[string]bool, error) {
	return s.repos.OwnedBy(ctx, orgID, ids)
}

func (s *Service) ownedIntegration(ctx context.Context, orgID, integrationID string) (*models.Integration, error) {
	integration, err := s.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if integration == nil || integration.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return integration, nil
}

func (s *Service) ownedRepository(ctx context.Context, orgID, repositoryID string) (*models.Repository, error) {
	repo, _, err := s.GetOwnedRepository(ctx, orgID, repositoryID)
	return repo, err
}
