package models

import "encoding/json"

const (
	IntegrationTypeGitHub = "github"
	IntegrationTypeLinear = "linear"
)

const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

type Organization struct {
	ID         string `json:"id" db:"id"`
	Slug       string `json:"slug" db:"slug"`
	Name       string `json:"name" db:"name"`
	WebsiteURL string `json:"website_url,omitempty" db:"website_url"`
	PlanTier   string `json:"plan_tier" db:"plan_tier"`
	CreatedAt  int64  `json:"created_at" db:"created_at"`
	UpdatedAt  int64  `json:"updated_at" db:"updated_at"`
}

// Integration is a connected external account.
type Integration struct {
	ID              string  `json:"id" db:"id"`
	OrganizationID  string  `json:"organization_id" db:"organization_id"`
	CreatedByUserID string  `json:"created_by_user_id" db:"created_by_user_id"`
	Type            string  `json:"type" db:"type"`
	DisplayName     string  `json:"display_name" db:"display_name"`
	EncryptedToken  *string `json:"-" db:"encrypted_token"`
	Enabled         bool    `json:"enabled" db:"enabled"`
	CreatedAt       int64   `json:"created_at" db:"created_at"`
	UpdatedAt       int64   `json:"updated_at" db:"updated_at"`

	Repositories []*Repository `json:"repositories,omitempty" db:"-"`
}

func (i *Integration) HasToken() bool {
	return i.EncryptedToken != nil && *i.EncryptedToken != ""
}

// Repository is a tracked owner/repo pair under an integration.
type Repository struct {
	ID                     string  `json:"id" db:"id"`
	IntegrationID          string  `json:"integration_id" db:"integration_id"`
	Owner                  string  `json:"owner" db:"owner"`
	Repo                   string  `json:"repo" db:"repo"`
	Enabled                bool    `json:"enabled" db:"enabled"`
	EncryptedWebhookSecret *string `json:"-" db:"encrypted_webhook_secret"`
	CreatedAt              int64   `json:"created_at" db:"created_at"`
	UpdatedAt              int64   `json:"updated_at" db:"updated_at"`

	Outputs []*Output `json:"outputs,omitempty" db:"-"`
}

func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Repo
}

type Output struct {
	ID           string   `json:"id" db:"id"`
	RepositoryID string   `json:"repository_id" db:"repository_id"`
	OutputType   string   `json:"output_type" db:"output_type"`
	Config       JSONText `json:"config" db:"config"`
	Enabled      bool     `json:"enabled" db:"enabled"`
	CreatedAt    int64    `json:"created_at" db:"created_at"`
	UpdatedAt    int64    `json:"updated_at" db:"updated_at"`
}

type Post struct {
	ID             string  `json:"id" db:"id"`
	OrganizationID string  `json:"organization_id" db:"organization_id"`
	RunID          string  `json:"run_id" db:"run_id"`
	TriggerID      *string `json:"trigger_id,omitempty" db:"trigger_id"`
	RepositoryID   *string `json:"repository_id,omitempty" db:"repository_id"`
	OutputType     string  `json:"output_type" db:"output_type"`
	Title          string  `json:"title" db:"title"`
	Body           string  `json:"body" db:"body"`
	Status         string  `json:"status" db:"status"`
	CreatedAt      int64   `json:"created_at" db:"created_at"`
	UpdatedAt      int64   `json:"updated_at" db:"updated_at"`
}

type BrandSettings struct {
	OrganizationID string   `json:"organization_id" db:"organization_id"`
	WebsiteURL     string   `json:"website_url" db:"website_url"`
	CompanyName    string   `json:"company_name" db:"company_name"`
	Description    string   `json:"description" db:"description"`
	Tone           string   `json:"tone" db:"tone"`
	Audience       string   `json:"audience" db:"audience"`
	Keywords       []string `json:"keywords" db:"-"`
	UpdatedAt      int64    `json:"updated_at" db:"updated_at"`
}

// WebhookLogEntry is one audit record of an inbound or outbound delivery.
// Entries live in bounded Redis lists, never in the relational store.
type WebhookLogEntry struct {
	ID              string          `json:"id"`
	ReferenceID     *string         `json:"reference_id"`
	Title           string          `json:"title"`
	IntegrationType string          `json:"integration_type"`
	Direction       string          `json:"direction"`
	Status          string          `json:"status"`
	StatusCode      *int            `json:"status_code"`
	ErrorMessage    *string         `json:"error_message"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedAt       int64           `json:"created_at"`
}

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"

	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
	LogStatusPending = "pending"
)

type AuditLog struct {
	ID             string   `json:"id" db:"id"`
	OrganizationID string   `json:"organization_id" db:"organization_id"`
	UserID         string   `json:"user_id" db:"user_id"`
	Action         string   `json:"action" db:"action"`
	ResourceType   string   `json:"resource_type" db:"resource_type"`
	ResourceID     string   `json:"resource_id" db:"resource_id"`
	Metadata       JSONText `json:"metadata" db:"metadata"`
	CreatedAt      int64    `json:"created_at" db:"created_at"`
}

const (
	SourceWebhook = "webhook"
	SourceCron    = "cron"
	SourceManual  = "manual"
)

const (
	OutputChangelog  = "changelog"
	OutputBlogPost   = "blog_post"
	OutputSocialPost = "social_post"
)

// Trigger binds a source to target repositories and an output type.
type Trigger struct {
	ID             string   `json:"id" db:"id"`
	OrganizationID string   `json:"organization_id" db:"organization_id"`
	Name           string   `json:"name" db:"name"`
	SourceType     string   `json:"source_type" db:"source_type"`
	SourceConfig   JSONText `json:"source_config" db:"source_config"`
	Targets        JSONText `json:"targets" db:"targets"`
	OutputType     string   `json:"output_type" db:"output_type"`
	OutputConfig   JSONText `json:"output_config" db:"output_config"`
	Enabled        bool     `json:"enabled" db:"enabled"`
	CreatedAt      int64    `json:"created_at" db:"created_at"`
	UpdatedAt      int64    `json:"updated_at" db:"updated_at"`
}

// TargetIDs decodes the targets column.
func (t *Trigger) TargetIDs() []string {
	var ids []string
	if err := t.Targets.Decode(&ids); err != nil {
		return nil
	}
	return ids
}

const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunRetrying  = "retrying"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// WorkflowRun is the durable record of one workflow execution. StepCursor is
// the index of the next step to run; StepOutputs holds outputs keyed by stage.
type WorkflowRun struct {
	ID             string   `json:"id" db:"id"`
	OrganizationID string   `json:"organization_id" db:"organization_id"`
	WorkflowType   string   `json:"workflow_type" db:"workflow_type"`
	Status         string   `json:"status" db:"status"`
	StepCursor     int      `json:"step_cursor" db:"step_cursor"`
	TotalSteps     int      `json:"total_steps" db:"total_steps"`
	Input          JSONText `json:"input" db:"input"`
	StepOutputs    JSONText `json:"step_outputs" db:"step_outputs"`
	Attempts       int      `json:"attempts" db:"attempts"`
	MaxAttempts    int      `json:"max_attempts" db:"max_attempts"`
	LastError      *string  `json:"last_error,omitempty" db:"last_error"`
	CorrelationID  *string  `json:"correlation_id,omitempty" db:"correlation_id"`
	NextAttemptAt  int64    `json:"next_attempt_at" db:"next_attempt_at"`
	LeaseUntil     int64    `json:"-" db:"lease_until"`
	CreatedAt      int64    `json:"created_at" db:"created_at"`
	UpdatedAt      int64    `json:"updated_at" db:"updated_at"`
}

func (r *WorkflowRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}
