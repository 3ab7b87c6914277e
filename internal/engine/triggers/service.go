// Package triggers is the catalog of automation triggers. A trigger binds a
// source (webhook events, a cron schedule or manual runs) to target
// repositories and an output type.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"draftr/internal/engine/registry"
	"draftr/internal/engine/schedules"
	"draftr/internal/engine/webhooks"
	"draftr/internal/engine/workflows"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/pkg/validator"
	"draftr/internal/platform/audit"
	"draftr/internal/platform/models"
	"draftr/internal/platform/repositories"
)

var (
	ErrNotFound       = errors.New("trigger not found")
	ErrOutputDisabled = errors.New("output is disabled for every target repository")
)

const (
	EventRelease     = "release"
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

var recognizedEvents = map[string]bool{
	EventRelease:     true,
	EventPush:        true,
	EventPullRequest: true,
}

func IsRecognizedEvent(e string) bool { return recognizedEvents[e] }

// WebhookSource is the source config of a webhook trigger.
type WebhookSource struct {
	Events []string `json:"events"`
}

type Scheduler interface {
	Register(ctx context.Context, s schedules.Schedule) error
	Deregister(ctx context.Context, id string) error
}

type Starter interface {
	Start(ctx context.Context, workflowType, orgID string, input interface{}, correlationID string) (*workflows.RunHandle, error)
}

// RepositoryOwner reports which repository ids belong to an organization.
type RepositoryOwner interface {
	OwnedRepositories(ctx context.Context, orgID string, ids []string) (map[string]bool, error)
}

// OutputLookup finds a repository's configured output of one type.
type OutputLookup interface {
	Output(ctx context.Context, repositoryID, outputType string) (*models.Output, error)
}

type Service struct {
	triggers  *repositories.TriggerRepository
	owner     RepositoryOwner
	outputs   OutputLookup
	scheduler Scheduler
	starter   Starter
	secrets   webhooks.Sealer
	audit     *audit.Logger
}

type Deps struct {
	Triggers  *repositories.TriggerRepository
	Owner     RepositoryOwner
	Outputs   OutputLookup
	Scheduler Scheduler
	Starter   Starter
	Secrets   webhooks.Sealer
	Audit     *audit.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		triggers:  d.Triggers,
		owner:     d.Owner,
		outputs:   d.Outputs,
		scheduler: d.Scheduler,
		starter:   d.Starter,
		secrets:   d.Secrets,
		audit:     d.Audit,
	}
}

// Redact returns a copy of t safe to show to any member: the output's
// webhook secret is replaced by a flag.
func Redact(t *models.Trigger) *models.Trigger {
	c := *t
	c.OutputConfig = webhooks.RedactConfig(t.OutputConfig)
	return &c
}

type TriggerInput struct {
	Name         string          `json:"name"`
	SourceType   string          `json:"source_type"`
	SourceConfig models.JSONText `json:"source_config"`
	Targets      []string        `json:"targets"`
	OutputType   string          `json:"output_type"`
	OutputConfig models.JSONText `json:"output_config"`
	Enabled      *bool           `json:"enabled,omitempty"`
}

// UpdateTriggerInput changes only the fields that are set.
type UpdateTriggerInput struct {
	Name         *string         `json:"name,omitempty"`
	SourceType   *string         `json:"source_type,omitempty"`
	SourceConfig models.JSONText `json:"source_config,omitempty"`
	Targets      []string        `json:"targets,omitempty"`
	OutputType   *string         `json:"output_type,omitempty"`
	OutputConfig models.JSONText `json:"output_config,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
}

// Validate checks a trigger against its source type and confirms every
// target belongs to the trigger's organization.
func (s *Service) Validate(ctx context.Context, t *models.Trigger) error {
	v := &apperrors.ValidationError{}

	if strings.TrimSpace(t.Name) == "" {
		v.Add("name", "is required")
	}
	if !registry.IsOutputType(t.OutputType) {
		v.Add("output_type", "must be changelog, blog_post or social_post")
	}
	if field, err := validator.OutputConfig(t.OutputConfig); err != nil {
		v.Add("output_"+field, err.Error())
	}

	switch t.SourceType {
	case models.SourceWebhook:
		var src WebhookSource
		if err := t.SourceConfig.Decode(&src); err != nil {
			v.Add("source_config", "must be an object with an events list")
			break
		}
		recognized := 0
		for _, e := range src.Events {
			if !IsRecognizedEvent(e) {
				v.Add("source_config.events", fmt.Sprintf("unrecognized event %q", e))
				continue
			}
			recognized++
		}
		if recognized == 0 {
			v.Add("source_config.events", "must name at least one of release, push or pull_request")
		}
	case models.SourceCron:
		var cfg ScheduleConfig
		if err := t.SourceConfig.Decode(&cfg); err != nil {
			v.Add("source_config", "must be a schedule object")
			break
		}
		if _, err := BuildCronExpression(cfg); err != nil {
			v.Add("source_config", err.Error())
		}
	case models.SourceManual:
	default:
		v.Add("source_type", "must be webhook, cron or manual")
	}

	targets := t.TargetIDs()
	if len(targets) == 0 {
		v.Add("targets", "must contain at least one repository")
	} else if s.owner != nil {
		owned, err := s.owner.OwnedRepositories(ctx, t.OrganizationID, targets)
		if err != nil {
			return err
		}
		for _, id := range targets {
			if !owned[id] {
				v.Add("targets", fmt.Sprintf("repository %s not found", id))
			}
		}
	}

	return v.OrNil()
}

func (s *Service) Create(ctx context.Context, orgID string, in TriggerInput) (*models.Trigger, error) {
	t := &models.Trigger{
		ID:             "trg_" + uuid.NewString(),
		OrganizationID: orgID,
		Name:           strings.TrimSpace(in.Name),
		SourceType:     in.SourceType,
		SourceConfig:   orEmptyObject(in.SourceConfig),
		Targets:        models.MustJSON(dedupe(in.Targets)),
		OutputType:     in.OutputType,
		OutputConfig:   orEmptyObject(in.OutputConfig),
		Enabled:        true,
	}
	if in.Enabled != nil {
		t.Enabled = *in.Enabled
	}

	if err := s.Validate(ctx, t); err != nil {
		return nil, err
	}
	sealed, err := webhooks.SealConfig(t.OutputConfig, nil, s.secrets)
	if err != nil {
		return nil, err
	}
	t.OutputConfig = sealed

	// The row commits only once its schedule is registered.
	tx, err := s.triggers.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.triggers.CreateTx(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}
	if err := s.syncSchedule(ctx, t, false); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.dropSchedule(ctx, t)
		return nil, err
	}

	s.audit.Log(ctx, orgID, audit.ActionCreate, "trigger", t.ID, map[string]interface{}{
		"source_type": t.SourceType,
		"output_type": t.OutputType,
	})
	log.Info().Str("org_id", orgID).Str("trigger_id", t.ID).Str("source_type", t.SourceType).Msg("trigger created")
	return t, nil
}

func (s *Service) Get(ctx context.Context, orgID, triggerID string) (*models.Trigger, error) {
	t, err := s.triggers.GetByID(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if t == nil || t.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, orgID string) ([]*models.Trigger, error) {
	return s.triggers.ListByOrg(ctx, orgID)
}

// Update applies the set fields, revalidates and re-registers the schedule
// when the source changed.
func (s *Service) Update(ctx context.Context, orgID, triggerID string, in UpdateTriggerInput) (*models.Trigger, error) {
	t, err := s.Get(ctx, orgID, triggerID)
	if err != nil {
		return nil, err
	}
	wasCron := t.SourceType == models.SourceCron
	previousOutput := t.OutputConfig

	if in.Name != nil {
		t.Name = strings.TrimSpace(*in.Name)
	}
	if in.SourceType != nil {
		t.SourceType = *in.SourceType
	}
	if len(in.SourceConfig) > 0 {
		t.SourceConfig = in.SourceConfig
	}
	if in.Targets != nil {
		t.Targets = models.MustJSON(dedupe(in.Targets))
	}
	if in.OutputType != nil {
		t.OutputType = *in.OutputType
	}
	if len(in.OutputConfig) > 0 {
		t.OutputConfig = in.OutputConfig
	}
	if in.Enabled != nil {
		t.Enabled = *in.Enabled
	}

	if err := s.Validate(ctx, t); err != nil {
		return nil, err
	}
	if len(in.OutputConfig) > 0 {
		sealed, err := webhooks.SealConfig(t.OutputConfig, previousOutput, s.secrets)
		if err != nil {
			return nil, err
		}
		t.OutputConfig = sealed
	}
	if err := s.triggers.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update trigger: %w", err)
	}
	if err := s.syncSchedule(ctx, t, wasCron); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, orgID, audit.ActionUpdate, "trigger", t.ID, nil)
	return t, nil
}

func (s *Service) SetEnabled(ctx context.Context, orgID, triggerID string, enabled bool) (*models.Trigger, error) {
	t, err := s.Get(ctx, orgID, triggerID)
	if err != nil {
		return nil, err
	}

	t.Enabled = enabled
	if err := s.triggers.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update trigger: %w", err)
	}
	if err := s.syncSchedule(ctx, t, t.SourceType == models.SourceCron); err != nil {
		return nil, err
	}

	action := audit.ActionDisable
	if enabled {
		action = audit.ActionEnable
	}
	s.audit.Log(ctx, orgID, action, "trigger", t.ID, nil)
	return t, nil
}

// Delete removes the trigger and its schedule. Target repositories are
// untouched.
func (s *Service) Delete(ctx context.Context, orgID, triggerID string) error {
	t, err := s.Get(ctx, orgID, triggerID)
	if err != nil {
		return err
	}

	// The row is removed only once its schedule is gone.
	tx, err := s.triggers.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.triggers.DeleteTx(ctx, tx, orgID, t.ID); err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if t.SourceType == models.SourceCron && s.scheduler != nil {
		if err := s.scheduler.Deregister(ctx, t.ID); err != nil {
			return fmt.Errorf("deregister schedule: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		if syncErr := s.syncSchedule(ctx, t, false); syncErr != nil {
			log.Error().Err(syncErr).Str("trigger_id", t.ID).Msg("failed to restore schedule after delete error")
		}
		return err
	}

	s.audit.Log(ctx, orgID, audit.ActionDelete, "trigger", t.ID, nil)
	log.Info().Str("org_id", orgID).Str("trigger_id", t.ID).Msg("trigger deleted")
	return nil
}

// RunNow starts a content run for the trigger outside its schedule. The
// trigger id is the run's correlation id and the trigger is not modified.
func (s *Service) RunNow(ctx context.Context, orgID, triggerID string) (*workflows.RunHandle, error) {
	t, err := s.Get(ctx, orgID, triggerID)
	if err != nil {
		return nil, err
	}

	handle, err := s.start(ctx, t, nil)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, orgID, audit.ActionRunNow, "trigger", t.ID, map[string]interface{}{"run_id": handle.RunID})
	return handle, nil
}

// RunScheduled is called when a cron schedule fires. Disabled or deleted
// triggers are skipped, as is a firing while a run is in flight.
func (s *Service) RunScheduled(ctx context.Context, orgID, triggerID string) error {
	t, err := s.triggers.GetByID(ctx, triggerID)
	if err != nil {
		return err
	}
	if t == nil || t.OrganizationID != orgID || !t.Enabled || t.SourceType != models.SourceCron {
		log.Warn().Str("org_id", orgID).Str("trigger_id", triggerID).Msg("schedule fired for an inactive trigger, skipping")
		return nil
	}

	handle, err := s.start(ctx, t, nil)
	switch {
	case errors.Is(err, workflows.ErrRunInProgress):
		log.Info().Str("org_id", orgID).Str("trigger_id", triggerID).Msg("scheduled run skipped, a run is in progress")
		return nil
	case errors.Is(err, ErrOutputDisabled):
		log.Info().Str("org_id", orgID).Str("trigger_id", triggerID).Msg("scheduled run skipped, outputs are disabled")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().Str("org_id", orgID).Str("trigger_id", triggerID).Str("run_id", handle.RunID).Msg("scheduled run started")
	return nil
}

// StartForEvent starts a content run for a matched webhook trigger. Only the
// repository that sent the event is targeted.
func (s *Service) StartForEvent(ctx context.Context, t *models.Trigger, repositoryID string, event *workflows.EventSnapshot) (*workflows.RunHandle, error) {
	return s.start(ctx, t, &eventTarget{repositoryID: repositoryID, event: event})
}

type eventTarget struct {
	repositoryID string
	event        *workflows.EventSnapshot
}

// start runs the trigger against the targets whose output of the trigger's
// type is not switched off. ErrOutputDisabled means none are left.
func (s *Service) start(ctx context.Context, t *models.Trigger, ev *eventTarget) (*workflows.RunHandle, error) {
	targets := t.TargetIDs()
	if ev != nil {
		targets = []string{ev.repositoryID}
	}

	active := make([]string, 0, len(targets))
	for _, id := range targets {
		enabled, err := s.outputEnabled(ctx, id, t.OutputType)
		if err != nil {
			return nil, err
		}
		if enabled {
			active = append(active, id)
		}
	}
	if len(active) == 0 {
		return nil, ErrOutputDisabled
	}

	input := workflows.ContentInput{
		TriggerID:     t.ID,
		RepositoryIDs: active,
		OutputType:    t.OutputType,
		OutputConfig:  t.OutputConfig,
	}
	if ev != nil {
		input.Event = ev.event
	}
	return s.starter.Start(ctx, workflows.TypeContentGeneration, t.OrganizationID, input, t.ID)
}

// outputEnabled is false only for an output that is configured and off.
func (s *Service) outputEnabled(ctx context.Context, repositoryID, outputType string) (bool, error) {
	if s.outputs == nil {
		return true, nil
	}
	out, err := s.outputs.Output(ctx, repositoryID, outputType)
	if err != nil {
		return false, err
	}
	return out == nil || out.Enabled, nil
}

// MatchWebhook returns the enabled webhook triggers that listen for eventType
// and target the repository.
func (s *Service) MatchWebhook(ctx context.Context, orgID, repositoryID, eventType string) ([]*models.Trigger, error) {
	candidates, err := s.triggers.ListEnabledBySource(ctx, orgID, models.SourceWebhook)
	if err != nil {
		return nil, err
	}

	var matched []*models.Trigger
	for _, t := range candidates {
		var src WebhookSource
		if err := t.SourceConfig.Decode(&src); err != nil {
			continue
		}
		if contains(src.Events, eventType) && contains(t.TargetIDs(), repositoryID) {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// syncSchedule makes the external schedule match the trigger: exactly one
// entry keyed by trigger id while it is an enabled cron trigger, none
// otherwise. wasCron is whether a schedule may already exist.
func (s *Service) syncSchedule(ctx context.Context, t *models.Trigger, wasCron bool) error {
	if s.scheduler == nil {
		return nil
	}

	if t.SourceType != models.SourceCron || !t.Enabled {
		if !wasCron {
			return nil
		}
		if err := s.scheduler.Deregister(ctx, t.ID); err != nil {
			return fmt.Errorf("deregister schedule: %w", err)
		}
		return nil
	}

	var cfg ScheduleConfig
	if err := t.SourceConfig.Decode(&cfg); err != nil {
		return err
	}
	expr, err := BuildCronExpression(cfg)
	if err != nil {
		return err
	}

	err = s.scheduler.Register(ctx, schedules.Schedule{
		ID:             t.ID,
		Cron:           expr,
		OrganizationID: t.OrganizationID,
		TriggerID:      t.ID,
	})
	if err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}
	return nil
}

func (s *Service) dropSchedule(ctx context.Context, t *models.Trigger) {
	if s.scheduler == nil || t.SourceType != models.SourceCron {
		return
	}
	if err := s.scheduler.Deregister(ctx, t.ID); err != nil {
		log.Error().Err(err).Str("trigger_id", t.ID).Msg("failed to drop schedule of an uncommitted trigger")
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func orEmptyObject(j models.JSONText) models.JSONText {
	if len(j) == 0 {
		return models.JSONText(`{}`)
	}
	return j
}
