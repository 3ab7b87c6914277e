package triggers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/robfig/cron/v3"
	"draftr/internal/engine/schedules"
	"draftr/internal/engine/workflows"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/platform/audit"
	"draftr/internal/platform/database/dbtest"
	"draftr/internal/platform/models"
	"draftr/internal/platform/repositories"
	"draftr/internal/platform/vault"
)

func intPtr(v int) *int { return &v }

func TestBuildCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ScheduleConfig
		want    string
		wantErr bool
	}{
		{"weekly", ScheduleConfig{Frequency: FrequencyWeekly, Hour: intPtr(9), Minute: intPtr(0), DayOfWeek: intPtr(1)}, "0 9 * * 1", false},
		{"monthly", ScheduleConfig{Frequency: FrequencyMonthly, DayOfMonth: intPtr(15), Hour: intPtr(0), Minute: intPtr(0)}, "0 0 15 * *", false},
		{"daily", ScheduleConfig{Frequency: FrequencyDaily, Hour: intPtr(16), Minute: intPtr(30)}, "30 16 * * *", false},
		{"defaults to midnight", ScheduleConfig{Frequency: FrequencyDaily}, "0 0 * * *", false},
		{"weekly without day", ScheduleConfig{Frequency: FrequencyWeekly}, "", true},
		{"monthly day out of range", ScheduleConfig{Frequency: FrequencyMonthly, DayOfMonth: intPtr(32)}, "", true},
		{"hour out of range", ScheduleConfig{Frequency: FrequencyDaily, Hour: intPtr(24)}, "", true},
		{"unknown frequency", ScheduleConfig{Frequency: "hourly"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildCronExpression(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildCronExpression() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("BuildCronExpression() = %q, want %q", got, tt.want)
			}
			if !tt.wantErr {
				if _, err := cron.ParseStandard(got); err != nil {
					t.Errorf("expression %q does not parse: %v", got, err)
				}
				again, _ := BuildCronExpression(tt.cfg)
				if again != got {
					t.Errorf("not deterministic: %q then %q", got, again)
				}
			}
		})
	}
}

type fakeOwner map[string]string

func (f fakeOwner) OwnedRepositories(_ context.Context, orgID string, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		if f[id] == orgID {
			out[id] = true
		}
	}
	return out, nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	schedules map[string]schedules.Schedule
	err       error
}

func (f *fakeScheduler) Register(_ context.Context, s schedules.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.schedules[s.ID] = s
	return nil
}

func (f *fakeScheduler) Deregister(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.schedules, id)
	return nil
}

// fakeOutputs maps repository id to whether its output is enabled. Missing
// repositories have no output configured.
type fakeOutputs map[string]bool

func (f fakeOutputs) Output(_ context.Context, repositoryID, outputType string) (*models.Output, error) {
	enabled, ok := f[repositoryID]
	if !ok {
		return nil, nil
	}
	return &models.Output{RepositoryID: repositoryID, OutputType: outputType, Enabled: enabled}, nil
}

type startCall struct {
	workflowType  string
	orgID         string
	input         workflows.ContentInput
	correlationID string
}

type fakeStarter struct {
	calls []startCall
	err   error
}

func (f *fakeStarter) Start(_ context.Context, workflowType, orgID string, input interface{}, correlationID string) (*workflows.RunHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, startCall{workflowType, orgID, input.(workflows.ContentInput), correlationID})
	return &workflows.RunHandle{RunID: "run_1", WorkflowType: workflowType, OrganizationID: orgID}, nil
}

type fixture struct {
	svc       *Service
	repo      *repositories.TriggerRepository
	scheduler *fakeScheduler
	starter   *fakeStarter
	outputs   fakeOutputs
	secrets   *vault.Vault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	dbtest.SeedOrganization(t, db, "org_1", models.PlanFree)
	dbtest.SeedOrganization(t, db, "org_2", models.PlanFree)

	logger := audit.NewLogger(db)
	logger.Synchronous = true

	secrets, err := vault.New([]byte("0123456789abcdef0123456789abcdef"), vault.PurposeWebhookSecret)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	f := &fixture{
		repo:      repositories.NewTriggerRepository(db),
		scheduler: &fakeScheduler{schedules: map[string]schedules.Schedule{}},
		starter:   &fakeStarter{},
		outputs:   fakeOutputs{},
		secrets:   secrets,
	}
	f.svc = NewService(Deps{
		Triggers:  f.repo,
		Owner:     fakeOwner{"repo_1": "org_1", "repo_2": "org_1", "repo_9": "org_2"},
		Outputs:   f.outputs,
		Scheduler: f.scheduler,
		Starter:   f.starter,
		Secrets:   secrets,
		Audit:     logger,
	})
	return f
}

func cronInput() TriggerInput {
	return TriggerInput{
		Name:         "Weekly changelog",
		SourceType:   models.SourceCron,
		SourceConfig: models.JSONText(`{"frequency":"weekly","hour":9,"minute":0,"day_of_week":1}`),
		Targets:      []string{"repo_1", "repo_2"},
		OutputType:   models.OutputChangelog,
	}
}

func webhookInput(events string) TriggerInput {
	return TriggerInput{
		Name:         "On release",
		SourceType:   models.SourceWebhook,
		SourceConfig: models.JSONText(`{"events":` + events + `}`),
		Targets:      []string{"repo_1"},
		OutputType:   models.OutputBlogPost,
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    TriggerInput
		field string
	}{
		{"no events", webhookInput(`[]`), "source_config.events"},
		{"unrecognized event only", webhookInput(`["issues"]`), "source_config.events"},
		{"bad cron", TriggerInput{Name: "x", SourceType: models.SourceCron, SourceConfig: models.JSONText(`{"frequency":"weekly"}`), Targets: []string{"repo_1"}, OutputType: models.OutputChangelog}, "source_config"},
		{"no targets", TriggerInput{Name: "x", SourceType: models.SourceManual, OutputType: models.OutputChangelog}, "targets"},
		{"foreign target", TriggerInput{Name: "x", SourceType: models.SourceManual, Targets: []string{"repo_9"}, OutputType: models.OutputChangelog}, "targets"},
		{"bad output type", TriggerInput{Name: "x", SourceType: models.SourceManual, Targets: []string{"repo_1"}, OutputType: "tweet"}, "output_type"},
		{"bad source type", TriggerInput{Name: "x", SourceType: "email", Targets: []string{"repo_1"}, OutputType: models.OutputChangelog}, "source_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, "org_1", tt.in)
			var v *apperrors.ValidationError
			if !errors.As(err, &v) {
				t.Fatalf("Create() error = %v, want ValidationError", err)
			}
			found := false
			for _, issue := range v.Issues {
				if issue.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("issues = %+v, want one for %s", v.Issues, tt.field)
			}
		})
	}

	list, _ := f.svc.List(ctx, "org_1")
	if len(list) != 0 {
		t.Errorf("invalid triggers were stored: %d", len(list))
	}
}

func TestSchedules_FollowTriggerLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trg, err := f.svc.Create(ctx, "org_1", cronInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s, ok := f.scheduler.schedules[trg.ID]
	if !ok || s.Cron != "0 9 * * 1" || s.OrganizationID != "org_1" || s.TriggerID != trg.ID {
		t.Fatalf("schedule = %+v, %v", s, ok)
	}

	// Re-enabling keeps exactly one schedule.
	if _, err := f.svc.SetEnabled(ctx, "org_1", trg.ID, true); err != nil {
		t.Fatalf("SetEnabled(true) error = %v", err)
	}
	if len(f.scheduler.schedules) != 1 {
		t.Errorf("schedules = %d, want 1", len(f.scheduler.schedules))
	}

	daily := models.JSONText(`{"frequency":"daily","hour":16,"minute":30}`)
	if _, err := f.svc.Update(ctx, "org_1", trg.ID, UpdateTriggerInput{SourceConfig: daily}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := f.scheduler.schedules[trg.ID].Cron; got != "30 16 * * *" {
		t.Errorf("schedule after update = %q", got)
	}

	if _, err := f.svc.SetEnabled(ctx, "org_1", trg.ID, false); err != nil {
		t.Fatalf("SetEnabled(false) error = %v", err)
	}
	if len(f.scheduler.schedules) != 0 {
		t.Errorf("schedule kept after disable")
	}

	if _, err := f.svc.SetEnabled(ctx, "org_1", trg.ID, true); err != nil {
		t.Fatalf("SetEnabled(true) error = %v", err)
	}
	if err := f.svc.Delete(ctx, "org_1", trg.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(f.scheduler.schedules) != 0 {
		t.Errorf("schedule kept after delete")
	}
}

func TestGet_OtherOrganizationIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trg, err := f.svc.Create(ctx, "org_1", cronInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.svc.Get(ctx, "org_2", trg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := f.svc.Delete(ctx, "org_2", trg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.RunNow(ctx, "org_2", trg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("RunNow() error = %v, want ErrNotFound", err)
	}
}

func TestRunNow_StartsWithCorrelationAndLeavesTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trg, err := f.svc.Create(ctx, "org_1", cronInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before, _ := f.repo.GetByID(ctx, trg.ID)

	handle, err := f.svc.RunNow(ctx, "org_1", trg.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if handle.RunID == "" {
		t.Error("RunNow() returned no run id")
	}

	if len(f.starter.calls) != 1 {
		t.Fatalf("starts = %d, want 1", len(f.starter.calls))
	}
	call := f.starter.calls[0]
	if call.workflowType != workflows.TypeContentGeneration || call.correlationID != trg.ID || call.orgID != "org_1" {
		t.Errorf("start call = %+v", call)
	}
	if len(call.input.RepositoryIDs) != 2 || call.input.OutputType != models.OutputChangelog {
		t.Errorf("input = %+v", call.input)
	}

	after, _ := f.repo.GetByID(ctx, trg.ID)
	if after.UpdatedAt != before.UpdatedAt || after.Enabled != before.Enabled {
		t.Error("RunNow() modified the trigger")
	}
}

func TestRunScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trg, err := f.svc.Create(ctx, "org_1", cronInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := f.svc.RunScheduled(ctx, "org_1", trg.ID); err != nil {
		t.Fatalf("RunScheduled() error = %v", err)
	}
	if len(f.starter.calls) != 1 {
		t.Fatalf("starts = %d, want 1", len(f.starter.calls))
	}

	f.starter.err = workflows.ErrRunInProgress
	if err := f.svc.RunScheduled(ctx, "org_1", trg.ID); err != nil {
		t.Errorf("RunScheduled() with run in progress error = %v", err)
	}

	f.starter.err = nil
	if _, err := f.svc.SetEnabled(ctx, "org_1", trg.ID, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if err := f.svc.RunScheduled(ctx, "org_1", trg.ID); err != nil {
		t.Errorf("RunScheduled() disabled error = %v", err)
	}
	if len(f.starter.calls) != 1 {
		t.Errorf("disabled trigger started a run")
	}
}

func TestMatchWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release, err := f.svc.Create(ctx, "org_1", webhookInput(`["release","push"]`))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	disabled := webhookInput(`["release"]`)
	off := false
	disabled.Enabled = &off
	if _, err := f.svc.Create(ctx, "org_1", disabled); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.svc.Create(ctx, "org_1", cronInput()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name      string
		repo      string
		eventType string
		want      int
	}{
		{"release on target", "repo_1", EventRelease, 1},
		{"push on target", "repo_1", EventPush, 1},
		{"unsubscribed event", "repo_1", EventPullRequest, 0},
		{"other repository", "repo_2", EventRelease, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.MatchWebhook(ctx, "org_1", tt.repo, tt.eventType)
			if err != nil {
				t.Fatalf("MatchWebhook() error = %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("MatchWebhook() = %d triggers, want %d", len(got), tt.want)
			}
			if tt.want == 1 && got[0].ID != release.ID {
				t.Errorf("matched %s, want %s", got[0].ID, release.ID)
			}
		})
	}

	if got, _ := f.svc.MatchWebhook(ctx, "org_2", "repo_1", EventRelease); len(got) != 0 {
		t.Errorf("other organization matched %d triggers", len(got))
	}
}

func TestCreate_FailedScheduleStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.scheduler.err = errors.New("redis: connection refused")
	if _, err := f.svc.Create(ctx, "org_1", cronInput()); err == nil {
		t.Fatal("Create() succeeded with a failing scheduler")
	}

	list, err := f.svc.List(ctx, "org_1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("triggers = %d, want 0", len(list))
	}
}

func TestDelete_FailedDeregisterKeepsTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trg, err := f.svc.Create(ctx, "org_1", cronInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	f.scheduler.err = errors.New("redis: connection refused")
	if err := f.svc.Delete(ctx, "org_1", trg.ID); err == nil {
		t.Fatal("Delete() succeeded with a failing scheduler")
	}
	if _, err := f.svc.Get(ctx, "org_1", trg.ID); err != nil {
		t.Errorf("Get() after failed delete error = %v", err)
	}
	if _, ok := f.scheduler.schedules[trg.ID]; !ok {
		t.Error("schedule lost after failed delete")
	}

	f.scheduler.err = nil
	if err := f.svc.Delete(ctx, "org_1", trg.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.svc.Get(ctx, "org_1", trg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStart_SkipsDisabledOutputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trg, err := f.svc.Create(ctx, "org_1", cronInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	f.outputs["repo_1"] = false
	if _, err := f.svc.RunNow(ctx, "org_1", trg.ID); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if ids := f.starter.calls[0].input.RepositoryIDs; len(ids) != 1 || ids[0] != "repo_2" {
		t.Errorf("targets = %v, want [repo_2]", ids)
	}

	f.outputs["repo_2"] = false
	if _, err := f.svc.RunNow(ctx, "org_1", trg.ID); !errors.Is(err, ErrOutputDisabled) {
		t.Errorf("RunNow() error = %v, want ErrOutputDisabled", err)
	}
	if err := f.svc.RunScheduled(ctx, "org_1", trg.ID); err != nil {
		t.Errorf("RunScheduled() error = %v", err)
	}

	hook, err := f.svc.Create(ctx, "org_1", webhookInput(`["release"]`))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.svc.StartForEvent(ctx, hook, "repo_1", &workflows.EventSnapshot{}); !errors.Is(err, ErrOutputDisabled) {
		t.Errorf("StartForEvent() error = %v, want ErrOutputDisabled", err)
	}
	if len(f.starter.calls) != 1 {
		t.Errorf("starts = %d, want 1", len(f.starter.calls))
	}
}

func TestCreate_SealsOutputSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := webhookInput(`["release"]`)
	in.OutputType = models.OutputSocialPost
	in.OutputConfig = models.JSONText(`{"webhook_url":"https://hooks.example.com/post","webhook_secret":"outgoing-s3cret"}`)

	trg, err := f.svc.Create(ctx, "org_1", in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	stored, _ := f.repo.GetByID(ctx, trg.ID)
	if strings.Contains(string(stored.OutputConfig), "outgoing-s3cret") {
		t.Fatalf("stored config holds the plaintext secret: %s", stored.OutputConfig)
	}

	shown := string(Redact(stored).OutputConfig)
	if strings.Contains(shown, "outgoing-s3cret") || strings.Contains(shown, "encrypted_webhook_secret") || !strings.Contains(shown, `"webhook_secret_set":true`) {
		t.Errorf("redacted config = %s", shown)
	}

	// Changing only the instructions keeps the secret for the same URL.
	update := models.JSONText(`{"webhook_url":"https://hooks.example.com/post","instructions":"keep it short"}`)
	if _, err := f.svc.Update(ctx, "org_1", trg.ID, UpdateTriggerInput{OutputConfig: update}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := f.svc.RunNow(ctx, "org_1", trg.ID); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	var cfg struct {
		Sealed string `json:"encrypted_webhook_secret"`
	}
	if err := f.starter.calls[0].input.OutputConfig.Decode(&cfg); err != nil {
		t.Fatalf("decode run config: %v", err)
	}
	secret, err := f.secrets.Decrypt(cfg.Sealed)
	if err != nil || secret != "outgoing-s3cret" {
		t.Errorf("run secret = %q, %v", secret, err)
	}
}
