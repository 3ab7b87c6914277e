package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"draftr/internal/engine/github"
	"draftr/internal/engine/webhooks"
	"draftr/internal/platform/events"
	"draftr/internal/platform/models"
)

const (
	StageFetching   = "fetching"
	StageDrafting   = "drafting"
	StagePublishing = "publishing"
)

const (
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
)

const defaultLookback = 7 * 24 * time.Hour

// EventSnapshot is the canonical form of a provider event that started a run.
type EventSnapshot struct {
	Type        string              `json:"type"`
	Action      string              `json:"action,omitempty"`
	DeliveryID  string              `json:"delivery_id,omitempty"`
	Repository  string              `json:"repository"`
	Ref         string              `json:"ref,omitempty"`
	Sender      string              `json:"sender,omitempty"`
	Release     *github.Release     `json:"release,omitempty"`
	Commits     []github.Commit     `json:"commits,omitempty"`
	PullRequest *github.PullRequest `json:"pull_request,omitempty"`
}

type ContentInput struct {
	TriggerID     string          `json:"trigger_id,omitempty"`
	RepositoryIDs []string        `json:"repository_ids"`
	OutputType    string          `json:"output_type"`
	OutputConfig  models.JSONText `json:"output_config,omitempty"`
	Event         *EventSnapshot  `json:"event,omitempty"`
}

type fetched struct {
	Source     string             `json:"source"`
	EventType  string             `json:"event_type,omitempty"`
	Activities []*github.Activity `json:"activities"`
}

type draft struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type published struct {
	PostID    string `json:"post_id"`
	Delivered bool   `json:"delivered"`
}

type ContentDeps struct {
	Repositories RepositoryResolver
	Outputs      OutputLookup
	Activity     ActivityFetcher
	LLM          LLM
	Brands       BrandStore
	Posts        PostStore
	Deliverer    Deliverer
	Secrets      webhooks.Sealer
	Events       events.Publisher
}

// ContentGeneration drafts content from repository activity and publishes it
// as a post, optionally delivering it to the output's webhook.
func ContentGeneration(d ContentDeps) *Definition {
	if d.Events == nil {
		d.Events = events.Nop{}
	}

	return &Definition{
		Type: TypeContentGeneration,
		Steps: []Step{
			{Stage: StageFetching, Run: func(ctx context.Context, st *RunState) (interface{}, error) {
				in, err := decodeContentInput(st)
				if err != nil {
					return nil, err
				}
				if in.Event != nil {
					return fetched{Source: "webhook", EventType: in.Event.Type, Activities: []*github.Activity{snapshotActivity(in.Event)}}, nil
				}
				if len(in.RepositoryIDs) == 0 {
					return nil, Fatal(StageFetching, "no repositories to read from")
				}

				since := time.Now().Add(-defaultLookback)
				out := fetched{Source: "api"}
				for _, id := range in.RepositoryIDs {
					repo, integration, err := resolve(ctx, d.Repositories, id)
					if err != nil {
						return nil, err
					}
					token, err := d.Repositories.Token(ctx, integration)
					if err != nil {
						return nil, err
					}

					activity, err := d.Activity.FetchActivity(ctx, token, repo.Owner, repo.Repo, since)
					if err != nil {
						switch {
						case errors.Is(err, github.ErrUnauthorized):
							return nil, Fatal(StageFetching, "GitHub rejected the integration credentials")
						case errors.Is(err, github.ErrNotFound):
							return nil, Fatal(StageFetching, "repository "+repo.FullName()+" not found on GitHub")
						case temporary(err):
							return nil, Retriable(err)
						}
						return nil, err
					}
					out.Activities = append(out.Activities, activity)
				}
				return out, nil
			}},
			{Stage: StageDrafting, Run: func(ctx context.Context, st *RunState) (interface{}, error) {
				in, err := decodeContentInput(st)
				if err != nil {
					return nil, err
				}
				var f fetched
				if err := st.Output(StageFetching, &f); err != nil {
					return nil, err
				}

				brand, err := d.Brands.Get(ctx, st.OrganizationID)
				if err != nil {
					return nil, err
				}
				target, err := d.target(ctx, StageDrafting, in)
				if err != nil {
					return nil, err
				}

				activityJSON, err := json.MarshalIndent(f.Activities, "", "  ")
				if err != nil {
					return nil, err
				}

				text, err := d.LLM.Complete(ctx, draftSystemPrompt(in.OutputType, brand, target.Instructions), string(activityJSON))
				if err != nil {
					if temporary(err) {
						return nil, Retriable(err)
					}
					return nil, err
				}
				return splitDraft(text), nil
			}},
			{Stage: StagePublishing, Run: func(ctx context.Context, st *RunState) (interface{}, error) {
				in, err := decodeContentInput(st)
				if err != nil {
					return nil, err
				}
				var dr draft
				if err := st.Output(StageDrafting, &dr); err != nil {
					return nil, err
				}

				post := &models.Post{
					ID:             "post_" + uuid.NewString(),
					OrganizationID: st.OrganizationID,
					RunID:          st.RunID,
					OutputType:     in.OutputType,
					Title:          dr.Title,
					Body:           dr.Body,
					Status:         PostStatusDraft,
				}
				if in.TriggerID != "" {
					post.TriggerID = &in.TriggerID
				}
				if len(in.RepositoryIDs) == 1 {
					post.RepositoryID = &in.RepositoryIDs[0]
				}
				if err := d.Posts.UpsertByRun(ctx, post); err != nil {
					return nil, err
				}
				// A re-run keeps the id of the first insert.
				stored, err := d.Posts.GetByRun(ctx, st.RunID)
				if err != nil || stored == nil {
					return nil, fmt.Errorf("reload post for run %s: %v", st.RunID, err)
				}

				target, err := d.target(ctx, StagePublishing, in)
				if err != nil {
					return nil, err
				}
				result := published{PostID: stored.ID}

				if target.URL != "" && d.Deliverer != nil {
					delivery := webhooks.Delivery{
						OrganizationID: st.OrganizationID,
						URL:            target.URL,
						Secret:         target.Secret,
						Event:          events.PostPublished,
						Title:          dr.Title,
						ReferenceID:    st.RunID,
						Data:           stored,
					}
					if len(in.RepositoryIDs) > 0 && d.Repositories != nil {
						if _, integration, err := resolve(ctx, d.Repositories, in.RepositoryIDs[0]); err == nil {
							delivery.IntegrationType = integration.Type
							delivery.IntegrationID = integration.ID
						}
					}
					if _, err := d.Deliverer.Deliver(ctx, delivery); err != nil {
						return nil, Retriable(fmt.Errorf("deliver post: %w", err))
					}
					if err := d.Posts.SetStatus(ctx, stored.ID, PostStatusPublished); err != nil {
						return nil, err
					}
					result.Delivered = true
				}

				data, _ := json.Marshal(result)
				if err := d.Events.Publish(ctx, events.Event{
					Type:           events.PostPublished,
					OrganizationID: st.OrganizationID,
					RunID:          st.RunID,
					WorkflowType:   TypeContentGeneration,
					Data:           data,
				}); err != nil {
					log.Warn().Err(err).Str("run_id", st.RunID).Msg("failed to publish post event")
				}
				return result, nil
			}},
		},
	}
}

// target is where a run publishes: the first repository's configured output,
// overridden by the run's own config. A disabled output or a config that
// cannot be opened ends the run.
func (d ContentDeps) target(ctx context.Context, stage string, in *ContentInput) (webhooks.Target, error) {
	var base webhooks.Target
	if len(in.RepositoryIDs) > 0 && d.Outputs != nil {
		out, err := d.Outputs.Output(ctx, in.RepositoryIDs[0], in.OutputType)
		if err != nil {
			return webhooks.Target{}, err
		}
		if out != nil {
			if !out.Enabled {
				return webhooks.Target{}, Fatal(stage, in.OutputType+" output is disabled for the repository")
			}
			if base, err = webhooks.OpenConfig(out.Config, d.Secrets); err != nil {
				log.Error().Err(err).Str("repository_id", in.RepositoryIDs[0]).Msg("unreadable output config")
				return webhooks.Target{}, Fatal(stage, "repository output config is invalid")
			}
		}
	}

	own, err := webhooks.OpenConfig(in.OutputConfig, d.Secrets)
	if err != nil {
		log.Error().Err(err).Str("trigger_id", in.TriggerID).Msg("unreadable output config")
		return webhooks.Target{}, Fatal(stage, "output config is invalid")
	}
	return base.Override(own), nil
}

func decodeContentInput(st *RunState) (*ContentInput, error) {
	var in ContentInput
	if err := st.DecodeInput(&in); err != nil {
		return nil, Fatal(StageFetching, "invalid input")
	}
	return &in, nil
}

func resolve(ctx context.Context, repos RepositoryResolver, repositoryID string) (*models.Repository, *models.Integration, error) {
	repo, err := repos.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, nil, err
	}
	if repo == nil {
		return nil, nil, Fatal(StageFetching, "repository no longer exists")
	}
	integration, err := repos.GetIntegration(ctx, repo.IntegrationID)
	if err != nil {
		return nil, nil, err
	}
	if integration == nil {
		return nil, nil, Fatal(StageFetching, "integration no longer exists")
	}
	return repo, integration, nil
}

func snapshotActivity(ev *EventSnapshot) *github.Activity {
	a := &github.Activity{Repository: ev.Repository, Commits: ev.Commits, LatestRelease: ev.Release}
	if ev.PullRequest != nil {
		a.PullRequests = []github.PullRequest{*ev.PullRequest}
	}
	return a
}

var outputInstructions = map[string]string{
	models.OutputChangelog:  "Write a changelog entry in Markdown. Group changes under Added, Changed and Fixed.",
	models.OutputBlogPost:   "Write a blog post in Markdown announcing these changes to users.",
	models.OutputSocialPost: "Write a single social media post under 280 characters.",
}

func draftSystemPrompt(outputType string, brand *models.BrandSettings, extra string) string {
	var b strings.Builder
	b.WriteString("You write product content from repository activity supplied as JSON. ")
	b.WriteString("Start with a title line, then the body.\n")
	if instr, ok := outputInstructions[outputType]; ok {
		b.WriteString(instr + "\n")
	}
	if brand != nil {
		fmt.Fprintf(&b, "Company: %s\n", brand.CompanyName)
		if brand.Description != "" {
			fmt.Fprintf(&b, "About: %s\n", brand.Description)
		}
		if brand.Tone != "" {
			fmt.Fprintf(&b, "Tone: %s\n", brand.Tone)
		}
		if brand.Audience != "" {
			fmt.Fprintf(&b, "Audience: %s\n", brand.Audience)
		}
		if len(brand.Keywords) > 0 {
			fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(brand.Keywords, ", "))
		}
	}
	if extra != "" {
		b.WriteString(extra + "\n")
	}
	return b.String()
}

// splitDraft takes the first non-empty line as the title.
func splitDraft(text string) draft {
	text = strings.TrimSpace(text)
	lines := strings.SplitN(text, "\n", 2)
	title := strings.TrimSpace(strings.TrimLeft(lines[0], "# "))
	body := text
	if len(lines) == 2 {
		body = strings.TrimSpace(lines[1])
	}
	if title == "" {
		title = "Untitled"
	}
	return draft{Title: title, Body: body}
}
