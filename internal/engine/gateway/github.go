package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"github.com/rs/zerolog/log"
	"draftr/internal/engine/github"
	"draftr/internal/engine/triggers"
	"draftr/internal/engine/workflows"
)

const githubDeliveryHeader = gh.DeliveryIDHeader

func verifyGitHub(secret string, h http.Header, body []byte) bool {
	sig := h.Get(gh.SHA256SignatureHeader)
	if secret == "" || sig == "" {
		return false
	}
	return gh.ValidateSignature(sig, body, []byte(secret)) == nil
}

// githubPayload returns the JSON payload, unwrapping form-encoded deliveries.
func githubPayload(h http.Header, body []byte) ([]byte, error) {
	if !strings.HasPrefix(h.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return body, nil
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	return []byte(form.Get("payload")), nil
}

type startedRun struct {
	TriggerID string `json:"trigger_id"`
	RunID     string `json:"run_id"`
}

type skippedTrigger struct {
	TriggerID string `json:"trigger_id"`
	Reason    string `json:"reason"`
}

func (g *Gateway) handleGitHub(ctx context.Context, d *delivery) (*outcome, error) {
	eventType := d.headers.Get(gh.EventTypeHeader)
	if eventType == "" {
		return nil, rejectf("missing %s header", gh.EventTypeHeader)
	}

	switch eventType {
	case triggers.EventRelease, triggers.EventPush, triggers.EventPullRequest:
	case "ping":
		return &outcome{Message: "pong", Title: "github ping for " + d.repo.FullName()}, nil
	default:
		return &outcome{Message: "event ignored", Data: map[string]string{"event": eventType}}, nil
	}

	payload, err := githubPayload(d.headers, d.body)
	if err != nil {
		return nil, rejectf("malformed form payload")
	}
	parsed, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, rejectf("malformed %s payload", eventType)
	}

	snapshot, skipReason := canonicalGitHubEvent(parsed)
	if snapshot == nil {
		return &outcome{Message: "event ignored", Data: map[string]string{"event": eventType, "reason": skipReason}}, nil
	}
	snapshot.DeliveryID = d.deliveryID
	if snapshot.Repository != "" && !strings.EqualFold(snapshot.Repository, d.repo.FullName()) {
		return nil, rejectf("payload repository %s does not match %s", snapshot.Repository, d.repo.FullName())
	}

	title := "github " + snapshot.Type + " for " + d.repo.FullName()
	if snapshot.Release != nil {
		title = "github release " + snapshot.Release.TagName + " for " + d.repo.FullName()
	}

	matched, err := g.triggers.MatchWebhook(ctx, d.orgID, d.repo.ID, snapshot.Type)
	if err != nil {
		return nil, err
	}

	runs := []startedRun{}
	skipped := []skippedTrigger{}
	for _, t := range matched {
		handle, err := g.triggers.StartForEvent(ctx, t, d.repo.ID, snapshot)
		switch {
		case err == nil:
			runs = append(runs, startedRun{TriggerID: t.ID, RunID: handle.RunID})
		case errors.Is(err, workflows.ErrRunInProgress):
			skipped = append(skipped, skippedTrigger{TriggerID: t.ID, Reason: "run in progress"})
		case errors.Is(err, workflows.ErrNotEntitled):
			skipped = append(skipped, skippedTrigger{TriggerID: t.ID, Reason: "plan does not include AI generation"})
		case errors.Is(err, triggers.ErrOutputDisabled):
			skipped = append(skipped, skippedTrigger{TriggerID: t.ID, Reason: "output disabled"})
		default:
			return nil, err
		}
	}

	log.Info().Str("org_id", d.orgID).Str("event", snapshot.Type).Int("runs", len(runs)).Int("skipped", len(skipped)).Msg("github event dispatched")

	return &outcome{
		Message: "event processed",
		Title:   title,
		Data: map[string]interface{}{
			"event":   snapshot.Type,
			"action":  snapshot.Action,
			"runs":    runs,
			"skipped": skipped,
		},
	}, nil
}

// canonicalGitHubEvent reduces a parsed event to the snapshot a content run
// needs. It returns nil and a reason for events that start nothing.
func canonicalGitHubEvent(event interface{}) (*workflows.EventSnapshot, string) {
	switch e := event.(type) {
	case *gh.ReleaseEvent:
		action := e.GetAction()
		if action != "published" && action != "released" {
			return nil, "release action " + action
		}
		r := e.GetRelease()
		return &workflows.EventSnapshot{
			Type:       triggers.EventRelease,
			Action:     action,
			Repository: e.GetRepo().GetFullName(),
			Sender:     e.GetSender().GetLogin(),
			Ref:        r.GetTagName(),
			Release: &github.Release{
				TagName:     r.GetTagName(),
				Name:        r.GetName(),
				Body:        r.GetBody(),
				URL:         r.GetHTMLURL(),
				PublishedAt: r.GetPublishedAt().Time,
			},
		}, ""

	case *gh.PushEvent:
		branch := e.GetRepo().GetDefaultBranch()
		if branch == "" || e.GetRef() != "refs/heads/"+branch {
			return nil, "push outside the default branch"
		}
		snapshot := &workflows.EventSnapshot{
			Type:       triggers.EventPush,
			Repository: e.GetRepo().GetFullName(),
			Sender:     e.GetSender().GetLogin(),
			Ref:        e.GetRef(),
		}
		for _, c := range e.Commits {
			author := c.GetAuthor().GetLogin()
			if author == "" {
				author = c.GetAuthor().GetName()
			}
			snapshot.Commits = append(snapshot.Commits, github.Commit{
				SHA:     c.GetID(),
				Message: c.GetMessage(),
				Author:  author,
				URL:     c.GetURL(),
				When:    c.GetTimestamp().Time,
			})
		}
		return snapshot, ""

	case *gh.PullRequestEvent:
		pr := e.GetPullRequest()
		if e.GetAction() != "closed" || !pr.GetMerged() {
			return nil, "pull request not merged"
		}
		return &workflows.EventSnapshot{
			Type:       triggers.EventPullRequest,
			Action:     e.GetAction(),
			Repository: e.GetRepo().GetFullName(),
			Sender:     e.GetSender().GetLogin(),
			Ref:        pr.GetBase().GetRef(),
			PullRequest: &github.PullRequest{
				Number:   pr.GetNumber(),
				Title:    pr.GetTitle(),
				Body:     pr.GetBody(),
				Author:   pr.GetUser().GetLogin(),
				URL:      pr.GetHTMLURL(),
				MergedAt: pr.GetMergedAt().Time,
			},
		}, ""
	}
	return nil, "unhandled event"
}
