// Package github wraps the GitHub REST API for repository discovery and
// activity snapshots.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
	"draftr/internal/platform/config"
)

var (
	ErrRateLimited  = errors.New("github rate limit exceeded")
	ErrUnauthorized = errors.New("github rejected the credentials")
	ErrNotFound     = errors.New("github resource not found")
)

// UpstreamError keeps GitHub's message alongside the mapped sentinel.
type UpstreamError struct {
	Kind    error
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *UpstreamError) Unwrap() error { return e.Kind }

type Factory struct {
	baseURL string
}

func NewFactory(cfg config.GitHubConfig) *Factory {
	return &Factory{baseURL: cfg.APIBaseURL}
}

// Client returns an API client. An empty token gives unauthenticated access
// to public resources.
func (f *Factory) Client(ctx context.Context, token string) (*Client, error) {
	var httpClient *http.Client
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	client := gh.NewClient(httpClient)
	if f.baseURL != "" {
		base := f.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}

	return &Client{gh: client, authenticated: token != ""}, nil
}

type Client struct {
	gh            *gh.Client
	authenticated bool
}

type RepositorySummary struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
	Description   string `json:"description,omitempty"`
}

// ListRepositories lists repositories the token can see, or the public
// repositories of owner when unauthenticated or owner is given.
func (c *Client) ListRepositories(ctx context.Context, owner string) ([]RepositorySummary, error) {
	var (
		repos []*gh.Repository
		err   error
	)

	if c.authenticated && owner == "" {
		repos, _, err = c.gh.Repositories.ListByAuthenticatedUser(ctx, &gh.RepositoryListByAuthenticatedUserOptions{
			Sort:        "updated",
			ListOptions: gh.ListOptions{PerPage: 100},
		})
	} else {
		if owner == "" {
			return nil, &UpstreamError{Kind: ErrUnauthorized, Message: "an owner is required without a token"}
		}
		repos, _, err = c.gh.Repositories.ListByUser(ctx, owner, &gh.RepositoryListByUserOptions{
			Sort:        "updated",
			ListOptions: gh.ListOptions{PerPage: 100},
		})
	}
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]RepositorySummary, 0, len(repos))
	for _, r := range repos {
		out = append(out, RepositorySummary{
			Owner:         r.GetOwner().GetLogin(),
			Name:          r.GetName(),
			FullName:      r.GetFullName(),
			Private:       r.GetPrivate(),
			DefaultBranch: r.GetDefaultBranch(),
			Description:   r.GetDescription(),
		})
	}
	return out, nil
}

type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	URL     string    `json:"url"`
	When    time.Time `json:"when"`
}

type PullRequest struct {
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	Body     string    `json:"body,omitempty"`
	Author   string    `json:"author"`
	URL      string    `json:"url"`
	MergedAt time.Time `json:"merged_at"`
}

type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body,omitempty"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Activity is what changed in a repository since a point in time.
type Activity struct {
	Repository    string        `json:"repository"`
	Commits       []Commit      `json:"commits"`
	PullRequests  []PullRequest `json:"pull_requests"`
	LatestRelease *Release      `json:"latest_release,omitempty"`
}

func (c *Client) FetchActivity(ctx context.Context, owner, repo string, since time.Time) (*Activity, error) {
	activity := &Activity{Repository: owner + "/" + repo}

	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, repo, &gh.CommitsListOptions{
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, mapError(err)
	}
	for _, cm := range commits {
		activity.Commits = append(activity.Commits, Commit{
			SHA:     cm.GetSHA(),
			Message: cm.GetCommit().GetMessage(),
			Author:  cm.GetCommit().GetAuthor().GetName(),
			URL:     cm.GetHTMLURL(),
			When:    cm.GetCommit().GetAuthor().GetDate().Time,
		})
	}

	pulls, _, err := c.gh.PullRequests.List(ctx, owner, repo, &gh.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, mapError(err)
	}
	for _, pr := range pulls {
		if pr.MergedAt == nil || pr.GetMergedAt().Before(since) {
			continue
		}
		activity.PullRequests = append(activity.PullRequests, PullRequest{
			Number:   pr.GetNumber(),
			Title:    pr.GetTitle(),
			Body:     pr.GetBody(),
			Author:   pr.GetUser().GetLogin(),
			URL:      pr.GetHTMLURL(),
			MergedAt: pr.GetMergedAt().Time,
		})
	}

	release, _, err := c.gh.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		mapped := mapError(err)
		if !errors.Is(mapped, ErrNotFound) {
			return nil, mapped
		}
	} else {
		activity.LatestRelease = &Release{
			TagName:     release.GetTagName(),
			Name:        release.GetName(),
			Body:        release.GetBody(),
			URL:         release.GetHTMLURL(),
			PublishedAt: release.GetPublishedAt().Time,
		}
	}

	return activity, nil
}

func mapError(err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &UpstreamError{Kind: ErrRateLimited, Message: rateErr.Message}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &UpstreamError{Kind: ErrRateLimited, Message: abuseErr.Message}
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &UpstreamError{Kind: ErrUnauthorized, Message: respErr.Message}
		case http.StatusNotFound:
			return &UpstreamError{Kind: ErrNotFound, Message: respErr.Message}
		case http.StatusTooManyRequests:
			return &UpstreamError{Kind: ErrRateLimited, Message: respErr.Message}
		}
	}
	return fmt.Errorf("github: %w", err)
}
