// Package github adapts the GitHub API and its webhooks to normalized
// integration events.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/devlens/devlens/internal/adapters"
	"github.com/devlens/devlens/internal/models"
)

// GitHub's authenticated core API allows 5000 requests per hour.
const requestsPerHour = 5000

// Adapter syncs one repository.
type Adapter struct {
	client  *gogithub.Client
	owner   string
	repo    string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds an adapter for owner/repo. An empty token uses anonymous
// access with its much lower rate budget.
func New(token, owner, repo string) *Adapter {
	client := gogithub.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &Adapter{
		client:  client,
		owner:   owner,
		repo:    repo,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerHour)/3600.0), 10),
		logger:  slog.Default().With("component", "github_adapter", "repo", owner+"/"+repo),
	}
}

func (a *Adapter) Source() string { return "github" }

func (a *Adapter) ListResources(ctx context.Context) ([]adapters.Resource, error) {
	return []adapters.Resource{
		{Name: "commits", Kind: "commits"},
		{Name: "issues", Kind: "issues"},
		{Name: "pull_requests", Kind: "pull_requests"},
		{Name: "issue_comments", Kind: "comments"},
	}, nil
}

// FetchWindow pulls commits, issues and pull requests changed since the
// given time, paging under the shared rate limiter.
func (a *Adapter) FetchWindow(ctx context.Context, projectID string, since time.Time) ([]*models.IntegrationEvent, error) {
	var events []*models.IntegrationEvent

	commits, err := a.fetchCommits(ctx, projectID, since)
	if err != nil {
		return nil, err
	}
	events = append(events, commits...)

	issues, err := a.fetchIssues(ctx, projectID, since)
	if err != nil {
		return nil, err
	}
	events = append(events, issues...)

	prs, err := a.fetchPullRequests(ctx, projectID, since)
	if err != nil {
		return nil, err
	}
	events = append(events, prs...)

	a.logger.Info("fetched window", "project_id", projectID, "since", since, "events", len(events))
	return events, nil
}

func (a *Adapter) fetchCommits(ctx context.Context, projectID string, since time.Time) ([]*models.IntegrationEvent, error) {
	opts := &gogithub.CommitsListOptions{
		Since:       since,
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	var events []*models.IntegrationEvent
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := a.client.Repositories.ListCommits(ctx, a.owner, a.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list commits: %w", err)
		}
		for _, c := range commits {
			author := c.GetAuthor().GetLogin()
			if author == "" {
				author = c.GetCommit().GetAuthor().GetName()
			}
			events = append(events, &models.IntegrationEvent{
				ID:        c.GetSHA(),
				ProjectID: projectID,
				Source:    "github",
				EventType: models.EventTypeCommit,
				Title:     firstLine(c.GetCommit().GetMessage()),
				Content:   c.GetCommit().GetMessage(),
				Author:    author,
				Timestamp: c.GetCommit().GetAuthor().GetDate().Time,
				Metadata:  models.Metadata{models.MetaCommitHash: c.GetSHA()},
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return events, nil
}

func (a *Adapter) fetchIssues(ctx context.Context, projectID string, since time.Time) ([]*models.IntegrationEvent, error) {
	opts := &gogithub.IssueListByRepoOptions{
		Since:       since,
		State:       "all",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	var events []*models.IntegrationEvent
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		issues, resp, err := a.client.Issues.ListByRepo(ctx, a.owner, a.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}
		for _, issue := range issues {
			// the issues API also returns pull requests
			if issue.IsPullRequest() {
				continue
			}
			events = append(events, a.issueEvent(projectID, issue))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return events, nil
}

func (a *Adapter) fetchPullRequests(ctx context.Context, projectID string, since time.Time) ([]*models.IntegrationEvent, error) {
	opts := &gogithub.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	var events []*models.IntegrationEvent
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		prs, resp, err := a.client.PullRequests.List(ctx, a.owner, a.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list pull requests: %w", err)
		}
		done := false
		for _, pr := range prs {
			if pr.GetUpdatedAt().Time.Before(since) {
				done = true
				break
			}
			events = append(events, a.pullRequestEvent(projectID, pr))
		}
		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return events, nil
}

// ProcessWebhook maps push, issues, issue_comment and pull_request
// deliveries; other types yield no events.
func (a *Adapter) ProcessWebhook(ctx context.Context, projectID, payloadType string, payload []byte) ([]*models.IntegrationEvent, error) {
	parsed, err := gogithub.ParseWebHook(payloadType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s webhook: %w", payloadType, err)
	}

	switch ev := parsed.(type) {
	case *gogithub.PushEvent:
		return a.pushEvents(projectID, ev), nil

	case *gogithub.IssuesEvent:
		issue := ev.GetIssue()
		out := a.issueEvent(projectID, issue)
		out.Metadata["action"] = ev.GetAction()
		return []*models.IntegrationEvent{out}, nil

	case *gogithub.IssueCommentEvent:
		comment := ev.GetComment()
		return []*models.IntegrationEvent{{
			ID:        fmt.Sprintf("comment-%d", comment.GetID()),
			ProjectID: projectID,
			Source:    "github",
			EventType: models.EventTypeMessage,
			Title:     fmt.Sprintf("Comment on #%d", ev.GetIssue().GetNumber()),
			Content:   comment.GetBody(),
			Author:    comment.GetUser().GetLogin(),
			Timestamp: comment.GetCreatedAt().Time,
			Metadata:  models.Metadata{models.MetaIssueNumber: ev.GetIssue().GetNumber()},
		}}, nil

	case *gogithub.PullRequestEvent:
		out := a.pullRequestEvent(projectID, ev.GetPullRequest())
		out.Metadata["action"] = ev.GetAction()
		return []*models.IntegrationEvent{out}, nil

	default:
		a.logger.Debug("ignoring webhook", "payload_type", payloadType)
		return nil, nil
	}
}

func (a *Adapter) pushEvents(projectID string, ev *gogithub.PushEvent) []*models.IntegrationEvent {
	var events []*models.IntegrationEvent
	for _, c := range ev.Commits {
		files := append(append(c.Added, c.Modified...), c.Removed...)
		author := c.GetAuthor().GetLogin()
		if author == "" {
			author = c.GetAuthor().GetName()
		}
		events = append(events, &models.IntegrationEvent{
			ID:        c.GetID(),
			ProjectID: projectID,
			Source:    "github",
			EventType: models.EventTypeCommit,
			Title:     firstLine(c.GetMessage()),
			Content:   c.GetMessage(),
			Author:    author,
			Timestamp: c.GetTimestamp().Time,
			Metadata: models.Metadata{
				models.MetaCommitHash: c.GetID(),
				models.MetaFiles:      files,
			},
		})
	}
	return events
}

func (a *Adapter) issueEvent(projectID string, issue *gogithub.Issue) *models.IntegrationEvent {
	meta := models.Metadata{
		models.MetaIssueNumber: issue.GetNumber(),
		models.MetaExternalID:  fmt.Sprintf("#%d", issue.GetNumber()),
	}
	var labels []string
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	if len(labels) > 0 {
		meta["labels"] = labels
	}
	ts := issue.GetUpdatedAt().Time
	if ts.IsZero() {
		ts = issue.GetCreatedAt().Time
	}
	return &models.IntegrationEvent{
		ID:        fmt.Sprintf("issue-%d", issue.GetNumber()),
		ProjectID: projectID,
		Source:    "github",
		EventType: models.EventTypeIssue,
		Title:     issue.GetTitle(),
		Content:   issue.GetBody(),
		Author:    issue.GetUser().GetLogin(),
		Timestamp: ts,
		Metadata:  meta,
	}
}

func (a *Adapter) pullRequestEvent(projectID string, pr *gogithub.PullRequest) *models.IntegrationEvent {
	meta := models.Metadata{
		models.MetaPRNumber:   pr.GetNumber(),
		models.MetaExternalID: fmt.Sprintf("#%d", pr.GetNumber()),
	}
	if sha := pr.GetMergeCommitSHA(); sha != "" {
		meta[models.MetaCommitHash] = sha
	}
	ts := pr.GetUpdatedAt().Time
	if ts.IsZero() {
		ts = pr.GetCreatedAt().Time
	}
	return &models.IntegrationEvent{
		ID:        fmt.Sprintf("pr-%d", pr.GetNumber()),
		ProjectID: projectID,
		Source:    "github",
		EventType: models.EventTypePullRequest,
		Title:     pr.GetTitle(),
		Content:   pr.GetBody(),
		Author:    pr.GetUser().GetLogin(),
		Timestamp: ts,
		Metadata:  meta,
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
