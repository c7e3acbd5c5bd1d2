// internal/github/client.go
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"golang.org/x/oauth2"

	custom_errors "github-dashboard-sync/internal/errors"
	"github-dashboard-sync/internal/model"
	"github-dashboard-sync/internal/report"
)

const defaultEndpoint = "https://api.github.com/graphql"

// shortSHALen is the length commits are keyed by throughout the system.
const shortSHALen = 7

// Client issues GraphQL queries against the GitHub API. Every call is timed,
// bounded by the configured timeout, and recorded in the call tracker passed
// at construction — the tracker is per-sync state, not a global.
type Client struct {
	http     *http.Client
	endpoint string
	timeout  time.Duration
	tracker  *report.Tracker
	logger   *slog.Logger
}

// NewClient creates a client with the following transport stack:
//  1. oauth2 bearer-token transport (PAT auth)
//  2. go-github-ratelimit (sleeps through secondary rate limits)
func NewClient(token string, timeout time.Duration, tracker *report.Tracker, logger *slog.Logger) *Client {
	authTransport := &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
	}
	return &Client{
		http:     github_ratelimit.NewClient(authTransport),
		endpoint: defaultEndpoint,
		timeout:  timeout,
		tracker:  tracker,
		logger:   logger,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and
// endpoint, so tests can point it at an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, endpoint string, timeout time.Duration, tracker *report.Tracker, logger *slog.Logger) *Client {
	return &Client{
		http:     httpClient,
		endpoint: endpoint,
		timeout:  timeout,
		tracker:  tracker,
		logger:   logger,
	}
}

// graphqlRequest is the JSON body sent to the GraphQL endpoint.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the generic response envelope: either data, or an error
// list, or both.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// callTarget identifies which repository/branch a call was issued for, for
// the call ledger. Zero value means the call was not repo-scoped.
type callTarget struct {
	repo   string
	branch string
}

// query executes one GraphQL request and decodes the data payload into out.
// Success or failure, the call is appended to the tracker's ledger.
func (c *Client) query(ctx context.Context, name, doc string, vars map[string]any, out any, target callTarget) error {
	start := time.Now()
	err := c.doQuery(ctx, name, doc, vars, out)

	rec := report.CallRecord{
		Query:     name,
		Variables: vars,
		Repo:      target.repo,
		Branch:    target.branch,
		StartedAt: start,
		Duration:  time.Since(start),
		Success:   err == nil,
	}
	if err != nil {
		rec.ErrorText = err.Error()
	}
	c.tracker.Record(rec)

	return err
}

func (c *Client) doQuery(ctx context.Context, name, doc string, vars map[string]any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(graphqlRequest{Query: doc, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshaling %q request: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %q request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &custom_errors.RemoteUnavailableError{Query: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &custom_errors.RemoteUnavailableError{
			Query: name,
			Err:   fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var envelope graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &custom_errors.RemoteUnavailableError{
			Query: name,
			Err:   fmt.Errorf("decoding response: %w", err),
		}
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			messages[i] = e.Message
		}
		return &custom_errors.RemoteRejectedError{Query: name, Messages: messages}
	}

	if out != nil && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &custom_errors.RemoteUnavailableError{
				Query: name,
				Err:   fmt.Errorf("decoding data payload: %w", err),
			}
		}
	}

	return nil
}

// repoNode is the GraphQL shape of a repository across all repository lists.
type repoNode struct {
	Name             string    `json:"name"`
	NameWithOwner    string    `json:"nameWithOwner"`
	URL              string    `json:"url"`
	PushedAt         time.Time `json:"pushedAt"`
	IsPrivate        bool      `json:"isPrivate"`
	DefaultBranchRef *struct {
		Name string `json:"name"`
	} `json:"defaultBranchRef"`
}

func (n repoNode) toModel() model.Repository {
	repo := model.Repository{
		Name:          n.Name,
		NameWithOwner: n.NameWithOwner,
		URL:           n.URL,
		PushedAt:      n.PushedAt,
		IsPrivate:     n.IsPrivate,
	}
	if n.DefaultBranchRef != nil {
		repo.DefaultBranch = n.DefaultBranchRef.Name
	}
	return repo
}

// FetchViewer retrieves the authenticated user's profile.
func (c *Client) FetchViewer(ctx context.Context) (*model.UserInfo, error) {
	var out struct {
		Viewer model.UserInfo `json:"viewer"`
	}
	if err := c.query(ctx, "viewer", viewerQuery, nil, &out, callTarget{}); err != nil {
		return nil, err
	}
	return &out.Viewer, nil
}

type repoPage struct {
	PageInfo pageInfo   `json:"pageInfo"`
	Nodes    []repoNode `json:"nodes"`
}

// FetchViewerRepositories retrieves every repository owned by the viewer,
// following the cursor until exhausted.
func (c *Client) FetchViewerRepositories(ctx context.Context) ([]model.Repository, error) {
	var all []model.Repository
	cursor := ""

	for {
		vars := map[string]any{}
		if cursor != "" {
			vars["cursor"] = cursor
		}

		var out struct {
			Viewer struct {
				Repositories repoPage `json:"repositories"`
			} `json:"viewer"`
		}
		if err := c.query(ctx, "viewerRepositories", viewerReposQuery, vars, &out, callTarget{}); err != nil {
			return nil, err
		}

		for _, n := range out.Viewer.Repositories.Nodes {
			all = append(all, n.toModel())
		}

		if !out.Viewer.Repositories.PageInfo.HasNextPage {
			break
		}
		cursor = out.Viewer.Repositories.PageInfo.EndCursor
	}

	return all, nil
}

// FetchOrgRepositories retrieves every repository of one organization.
func (c *Client) FetchOrgRepositories(ctx context.Context, org string) ([]model.Repository, error) {
	var all []model.Repository
	cursor := ""

	for {
		vars := map[string]any{"org": org}
		if cursor != "" {
			vars["cursor"] = cursor
		}

		var out struct {
			Organization struct {
				Repositories repoPage `json:"repositories"`
			} `json:"organization"`
		}
		if err := c.query(ctx, "orgRepositories", orgReposQuery, vars, &out, callTarget{}); err != nil {
			return nil, err
		}

		for _, n := range out.Organization.Repositories.Nodes {
			all = append(all, n.toModel())
		}

		if !out.Organization.Repositories.PageInfo.HasNextPage {
			break
		}
		cursor = out.Organization.Repositories.PageInfo.EndCursor
	}

	return all, nil
}

// fetchBranches retrieves all branch names of a repository.
func (c *Client) fetchBranches(ctx context.Context, owner, name, repoFullName string) ([]string, error) {
	var branches []string
	cursor := ""

	for {
		vars := map[string]any{"owner": owner, "name": name}
		if cursor != "" {
			vars["cursor"] = cursor
		}

		var out struct {
			Repository struct {
				Refs struct {
					PageInfo pageInfo `json:"pageInfo"`
					Nodes    []struct {
						Name string `json:"name"`
					} `json:"nodes"`
				} `json:"refs"`
			} `json:"repository"`
		}
		if err := c.query(ctx, "branches", branchesQuery, vars, &out, callTarget{repo: repoFullName}); err != nil {
			return nil, err
		}

		for _, n := range out.Repository.Refs.Nodes {
			branches = append(branches, n.Name)
		}

		if !out.Repository.Refs.PageInfo.HasNextPage {
			break
		}
		cursor = out.Repository.Refs.PageInfo.EndCursor
	}

	return branches, nil
}

// commitNode is the GraphQL shape of one history entry.
type commitNode struct {
	AbbreviatedOid string    `json:"abbreviatedOid"`
	Message        string    `json:"message"`
	CommittedDate  time.Time `json:"committedDate"`
	URL            string    `json:"url"`
	Author         struct {
		Name string `json:"name"`
		User *struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"author"`
}

// FetchRepoCommits retrieves commits across all branches of a repository.
// When since is non-nil the history is filtered server-side via the native
// time-filtered history endpoint. Commits reachable from multiple branches
// are deduplicated here by (repo, sha) before the caller ever sees them.
func (c *Client) FetchRepoCommits(ctx context.Context, repo model.Repository, since *time.Time) ([]model.Commit, error) {
	owner, name, err := splitRepo(repo.NameWithOwner)
	if err != nil {
		return nil, err
	}

	branches, err := c.fetchBranches(ctx, owner, name, repo.NameWithOwner)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var all []model.Commit

	for _, branch := range branches {
		commits, err := c.fetchBranchCommits(ctx, owner, name, repo, branch, since)
		if err != nil {
			return nil, err
		}
		for _, commit := range commits {
			if seen[commit.Key()] {
				continue
			}
			seen[commit.Key()] = true
			all = append(all, commit)
		}
	}

	return all, nil
}

// fetchBranchCommits retrieves one branch's history, page by page.
func (c *Client) fetchBranchCommits(ctx context.Context, owner, name string, repo model.Repository, branch string, since *time.Time) ([]model.Commit, error) {
	var all []model.Commit
	cursor := ""

	for {
		vars := map[string]any{
			"owner":  owner,
			"name":   name,
			"branch": "refs/heads/" + branch,
		}
		if since != nil {
			vars["since"] = since.UTC().Format(time.RFC3339)
		}
		if cursor != "" {
			vars["cursor"] = cursor
		}

		var out struct {
			Repository struct {
				Ref *struct {
					Target struct {
						History struct {
							PageInfo pageInfo     `json:"pageInfo"`
							Nodes    []commitNode `json:"nodes"`
						} `json:"history"`
					} `json:"target"`
				} `json:"ref"`
			} `json:"repository"`
		}
		if err := c.query(ctx, "branchCommits", branchCommitsQuery, vars, &out, callTarget{repo: repo.NameWithOwner, branch: branch}); err != nil {
			return nil, err
		}

		if out.Repository.Ref == nil {
			// Branch vanished between listing and history fetch.
			return all, nil
		}

		history := out.Repository.Ref.Target.History
		for _, n := range history.Nodes {
			all = append(all, n.toModel(repo, branch))
		}

		if !history.PageInfo.HasNextPage {
			break
		}
		cursor = history.PageInfo.EndCursor
	}

	return all, nil
}

func (n commitNode) toModel(repo model.Repository, branch string) model.Commit {
	sha := n.AbbreviatedOid
	if len(sha) > shortSHALen {
		sha = sha[:shortSHALen]
	}

	author := n.Author.Name
	if n.Author.User != nil && n.Author.User.Login != "" {
		author = n.Author.User.Login
	}

	return model.Commit{
		Repo:        repo.NameWithOwner,
		RepoURL:     repo.URL,
		BranchName:  branch,
		BranchURL:   repo.URL + "/tree/" + branch,
		SHA:         sha,
		Message:     n.Message,
		Author:      author,
		CommittedAt: n.CommittedDate,
		URL:         n.URL,
	}
}

// prNode is the GraphQL shape of one pull request.
type prNode struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	MergedAt  *time.Time `json:"mergedAt"`
	Author    *struct {
		Login string `json:"login"`
	} `json:"author"`
}

// FetchRepoPullRequests retrieves pull requests for a repository, newest
// update first. The API has no updated-since filter for pull requests, so
// when since is non-nil the scan stops at the first PR not updated after it;
// the UPDATED_AT ordering makes everything past that point unchanged.
func (c *Client) FetchRepoPullRequests(ctx context.Context, repo model.Repository, since *time.Time) ([]model.PullRequest, error) {
	owner, name, err := splitRepo(repo.NameWithOwner)
	if err != nil {
		return nil, err
	}

	var all []model.PullRequest
	cursor := ""

	for {
		vars := map[string]any{"owner": owner, "name": name}
		if cursor != "" {
			vars["cursor"] = cursor
		}

		var out struct {
			Repository struct {
				PullRequests struct {
					PageInfo pageInfo `json:"pageInfo"`
					Nodes    []prNode `json:"nodes"`
				} `json:"pullRequests"`
			} `json:"repository"`
		}
		if err := c.query(ctx, "pullRequests", pullRequestsQuery, vars, &out, callTarget{repo: repo.NameWithOwner}); err != nil {
			return nil, err
		}

		for _, n := range out.Repository.PullRequests.Nodes {
			if since != nil && !n.UpdatedAt.After(*since) {
				return all, nil
			}
			all = append(all, n.toModel(repo))
		}

		if !out.Repository.PullRequests.PageInfo.HasNextPage {
			break
		}
		cursor = out.Repository.PullRequests.PageInfo.EndCursor
	}

	return all, nil
}

func (n prNode) toModel(repo model.Repository) model.PullRequest {
	author := ""
	if n.Author != nil {
		author = n.Author.Login
	}

	return model.PullRequest{
		Repo:      repo.NameWithOwner,
		RepoURL:   repo.URL,
		Number:    n.Number,
		Title:     n.Title,
		State:     mapPRState(n.State),
		Author:    author,
		CreatedAt: n.CreatedAt,
		MergedAt:  n.MergedAt,
		URL:       n.URL,
	}
}

func mapPRState(state string) model.PRState {
	switch state {
	case "MERGED":
		return model.PRStateMerged
	case "CLOSED":
		return model.PRStateClosed
	default:
		return model.PRStateOpen
	}
}

// splitRepo splits "owner/name" into its two parts.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name %q, expected 'owner/name'", fullName)
	}
	return parts[0], parts[1], nil
}
