// cmd/service/integration_test.go
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-dashboard-sync/internal/api"
	"github-dashboard-sync/internal/cache"
	"github-dashboard-sync/internal/github"
	"github-dashboard-sync/internal/model"
	"github-dashboard-sync/internal/report"
	"github-dashboard-sync/internal/syncer"
)

// fakeGitHub is a minimal GraphQL endpoint serving one repository with one
// branch, one commit and one pull request. Requests are routed by inspecting
// the query document, the same way the real endpoint dispatches on its schema.
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch {
		case strings.Contains(req.Query, "refs(refPrefix"):
			fmt.Fprintln(w, `{"data": {"repository": {"refs": {
				"pageInfo": {"hasNextPage": false, "endCursor": ""},
				"nodes": [{"name": "main"}]
			}}}}`)
		case strings.Contains(req.Query, "history("):
			fmt.Fprintln(w, `{"data": {"repository": {"ref": {"target": {"history": {
				"pageInfo": {"hasNextPage": false, "endCursor": ""},
				"nodes": [{"abbreviatedOid": "abc1234", "message": "initial commit", "committedDate": "2024-03-01T10:00:00Z", "url": "https://github.com/test/repo/commit/abc1234", "author": {"name": "Tester", "user": {"login": "tester"}}}]
			}}}}}}`)
		case strings.Contains(req.Query, "pullRequests("):
			fmt.Fprintln(w, `{"data": {"repository": {"pullRequests": {
				"pageInfo": {"hasNextPage": false, "endCursor": ""},
				"nodes": [{"number": 1, "title": "Add feature", "state": "OPEN", "url": "https://github.com/test/repo/pull/1", "createdAt": "2024-03-02T10:00:00Z", "updatedAt": "2024-03-02T10:00:00Z", "mergedAt": null, "author": {"login": "tester"}}]
			}}}}`)
		case strings.Contains(req.Query, "repositories(first"):
			fmt.Fprintln(w, `{"data": {"viewer": {"repositories": {
				"pageInfo": {"hasNextPage": false, "endCursor": ""},
				"nodes": [{"name": "repo", "nameWithOwner": "test/repo", "url": "https://github.com/test/repo", "pushedAt": "2024-03-01T10:00:00Z", "isPrivate": false, "defaultBranchRef": {"name": "main"}}]
			}}}}`)
		default:
			fmt.Fprintln(w, `{"data": {"viewer": {"login": "tester", "name": "Test User", "avatarUrl": "https://a", "url": "https://u"}}}`)
		}
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// newTestApp wires the full stack against the fake endpoint, the same way
// run() does, with a temp directory backing the cache and the reports.
func newTestApp(t *testing.T, remote *httptest.Server) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	tracker := report.NewTracker(5000, filepath.Join(dir, "reports"), logger)
	client := github.NewClientWithHTTPClient(remote.Client(), remote.URL, 5*time.Second, tracker, logger)
	store := cache.NewStore(filepath.Join(dir, "cache"), logger)
	appSyncer := syncer.NewSyncer(client, store, tracker, logger, nil, time.Hour, 10, 0)

	return api.NewRouter(appSyncer, tracker, logger), dir
}

func doJSON(t *testing.T, router http.Handler, method, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec
}

func TestEndToEnd_ColdStartThenCacheHit(t *testing.T) {
	router, dir := newTestApp(t, fakeGitHub(t))

	// First request: nothing persisted, a full sync runs inside the request.
	var first model.SyncResult
	rec := doJSON(t, router, http.MethodGet, "/v1/data", &first)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ProvenanceFullSync, first.Provenance)
	assert.False(t, first.IsIncremental)
	require.Len(t, first.Commits, 1)
	assert.Equal(t, "abc1234", first.Commits[0].SHA)
	require.Len(t, first.PullRequests, 1)
	assert.Equal(t, model.PRStateOpen, first.PullRequests[0].State)
	require.NotNil(t, first.UserInfo)
	assert.Equal(t, "tester", first.UserInfo.Login)
	assert.Equal(t, 1, first.NewCommitsCount)

	// The cache directory now holds the full dataset.
	for _, name := range []string{"commits.json", "pull_requests.json", "repositories.json", "user.json", "metadata.json"} {
		_, err := os.Stat(filepath.Join(dir, "cache", name))
		assert.NoError(t, err, name)
	}

	// Second request within the TTL is served from the cache, no fetching.
	var second model.SyncResult
	rec = doJSON(t, router, http.MethodGet, "/v1/data", &second)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ProvenanceCacheHit, second.Provenance)
	assert.Equal(t, first.Commits, second.Commits)
	assert.Zero(t, second.NewCommitsCount)
}

func TestEndToEnd_RefreshIsIdempotentNoOp(t *testing.T) {
	router, _ := newTestApp(t, fakeGitHub(t))

	var warm model.SyncResult
	rec := doJSON(t, router, http.MethodGet, "/v1/data", &warm)
	require.Equal(t, http.StatusOK, rec.Code)

	// Nothing was pushed after the sync, so a forced refresh changes nothing.
	var refreshed model.SyncResult
	rec = doJSON(t, router, http.MethodPost, "/v1/refresh", &refreshed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ProvenanceIncremental, refreshed.Provenance)
	assert.True(t, refreshed.IsIncremental)
	assert.Equal(t, warm.Commits, refreshed.Commits)
	assert.Zero(t, refreshed.NewCommitsCount)
}

func TestEndToEnd_FullResyncReplacesGroundTruth(t *testing.T) {
	router, _ := newTestApp(t, fakeGitHub(t))

	rec := doJSON(t, router, http.MethodGet, "/v1/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resynced model.SyncResult
	rec = doJSON(t, router, http.MethodPost, "/v1/full-resync", &resynced)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ProvenanceFullSync, resynced.Provenance)
	assert.Len(t, resynced.Commits, 1, "re-fetching the same history does not duplicate")
}

func TestEndToEnd_CacheEndpointServesSnapshot(t *testing.T) {
	router, _ := newTestApp(t, fakeGitHub(t))

	// Cold cache first.
	rec := doJSON(t, router, http.MethodGet, "/v1/cache", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot model.CachedData
	rec = doJSON(t, router, http.MethodGet, "/v1/cache", &snapshot)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, snapshot.Commits, 1)
	assert.False(t, snapshot.Metadata.LastSync.IsZero())
	assert.Equal(t, model.MetadataVersion, snapshot.Metadata.Version)
}

func TestEndToEnd_ReportIsWrittenAndSummarized(t *testing.T) {
	router, dir := newTestApp(t, fakeGitHub(t))

	rec := doJSON(t, router, http.MethodGet, "/v1/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The full sync left a call report on disk.
	entries, err := os.ReadDir(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "call-report-"))

	var summary report.Summary
	rec = doJSON(t, router, http.MethodGet, "/v1/report/summary", &summary)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Positive(t, summary.TotalCalls)
	assert.Equal(t, summary.TotalCalls, summary.Succeeded)
}

func TestEndToEnd_RemoteOutageFallsBackToCachedData(t *testing.T) {
	remote := fakeGitHub(t)
	router, _ := newTestApp(t, remote)

	var warm model.SyncResult
	rec := doJSON(t, router, http.MethodGet, "/v1/data", &warm)
	require.Equal(t, http.StatusOK, rec.Code)

	remote.Close()

	// A forced full resync now fails outright, but the data endpoint degrades
	// to the persisted snapshot instead of erroring.
	var degraded model.SyncResult
	rec = doJSON(t, router, http.MethodGet, "/v1/data?full=1", &degraded)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ProvenanceFallback, degraded.Provenance)
	assert.Equal(t, warm.Commits, degraded.Commits)
}
