// internal/syncer/syncer.go
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	custom_errors "github-dashboard-sync/internal/errors"
	"github-dashboard-sync/internal/merge"
	"github-dashboard-sync/internal/model"
	"github-dashboard-sync/internal/report"
)

// RemoteClient is the slice of the GitHub client the orchestrator needs.
type RemoteClient interface {
	FetchViewer(ctx context.Context) (*model.UserInfo, error)
	FetchViewerRepositories(ctx context.Context) ([]model.Repository, error)
	FetchOrgRepositories(ctx context.Context, org string) ([]model.Repository, error)
	FetchRepoCommits(ctx context.Context, repo model.Repository, since *time.Time) ([]model.Commit, error)
	FetchRepoPullRequests(ctx context.Context, repo model.Repository, since *time.Time) ([]model.PullRequest, error)
}

// Store is the narrow persistence interface the orchestrator drives. The
// file-backed implementation lives in internal/cache; nothing here depends on
// the on-disk format.
type Store interface {
	ReadMetadata() *model.Metadata
	ReadAll() *model.CachedData
	WriteAll(commits []model.Commit, pulls []model.PullRequest, repos []model.Repository, user *model.UserInfo, isFullSync bool) error
	IsStale(maxAge time.Duration) bool
}

// Reporter is the call-accounting surface the orchestrator touches.
type Reporter interface {
	Start()
	Summary() report.Summary
	WriteReport() (string, error)
}

// Mode is the sync decision: which path a request takes.
type Mode int

const (
	// ModeColdStart means no prior sync exists; a full sync is mandatory.
	ModeColdStart Mode = iota
	// ModeCacheHit serves the persisted snapshot unchanged.
	ModeCacheHit
	// ModeIncremental fetches only repositories pushed since the last sync.
	ModeIncremental
	// ModeFull re-fetches everything and replaces the cache's ground truth.
	ModeFull
	// ModeFallback serves stale cached data after a failed incremental fetch.
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModeColdStart:
		return "coldStart"
	case ModeCacheHit:
		return "cacheHit"
	case ModeIncremental:
		return "incrementalSync"
	case ModeFull:
		return "fullSync"
	case ModeFallback:
		return "fallbackToCache"
	default:
		return "unknown"
	}
}

// Options carry the caller's intent into the sync decision.
type Options struct {
	ForceFull    bool
	ForceRefresh bool
}

// Decide implements the entry decision table:
//  1. no metadata -> cold start (full sync regardless of flags)
//  2. forced full -> full sync
//  3. warm and fresh, not forced -> cache hit
//  4. otherwise -> incremental sync
func Decide(meta *model.Metadata, stale bool, opts Options) Mode {
	switch {
	case meta == nil:
		return ModeColdStart
	case opts.ForceFull:
		return ModeFull
	case !opts.ForceRefresh && !stale:
		return ModeCacheHit
	default:
		return ModeIncremental
	}
}

// Syncer orchestrates fetching, merging and persisting of GitHub activity
// data. A sync runs to completion within the calling request; there is no
// background scheduler.
type Syncer struct {
	client     RemoteClient
	store      Store
	tracker    Reporter
	logger     *slog.Logger
	orgs       []string
	ttl        time.Duration
	batchSize  int
	batchDelay time.Duration

	// Serializes overlapping sync invocations: two requests observing a
	// stale cache would otherwise both launch a full sync.
	mu sync.Mutex
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(client RemoteClient, store Store, tracker Reporter, logger *slog.Logger, orgs []string, ttl time.Duration, batchSize int, batchDelay time.Duration) *Syncer {
	return &Syncer{
		client:     client,
		store:      store,
		tracker:    tracker,
		logger:     logger,
		orgs:       orgs,
		ttl:        ttl,
		batchSize:  batchSize,
		batchDelay: batchDelay,
	}
}

// GetCurrentData applies the default decision tree.
func (s *Syncer) GetCurrentData(ctx context.Context) (*model.SyncResult, error) {
	return s.Sync(ctx, Options{})
}

// Refresh forces incremental-sync semantics even when the cache is fresh.
func (s *Syncer) Refresh(ctx context.Context) (*model.SyncResult, error) {
	return s.Sync(ctx, Options{ForceRefresh: true})
}

// FullResync forces a full sync.
func (s *Syncer) FullResync(ctx context.Context) (*model.SyncResult, error) {
	return s.Sync(ctx, Options{ForceFull: true})
}

// CachedSnapshot reads the persisted snapshot directly, bypassing the sync
// decision entirely. Returns nil on a cold cache.
func (s *Syncer) CachedSnapshot() *model.CachedData {
	return s.store.ReadAll()
}

// Sync runs one sync invocation according to the caller's intent.
//
// The sync is detached from the caller's context: once started it runs to
// completion even if the requesting client disconnects. Honoring a caller
// cancellation mid-fetch would persist a truncated dataset as ground truth.
// The per-call timeout remains the bound on each remote call.
func (s *Syncer) Sync(ctx context.Context, opts Options) (*model.SyncResult, error) {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.store.ReadMetadata()
	mode := Decide(meta, s.store.IsStale(s.ttl), opts)
	s.logger.Info("Sync decision made", "mode", mode.String(), "force_full", opts.ForceFull, "force_refresh", opts.ForceRefresh)

	switch mode {
	case ModeCacheHit:
		return s.cacheHit(ctx)
	case ModeIncremental:
		return s.incrementalSync(ctx)
	default:
		return s.fullSync(ctx)
	}
}

// cacheHit serves the persisted data unchanged.
func (s *Syncer) cacheHit(ctx context.Context) (*model.SyncResult, error) {
	cached := s.store.ReadAll()
	if cached == nil {
		// Metadata vanished between the decision and the read.
		return s.fullSync(ctx)
	}
	return envelopeFromCache(cached, model.ProvenanceCacheHit, time.Now().UTC()), nil
}

// fullSync re-fetches everything from the remote. There is no degraded path
// here: discovery failures for the viewer are hard errors, because with no
// prior cache (or an explicit resync request) there is nothing to fall back
// to. Per-organization discovery is best-effort.
func (s *Syncer) fullSync(ctx context.Context) (*model.SyncResult, error) {
	start := time.Now()
	s.tracker.Start()

	user, err := s.client.FetchViewer(ctx)
	if err != nil {
		return nil, fmt.Errorf("full sync: fetching user profile: %w", err)
	}

	repos, err := s.client.FetchViewerRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("full sync: discovering repositories: %w", err)
	}

	for _, org := range s.orgs {
		orgRepos, err := s.client.FetchOrgRepositories(ctx, org)
		if err != nil {
			s.logger.Warn("Organization discovery failed, skipping", "org", org, "error", err)
			continue
		}
		repos = append(repos, orgRepos...)
	}

	repos = dedupRepos(repos)
	sort.Slice(repos, func(i, j int) bool {
		return repos[i].PushedAt.After(repos[j].PushedAt)
	})

	commits, pulls := s.fetchBatched(ctx, repos, nil)

	// The full result is the new ground truth; merging against a nil base
	// gives the deterministic ordering and counts in one pass.
	merged := merge.Merge(nil, commits, pulls, repos)
	s.persist(merged, user, true)
	s.writeReport()

	s.logger.Info("Full sync complete",
		"repos", len(repos),
		"commits", len(merged.Commits),
		"pull_requests", len(merged.PullRequests),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return &model.SyncResult{
		Commits:         merged.Commits,
		PullRequests:    merged.PullRequests,
		Repositories:    merged.Repositories,
		UserInfo:        user,
		Provenance:      model.ProvenanceFullSync,
		IsIncremental:   false,
		NewCommitsCount: merged.NewCommits,
		NewPRsCount:     merged.NewPRs,
		SyncTimestamp:   time.Now().UTC(),
	}, nil
}

// incrementalSync fetches only repositories whose cached pushedAt moved past
// the last sync. A remote failure during the fetch phase never propagates:
// the previously persisted data is served instead, stamped with the original
// lastSync so the caller can tell it is looking at old data.
func (s *Syncer) incrementalSync(ctx context.Context) (*model.SyncResult, error) {
	cached := s.store.ReadAll()
	if cached == nil {
		s.logger.Warn("Incremental sync requested without a cache, demoting to full sync")
		return s.fullSync(ctx)
	}

	since := cached.Metadata.LastSync
	var changed []model.Repository
	for _, repo := range cached.Repositories {
		if repo.PushedAt.After(since) {
			changed = append(changed, repo)
		}
	}

	if len(changed) == 0 {
		s.logger.Info("No repositories changed since last sync", "since", since)
		return envelopeFromCache(cached, model.ProvenanceIncremental, time.Now().UTC()), nil
	}

	s.logger.Info("Incremental sync starting", "changed_repos", len(changed), "since", since)
	s.tracker.Start()

	commits, pulls, err := s.fetchChanged(ctx, changed, since)
	if err != nil {
		s.logger.Warn("Incremental fetch failed, falling back to cached data", "error", err)
		return envelopeFromCache(cached, model.ProvenanceFallback, cached.Metadata.LastSync), nil
	}

	merged := merge.Merge(cached, commits, pulls, changed)
	s.persist(merged, cached.UserInfo, false)
	s.writeReport()

	s.logger.Info("Incremental sync complete",
		"new_commits", merged.NewCommits,
		"new_pull_requests", merged.NewPRs,
	)

	return &model.SyncResult{
		Commits:         merged.Commits,
		PullRequests:    merged.PullRequests,
		Repositories:    merged.Repositories,
		UserInfo:        cached.UserInfo,
		Provenance:      model.ProvenanceIncremental,
		IsIncremental:   true,
		NewCommitsCount: merged.NewCommits,
		NewPRsCount:     merged.NewPRs,
		SyncTimestamp:   time.Now().UTC(),
	}, nil
}

type repoResult struct {
	commits []model.Commit
	pulls   []model.PullRequest
}

// fetchBatched processes repositories in fixed-size sequential batches; the
// repositories inside one batch are fetched concurrently and the batch is a
// join point. A single repository's failure contributes empty results and
// never aborts the batch or the sync. A short delay between batches keeps
// the remote's rate limiter happy.
func (s *Syncer) fetchBatched(ctx context.Context, repos []model.Repository, since *time.Time) ([]model.Commit, []model.PullRequest) {
	results := make([]repoResult, len(repos))

	for start := 0; start < len(repos); start += s.batchSize {
		end := min(start+s.batchSize, len(repos))
		s.logger.Debug("Processing batch", "from", start, "to", end, "total", len(repos))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			repo := repos[i]
			g.Go(func() error {
				commits, pulls, err := s.fetchRepo(gctx, repo, since)
				if err != nil {
					s.logger.Warn("Repository fetch failed, contributing empty results",
						"error", &custom_errors.RepoFetchError{Repo: repo.NameWithOwner, Err: err})
					return nil
				}
				results[i] = repoResult{commits: commits, pulls: pulls}
				return nil
			})
		}
		_ = g.Wait() // goroutines absorb their own errors

		if end < len(repos) {
			time.Sleep(s.batchDelay)
		}
	}

	return flatten(results)
}

// fetchChanged fetches the qualifying repositories of an incremental sync
// concurrently. Unlike the full-sync batches, a remote error here propagates
// so the caller can fall back to the cache.
func (s *Syncer) fetchChanged(ctx context.Context, repos []model.Repository, since time.Time) ([]model.Commit, []model.PullRequest, error) {
	results := make([]repoResult, len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchSize)
	for i, repo := range repos {
		i, repo := i, repo
		g.Go(func() error {
			commits, pulls, err := s.fetchRepo(gctx, repo, &since)
			if err != nil {
				return err
			}
			results[i] = repoResult{commits: commits, pulls: pulls}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	commits, pulls := flatten(results)
	return commits, pulls, nil
}

func (s *Syncer) fetchRepo(ctx context.Context, repo model.Repository, since *time.Time) ([]model.Commit, []model.PullRequest, error) {
	commits, err := s.client.FetchRepoCommits(ctx, repo, since)
	if err != nil {
		return nil, nil, err
	}
	pulls, err := s.client.FetchRepoPullRequests(ctx, repo, since)
	if err != nil {
		return nil, nil, err
	}
	return commits, pulls, nil
}

// persist writes the merged dataset. A failed persist degrades future runs,
// not the current one: the in-memory result is still returned to the caller.
func (s *Syncer) persist(res merge.Result, user *model.UserInfo, isFullSync bool) {
	if err := s.store.WriteAll(res.Commits, res.PullRequests, res.Repositories, user, isFullSync); err != nil {
		s.logger.Warn("Cache persist failed, returning in-memory result anyway", "error", err)
	}
}

// writeReport asks the tracker for a persisted call report. Reporting is
// operational visibility only; its failure must never fail a sync.
func (s *Syncer) writeReport() {
	file, err := s.tracker.WriteReport()
	if err != nil {
		s.logger.Warn("Call report write failed", "error", err)
		return
	}
	summary := s.tracker.Summary()
	s.logger.Info("API usage recorded",
		"report", file,
		"calls", summary.TotalCalls,
		"success_rate", fmt.Sprintf("%.1f%%", summary.SuccessRate),
		"quota_used", fmt.Sprintf("%.2f%%", summary.QuotaUsedPct),
	)
}

func envelopeFromCache(cached *model.CachedData, prov model.Provenance, ts time.Time) *model.SyncResult {
	return &model.SyncResult{
		Commits:         cached.Commits,
		PullRequests:    cached.PullRequests,
		Repositories:    cached.Repositories,
		UserInfo:        cached.UserInfo,
		Provenance:      prov,
		IsIncremental:   true,
		NewCommitsCount: 0,
		NewPRsCount:     0,
		SyncTimestamp:   ts,
	}
}

func dedupRepos(repos []model.Repository) []model.Repository {
	seen := make(map[string]bool, len(repos))
	out := repos[:0]
	for _, r := range repos {
		if seen[r.NameWithOwner] {
			continue
		}
		seen[r.NameWithOwner] = true
		out = append(out, r)
	}
	return out
}

func flatten(results []repoResult) ([]model.Commit, []model.PullRequest) {
	var commits []model.Commit
	var pulls []model.PullRequest
	for _, r := range results {
		commits = append(commits, r.commits...)
		pulls = append(pulls, r.pulls...)
	}
	return commits, pulls
}
