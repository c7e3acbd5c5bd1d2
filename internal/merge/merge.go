// internal/merge/merge.go

// Package merge folds a freshly fetched batch of records into the existing
// cached dataset, deduplicating by natural keys.
package merge

import (
	"sort"

	"github-dashboard-sync/internal/model"
)

// Result is the combined dataset plus how many records were actually new.
// The new counts are informational only; they never gate merge correctness.
type Result struct {
	Commits      []model.Commit
	PullRequests []model.PullRequest
	Repositories []model.Repository
	NewCommits   int
	NewPRs       int
}

// Merge overlays a new batch onto the existing cache. An overlay always
// replaces the prior value, which is what captures pull request state
// transitions (Open -> Merged). When existing is nil the batch is the entire
// result and all of it counts as new.
//
// Output ordering is deterministic: commits and pull requests descending by
// timestamp, repositories ascending by name, with the natural key as the
// tie-breaker to keep the order total.
func Merge(existing *model.CachedData, commits []model.Commit, pulls []model.PullRequest, repos []model.Repository) Result {
	var (
		baseCommits []model.Commit
		basePulls   []model.PullRequest
		baseRepos   []model.Repository
	)
	if existing != nil {
		baseCommits = existing.Commits
		basePulls = existing.PullRequests
		baseRepos = existing.Repositories
	}

	var res Result
	res.Commits, res.NewCommits = mergeCommits(baseCommits, commits)
	res.PullRequests, res.NewPRs = mergePulls(basePulls, pulls)
	res.Repositories = mergeRepos(baseRepos, repos)
	return res
}

func mergeCommits(base, overlay []model.Commit) ([]model.Commit, int) {
	byKey := make(map[string]model.Commit, len(base)+len(overlay))
	for _, c := range base {
		byKey[c.Key()] = c
	}

	added := 0
	for _, c := range overlay {
		if _, ok := byKey[c.Key()]; !ok {
			added++
		}
		byKey[c.Key()] = c
	}

	out := make([]model.Commit, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommittedAt.Equal(out[j].CommittedAt) {
			return out[i].CommittedAt.After(out[j].CommittedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, added
}

func mergePulls(base, overlay []model.PullRequest) ([]model.PullRequest, int) {
	byKey := make(map[string]model.PullRequest, len(base)+len(overlay))
	for _, p := range base {
		byKey[p.Key()] = p
	}

	added := 0
	for _, p := range overlay {
		if _, ok := byKey[p.Key()]; !ok {
			added++
		}
		// Latest observation wins: this is how Open -> Merged lands.
		byKey[p.Key()] = p
	}

	out := make([]model.PullRequest, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, added
}

func mergeRepos(base, overlay []model.Repository) []model.Repository {
	byKey := make(map[string]model.Repository, len(base)+len(overlay))
	for _, r := range base {
		byKey[r.NameWithOwner] = r
	}

	for _, r := range overlay {
		if prior, ok := byKey[r.NameWithOwner]; ok && r.PushedAt.Before(prior.PushedAt) {
			// PushedAt must never regress: a remote timestamp going backwards
			// would otherwise shrink the incremental sync window and silently
			// drop commits until the next full sync.
			r.PushedAt = prior.PushedAt
		}
		byKey[r.NameWithOwner] = r
	}

	out := make([]model.Repository, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].NameWithOwner < out[j].NameWithOwner
	})
	return out
}
