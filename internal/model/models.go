// internal/model/models.go
package model

import (
	"fmt"
	"time"
)

// MetadataVersion is the on-disk schema version written into Metadata.
const MetadataVersion = 1

// Repository represents a GitHub repository observed during sync.
// NameWithOwner is the natural key; PushedAt is refreshed on every observation.
type Repository struct {
	Name          string    `json:"name"`
	NameWithOwner string    `json:"nameWithOwner"`
	URL           string    `json:"url"`
	PushedAt      time.Time `json:"pushedAt"`
	IsPrivate     bool      `json:"isPrivate"`
	DefaultBranch string    `json:"defaultBranch"`
}

// Commit is a single commit reachable from some branch of a repository.
// Append-only: once persisted it is never mutated.
type Commit struct {
	Repo        string    `json:"repo"`
	RepoURL     string    `json:"repoUrl"`
	BranchName  string    `json:"branchName"`
	BranchURL   string    `json:"branchUrl"`
	SHA         string    `json:"sha"` // short form, 7 characters
	Message     string    `json:"message"`
	Author      string    `json:"author"`
	CommittedAt time.Time `json:"committedAt"`
	URL         string    `json:"url"`
}

// Key returns the commit's natural key. The same commit reachable from
// several branches must collapse to one record.
func (c Commit) Key() string {
	return c.Repo + "@" + c.SHA
}

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "Open"
	PRStateMerged PRState = "Merged"
	PRStateClosed PRState = "Closed"
)

// PullRequest is mutable across syncs: State and MergedAt may change, and the
// latest observation wins on merge.
type PullRequest struct {
	Repo      string     `json:"repo"`
	RepoURL   string     `json:"repoUrl"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     PRState    `json:"state"`
	Author    string     `json:"author"`
	CreatedAt time.Time  `json:"createdAt"`
	MergedAt  *time.Time `json:"mergedAt,omitempty"`
	URL       string     `json:"url"`
}

// Key returns the pull request's natural key.
func (p PullRequest) Key() string {
	return fmt.Sprintf("%s#%d", p.Repo, p.Number)
}

// UserInfo is the authenticated viewer's profile.
type UserInfo struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	URL       string `json:"url"`
}

// Metadata is the single sync bookkeeping record. It is rewritten atomically
// on every successful persist. Invariant: LastFullSync <= LastSync.
type Metadata struct {
	LastSync     time.Time `json:"lastSync"`
	LastFullSync time.Time `json:"lastFullSync"`
	Version      int       `json:"version"`
}

// CachedData is everything the cache store holds for one snapshot.
type CachedData struct {
	Commits      []Commit      `json:"commits"`
	PullRequests []PullRequest `json:"pullRequests"`
	Repositories []Repository  `json:"repositories"`
	UserInfo     *UserInfo     `json:"userInfo,omitempty"`
	Metadata     Metadata      `json:"metadata"`
}

// Provenance tells the caller which code path produced a result.
type Provenance string

const (
	ProvenanceFullSync    Provenance = "fullSync"
	ProvenanceIncremental Provenance = "incrementalSync"
	ProvenanceCacheHit    Provenance = "cacheHit"
	ProvenanceFallback    Provenance = "fileCacheFallback"
)

// SyncResult is the uniform envelope returned to callers regardless of which
// sync path produced it. It is transient, never persisted.
type SyncResult struct {
	Commits         []Commit      `json:"commits"`
	PullRequests    []PullRequest `json:"pullRequests"`
	Repositories    []Repository  `json:"repositories"`
	UserInfo        *UserInfo     `json:"userInfo,omitempty"`
	Provenance      Provenance    `json:"provenance"`
	IsIncremental   bool          `json:"isIncremental"`
	NewCommitsCount int           `json:"newCommitsCount"`
	NewPRsCount     int           `json:"newPRsCount"`
	SyncTimestamp   time.Time     `json:"syncTimestamp"`
}
