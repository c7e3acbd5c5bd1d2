// internal/cache/store.go
package cache

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	custom_errors "github-dashboard-sync/internal/errors"
	"github-dashboard-sync/internal/model"
)

// One file per collection keeps the blast radius of a corrupt or partial
// write to a single collection.
const (
	commitsFile  = "commits.json"
	pullsFile    = "pull_requests.json"
	reposFile    = "repositories.json"
	userFile     = "user.json"
	metadataFile = "metadata.json"
)

// Store is the durable, file-backed cache. It is written only by the sync
// orchestrator's persist step, once per sync; there are no concurrent writers
// by construction.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir. The directory is created lazily on
// the first write.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// ReadMetadata returns the sync metadata, or nil when no prior sync exists.
// Read failures are treated as a cache miss, never propagated.
func (s *Store) ReadMetadata() *model.Metadata {
	var meta model.Metadata
	if !s.readJSON(metadataFile, &meta) {
		return nil
	}
	return &meta
}

// ReadAll returns the full cached snapshot, or nil when no metadata exists.
// A missing or unreadable collection file degrades to an empty collection; a
// partially-initialized cache is tolerated, not fatal.
func (s *Store) ReadAll() *model.CachedData {
	meta := s.ReadMetadata()
	if meta == nil {
		return nil
	}

	data := &model.CachedData{Metadata: *meta}
	s.readJSON(commitsFile, &data.Commits)
	s.readJSON(pullsFile, &data.PullRequests)
	s.readJSON(reposFile, &data.Repositories)

	var user model.UserInfo
	if s.readJSON(userFile, &user) {
		data.UserInfo = &user
	}

	return data
}

// WriteAll persists the four datasets plus updated metadata. LastSync is
// always set to now; LastFullSync advances only when isFullSync is true,
// otherwise it is carried over from the prior metadata (or set to now when no
// prior metadata exists, so the invariant LastFullSync <= LastSync holds from
// the first write).
func (s *Store) WriteAll(commits []model.Commit, pulls []model.PullRequest, repos []model.Repository, user *model.UserInfo, isFullSync bool) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &custom_errors.CacheWriteError{File: s.dir, Err: err}
	}

	now := time.Now().UTC()
	meta := model.Metadata{
		LastSync:     now,
		LastFullSync: now,
		Version:      model.MetadataVersion,
	}
	if !isFullSync {
		if prior := s.ReadMetadata(); prior != nil {
			meta.LastFullSync = prior.LastFullSync
		}
	}

	if err := s.writeJSON(commitsFile, commits); err != nil {
		return err
	}
	if err := s.writeJSON(pullsFile, pulls); err != nil {
		return err
	}
	if err := s.writeJSON(reposFile, repos); err != nil {
		return err
	}
	if user != nil {
		if err := s.writeJSON(userFile, user); err != nil {
			return err
		}
	}

	// Metadata goes last: its presence is what marks the snapshot valid.
	return s.writeJSON(metadataFile, meta)
}

// IsStale reports whether the cache is older than maxAge. A cache with no
// metadata is always stale.
func (s *Store) IsStale(maxAge time.Duration) bool {
	meta := s.ReadMetadata()
	if meta == nil {
		return true
	}
	return time.Since(meta.LastSync) > maxAge
}

// Clear removes all persisted files. A subsequent ReadMetadata returns nil.
func (s *Store) Clear() error {
	for _, name := range []string{commitsFile, pullsFile, reposFile, userFile, metadataFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// readJSON decodes one collection file into target. It returns false when the
// file is absent, and also false — after logging — when the file is corrupt:
// the orchestrator must be able to proceed as if cold-starting.
func (s *Store) readJSON(name string, target any) bool {
	path := filepath.Join(s.dir, name)

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Cache file unreadable, treating as empty",
				"error", &custom_errors.CacheCorruptError{File: path, Err: err})
		}
		return false
	}

	if err := json.Unmarshal(raw, target); err != nil {
		s.logger.Warn("Cache file corrupt, treating as empty",
			"error", &custom_errors.CacheCorruptError{File: path, Err: err})
		return false
	}

	return true
}

// writeJSON atomically replaces one collection file.
func (s *Store) writeJSON(name string, v any) error {
	path := filepath.Join(s.dir, name)

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &custom_errors.CacheWriteError{File: path, Err: err}
	}

	if err := atomic.WriteFile(path, bytes.NewReader(raw)); err != nil {
		return &custom_errors.CacheWriteError{File: path, Err: err}
	}

	return nil
}
