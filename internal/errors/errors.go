// internal/errors/errors.go
package errors

import (
	"fmt"
	"strings"
)

// RemoteUnavailableError is returned when the GitHub API could not be reached
// at the transport level: connection failure, timeout, or a non-2xx status
// that carried no GraphQL payload.
type RemoteUnavailableError struct {
	Query string
	Err   error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote unavailable during %q: %v", e.Query, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// RemoteRejectedError is returned when the API answered but the GraphQL
// response contained an error list instead of (or alongside) data.
type RemoteRejectedError struct {
	Query    string
	Messages []string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("remote rejected %q: %s", e.Query, strings.Join(e.Messages, "; "))
}

// CacheCorruptError marks a persisted file that exists but could not be read
// or decoded. The store degrades the affected collection to empty; this error
// is logged, never propagated.
type CacheCorruptError struct {
	File string
	Err  error
}

func (e *CacheCorruptError) Error() string {
	return fmt.Sprintf("cache file %s is corrupt: %v", e.File, e.Err)
}

func (e *CacheCorruptError) Unwrap() error { return e.Err }

// CacheWriteError marks a failed persist. A failed persist degrades future
// runs, not the current one: the in-memory result is still returned.
type CacheWriteError struct {
	File string
	Err  error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("failed to write cache file %s: %v", e.File, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// RepoFetchError wraps a single repository's fetch failure inside a batch.
// It is always absorbed locally: the repository contributes empty results and
// the sync continues.
type RepoFetchError struct {
	Repo string
	Err  error
}

func (e *RepoFetchError) Error() string {
	return fmt.Sprintf("fetch failed for repository %s: %v", e.Repo, e.Err)
}

func (e *RepoFetchError) Unwrap() error { return e.Err }
