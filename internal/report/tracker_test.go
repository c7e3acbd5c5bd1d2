// internal/report/tracker_test.go
package report

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, quota int) *Tracker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewTracker(quota, t.TempDir(), logger)
}

func TestTracker_SummaryAggregates(t *testing.T) {
	tr := newTestTracker(t, 5000)
	tr.Start()

	tr.Record(CallRecord{Query: "viewer", Duration: 100 * time.Millisecond, Success: true})
	tr.Record(CallRecord{Query: "branchCommits", Repo: "a/b", Duration: 200 * time.Millisecond, Success: true})
	tr.Record(CallRecord{Query: "branchCommits", Repo: "a/c", Duration: 300 * time.Millisecond, Success: false, ErrorText: "timeout"})
	tr.Record(CallRecord{Query: "pullRequests", Repo: "a/b", Duration: 400 * time.Millisecond, Success: true})

	s := tr.Summary()
	assert.Equal(t, 4, s.TotalCalls)
	assert.Equal(t, 3, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 75.0, s.SuccessRate, 0.001)
	assert.Equal(t, 1*time.Second, s.TotalDuration)
	assert.Equal(t, 250*time.Millisecond, s.AvgDuration)
	assert.Equal(t, 2, s.CallsByQuery["branchCommits"])
	assert.Equal(t, 1, s.CallsByQuery["viewer"])
	assert.InDelta(t, 0.08, s.QuotaUsedPct, 0.001, "4 of 5000 hourly calls")
}

func TestTracker_EmptyLedger(t *testing.T) {
	tr := newTestTracker(t, 5000)

	s := tr.Summary()
	assert.Zero(t, s.TotalCalls)
	assert.Zero(t, s.SuccessRate)
	assert.Zero(t, s.AvgDuration)
}

func TestTracker_StartResetsLedger(t *testing.T) {
	tr := newTestTracker(t, 5000)
	tr.Record(CallRecord{Query: "viewer", Success: true})
	require.Equal(t, 1, tr.Summary().TotalCalls)

	tr.Start()
	assert.Zero(t, tr.Summary().TotalCalls)
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	tr := newTestTracker(t, 5000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(CallRecord{Query: "branchCommits", Success: true})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Summary().TotalCalls)
}

func TestTracker_WriteReport(t *testing.T) {
	tr := newTestTracker(t, 5000)
	tr.Record(CallRecord{
		Query:     "branchCommits",
		Repo:      "a/b",
		Branch:    "main",
		StartedAt: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
		Duration:  120 * time.Millisecond,
		Success:   true,
	})
	tr.Record(CallRecord{
		Query:     "pullRequests",
		Repo:      "a/b",
		StartedAt: time.Date(2024, 4, 1, 12, 0, 1, 0, time.UTC),
		Duration:  80 * time.Millisecond,
		Success:   false,
		ErrorText: "remote rejected",
	})

	path, err := tr.WriteReport()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "call-report-"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "Total calls:     2")
	assert.Contains(t, body, "branchCommits")
	assert.Contains(t, body, "repo=a/b branch=main")
	assert.Contains(t, body, "FAILED: remote rejected")
}

func TestTracker_WriteReportFailureIsSurfacedNotFatal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Point the report directory at a path that cannot be a directory.
	blocked := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))
	tr := NewTracker(5000, filepath.Join(blocked, "reports"), logger)

	path, err := tr.WriteReport()
	assert.Error(t, err)
	assert.Empty(t, path)
}
