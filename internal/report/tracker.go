// internal/report/tracker.go
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// CallRecord captures one remote API call, successful or not.
type CallRecord struct {
	Query     string
	Variables map[string]any
	Repo      string
	Branch    string
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	ErrorText string
}

// Summary aggregates the ledger into the numbers an operator cares about.
type Summary struct {
	TotalCalls    int            `json:"totalCalls"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	SuccessRate   float64        `json:"successRate"` // percent, 0-100
	TotalDuration time.Duration  `json:"totalDuration"`
	AvgDuration   time.Duration  `json:"avgDuration"`
	CallsByQuery  map[string]int `json:"callsByQuery"`
	QuotaUsedPct  float64        `json:"quotaUsedPct"` // estimated share of the hourly quota
	WindowStart   time.Time      `json:"windowStart"`
}

// Tracker is the in-memory call ledger. It is passed explicitly into the
// remote client for each sync invocation; there is no global instance. The
// client records calls concurrently, so every method takes the mutex.
type Tracker struct {
	mu          sync.Mutex
	windowStart time.Time
	calls       []CallRecord
	hourlyQuota int
	reportDir   string
	logger      *slog.Logger
}

// NewTracker creates a tracker that estimates quota consumption against the
// given hourly call quota and writes reports into reportDir.
func NewTracker(hourlyQuota int, reportDir string, logger *slog.Logger) *Tracker {
	return &Tracker{
		windowStart: time.Now(),
		hourlyQuota: hourlyQuota,
		reportDir:   reportDir,
		logger:      logger,
	}
}

// Start resets the ledger. The orchestrator calls this at the beginning of
// every sync that touches the remote.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windowStart = time.Now()
	t.calls = nil
}

// Record appends one call to the ledger.
func (t *Tracker) Record(rec CallRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, rec)
}

// Summary computes aggregate statistics over the current ledger.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		TotalCalls:   len(t.calls),
		CallsByQuery: make(map[string]int),
		WindowStart:  t.windowStart,
	}
	for _, c := range t.calls {
		if c.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.TotalDuration += c.Duration
		s.CallsByQuery[c.Query]++
	}
	if s.TotalCalls > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.TotalCalls) * 100
		s.AvgDuration = s.TotalDuration / time.Duration(s.TotalCalls)
	}
	if t.hourlyQuota > 0 {
		s.QuotaUsedPct = float64(s.TotalCalls) / float64(t.hourlyQuota) * 100
	}
	return s
}

// WriteReport renders the ledger as a text report and persists it to a
// timestamped file. It returns the filename. A write failure is reported as
// an error but must never fail the sync that requested the report.
func (t *Tracker) WriteReport() (string, error) {
	summary := t.Summary()

	t.mu.Lock()
	calls := make([]CallRecord, len(t.calls))
	copy(calls, t.calls)
	t.mu.Unlock()

	if err := os.MkdirAll(t.reportDir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("call-report-%s.txt", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(t.reportDir, name)

	if err := os.WriteFile(path, []byte(renderReport(summary, calls)), 0o644); err != nil {
		return "", err
	}

	t.logger.Debug("Call report written", "file", path, "calls", summary.TotalCalls)
	return path, nil
}

// renderReport produces the report body. Ordering is deterministic: the
// histogram is sorted by query name and calls appear in recording order.
func renderReport(s Summary, calls []CallRecord) string {
	var b strings.Builder

	b.WriteString("GitHub API Call Report\n")
	b.WriteString("======================\n\n")
	fmt.Fprintf(&b, "Window start:    %s\n", s.WindowStart.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Total calls:     %d\n", s.TotalCalls)
	fmt.Fprintf(&b, "Succeeded:       %d\n", s.Succeeded)
	fmt.Fprintf(&b, "Failed:          %d\n", s.Failed)
	fmt.Fprintf(&b, "Success rate:    %.1f%%\n", s.SuccessRate)
	fmt.Fprintf(&b, "Total duration:  %s\n", s.TotalDuration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Avg duration:    %s\n", s.AvgDuration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Quota consumed:  %.2f%% of hourly limit\n", s.QuotaUsedPct)

	b.WriteString("\nCalls by query type\n-------------------\n")
	queries := make([]string, 0, len(s.CallsByQuery))
	for q := range s.CallsByQuery {
		queries = append(queries, q)
	}
	sort.Strings(queries)
	for _, q := range queries {
		fmt.Fprintf(&b, "%-24s %d\n", q, s.CallsByQuery[q])
	}

	b.WriteString("\nCall log\n--------\n")
	for _, c := range calls {
		status := "ok"
		if !c.Success {
			status = "FAILED: " + c.ErrorText
		}
		target := ""
		if c.Repo != "" {
			target = " repo=" + c.Repo
			if c.Branch != "" {
				target += " branch=" + c.Branch
			}
		}
		fmt.Fprintf(&b, "%s %-24s %8s%s %s\n",
			c.StartedAt.UTC().Format(time.RFC3339),
			c.Query,
			c.Duration.Round(time.Millisecond),
			target,
			status,
		)
	}

	return b.String()
}
