// Package analytics aggregates scan reports into running totals and keeps
// the most recent reports for the HTTP API.
package analytics

import (
	"sync"

	"github.com/JakeFAU/signal-scanner/internal/metrics"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// DefaultHistory is the number of reports kept when none is configured.
const DefaultHistory = 50

// Totals are cumulative counters across every recorded scan.
type Totals struct {
	Scans               int `json:"scans"`
	Aborted             int `json:"aborted"`
	CompaniesProcessed  int `json:"companies_processed"`
	CandidatesFound     int `json:"candidates_found"`
	CandidatesRejected  int `json:"candidates_rejected"`
	EventsEmitted       int `json:"events_emitted"`
	Duplicates          int `json:"duplicates"`
	Failures            int `json:"failures"`
	PersistenceFailures int `json:"persistence_failures"`
}

// Recorder keeps totals per detection type and a bounded report history.
type Recorder struct {
	mu      sync.RWMutex
	history int
	recent  []signals.ScanReport
	totals  map[signals.DetectionType]Totals
}

// NewRecorder creates a Recorder keeping the last history reports.
func NewRecorder(history int) *Recorder {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Recorder{
		history: history,
		totals:  make(map[signals.DetectionType]Totals),
	}
}

// Record folds report into the totals and exports it as metrics.
func (r *Recorder) Record(report signals.ScanReport) {
	status := "completed"
	if report.Aborted {
		status = "aborted"
	}
	metrics.ObserveScan(string(report.Type), status, report.Duration)

	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.totals[report.Type]
	t.Scans++
	if report.Aborted {
		t.Aborted++
	}
	t.CompaniesProcessed += report.CompaniesProcessed
	t.CandidatesFound += report.CandidatesFound
	t.CandidatesRejected += report.CandidatesRejected
	t.EventsEmitted += report.EventsEmitted
	t.Duplicates += report.Duplicates
	t.Failures += report.Failures
	t.PersistenceFailures += report.PersistenceFailures
	r.totals[report.Type] = t

	r.recent = append(r.recent, report)
	if over := len(r.recent) - r.history; over > 0 {
		r.recent = append([]signals.ScanReport(nil), r.recent[over:]...)
	}
}

// Totals returns the cumulative counters for kind.
func (r *Recorder) Totals(kind signals.DetectionType) Totals {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totals[kind]
}

// Recent returns up to limit reports, newest first. A non-positive limit
// returns the whole history.
func (r *Recorder) Recent(limit int) []signals.ScanReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]signals.ScanReport, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.recent[i])
	}
	return out
}

// Get returns the report with id if it is still in the history.
func (r *Recorder) Get(id string) (signals.ScanReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.recent) - 1; i >= 0; i-- {
		if r.recent[i].ID == id {
			return r.recent[i], true
		}
	}
	return signals.ScanReport{}, false
}
