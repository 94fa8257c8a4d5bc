package signals

import (
	"fmt"
	"strings"
	"time"
)

// DetectionType selects which kind of signal a scan looks for.
type DetectionType string

// Detection types understood by the scanner.
const (
	DetectionJob  DetectionType = "job"
	DetectionHire DetectionType = "hire"
)

// ParseDetectionType validates a user supplied detection type.
func ParseDetectionType(raw string) (DetectionType, error) {
	switch DetectionType(strings.ToLower(strings.TrimSpace(raw))) {
	case DetectionJob:
		return DetectionJob, nil
	case DetectionHire:
		return DetectionHire, nil
	default:
		return "", fmt.Errorf("unknown detection type %q", raw)
	}
}

// SourceTag identifies the class of upstream a candidate came from.
type SourceTag string

// Source tags ordered roughly by trustworthiness.
const (
	SourceSession   SourceTag = "session"
	SourceAPI       SourceTag = "api"
	SourceCareers   SourceTag = "careers"
	SourceSearch    SourceTag = "search"
	SourceHeuristic SourceTag = "heuristic"
)

// BaseConfidence is the starting confidence for candidates from this source.
func (s SourceTag) BaseConfidence() int {
	switch s {
	case SourceSession:
		return 82
	case SourceAPI:
		return 78
	case SourceCareers:
		return 76
	case SourceSearch:
		return 75
	case SourceHeuristic:
		return 60
	default:
		return 50
	}
}

// Company is a roster entry. The scanner never mutates it.
type Company struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ProfileURL    string     `json:"profile_url,omitempty" mapstructure:"profile_url"`
	CareerURL     string     `json:"career_url,omitempty" mapstructure:"career_url"`
	Website       string     `json:"website,omitempty"`
	Active        bool       `json:"active"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty" mapstructure:"-"`
}

// RawContent is one unit of fetched, unstructured (or lightly structured) text.
type RawContent struct {
	Text        string
	URL         string
	Fields      map[string]string
	PublishedAt *time.Time
}

// Structured reports whether the content already carries extracted fields.
func (r RawContent) Structured() bool {
	return len(r.Fields) > 0
}

// Candidate is an extracted job or hire. Values are never modified after
// extraction.
type Candidate struct {
	Type         DetectionType `json:"type"`
	Company      string        `json:"company"`
	Title        string        `json:"title,omitempty"`
	Location     string        `json:"location,omitempty"`
	PersonName   string        `json:"person_name,omitempty"`
	Position     string        `json:"position,omitempty"`
	URL          string        `json:"url,omitempty"`
	ProfileURL   string        `json:"profile_url,omitempty"`
	Evidence     string        `json:"evidence"`
	Source       SourceTag     `json:"source"`
	Strategy     string        `json:"strategy"`
	Pattern      string        `json:"pattern"`
	Confidence   int           `json:"confidence"`
	DiscoveredAt time.Time     `json:"discovered_at"`
}

// Key returns the canonical dedup key for the candidate.
func (c Candidate) Key() DedupKey {
	if c.Type == DetectionHire {
		return NewHireKey(c.PersonName, c.Company, c.Position)
	}
	return NewJobKey(c.Title, c.Company, c.Location)
}

// Summary renders a short human readable description.
func (c Candidate) Summary() string {
	if c.Type == DetectionHire {
		return fmt.Sprintf("%s joined %s as %s", c.PersonName, c.Company, c.Position)
	}
	return fmt.Sprintf("%s is hiring %s (%s)", c.Company, c.Title, c.Location)
}

// ScanReport summarises one scan run. It is built once and not mutated
// after RunScan returns.
type ScanReport struct {
	ID                  string         `json:"id"`
	Type                DetectionType  `json:"type"`
	StartedAt           time.Time      `json:"started_at"`
	FinishedAt          time.Time      `json:"finished_at"`
	Duration            time.Duration  `json:"duration"`
	CompaniesTotal      int            `json:"companies_total"`
	CompaniesProcessed  int            `json:"companies_processed"`
	CompaniesExhausted  int            `json:"companies_exhausted"`
	CandidatesFound     int            `json:"candidates_found"`
	CandidatesRejected  int            `json:"candidates_rejected"`
	EventsEmitted       int            `json:"events_emitted"`
	Duplicates          int            `json:"duplicates"`
	Failures            int            `json:"failures"`
	PersistenceFailures int            `json:"persistence_failures"`
	StrategyWins        map[string]int `json:"strategy_wins"`
	Aborted             bool           `json:"aborted"`
}
