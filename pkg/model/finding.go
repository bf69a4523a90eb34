package model

// Severity is the closed set of finding severities, ordered for
// aggregation: critical(4) > high(3) > medium(2) > low(1) > info(0).
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// Rank returns the ordinal used for max()-style aggregation.
func (s Severity) Rank() int { return severityRank[s] }

// MaxSeverity returns whichever of a, b ranks higher.
func MaxSeverity(a, b Severity) Severity {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// VerificationStatus is the closed set of finding verification states.
type VerificationStatus string

const (
	VerificationNew         VerificationStatus = "new"
	VerificationConfirmed   VerificationStatus = "confirmed"
	VerificationRejected    VerificationStatus = "rejected"
	VerificationNeedsReview VerificationStatus = "needs-review"
)

var verificationPrecedence = map[VerificationStatus]int{
	VerificationConfirmed:   3,
	VerificationNeedsReview: 2,
	VerificationNew:         1,
	VerificationRejected:    0,
}

// MergeVerificationStatus applies the status precedence rule:
// confirmed > needs-review > new > rejected.
func MergeVerificationStatus(a, b VerificationStatus) VerificationStatus {
	if verificationPrecedence[a] >= verificationPrecedence[b] {
		return a
	}
	return b
}

// Location pinpoints a finding within a file.
type Location struct {
	FilePath    string
	LineStart   int
	LineEnd     int
	ColumnStart *int
	ColumnEnd   *int
	Function    string
	Class       string
}

// DataflowPath optionally records the source->sink path behind a finding.
type DataflowPath struct {
	Source string
	Sink   string
	Path   []string
}

// CVSS carries an optional CVSS score and vector string.
type CVSS struct {
	Score  float64
	Vector string
}

// Finding is a reported potential vulnerability. Created by an analysis
// agent, mutated by the verification agent and the deduplicator, destroyed
// only by task deletion (out of scope here).
type Finding struct {
	ID                 string
	TaskID             string
	VulnType           string
	Severity           Severity
	Title              string
	Description        string
	Location           Location
	CodeSnippet        string
	Dataflow           *DataflowPath
	VerificationStatus VerificationStatus
	PoC                string
	FixSuggestion      string
	AIExplanation      string
	CVSS               *CVSS
	Tags               []string
	Fingerprint        string
}
