package model

// Phase is a node in the fixed orchestration DAG.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseRecon        Phase = "recon"
	PhaseAnalysis     Phase = "analysis"
	PhaseVerification Phase = "verification"
	PhaseReport       Phase = "report"
	PhaseDone         Phase = "done"
	PhaseError        Phase = "error"
)

// AgentMessage is one bounded-ring-buffer conversation turn carried in
// AuditState, independent of any single agent's own in-flight context.
type AgentMessage struct {
	Role    string
	Content string
}

// AuditState is the orchestrator's in-memory state object. It is
// exclusively owned and mutated by one orchestrator instance per task
// (the task advisory lock guarantees at most one); sub-agents never
// mutate it directly, they return a StateDiff which the orchestrator
// applies.
type AuditState struct {
	ProjectRoot       string
	TechStack         map[string]TechStackFraction
	EntryPoints       []EntryPoint
	HighRiskPaths     []string
	DependencySummary DependencyGraphSummary

	OpenFindings     []Finding
	VerifiedFindings []Finding
	FalsePositives   []Finding

	CurrentPhase          Phase
	Iteration             int
	MaxIterations         int
	ContinueAnalysis      bool
	RecentMessages        []AgentMessage
	MaxContextMessages    int
	EventLogPointer       int64
	SummaryText           string
	SecurityScore         float64
	LastError             string
	MaxTotalFindings      int
}

// TotalFindings returns the count across open/verified/false-positive
// buckets, used to enforce the max_total_findings invariant.
func (s *AuditState) TotalFindings() int {
	return len(s.OpenFindings) + len(s.VerifiedFindings) + len(s.FalsePositives)
}

// AppendMessage enforces the bounded ring buffer: the oldest turn is
// evicted before the new one is appended once at capacity, including
// the MaxContextMessages=1 case.
func (s *AuditState) AppendMessage(m AgentMessage) {
	if s.MaxContextMessages <= 0 {
		s.MaxContextMessages = 1
	}
	s.RecentMessages = append(s.RecentMessages, m)
	if over := len(s.RecentMessages) - s.MaxContextMessages; over > 0 {
		s.RecentMessages = s.RecentMessages[over:]
	}
}

// StateDiff is what a sub-agent returns instead of mutating AuditState
// directly. The orchestrator applies diffs serially on its own fiber.
type StateDiff struct {
	NewOpenFindings     []Finding
	NewVerifiedFindings []Finding
	NewFalsePositives   []Finding
	TechStack           map[string]TechStackFraction
	EntryPoints         []EntryPoint
	HighRiskPaths       []string
	DependencySummary   *DependencyGraphSummary
	ContinueAnalysis    *bool
	SummaryText         string
	SecurityScore       *float64
	LastError           string
}

// Apply merges a StateDiff into AuditState. This is the only mutation
// path sub-agent results take; it always runs on the orchestrator fiber.
func (s *AuditState) Apply(d StateDiff) {
	s.OpenFindings = append(s.OpenFindings, d.NewOpenFindings...)
	s.VerifiedFindings = append(s.VerifiedFindings, d.NewVerifiedFindings...)
	s.FalsePositives = append(s.FalsePositives, d.NewFalsePositives...)
	for k, v := range d.TechStack {
		if s.TechStack == nil {
			s.TechStack = map[string]TechStackFraction{}
		}
		s.TechStack[k] = v
	}
	s.EntryPoints = append(s.EntryPoints, d.EntryPoints...)
	s.HighRiskPaths = append(s.HighRiskPaths, d.HighRiskPaths...)
	if d.DependencySummary != nil {
		s.DependencySummary = *d.DependencySummary
	}
	if d.ContinueAnalysis != nil {
		s.ContinueAnalysis = *d.ContinueAnalysis
	}
	if d.SummaryText != "" {
		s.SummaryText = d.SummaryText
	}
	if d.SecurityScore != nil {
		s.SecurityScore = *d.SecurityScore
	}
	if d.LastError != "" {
		s.LastError = d.LastError
	}
}
