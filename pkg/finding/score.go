package finding

import "github.com/auditengine/engine/pkg/model"

// severityDeduction mirrors the original system's code-quality-agent
// point deductions (15/8/3 for high/medium/low), extended with a
// heavier deduction for critical findings since that scale only ever
// covered code-smell severities, not security severities.
var severityDeduction = map[model.Severity]float64{
	model.SeverityCritical: 25,
	model.SeverityHigh:     15,
	model.SeverityMedium:   8,
	model.SeverityLow:      3,
	model.SeverityInfo:     1,
}

// SecurityScore derives a 0-100 score from a task's verified findings.
// Every finding except rejected ones (false positives) counts against
// the score, whatever its other verification status. Each finding deducts a fixed
// per-severity amount, floored at zero.
func SecurityScore(findings []model.Finding) float64 {
	score := 100.0
	for _, f := range findings {
		if f.VerificationStatus == model.VerificationRejected {
			continue
		}
		score -= severityDeduction[f.Severity]
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// OverallScore additionally factors in recon/analysis coverage signals
// held in AuditState; here it is simply the security score, since the
// orchestration core has no quality-agent coverage metric of its own to
// blend in (code-quality analysis is an agent persona, not a core
// component — see pkg/agent/persona.go).
func OverallScore(state *model.AuditState) float64 {
	return SecurityScore(state.VerifiedFindings)
}
