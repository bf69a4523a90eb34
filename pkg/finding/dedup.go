package finding

import "github.com/auditengine/engine/pkg/model"

// Deduplicator merges a stream of candidate findings by fingerprint,
// applying the severity/status/first-non-empty merge rules. It is
// process-local state used by the analysis/verification phases before
// findings reach the FindingStore's own upsert-by-fingerprint (which
// performs the same merge again across concurrent agents/tasks).
type Deduplicator struct {
	byFingerprint map[string]model.Finding
	order         []string
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{byFingerprint: map[string]model.Finding{}}
}

// Add ingests a finding, computing its fingerprint if not already set,
// and reports whether this is a brand-new fingerprint (true) or a merge
// into an existing one (false).
func (d *Deduplicator) Add(f model.Finding) (merged model.Finding, isNew bool) {
	if f.Fingerprint == "" {
		f = WithFingerprint(f)
	}

	existing, ok := d.byFingerprint[f.Fingerprint]
	if !ok {
		d.byFingerprint[f.Fingerprint] = f
		d.order = append(d.order, f.Fingerprint)
		return f, true
	}

	mergedFinding := Merge(existing, f)
	d.byFingerprint[f.Fingerprint] = mergedFinding
	return mergedFinding, false
}

// Merge combines two findings sharing a fingerprint:
// severity = max(a, b); verification status follows
// confirmed > needs-review > new > rejected; description/snippet keep
// the first non-empty value.
func Merge(a, b model.Finding) model.Finding {
	merged := a
	merged.Severity = model.MaxSeverity(a.Severity, b.Severity)
	merged.VerificationStatus = model.MergeVerificationStatus(a.VerificationStatus, b.VerificationStatus)
	if merged.Description == "" {
		merged.Description = b.Description
	}
	if merged.CodeSnippet == "" {
		merged.CodeSnippet = b.CodeSnippet
	}
	if merged.FixSuggestion == "" {
		merged.FixSuggestion = b.FixSuggestion
	}
	if merged.AIExplanation == "" {
		merged.AIExplanation = b.AIExplanation
	}
	if merged.CVSS == nil {
		merged.CVSS = b.CVSS
	}
	return merged
}

// All returns the deduplicated findings in first-seen order.
func (d *Deduplicator) All() []model.Finding {
	out := make([]model.Finding, 0, len(d.order))
	for _, fp := range d.order {
		out = append(out, d.byFingerprint[fp])
	}
	return out
}

// Count returns the number of distinct fingerprints seen so far.
func (d *Deduplicator) Count() int { return len(d.byFingerprint) }
