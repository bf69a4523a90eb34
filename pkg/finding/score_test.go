package finding

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/model"
)

func TestSecurityScore_NoFindingsIsPerfect(t *testing.T) {
	require.Equal(t, 100.0, SecurityScore(nil))
}

func TestSecurityScore_DeductsBySeverity(t *testing.T) {
	findings := []model.Finding{
		{Severity: model.SeverityHigh, VerificationStatus: model.VerificationConfirmed},
		{Severity: model.SeverityMedium, VerificationStatus: model.VerificationConfirmed},
	}
	require.Equal(t, 100.0-15-8, SecurityScore(findings))
}

func TestSecurityScore_IgnoresRejected(t *testing.T) {
	findings := []model.Finding{
		{Severity: model.SeverityCritical, VerificationStatus: model.VerificationRejected},
	}
	require.Equal(t, 100.0, SecurityScore(findings))
}

func TestSecurityScore_ClampsAtZero(t *testing.T) {
	var findings []model.Finding
	for i := 0; i < 10; i++ {
		findings = append(findings, model.Finding{
			Severity:           model.SeverityCritical,
			VerificationStatus: model.VerificationConfirmed,
		})
	}
	require.Equal(t, 0.0, SecurityScore(findings))
}

func TestOverallScore_UsesVerifiedFindingsOnly(t *testing.T) {
	state := &model.AuditState{
		OpenFindings: []model.Finding{
			{Severity: model.SeverityCritical, VerificationStatus: model.VerificationNew},
		},
		VerifiedFindings: []model.Finding{
			{Severity: model.SeverityLow, VerificationStatus: model.VerificationConfirmed},
		},
	}
	require.Equal(t, 100.0-3, OverallScore(state))
}
