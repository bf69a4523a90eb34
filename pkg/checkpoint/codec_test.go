package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/model"
)

func sampleState() model.AuditState {
	return model.AuditState{
		ProjectRoot:        "/repo",
		CurrentPhase:       model.PhaseAnalysis,
		Iteration:          3,
		MaxIterations:      10,
		MaxContextMessages: 5,
		RecentMessages: []model.AgentMessage{
			{Role: "user", Content: "scan the repo"},
			{Role: "assistant", Content: "found one issue"},
		},
		SecurityScore: 82.5,
	}
}

func sampleFindings() []model.Finding {
	return []model.Finding{
		{
			ID:       "f1",
			VulnType: "sql_injection",
			Severity: model.SeverityHigh,
			Location: model.Location{FilePath: "main.py", LineStart: 10, LineEnd: 10},
		},
		{
			ID:       "f2",
			VulnType: "xss",
			Severity: model.SeverityMedium,
			Location: model.Location{FilePath: "views.py", LineStart: 22, LineEnd: 24},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	state := sampleState()
	findings := sampleFindings()

	blob, err := Encode(state, findings)
	require.NoError(t, err)

	gotState, gotFindings, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, state, gotState)
	require.Equal(t, findings, gotFindings)
}

func TestEncodeDecode_ByteEqualOnReserialize(t *testing.T) {
	// Checkpoint->restore->serialize again yields byte-equal output.
	state := sampleState()
	findings := sampleFindings()

	blob1, err := Encode(state, findings)
	require.NoError(t, err)

	gotState, gotFindings, err := Decode(blob1)
	require.NoError(t, err)

	blob2, err := Encode(gotState, gotFindings)
	require.NoError(t, err)

	require.Equal(t, blob1, blob2)
}

func TestEncodeDecode_EmptyFindings(t *testing.T) {
	state := sampleState()
	blob, err := Encode(state, nil)
	require.NoError(t, err)

	gotState, gotFindings, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, state, gotState)
	require.Empty(t, gotFindings)
}

func TestDecode_BadMagicFails(t *testing.T) {
	blob, err := Encode(sampleState(), nil)
	require.NoError(t, err)
	blob[0] = 'X'

	_, _, err = Decode(blob)
	require.Error(t, err)
	require.Equal(t, engineerrors.KindCheckpoint, engineerrors.KindOf(err))
}

func TestDecode_VersionMismatchFails(t *testing.T) {
	blob, err := Encode(sampleState(), nil)
	require.NoError(t, err)
	// Version occupies bytes 4-5, big-endian.
	blob[4] = 0x00
	blob[5] = 0x99

	_, _, err = Decode(blob)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported version")
}

func TestDecode_TruncatedBlobFails(t *testing.T) {
	blob, err := Encode(sampleState(), sampleFindings())
	require.NoError(t, err)

	_, _, err = Decode(blob[:len(blob)-5])
	require.Error(t, err)
	require.Equal(t, engineerrors.KindCheckpoint, engineerrors.KindOf(err))
}

func TestDecode_EmptyBlobFails(t *testing.T) {
	_, _, err := Decode(nil)
	require.Error(t, err)
}
