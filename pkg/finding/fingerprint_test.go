package finding

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/auditengine/engine/pkg/model"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"leading dot slash", "./main.py", "main.py"},
		{"backslashes", `pkg\utils\helper.go`, "pkg/utils/helper.go"},
		{"whitespace", "  main.py  ", "main.py"},
		{"already normalized", "src/app.py", "src/app.py"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizePath(tc.in))
		})
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	f := model.Finding{
		VulnType: "sql_injection",
		Location: model.Location{FilePath: "./main.py", LineStart: 10, LineEnd: 10},
	}
	a := Fingerprint(f)
	b := Fingerprint(f)
	require.Equal(t, a, b)
	require.Len(t, a, 64) // hex-encoded SHA-256
}

func TestFingerprint_EqualInputsEqualFingerprints(t *testing.T) {
	// Two findings normalizing to the same path/location/type/dataflow
	// must fingerprint identically.
	f1 := model.Finding{
		VulnType: "sql_injection",
		Location: model.Location{FilePath: "./main.py", LineStart: 10, LineEnd: 10},
	}
	f2 := model.Finding{
		VulnType: "sql_injection",
		Location: model.Location{FilePath: `main.py`, LineStart: 10, LineEnd: 10},
	}
	require.Equal(t, Fingerprint(f1), Fingerprint(f2))
}

func TestFingerprint_DistinguishesLocationAndType(t *testing.T) {
	base := model.Finding{
		VulnType: "sql_injection",
		Location: model.Location{FilePath: "main.py", LineStart: 10, LineEnd: 10},
	}
	diffLine := base
	diffLine.Location.LineStart = 11

	diffType := base
	diffType.VulnType = "xss"

	diffPath := base
	diffPath.Location.FilePath = "other.py"

	fp := Fingerprint(base)
	require.NotEqual(t, fp, Fingerprint(diffLine))
	require.NotEqual(t, fp, Fingerprint(diffType))
	require.NotEqual(t, fp, Fingerprint(diffPath))
}

func TestFingerprint_DataflowDefaultsToEmpty(t *testing.T) {
	noDataflow := model.Finding{
		VulnType: "taint",
		Location: model.Location{FilePath: "a.py", LineStart: 1, LineEnd: 1},
	}
	emptyDataflow := noDataflow
	emptyDataflow.Dataflow = &model.DataflowPath{Source: "", Sink: ""}

	require.Equal(t, Fingerprint(noDataflow), Fingerprint(emptyDataflow))
}

func TestFingerprint_DataflowAffectsHash(t *testing.T) {
	withFlow := model.Finding{
		VulnType: "taint",
		Location: model.Location{FilePath: "a.py", LineStart: 1, LineEnd: 1},
		Dataflow: &model.DataflowPath{Source: "request.args", Sink: "os.system"},
	}
	without := withFlow
	without.Dataflow = nil

	require.NotEqual(t, Fingerprint(withFlow), Fingerprint(without))
}

func TestWithFingerprint_Populates(t *testing.T) {
	f := model.Finding{VulnType: "x", Location: model.Location{FilePath: "a.py"}}
	require.Empty(t, f.Fingerprint)
	out := WithFingerprint(f)
	require.NotEmpty(t, out.Fingerprint)
	require.Equal(t, Fingerprint(f), out.Fingerprint)
}
