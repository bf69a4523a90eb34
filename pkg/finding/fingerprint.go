// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package finding implements the finding deduplicator and scorer: stable
// fingerprinting, merge-by-fingerprint, and severity/security-score
// aggregation.
package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/auditengine/engine/pkg/model"
)

// NormalizePath strips a leading "./" and collapses backslashes to
// forward slashes, then trims surrounding whitespace.
func NormalizePath(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "./")
	return p
}

// Fingerprint computes the stable dedup key: lowercase hex
// SHA-256 over "<norm_path>|<line_start>-<line_end>|<vuln_type>|<src>→<sink>",
// with src/sink defaulting to empty when absent.
func Fingerprint(f model.Finding) string {
	src, sink := "", ""
	if f.Dataflow != nil {
		src, sink = f.Dataflow.Source, f.Dataflow.Sink
	}

	content := fmt.Sprintf("%s|%d-%d|%s|%s→%s",
		NormalizePath(f.Location.FilePath), f.Location.LineStart, f.Location.LineEnd, f.VulnType, src, sink)

	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// WithFingerprint returns a copy of f with Fingerprint populated.
func WithFingerprint(f model.Finding) model.Finding {
	f.Fingerprint = Fingerprint(f)
	return f
}
