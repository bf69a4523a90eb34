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

package scantool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// externalScannerTool adapts one processScanner to the tool.Tool
// interface the executor drives; every subprocess-backed scanner
// (semgrep, bandit, gitleaks, kunlun, npm audit,
// safety, osv-scanner) shares this shape and differs only in binary
// name, CLI args, and jq normalization program.
type externalScannerTool struct {
	name        string
	description string
	resourceKey string
	rootPath    string
	scanner     *processScanner
}

func (t *externalScannerTool) Name() string        { return t.name }
func (t *externalScannerTool) Description() string { return t.description }
func (t *externalScannerTool) ResourceKey() string { return t.resourceKey }

func (t *externalScannerTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "directory relative to the project root to scan, defaults to root"},
		},
	}
}

// resolveTarget joins a caller-supplied relative path against the
// scanner's project root, rejecting the same escapes filetool's
// SandboxConfig.Resolve does, so a scanner invocation can't be pointed
// outside the audited tree.
func (t *externalScannerTool) resolveTarget(relPath string) (string, error) {
	if relPath == "" {
		relPath = "."
	}
	if filepath.IsAbs(relPath) {
		return "", engineerrors.New(engineerrors.KindValidation, "absolute paths not allowed, use paths relative to the project root")
	}
	cleaned := filepath.Clean(relPath)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", engineerrors.New(engineerrors.KindValidation, "directory traversal outside project root not allowed")
	}
	abs := filepath.Join(t.rootPath, cleaned)
	rootAbs, err := filepath.Abs(t.rootPath)
	if err != nil {
		return "", engineerrors.Wrap(engineerrors.KindInternal, "resolving project root", err)
	}
	absResolved, err := filepath.Abs(abs)
	if err != nil {
		return "", engineerrors.Wrap(engineerrors.KindInternal, "resolving path", err)
	}
	if absResolved != rootAbs && !strings.HasPrefix(absResolved, rootAbs+string(filepath.Separator)) {
		return "", engineerrors.New(engineerrors.KindValidation, "resolved path escapes project root")
	}
	return absResolved, nil
}

func (t *externalScannerTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	relPath, _ := args["path"].(string)
	target, err := t.resolveTarget(relPath)
	if err != nil {
		return nil, err
	}
	findings, err := t.scanner.run(ctx, target)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":   "ok",
		"scanner":  t.name,
		"findings": findings,
		"count":    len(findings),
	}, nil
}

// mustScanner builds a processScanner or panics at registration time;
// every jq program below is a fixed literal, so a parse failure here is
// a programming error, not a runtime condition.
func mustScanner(binary, jq string, argsFunc func(string) []string) *processScanner {
	s, err := newProcessScanner(binary, jq, argsFunc)
	if err != nil {
		panic(err)
	}
	return s
}

// NewSemgrepTool wraps `semgrep --json`, whose results live under
// `.results[]` with `path`/`start.line`/`end.line`/`check_id`/`extra.message`/`extra.severity`.
func NewSemgrepTool(rootPath string) *externalScannerTool {
	scanner := mustScanner("semgrep", `.results[] | {
		file_path: .path,
		line_start: .start.line,
		line_end: .end.line,
		vuln_type: .check_id,
		severity: (.extra.severity // "medium" | ascii_downcase),
		description: .extra.message,
		code_snippet: (.extra.lines // "")
	}`, func(target string) []string {
		return []string{"--json", "--quiet", "--config=auto", target}
	})
	return &externalScannerTool{name: "semgrep_scan", description: "Run semgrep static analysis over a path and return normalized findings.", resourceKey: "scanner:semgrep", rootPath: rootPath, scanner: scanner}
}

// NewBanditTool wraps `bandit -f json`, whose results live under
// `.results[]` with `filename`/`line_number`/`test_id`/`issue_severity`/`issue_text`/`code`.
func NewBanditTool(rootPath string) *externalScannerTool {
	scanner := mustScanner("bandit", `.results[] | {
		file_path: .filename,
		line_start: .line_number,
		line_end: .line_number,
		vuln_type: .test_id,
		severity: (.issue_severity | ascii_downcase),
		description: .issue_text,
		code_snippet: .code
	}`, func(target string) []string {
		return []string{"-r", "-f", "json", target}
	})
	return &externalScannerTool{name: "bandit_scan", description: "Run bandit static analysis over Python sources and return normalized findings.", resourceKey: "scanner:bandit", rootPath: rootPath, scanner: scanner}
}

// NewGitleaksTool wraps `gitleaks detect --report-format json`, whose
// results are a flat array with `File`/`StartLine`/`EndLine`/`RuleID`/`Description`/`Match`.
func NewGitleaksTool(rootPath string) *externalScannerTool {
	scanner := mustScanner("gitleaks", `.[] | {
		file_path: .File,
		line_start: .StartLine,
		line_end: .EndLine,
		vuln_type: .RuleID,
		severity: "high",
		description: .Description,
		code_snippet: .Match
	}`, func(target string) []string {
		return []string{"detect", "--source", target, "--report-format", "json", "--report-path", "/dev/stdout", "--no-git", "--exit-code", "0"}
	})
	return &externalScannerTool{name: "gitleaks_scan", description: "Run gitleaks secret detection over a path and return normalized findings.", resourceKey: "scanner:gitleaks", rootPath: rootPath, scanner: scanner}
}

// NewKunlunTool wraps kunlun-m's `KunlunM scan --json`, whose results
// live under `.vulnerabilities[]`.
func NewKunlunTool(rootPath string) *externalScannerTool {
	scanner := mustScanner("kunlun-m", `.vulnerabilities[] | {
		file_path: .file,
		line_start: .line,
		line_end: .line,
		vuln_type: .rule_name,
		severity: (.level // "medium" | ascii_downcase),
		description: .description,
		code_snippet: (.code // "")
	}`, func(target string) []string {
		return []string{"scan", "-t", target, "--json"}
	})
	return &externalScannerTool{name: "kunlun_scan", description: "Run kunlun-m taint analysis over a path and return normalized findings.", resourceKey: "scanner:kunlun", rootPath: rootPath, scanner: scanner}
}

// NewNpmAuditTool wraps `npm audit --json`, whose vulnerabilities live
// under `.vulnerabilities` keyed by package name.
func NewNpmAuditTool(rootPath string) *externalScannerTool {
	scanner := mustScanner("npm", `.vulnerabilities // {} | to_entries[] | {
		file_path: "package.json",
		line_start: 0,
		line_end: 0,
		vuln_type: ("dependency:" + .key),
		severity: (.value.severity // "medium"),
		description: (.value.via[0].title // (.key + " has a known vulnerability") ),
		code_snippet: ""
	}`, func(target string) []string {
		return []string{"audit", "--json"}
	})
	return &externalScannerTool{name: "npm_audit", description: "Run npm audit over a Node project and return normalized dependency findings.", resourceKey: "scanner:npm_audit", rootPath: rootPath, scanner: scanner}
}

// NewSafetyCheckTool wraps pyup's `safety check --json`, whose results
// are a flat array of [package, affected_spec, installed, vuln_id, advisory].
func NewSafetyCheckTool(rootPath string) *externalScannerTool {
	scanner := mustScanner("safety", `.vulnerabilities[]? // .[] | {
		file_path: "requirements.txt",
		line_start: 0,
		line_end: 0,
		vuln_type: ("dependency:" + (.package_name // .[0])),
		severity: "medium",
		description: (.advisory // .[4] // ""),
		code_snippet: ""
	}`, func(target string) []string {
		return []string{"check", "--json", "-r", filepath.Join(target, "requirements.txt")}
	})
	return &externalScannerTool{name: "safety_check", description: "Run pyup safety over a Python requirements file and return normalized dependency findings.", resourceKey: "scanner:safety", rootPath: rootPath, scanner: scanner}
}

// NewOSVScannerTool wraps `osv-scanner --json`, whose results live
// under `.results[].packages[].vulnerabilities[]`.
func NewOSVScannerTool(rootPath string) *externalScannerTool {
	scanner := mustScanner("osv-scanner", `.results[]? | .source.path as $src | .packages[]? | .package.name as $pkg | .vulnerabilities[]? | {
		file_path: $src,
		line_start: 0,
		line_end: 0,
		vuln_type: ("dependency:" + $pkg + ":" + .id),
		severity: "medium",
		description: (.summary // .details // ""),
		code_snippet: ""
	}`, func(target string) []string {
		return []string{"--json", "-r", target}
	})
	return &externalScannerTool{name: "osv_scanner", description: "Run osv-scanner over the dependency manifests in a path and return normalized findings.", resourceKey: "scanner:osv", rootPath: rootPath, scanner: scanner}
}

// PatternMatchTool is an in-process regex scanner over a fixed set of
// vulnerability signature patterns, used when no external scanner binary
// is available, or as a circuit-breaker fallback target via the
// tool.<name>.fallback_tool config key.
type PatternMatchTool struct {
	sandboxRoot string
	rules       []patternRule
}

type patternRule struct {
	vulnType string
	severity string
	re       *regexp.Regexp
}

// NewPatternMatchTool builds the stock rule set: enough common
// injection/secret signatures to stand in for a real SAST engine when
// one is unavailable.
func NewPatternMatchTool(rootPath string) *PatternMatchTool {
	return &PatternMatchTool{
		sandboxRoot: rootPath,
		rules: []patternRule{
			{vulnType: "sql_injection", severity: "high", re: regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE)\b.*["']\s*\+\s*\w+`)},
			{vulnType: "command_injection", severity: "critical", re: regexp.MustCompile(`(?i)(os\.system|exec\.Command|subprocess\.(call|run|Popen))\([^)]*\+`)},
			{vulnType: "hardcoded_secret", severity: "medium", re: regexp.MustCompile(`(?i)(api[_-]?key|secret|password)\s*[:=]\s*["'][A-Za-z0-9/+=]{8,}["']`)},
			{vulnType: "insecure_deserialization", severity: "high", re: regexp.MustCompile(`(?i)(pickle\.loads|yaml\.load|unserialize)\(`)},
		},
	}
}

func (t *PatternMatchTool) Name() string        { return "pattern_match" }
func (t *PatternMatchTool) ResourceKey() string { return "" }
func (t *PatternMatchTool) Description() string {
	return "Scan a file for known vulnerability signature patterns using a fixed rule set."
}
func (t *PatternMatchTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (t *PatternMatchTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	relPath, _ := args["path"].(string)
	if relPath == "" {
		return nil, engineerrors.New(engineerrors.KindValidation, "path parameter is required")
	}
	abs := filepath.Join(t.sandboxRoot, relPath)
	f, err := os.Open(abs)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindToolError, "open failed", err)
	}
	defer f.Close()

	var findings []PartialFinding
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		line := scanner.Text()
		for _, rule := range t.rules {
			if rule.re.MatchString(line) {
				findings = append(findings, PartialFinding{
					FilePath:    relPath,
					LineStart:   lineNo,
					LineEnd:     lineNo,
					VulnType:    rule.vulnType,
					Severity:    rule.severity,
					Description: fmt.Sprintf("matched pattern for %s", rule.vulnType),
					CodeSnippet: line,
					Rule:        "pattern_match:" + rule.vulnType,
				})
			}
		}
	}
	return map[string]any{"status": "ok", "scanner": "pattern_match", "findings": findings, "count": len(findings)}, nil
}

// DataflowAnalysisTool performs a lightweight intra-file taint trace:
// it looks for a tainted source assignment reaching a known sink
// function within the same file, without building a full call graph
// (full dataflow analysis is delegated to semgrep/kunlun's dataflow
// modes; this tool is the always-available fallback).
type DataflowAnalysisTool struct {
	sandboxRoot string
}

func NewDataflowAnalysisTool(rootPath string) *DataflowAnalysisTool {
	return &DataflowAnalysisTool{sandboxRoot: rootPath}
}

func (t *DataflowAnalysisTool) Name() string        { return "dataflow_analysis" }
func (t *DataflowAnalysisTool) ResourceKey() string { return "" }
func (t *DataflowAnalysisTool) Description() string {
	return "Trace tainted variables from known sources to known sinks within one file."
}
func (t *DataflowAnalysisTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"sources": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"sinks":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"path"},
	}
}

var defaultTaintSources = []string{"request.GET", "request.POST", "input(", "os.Getenv", "req.Query", "req.Body"}
var defaultTaintSinks = []string{"exec.Command", "os.system", "cursor.execute", "db.Query", "eval("}

func (t *DataflowAnalysisTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	relPath, _ := args["path"].(string)
	if relPath == "" {
		return nil, engineerrors.New(engineerrors.KindValidation, "path parameter is required")
	}
	sources := stringSlice(args["sources"], defaultTaintSources)
	sinks := stringSlice(args["sinks"], defaultTaintSinks)

	abs := filepath.Join(t.sandboxRoot, relPath)
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindToolError, "read failed", err)
	}

	var tainted []model_dataflowHit
	lines := splitLines(string(content))
	var lastSourceLine int
	var lastSourceTerm string
	for i, line := range lines {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for _, src := range sources {
			if contains(line, src) {
				lastSourceLine = i + 1
				lastSourceTerm = src
			}
		}
		if lastSourceLine == 0 {
			continue
		}
		for _, sink := range sinks {
			if contains(line, sink) {
				tainted = append(tainted, model_dataflowHit{
					SourceLine: lastSourceLine,
					SourceTerm: lastSourceTerm,
					SinkLine:   i + 1,
					SinkTerm:   sink,
				})
			}
		}
	}

	return map[string]any{"status": "ok", "scanner": "dataflow_analysis", "path": relPath, "paths": tainted, "count": len(tainted)}, nil
}

type model_dataflowHit struct {
	SourceLine int    `json:"source_line"`
	SourceTerm string `json:"source_term"`
	SinkLine   int    `json:"sink_line"`
	SinkTerm   string `json:"sink_term"`
}

func stringSlice(v any, def []string) []string {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return def
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
