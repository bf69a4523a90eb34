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

// Package report assembles a completed task's findings into a
// human-readable document. Markdown is the only format implemented;
// a PDF renderer would consume the same ReportData this package builds,
// the way the original split one aggregation step into two output
// formats.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/auditengine/engine/pkg/model"
)

var severityOrder = []model.Severity{
	model.SeverityCritical,
	model.SeverityHigh,
	model.SeverityMedium,
	model.SeverityLow,
	model.SeverityInfo,
}

// Render produces the full Markdown report for a task and its findings.
func Render(task *model.Task, findings []model.Finding) string {
	var b strings.Builder

	writeHeader(&b, task)
	writeSummary(&b, task, findings)
	writeFindingsBySeverity(&b, findings)
	writeFooter(&b, task)

	return b.String()
}

func writeHeader(b *strings.Builder, task *model.Task) {
	fmt.Fprintf(b, "# Audit Report\n\n")
	fmt.Fprintf(b, "**Task:** %s\n", task.ID)
	fmt.Fprintf(b, "**Project:** %s\n", task.ProjectRef)
	fmt.Fprintf(b, "**Status:** %s\n", task.Status)
	if task.StartedAt != nil {
		fmt.Fprintf(b, "**Started:** %s\n", task.StartedAt.Format("2006-01-02 15:04:05 UTC"))
	}
	if task.CompletedAt != nil {
		fmt.Fprintf(b, "**Completed:** %s\n", task.CompletedAt.Format("2006-01-02 15:04:05 UTC"))
		if task.StartedAt != nil {
			fmt.Fprintf(b, "**Duration:** %s\n", task.CompletedAt.Sub(*task.StartedAt).Round(1e9))
		}
	}
	b.WriteString("\n---\n\n")
}

func writeSummary(b *strings.Builder, task *model.Task, findings []model.Finding) {
	fmt.Fprintf(b, "## Summary\n\n")
	fmt.Fprintf(b, "**Security score:** %.1f/100\n\n", task.SecurityScore)
	fmt.Fprintf(b, "| Severity | Count |\n|---|---|\n")
	fmt.Fprintf(b, "| Critical | %d |\n", task.Findings.Critical)
	fmt.Fprintf(b, "| High | %d |\n", task.Findings.High)
	fmt.Fprintf(b, "| Medium | %d |\n", task.Findings.Medium)
	fmt.Fprintf(b, "| Low | %d |\n", task.Findings.Low)
	fmt.Fprintf(b, "| Info | %d |\n", task.Findings.Info)
	fmt.Fprintf(b, "| **Total** | **%d** |\n\n", task.Findings.Total())
	b.WriteString("---\n\n")
}

func writeFindingsBySeverity(b *strings.Builder, findings []model.Finding) {
	b.WriteString("## Findings\n\n")

	byServerity := map[model.Severity][]model.Finding{}
	for _, f := range findings {
		byServerity[f.Severity] = append(byServerity[f.Severity], f)
	}

	any := false
	for _, sev := range severityOrder {
		bucket := byServerity[sev]
		if len(bucket) == 0 {
			continue
		}
		any = true
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Location.FilePath < bucket[j].Location.FilePath })

		fmt.Fprintf(b, "### %s (%d)\n\n", strings.ToUpper(string(sev)), len(bucket))
		for _, f := range bucket {
			fmt.Fprintf(b, "- **%s** at `%s:%d-%d` — %s (%s)\n",
				f.VulnType, f.Location.FilePath, f.Location.LineStart, f.Location.LineEnd,
				f.Description, f.VerificationStatus)
			if f.Dataflow != nil {
				fmt.Fprintf(b, "  - source `%s` → sink `%s`\n", f.Dataflow.Source, f.Dataflow.Sink)
			}
		}
		b.WriteString("\n")
	}
	if !any {
		b.WriteString("No findings.\n\n")
	}
	b.WriteString("---\n\n")
}

func writeFooter(b *strings.Builder, task *model.Task) {
	fmt.Fprintf(b, "## Metadata\n\n")
	fmt.Fprintf(b, "Tokens used: %d\n", task.CumulativeTokensUsed)
	if task.DroppedEvents > 0 {
		fmt.Fprintf(b, "Dropped events: %d (event queue backpressure)\n", task.DroppedEvents)
	}
}
