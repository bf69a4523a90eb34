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

// Package model holds the engine's core data types: Task, AuditState,
// Finding, Event, and Checkpoint. These are plain structs, not
// behavior-bearing services; ownership and mutation rules are documented
// on each type rather than enforced by the compiler. The per-invocation
// tool call record lives in pkg/tool (tool.Result) since it is produced
// and consumed entirely within the executor pipeline.
package model

import "time"

// Status is the closed set of task lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Terminal reports whether a status ends the task's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ValidTransition enforces the total transition table:
// pending -> running -> {succeeded, failed, cancelled}; running <-> paused;
// pending and paused may also go straight to cancelled.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		switch to {
		case StatusSucceeded, StatusFailed, StatusCancelled, StatusPaused:
			return true
		}
	case StatusPaused:
		return to == StatusRunning || to == StatusCancelled
	}
	return false
}

// FindingCounts tallies findings by severity for task progress reporting.
type FindingCounts struct {
	Critical int
	High     int
	Medium   int
	Low      int
	Info     int
}

// Total returns the sum across all severities.
func (c FindingCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low + c.Info
}

// Task is the unit of work picked up by a worker and driven by one
// orchestrator instance. Created by the submission boundary (out of
// scope), mutated exclusively by the orchestrator loop, terminal once
// Status.Terminal() is true.
type Task struct {
	ID                   string
	ProjectRef           string
	ConfigOverrides      map[string]any
	TotalFiles           int
	IndexedFiles         int
	AnalyzedFiles        int
	CurrentPhase         string
	CurrentStep          string
	CumulativeTokensUsed int64
	Findings             FindingCounts
	OverallScore         float64
	SecurityScore        float64
	Status               Status
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	DroppedEvents        int64
}

// TechStackFraction maps a recognized language to its fraction of the
// scanned file set (fractions sum to ~1.0 across the map).
type TechStackFraction = float64

// EntryPoint is a recognized application entry point discovered during recon.
type EntryPoint struct {
	Path string
	Kind string
}

// DependencyGraphSummary is a coarse, non-exhaustive digest of the
// project's dependency graph; full-fidelity dependency analysis is out
// of scope for the orchestration core.
type DependencyGraphSummary struct {
	DirectDependencies     int
	TransitiveDependencies int
	Ecosystems           []string
}
