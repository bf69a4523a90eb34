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

package checkpoint

import "fmt"

// Config is the checkpoint trigger policy: which events cause a Save and
// how much history each task retains.
//
// Example YAML configuration:
//
//	checkpoint:
//	  enabled: true
//	  interval_iterations: 5
//	  on_phase_complete: true
//	  after_tools: false
//	  max_per_task: 3
type Config struct {
	// Enabled turns checkpointing on. Every Should* accessor reports
	// false while disabled, so callers can consult them unconditionally.
	Enabled bool `yaml:"enabled"`

	// IntervalIterations fires a checkpoint every N agent-loop
	// iterations. 0 disables the interval trigger.
	IntervalIterations int `yaml:"interval_iterations"`

	// OnPhaseComplete fires a checkpoint at every phase boundary.
	OnPhaseComplete bool `yaml:"on_phase_complete"`

	// AfterTools fires a checkpoint when a tool invocation completes.
	AfterTools bool `yaml:"after_tools"`

	// MaxPerTask bounds retained history: after every successful write
	// the store is pruned to the most recent MaxPerTask checkpoints.
	MaxPerTask int `yaml:"max_per_task"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MaxPerTask <= 0 {
		c.MaxPerTask = 3
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.IntervalIterations < 0 {
		return fmt.Errorf("checkpoint interval_iterations must be non-negative")
	}
	return nil
}

// IsEnabled reports whether checkpointing is on at all.
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled
}

// ShouldCheckpointAtIteration reports whether the interval trigger fires
// at the given iteration.
func (c *Config) ShouldCheckpointAtIteration(iteration int) bool {
	if !c.IsEnabled() || c.IntervalIterations <= 0 {
		return false
	}
	return iteration > 0 && iteration%c.IntervalIterations == 0
}

// ShouldCheckpointAfterTools reports whether the tool-complete trigger
// is active.
func (c *Config) ShouldCheckpointAfterTools() bool {
	return c.IsEnabled() && c.AfterTools
}

// ShouldCheckpointOnPhaseBoundary reports whether the phase-boundary
// trigger is active.
func (c *Config) ShouldCheckpointOnPhaseBoundary() bool {
	return c.IsEnabled() && c.OnPhaseComplete
}
