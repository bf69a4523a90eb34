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

package logger

import "log/slog"

// SlogAdapter satisfies ports.Logger by delegating to a *slog.Logger,
// so every package that only depends on ports.Logger can be driven by
// the same filtering/coloring handler Init sets up for the CLI.
type SlogAdapter struct {
	l *slog.Logger
}

// NewAdapter wraps l, or the process-wide default logger if l is nil.
func NewAdapter(l *slog.Logger) *SlogAdapter {
	if l == nil {
		l = GetLogger()
	}
	return &SlogAdapter{l: l}
}

func (a *SlogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *SlogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
