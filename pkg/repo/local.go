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

package repo

import (
	"context"
	"os"
	"path/filepath"

	engineerrors "github.com/auditengine/engine/pkg/errors"
)

// LocalSource audits a checkout already on disk. Acquire validates and
// absolutizes the path but copies nothing; the sandbox's read-only tool
// set makes working on the caller's tree directly safe.
type LocalSource struct {
	Path string
}

func (s *LocalSource) Kind() Kind { return KindLocal }

func (s *LocalSource) Acquire(_ context.Context, _ string) (string, error) {
	abs, err := filepath.Abs(s.Path)
	if err != nil {
		return "", engineerrors.Wrap(engineerrors.KindValidation, "resolve project path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", engineerrors.Wrap(engineerrors.KindRepository, "project path not accessible", err)
	}
	if !info.IsDir() {
		return "", engineerrors.New(engineerrors.KindValidation, "project path is not a directory")
	}
	return abs, nil
}
