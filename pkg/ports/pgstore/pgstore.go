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

// Package pgstore is the Postgres-backed implementation of the task,
// finding, event, and checkpoint ports, built on jackc/pgx/v5. Schema
// migration and the REST CRUD surface that also reads these tables are
// external collaborators; this package only issues the
// statements the engine core itself needs.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/auditengine/engine/pkg/model"
	"github.com/auditengine/engine/pkg/ports"
)

// Store is the Postgres-backed adapter for TaskStore, FindingStore,
// EventStore, and CheckpointStore. It expects tables named tasks,
// findings, events, and checkpoints with columns matching the fields
// read/written below.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-constructed pgxpool.Pool. Pool lifecycle
// (connect, close) is the caller's responsibility.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Load(ctx context.Context, id string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_ref, total_files, indexed_files, analyzed_files,
		       current_phase, current_step, cumulative_tokens_used,
		       overall_score, security_score, status, created_at, started_at, completed_at
		FROM tasks WHERE id = $1`, id)

	var t model.Task
	if err := row.Scan(&t.ID, &t.ProjectRef, &t.TotalFiles, &t.IndexedFiles, &t.AnalyzedFiles,
		&t.CurrentPhase, &t.CurrentStep, &t.CumulativeTokensUsed,
		&t.OverallScore, &t.SecurityScore, &t.Status, &t.CreatedAt, &t.StartedAt, &t.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("task %s: not found", id)
		}
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $2,
		  started_at   = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
		  completed_at = CASE WHEN $2 IN ('succeeded','failed','cancelled') THEN now() ELSE completed_at END
		WHERE id = $1`, id, status)
	return err
}

func (s *Store) UpdateProgress(ctx context.Context, id string, phase, step string) error {
	_, err := s.pool.Exec(ctx, `UPDATE tasks SET current_phase = $2, current_step = $3 WHERE id = $1`, id, phase, step)
	return err
}

func (s *Store) UpdateCounters(ctx context.Context, id string, tokens int64, counts model.FindingCounts) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks SET cumulative_tokens_used = cumulative_tokens_used + $2,
		  findings_critical = $3, findings_high = $4, findings_medium = $5, findings_low = $6, findings_info = $7
		WHERE id = $1`, id, tokens, counts.Critical, counts.High, counts.Medium, counts.Low, counts.Info)
	return err
}

// AcquireLock takes a Postgres advisory lock keyed by a hash of the task
// ID, preserving the invariant that AuditState has exactly one
// orchestrator owner per task.
func (s *Store) AcquireLock(ctx context.Context, id string) (*ports.Lease, error) {
	var acquired bool
	err := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, id).Scan(&acquired)
	if err != nil {
		return nil, fmt.Errorf("acquire lock for task %s: %w", id, err)
	}
	if !acquired {
		return nil, ports.ErrBusy
	}
	return &ports.Lease{TaskID: id, Token: uuid.NewString(), Expiry: time.Now().Add(24 * time.Hour)}, nil
}

func (s *Store) ReleaseLock(ctx context.Context, lease *ports.Lease) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, lease.TaskID)
	return err
}

func (s *Store) UpsertByFingerprint(ctx context.Context, f model.Finding) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO findings (id, task_id, fingerprint, vuln_type, severity, title, description,
		  file_path, line_start, line_end, code_snippet, verification_status, fix_suggestion, ai_explanation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (task_id, fingerprint) DO UPDATE SET
		  severity = GREATEST(findings.severity, EXCLUDED.severity),
		  verification_status = CASE
		    WHEN EXCLUDED.verification_status = 'confirmed' THEN 'confirmed'
		    WHEN findings.verification_status = 'confirmed' THEN 'confirmed'
		    WHEN EXCLUDED.verification_status = 'needs-review' OR findings.verification_status = 'needs-review' THEN 'needs-review'
		    WHEN EXCLUDED.verification_status = 'new' OR findings.verification_status = 'new' THEN 'new'
		    ELSE 'rejected'
		  END
		`, f.ID, f.TaskID, f.Fingerprint, f.VulnType, f.Severity, f.Title, f.Description,
		f.Location.FilePath, f.Location.LineStart, f.Location.LineEnd, f.CodeSnippet,
		f.VerificationStatus, f.FixSuggestion, f.AIExplanation)
	if err != nil {
		return false, fmt.Errorf("upsert finding %s: %w", f.Fingerprint, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListForTask(ctx context.Context, taskID string) ([]model.Finding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, fingerprint, vuln_type, severity, title, description,
		       file_path, line_start, line_end, code_snippet, verification_status, fix_suggestion, ai_explanation
		FROM findings WHERE task_id = $1 ORDER BY fingerprint`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list findings for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		var f model.Finding
		if err := rows.Scan(&f.ID, &f.TaskID, &f.Fingerprint, &f.VulnType, &f.Severity, &f.Title, &f.Description,
			&f.Location.FilePath, &f.Location.LineStart, &f.Location.LineEnd, &f.CodeSnippet,
			&f.VerificationStatus, &f.FixSuggestion, &f.AIExplanation); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) AppendBatch(ctx context.Context, taskID string, events []model.Event) error {
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO events (id, task_id, sequence, kind, phase, message, tool_name, duration_ms, finding_ref, tokens, timestamp)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.ID, e.TaskID, e.Sequence, e.Kind, e.Phase, e.Message, e.ToolName,
			e.Duration.Milliseconds(), e.FindingRef, e.Tokens, e.Timestamp)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("append event batch for task %s: %w", taskID, err)
		}
	}
	return nil
}

func (s *Store) Put(ctx context.Context, taskID string, index int64, blob []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (task_id, index, blob, created_at) VALUES ($1,$2,$3,now())
		ON CONFLICT (task_id, index) DO NOTHING`, taskID, index, blob)
	return err
}

func (s *Store) GetLatest(ctx context.Context, taskID string) ([]byte, int64, error) {
	var blob []byte
	var idx int64
	err := s.pool.QueryRow(ctx, `
		SELECT blob, index FROM checkpoints WHERE task_id = $1 ORDER BY index DESC LIMIT 1`, taskID).Scan(&blob, &idx)
	if err == pgx.ErrNoRows {
		return nil, -1, fmt.Errorf("checkpoint: no checkpoints for task %s", taskID)
	}
	if err != nil {
		return nil, -1, fmt.Errorf("get latest checkpoint for task %s: %w", taskID, err)
	}
	return blob, idx, nil
}

func (s *Store) Prune(ctx context.Context, taskID string, keepN int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM checkpoints WHERE task_id = $1 AND index NOT IN (
		  SELECT index FROM checkpoints WHERE task_id = $1 ORDER BY index DESC LIMIT $2
		)`, taskID, keepN)
	return err
}

var (
	_ ports.TaskStore       = (*Store)(nil)
	_ ports.FindingStore    = (*Store)(nil)
	_ ports.EventStore      = (*Store)(nil)
	_ ports.CheckpointStore = (*Store)(nil)
)
