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

package eventbus

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/auditengine/engine/pkg/model"
)

// sseWriter wraps a ResponseWriter/Flusher pair to frame model.Event
// values as Server-Sent Events.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s *sseWriter) send(eventName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventName, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseWriter) sendError(message string) {
	_, _ = fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", mustJSON(map[string]string{"error": message}))
	s.f.Flush()
}

func mustJSON(v any) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

// Routes mounts the task event stream under /tasks/{taskID}/events on r.
func (b *Bus) Routes(r chi.Router) {
	r.Get("/tasks/{taskID}/events", b.handleStream)
}

// handleStream streams a task's events as Server-Sent Events, replaying
// the buffered backlog first so a client connecting mid-task sees
// everything still held in the bounded queue, then following the live
// fan-out until the client disconnects or the task finishes.
func (b *Bus) handleStream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		http.Error(w, "missing taskID", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &sseWriter{w: w, f: flusher}
	ctx := r.Context()

	ch := b.Subscribe(ctx, taskID)
	for _, evt := range b.Snapshot(taskID) {
		if err := sw.send("message", evt); err != nil {
			return
		}
		if evt.Kind == model.EventTaskComplete || evt.Kind == model.EventTaskError {
			_ = sw.send("done", struct{}{})
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := sw.send("message", evt); err != nil {
				return
			}
			if evt.Kind == model.EventTaskComplete || evt.Kind == model.EventTaskError {
				_ = sw.send("done", struct{}{})
				return
			}
		}
	}
}
