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
	"context"
	"time"

	"github.com/auditengine/engine/pkg/model"
)

// DefaultHeartbeatInterval is how often Heartbeat publishes a
// model.EventHeartbeat record, so long-poll SSE clients and load
// balancers don't time out an idle connection during a long LLM call.
const DefaultHeartbeatInterval = 20 * time.Second

// Heartbeat publishes periodic keepalive events for taskID until ctx is
// cancelled.
func (b *Bus) Heartbeat(ctx context.Context, taskID string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Publish(ctx, model.Event{TaskID: taskID, Kind: model.EventHeartbeat})
		}
	}
}
