package model

import "time"

// CheckpointTrigger is the closed set of reasons a checkpoint was written.
type CheckpointTrigger string

const (
	TriggerIteration     CheckpointTrigger = "iteration"
	TriggerPhaseBoundary CheckpointTrigger = "phase-boundary"
	TriggerToolComplete  CheckpointTrigger = "tool-complete"
	TriggerManual        CheckpointTrigger = "manual"
)

// Checkpoint is a durable, versioned snapshot of AuditState for one task.
type Checkpoint struct {
	ID        string
	TaskID    string
	Trigger   CheckpointTrigger
	State     AuditState
	Index     int64
	CreatedAt time.Time
}
