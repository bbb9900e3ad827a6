package task

import (
	"time"

	"github.com/revloop/revloop/internal/runner"
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusWaitingReview Status = "waiting_review"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Task is a user-declared goal. Its run attempts are tracked in RunIDs in
// creation order; ActiveRunID points at the one currently pending or
// running, if any.
type Task struct {
	ID          string          `yaml:"id" json:"id"`
	Title       string          `yaml:"title" json:"title"`
	Description string          `yaml:"description" json:"description"`
	Kind        runner.TaskKind `yaml:"kind" json:"kind"`
	Status      Status          `yaml:"status" json:"status"`
	Priority    Priority        `yaml:"priority" json:"priority"`
	RunnerID    string          `yaml:"runner_id" json:"runnerId"`
	WorkspaceID string          `yaml:"workspace_id,omitempty" json:"workspaceId,omitempty"`
	RunIDs      []string        `yaml:"run_ids" json:"runIds"`
	ActiveRunID string          `yaml:"active_run_id,omitempty" json:"activeRunId,omitempty"`
	Tags        []string        `yaml:"tags,omitempty" json:"tags,omitempty"`
	ParentID    string          `yaml:"parent_id,omitempty" json:"parentId,omitempty"`
	ChildIDs    []string        `yaml:"child_ids,omitempty" json:"childIds,omitempty"`
	Error       string          `yaml:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time       `yaml:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `yaml:"updated_at" json:"updatedAt"`
}

func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (t *Task) HasRun(runID string) bool {
	for _, id := range t.RunIDs {
		if id == runID {
			return true
		}
	}
	return false
}
