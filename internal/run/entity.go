package run

import (
	"time"

	"github.com/revloop/revloop/internal/runner"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is one execution attempt of a Task. The summary record stays small;
// the raw event log and snapshot live in the log store.
type Run struct {
	ID         string     `yaml:"id" json:"id"`
	TaskID     string     `yaml:"task_id" json:"taskId"`
	Sequence   int        `yaml:"sequence" json:"sequence"`
	RunnerID   string     `yaml:"runner_id" json:"runnerId"`
	Status     Status     `yaml:"status" json:"status"`
	Error      string     `yaml:"error,omitempty" json:"error,omitempty"`
	SessionID  string     `yaml:"session_id,omitempty" json:"sessionId,omitempty"`
	StartedAt  *time.Time `yaml:"started_at,omitempty" json:"startedAt,omitempty"`
	FinishedAt *time.Time `yaml:"finished_at,omitempty" json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `yaml:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `yaml:"updated_at" json:"updatedAt"`
}

// Terminal reports whether the run has reached a final status.
// Terminal runs are immutable.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Context is the input material for one run. It is held in memory keyed by
// run ID and consumed by ExecuteRun, never persisted with the Run summary:
// feedback payloads can be large and should not linger once consumed.
type Context struct {
	Description   string
	FeedbackBlock string
	Files         []string
	WorkspacePath string
	Kind          runner.TaskKind
	Options       map[string]any
}

// BuildPrompt renders the backend prompt. A feedback block, when present,
// is prepended to the task description, never substituted for it.
func (c *Context) BuildPrompt() string {
	if c.FeedbackBlock == "" {
		return c.Description
	}
	return c.FeedbackBlock + "\n\n" + c.Description
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type ToolCallStatus string

const (
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	Status     ToolCallStatus `json:"status"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

type FileChange struct {
	Path string     `json:"path"`
	Type ChangeType `json:"type"`
	Diff string     `json:"diff,omitempty"`
}

type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Snapshot is the materialized result of a completed run. It is built once
// from the accumulated event log and immutable thereafter.
type Snapshot struct {
	Messages    []Message    `json:"messages"`
	ToolCalls   []ToolCall   `json:"toolCalls"`
	FileChanges []FileChange `json:"fileChanges"`
	TokenUsage  TokenUsage   `json:"tokenUsage"`
	DurationMs  int64        `json:"durationMs"`
}
