package review

import (
	"time"

	"github.com/revloop/revloop/internal/gitcontext"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in_progress"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusNeedsRevision Status = "needs_revision"
)

type CommentType string

const (
	CommentIssue      CommentType = "issue"
	CommentSuggestion CommentType = "suggestion"
	CommentQuestion   CommentType = "question"
	CommentApproval   CommentType = "approval"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Comment is a single reviewer annotation, optionally anchored to a message,
// tool call, or file location of the reviewed run.
type Comment struct {
	ID           string      `yaml:"id" json:"id"`
	MessageIndex *int        `yaml:"message_index,omitempty" json:"messageIndex,omitempty"`
	ToolCallID   string      `yaml:"tool_call_id,omitempty" json:"toolCallId,omitempty"`
	FilePath     string      `yaml:"file_path,omitempty" json:"filePath,omitempty"`
	Line         int         `yaml:"line,omitempty" json:"line,omitempty"`
	Content      string      `yaml:"content" json:"content"`
	Type         CommentType `yaml:"type" json:"type"`
	Priority     Priority    `yaml:"priority" json:"priority"`
	Resolved     bool        `yaml:"resolved" json:"resolved"`
	ResolvedAt   *time.Time  `yaml:"resolved_at,omitempty" json:"resolvedAt,omitempty"`
	CreatedAt    time.Time   `yaml:"created_at" json:"createdAt"`
	UpdatedAt    time.Time   `yaml:"updated_at" json:"updatedAt"`
}

// Decision is the reviewer's verdict. Once recorded it is immutable.
type Decision struct {
	Approved      bool      `yaml:"approved" json:"approved"`
	NeedsRevision bool      `yaml:"needs_revision" json:"needsRevision"`
	Rating        int       `yaml:"rating,omitempty" json:"rating,omitempty"` // 1-5
	Notes         string    `yaml:"notes,omitempty" json:"notes,omitempty"`
	DecidedAt     time.Time `yaml:"decided_at" json:"decidedAt"`
}

type FeedbackType string

const (
	FeedbackFixIssue       FeedbackType = "fix_issue"
	FeedbackImprove        FeedbackType = "improve"
	FeedbackRetry          FeedbackType = "retry"
	FeedbackChangeApproach FeedbackType = "change_approach"
)

// Feedback is a structured revision instruction synthesized from unresolved
// comments. It is generated, not hand-authored, though the API allows an
// override.
type Feedback struct {
	Type             FeedbackType `yaml:"type" json:"type"`
	Content          string       `yaml:"content" json:"content"`
	AffectedFiles    []string     `yaml:"affected_files,omitempty" json:"affectedFiles,omitempty"`
	Priority         Priority     `yaml:"priority" json:"priority"`
	SourceCommentIDs []string     `yaml:"source_comment_ids,omitempty" json:"sourceCommentIds,omitempty"`
}

// Review is the human evaluation of one run. At most one exists per run.
type Review struct {
	ID         string              `yaml:"id" json:"id"`
	RunID      string              `yaml:"run_id" json:"runId"`
	TaskID     string              `yaml:"task_id" json:"taskId"`
	Status     Status              `yaml:"status" json:"status"`
	Comments   []Comment           `yaml:"comments" json:"comments"`
	Decision   *Decision           `yaml:"decision,omitempty" json:"decision,omitempty"`
	Feedback   *Feedback           `yaml:"feedback,omitempty" json:"feedback,omitempty"`
	GitContext *gitcontext.Context `yaml:"git_context,omitempty" json:"gitContext,omitempty"`
	CreatedAt  time.Time           `yaml:"created_at" json:"createdAt"`
	UpdatedAt  time.Time           `yaml:"updated_at" json:"updatedAt"`
}

// Decided reports whether a decision has been recorded.
func (r *Review) Decided() bool {
	return r.Decision != nil
}
