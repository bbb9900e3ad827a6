// Package runner defines the pluggable execution backend contract and the
// registry that resolves backends by identifier.
package runner

import "context"

// TaskKind classifies what a backend is asked to do.
type TaskKind string

const (
	TaskKindChat     TaskKind = "chat"
	TaskKindRefactor TaskKind = "refactor"
	TaskKindAnalyze  TaskKind = "analyze"
	TaskKindGenerate TaskKind = "generate"
	TaskKindDebug    TaskKind = "debug"
	TaskKindTest     TaskKind = "test"
)

// Capabilities describes what a backend supports.
type Capabilities struct {
	TaskKinds          []TaskKind `json:"taskKinds"`
	Streaming          bool       `json:"streaming"`
	ConcurrentSessions bool       `json:"concurrentSessions"`
	Abortable          bool       `json:"abortable"`
	MaxConcurrency     int        `json:"maxConcurrency"`
}

// Supports reports whether the backend handles the given task kind.
func (c Capabilities) Supports(kind TaskKind) bool {
	for _, k := range c.TaskKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Input is what a backend receives for one execution attempt.
type Input struct {
	Prompt        string         `json:"prompt"`
	Files         []string       `json:"files,omitempty"`
	WorkspacePath string         `json:"workspacePath,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
}

// Runner is a pluggable execution backend.
//
// Run returns a cold event stream: no work begins until the returned channel
// is consumed, and cancelling ctx abandons the stream safely mid-iteration.
// The channel closes when the backend session ends.
type Runner interface {
	ID() string
	Name() string
	Capabilities() Capabilities

	Run(ctx context.Context, input Input) (<-chan Event, error)

	// Abort requests cancellation of the most recent in-flight Run.
	// Idempotent; a no-op when nothing is running.
	Abort()

	// IsAvailable is a cheap liveness probe. It returns false for
	// "unavailable" and errors only on genuine infrastructure failures.
	IsAvailable(ctx context.Context) (bool, error)
}

// Initializer is an optional setup hook a Runner may implement.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is an optional teardown hook a Runner may implement.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}
