package claudecode

import "fmt"

// NotFoundError is returned when no Claude Code CLI binary can be located.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("claude CLI not found at %q; install it with: npm install -g @anthropic-ai/claude-code", e.Path)
	}
	return "claude CLI not found in PATH; install it with: npm install -g @anthropic-ai/claude-code"
}

// ProcessError is returned when the CLI process fails to start or exits
// abnormally.
type ProcessError struct {
	Message  string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Message, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s (exit %d)", e.Message, e.ExitCode)
}

// DecodeError is returned for an undecodable stream-json line.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode CLI output line %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
