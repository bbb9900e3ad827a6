package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/revloop/revloop/pkg/claudecode"
)

// ClaudeCodeRunner drives the Claude Code CLI as an execution backend.
type ClaudeCodeRunner struct {
	cliPath      string
	defaultModel string

	mu     sync.Mutex
	cancel context.CancelFunc // most recent in-flight run
}

type ClaudeCodeOption func(*ClaudeCodeRunner)

func WithCLIPath(path string) ClaudeCodeOption {
	return func(r *ClaudeCodeRunner) { r.cliPath = path }
}

func WithDefaultModel(model string) ClaudeCodeOption {
	return func(r *ClaudeCodeRunner) { r.defaultModel = model }
}

func NewClaudeCodeRunner(opts ...ClaudeCodeOption) *ClaudeCodeRunner {
	r := &ClaudeCodeRunner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ClaudeCodeRunner) ID() string   { return "claude-code" }
func (r *ClaudeCodeRunner) Name() string { return "Claude Code" }

func (r *ClaudeCodeRunner) Capabilities() Capabilities {
	return Capabilities{
		TaskKinds: []TaskKind{
			TaskKindChat, TaskKindRefactor, TaskKindAnalyze,
			TaskKindGenerate, TaskKindDebug, TaskKindTest,
		},
		Streaming:          true,
		ConcurrentSessions: false,
		Abortable:          true,
		MaxConcurrency:     1,
	}
}

func (r *ClaudeCodeRunner) IsAvailable(ctx context.Context) (bool, error) {
	if r.cliPath != "" {
		return true, nil
	}
	if _, err := exec.LookPath("claude"); err != nil {
		return false, nil
	}
	return true, nil
}

// Run starts a CLI session and translates its messages into the engine's
// event vocabulary. The stream is cold until consumed by claudecode.Query's
// contract, and ends when the session ends or ctx is cancelled.
func (r *ClaudeCodeRunner) Run(ctx context.Context, input Input) (<-chan Event, error) {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	options := &claudecode.Options{
		Cwd:     input.WorkspacePath,
		CLIPath: r.cliPath,
		Model:   r.defaultModel,
		StderrLine: func(line string) {
			slog.Debug("claude stderr", "line", line)
		},
	}
	applyRunOptions(options, input.Options)

	messages, err := claudecode.Query(runCtx, input.Prompt, options)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start claude session: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer cancel()

		emit := func(ev Event) bool {
			ev.Timestamp = time.Now()
			select {
			case events <- ev:
				return true
			case <-runCtx.Done():
				return false
			}
		}

		emit(Event{Type: EventTypeUserMessage, Content: input.Prompt, Files: input.Files})

		for msg := range messages {
			for _, ev := range translateMessage(msg) {
				if !emit(ev) {
					return
				}
			}
		}
	}()

	return events, nil
}

// Abort cancels the most recent in-flight Run. Safe to call when idle.
func (r *ClaudeCodeRunner) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func applyRunOptions(options *claudecode.Options, opts map[string]any) {
	if opts == nil {
		return
	}
	if v, ok := opts["model"].(string); ok && v != "" {
		options.Model = v
	}
	if v, ok := opts["systemPrompt"].(string); ok {
		options.SystemPrompt = v
	}
	if v, ok := opts["appendSystemPrompt"].(string); ok {
		options.AppendSystemPrompt = v
	}
	if v, ok := opts["maxTurns"].(int); ok {
		options.MaxTurns = v
	} else if f, ok := opts["maxTurns"].(float64); ok {
		options.MaxTurns = int(f)
	}
	if v, ok := opts["resumeSessionId"].(string); ok {
		options.Resume = v
	}
	if v, ok := opts["allowedTools"].([]string); ok {
		options.AllowedTools = v
	}
	if v, ok := opts["bypassPermissions"].(bool); ok {
		options.BypassPermissions = v
	}
}

// translateMessage maps one CLI message to zero or more engine events.
func translateMessage(msg claudecode.Message) []Event {
	switch m := msg.(type) {
	case claudecode.UserMessage:
		// Tool results echoed back as user turns. The tool lifecycle is
		// already covered by tool_use blocks, so surface these as progress.
		if m.Content == "" {
			return nil
		}
		return []Event{{Type: EventTypeProgress, Message: m.Content}}

	case claudecode.AssistantMessage:
		return translateAssistant(m)

	case claudecode.SystemMessage:
		if m.Subtype == "init" {
			sessionID, _ := m.Data["session_id"].(string)
			return []Event{{Type: EventTypeSessionStart, SessionID: sessionID, Extra: m.Data}}
		}
		return []Event{{Type: EventTypeProgress, Message: m.Subtype, Extra: m.Data}}

	case claudecode.ResultMessage:
		events := []Event{}
		if m.IsError {
			events = append(events, Event{Type: EventTypeError, Error: m.Result})
		}
		extra := map[string]any{
			"durationMs": m.DurationMs,
			"numTurns":   m.NumTurns,
		}
		if m.Usage != nil {
			extra["usage"] = m.Usage
		}
		if m.TotalCostUSD != nil {
			extra["totalCostUsd"] = *m.TotalCostUSD
		}
		events = append(events, Event{
			Type:      EventTypeSessionEnd,
			SessionID: m.SessionID,
			Reason:    m.Subtype,
			Extra:     extra,
		})
		return events

	default:
		return nil
	}
}

func translateAssistant(m claudecode.AssistantMessage) []Event {
	var events []Event
	var text string
	var toolCalls []ToolCallRef

	for _, block := range m.Content {
		switch b := block.(type) {
		case claudecode.TextBlock:
			text += b.Text
		case claudecode.ToolUseBlock:
			events = append(events, Event{
				Type:   EventTypeToolCallStart,
				CallID: b.ID,
				Tool:   b.Name,
				Args:   b.Input,
			})
			toolCalls = append(toolCalls, ToolCallRef{
				ID:     b.ID,
				Name:   b.Name,
				Args:   b.Input,
				Status: "running",
			})
		case claudecode.ToolResultBlock:
			success := b.IsError == nil || !*b.IsError
			events = append(events, Event{
				Type:    EventTypeToolCallEnd,
				CallID:  b.ToolUseID,
				Success: success,
				Result:  stringifyToolResult(b.Content),
			})
		}
	}

	if text != "" || len(toolCalls) > 0 {
		var extra map[string]any
		if m.Usage != nil {
			extra = map[string]any{"usage": m.Usage}
		}
		events = append(events, Event{
			Type:      EventTypeAssistantMessage,
			Content:   text,
			ToolCalls: toolCalls,
			Extra:     extra,
		})
	}
	return events
}

func stringifyToolResult(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
