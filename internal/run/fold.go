package run

import (
	"fmt"
	"time"

	"github.com/revloop/revloop/internal/runner"
)

// folder accumulates messages and tool calls from a run's event stream.
// Events are folded strictly in stream order by the single goroutine driving
// the run; there is no concurrent folding.
type folder struct {
	messages  []Message
	toolCalls []ToolCall
}

func (f *folder) apply(ev runner.Event) {
	switch ev.Type {
	case runner.EventTypeUserMessage:
		f.messages = append(f.messages, Message{
			Role:      RoleUser,
			Content:   ev.Content,
			Timestamp: ev.Timestamp,
		})

	case runner.EventTypeAssistantMessage:
		f.applyAssistant(ev)

	case runner.EventTypeToolCallStart:
		id := ev.CallID
		if id == "" {
			// Synthetic IDs are derived from position so replaying the same
			// log always produces the same snapshot.
			id = fmt.Sprintf("call-%d", len(f.toolCalls)+1)
		}
		f.toolCalls = append(f.toolCalls, ToolCall{
			ID:        id,
			Name:      ev.Tool,
			Args:      ev.Args,
			Status:    ToolCallRunning,
			StartedAt: ev.Timestamp,
		})

	case runner.EventTypeToolCallEnd:
		f.finishToolCall(ev)

	case runner.EventTypeError:
		f.messages = append(f.messages, Message{
			Role:      RoleSystem,
			Content:   ev.Error,
			Timestamp: ev.Timestamp,
		})
	}
	// token/progress/session events carry no folded state.
}

func (f *folder) applyAssistant(ev runner.Event) {
	if ev.IsDelta {
		// Incremental streaming appends to the last assistant message when
		// one exists in this run; otherwise it opens a new one.
		if n := len(f.messages); n > 0 && f.messages[n-1].Role == RoleAssistant {
			f.messages[n-1].Content += ev.Content
		} else {
			f.messages = append(f.messages, Message{
				Role:      RoleAssistant,
				Content:   ev.Content,
				Timestamp: ev.Timestamp,
			})
		}
	} else {
		f.messages = append(f.messages, Message{
			Role:      RoleAssistant,
			Content:   ev.Content,
			Timestamp: ev.Timestamp,
		})
	}

	// Inline tool calls are authoritative for final results: upsert by ID.
	for _, ref := range ev.ToolCalls {
		f.upsertToolCall(ref, ev.Timestamp)
	}
}

func (f *folder) upsertToolCall(ref runner.ToolCallRef, ts time.Time) {
	for i := range f.toolCalls {
		if f.toolCalls[i].ID == ref.ID {
			if ref.Name != "" {
				f.toolCalls[i].Name = ref.Name
			}
			if ref.Args != nil {
				f.toolCalls[i].Args = ref.Args
			}
			if ref.Status != "" {
				f.toolCalls[i].Status = ToolCallStatus(ref.Status)
				if f.toolCalls[i].Status != ToolCallRunning && f.toolCalls[i].FinishedAt == nil {
					finished := ts
					f.toolCalls[i].FinishedAt = &finished
				}
			}
			if ref.Result != "" {
				f.toolCalls[i].Result = ref.Result
			}
			if ref.Error != "" {
				f.toolCalls[i].Error = ref.Error
			}
			return
		}
	}

	tc := ToolCall{
		ID:        ref.ID,
		Name:      ref.Name,
		Args:      ref.Args,
		Status:    ToolCallStatus(ref.Status),
		StartedAt: ts,
		Result:    ref.Result,
		Error:     ref.Error,
	}
	if tc.Status == "" {
		tc.Status = ToolCallRunning
	}
	if tc.Status != ToolCallRunning {
		finished := ts
		tc.FinishedAt = &finished
	}
	f.toolCalls = append(f.toolCalls, tc)
}

// finishToolCall finalizes a running call. A call ID matches directly;
// otherwise the most recently started running call with the same tool name
// is taken.
func (f *folder) finishToolCall(ev runner.Event) {
	idx := -1
	if ev.CallID != "" {
		for i := range f.toolCalls {
			if f.toolCalls[i].ID == ev.CallID && f.toolCalls[i].Status == ToolCallRunning {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i := len(f.toolCalls) - 1; i >= 0; i-- {
			if f.toolCalls[i].Status == ToolCallRunning && (ev.Tool == "" || f.toolCalls[i].Name == ev.Tool) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return
	}

	finished := ev.Timestamp
	f.toolCalls[idx].FinishedAt = &finished
	if ev.Success {
		f.toolCalls[idx].Status = ToolCallCompleted
		f.toolCalls[idx].Result = ev.Result
	} else {
		f.toolCalls[idx].Status = ToolCallFailed
		f.toolCalls[idx].Error = ev.Result
	}
}

// BuildSnapshot materializes the result of a run from its complete event
// log. It is a pure function: replaying the same log always yields the same
// snapshot.
func BuildSnapshot(events []runner.Event, duration time.Duration) *Snapshot {
	var f folder
	for _, ev := range events {
		f.apply(ev)
	}

	snapshot := &Snapshot{
		Messages:    f.messages,
		ToolCalls:   f.toolCalls,
		FileChanges: extractFileChanges(f.toolCalls),
		TokenUsage:  extractTokenUsage(events),
		DurationMs:  duration.Milliseconds(),
	}
	return snapshot
}

// fileWritingTools maps tool names that modify the workspace to whether they
// create the file outright.
var fileWritingTools = map[string]bool{
	"Write":        true,
	"Edit":         false,
	"MultiEdit":    false,
	"NotebookEdit": false,
}

// extractFileChanges derives workspace changes from completed file-writing
// tool calls. Duplicate paths collapse to the last change, except that a
// created file stays created even when edited afterwards.
func extractFileChanges(toolCalls []ToolCall) []FileChange {
	index := make(map[string]int)
	var changes []FileChange
	for _, tc := range toolCalls {
		if tc.Status != ToolCallCompleted {
			continue
		}
		creates, ok := fileWritingTools[tc.Name]
		if !ok {
			continue
		}
		path, _ := tc.Args["file_path"].(string)
		if path == "" {
			continue
		}
		changeType := ChangeModified
		if creates {
			changeType = ChangeCreated
		}
		if i, seen := index[path]; seen {
			if changes[i].Type != ChangeCreated {
				changes[i].Type = changeType
			}
			continue
		}
		index[path] = len(changes)
		changes = append(changes, FileChange{Path: path, Type: changeType})
	}
	return changes
}

// extractTokenUsage derives token usage from backend-reported figures.
// A session_end usage block is authoritative for the whole session; without
// one, per-message assistant usage is summed. When the backend reports
// nothing at all, the count of raw token events stands in as a rough output
// measure.
func extractTokenUsage(events []runner.Event) TokenUsage {
	var sessionUsage, assistantSum TokenUsage
	tokenEvents := 0
	for _, ev := range events {
		switch ev.Type {
		case runner.EventTypeToken:
			tokenEvents++
		case runner.EventTypeAssistantMessage:
			if raw, ok := ev.Extra["usage"].(map[string]any); ok {
				assistantSum.InputTokens += intFromAny(raw["input_tokens"])
				assistantSum.OutputTokens += intFromAny(raw["output_tokens"])
			}
		case runner.EventTypeSessionEnd:
			if raw, ok := ev.Extra["usage"].(map[string]any); ok {
				sessionUsage.InputTokens = intFromAny(raw["input_tokens"])
				sessionUsage.OutputTokens = intFromAny(raw["output_tokens"])
			}
		}
	}

	usage := sessionUsage
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage = assistantSum
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if usage.TotalTokens == 0 && tokenEvents > 0 {
		usage.OutputTokens = tokenEvents
		usage.TotalTokens = tokenEvents
	}
	return usage
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
