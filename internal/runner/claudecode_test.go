package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revloop/revloop/pkg/claudecode"
)

func TestTranslateAssistantTextAndToolUse(t *testing.T) {
	msg := claudecode.AssistantMessage{
		Content: []claudecode.ContentBlock{
			claudecode.TextBlock{Text: "let me write the file"},
			claudecode.ToolUseBlock{
				ID:    "toolu_01",
				Name:  "Write",
				Input: map[string]any{"file_path": "main.go"},
			},
		},
		Usage: map[string]any{"output_tokens": float64(42)},
	}

	events := translateMessage(msg)
	require.Len(t, events, 2)

	start := events[0]
	assert.Equal(t, EventTypeToolCallStart, start.Type)
	assert.Equal(t, "toolu_01", start.CallID)
	assert.Equal(t, "Write", start.Tool)
	assert.Equal(t, "main.go", start.Args["file_path"])

	am := events[1]
	assert.Equal(t, EventTypeAssistantMessage, am.Type)
	assert.Equal(t, "let me write the file", am.Content)
	require.Len(t, am.ToolCalls, 1)
	assert.Equal(t, "toolu_01", am.ToolCalls[0].ID)
	assert.Equal(t, "running", am.ToolCalls[0].Status)
	require.NotNil(t, am.Extra)
	assert.Equal(t, msg.Usage, am.Extra["usage"])
}

func TestTranslateToolResult(t *testing.T) {
	failed := true
	msg := claudecode.AssistantMessage{
		Content: []claudecode.ContentBlock{
			claudecode.ToolResultBlock{ToolUseID: "toolu_01", Content: "permission denied", IsError: &failed},
		},
	}

	events := translateMessage(msg)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeToolCallEnd, events[0].Type)
	assert.Equal(t, "toolu_01", events[0].CallID)
	assert.False(t, events[0].Success)
	assert.Equal(t, "permission denied", events[0].Result)
}

func TestTranslateToolResultMissingErrorFlagSucceeds(t *testing.T) {
	msg := claudecode.AssistantMessage{
		Content: []claudecode.ContentBlock{
			claudecode.ToolResultBlock{ToolUseID: "toolu_02", Content: "ok"},
		},
	}

	events := translateMessage(msg)
	require.Len(t, events, 1)
	assert.True(t, events[0].Success)
}

func TestTranslateSystemInit(t *testing.T) {
	msg := claudecode.SystemMessage{
		Subtype: "init",
		Data:    map[string]any{"session_id": "sess_01"},
	}

	events := translateMessage(msg)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeSessionStart, events[0].Type)
	assert.Equal(t, "sess_01", events[0].SessionID)
}

func TestTranslateResult(t *testing.T) {
	cost := 0.12
	msg := claudecode.ResultMessage{
		Subtype:      "success",
		DurationMs:   5000,
		NumTurns:     4,
		SessionID:    "sess_01",
		TotalCostUSD: &cost,
		Usage:        map[string]any{"input_tokens": float64(100)},
	}

	events := translateMessage(msg)
	require.Len(t, events, 1)

	end := events[0]
	assert.Equal(t, EventTypeSessionEnd, end.Type)
	assert.Equal(t, "sess_01", end.SessionID)
	assert.Equal(t, "success", end.Reason)
	assert.Equal(t, 5000, end.Extra["durationMs"])
	assert.Equal(t, msg.Usage, end.Extra["usage"])
	assert.Equal(t, 0.12, end.Extra["totalCostUsd"])
}

func TestTranslateResultErrorEmitsErrorEvent(t *testing.T) {
	msg := claudecode.ResultMessage{
		Subtype:    "error_during_execution",
		IsError:    true,
		Result:     "execution blew up",
		SessionID:  "sess_01",
		DurationMs: 100,
	}

	events := translateMessage(msg)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeError, events[0].Type)
	assert.Equal(t, "execution blew up", events[0].Error)
	assert.Equal(t, EventTypeSessionEnd, events[1].Type)
	assert.Equal(t, "error_during_execution", events[1].Reason)
}

func TestTranslateEmptyUserMessageDropped(t *testing.T) {
	assert.Empty(t, translateMessage(claudecode.UserMessage{}))
}

func TestStringifyToolResult(t *testing.T) {
	assert.Equal(t, "", stringifyToolResult(nil))
	assert.Equal(t, "plain", stringifyToolResult("plain"))
	assert.Equal(t, `{"k":"v"}`, stringifyToolResult(map[string]any{"k": "v"}))
}
