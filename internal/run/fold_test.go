package run

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revloop/revloop/internal/runner"
)

func ts(sec int) time.Time {
	return time.Date(2026, 3, 1, 10, 0, sec, 0, time.UTC)
}

func TestFoldUserMessageAlwaysAppends(t *testing.T) {
	var f folder
	f.apply(runner.Event{Type: runner.EventTypeUserMessage, Content: "first", Timestamp: ts(0)})
	f.apply(runner.Event{Type: runner.EventTypeUserMessage, Content: "second", Timestamp: ts(1)})

	require.Len(t, f.messages, 2)
	assert.Equal(t, RoleUser, f.messages[0].Role)
	assert.Equal(t, "second", f.messages[1].Content)
}

func TestFoldAssistantDelta(t *testing.T) {
	var f folder
	f.apply(runner.Event{Type: runner.EventTypeAssistantMessage, Content: "Hel", IsDelta: true, Timestamp: ts(0)})
	f.apply(runner.Event{Type: runner.EventTypeAssistantMessage, Content: "lo", IsDelta: true, Timestamp: ts(1)})

	require.Len(t, f.messages, 1)
	assert.Equal(t, RoleAssistant, f.messages[0].Role)
	assert.Equal(t, "Hello", f.messages[0].Content)
}

func TestFoldAssistantDeltaAfterUserOpensNewMessage(t *testing.T) {
	var f folder
	f.apply(runner.Event{Type: runner.EventTypeUserMessage, Content: "hi", Timestamp: ts(0)})
	f.apply(runner.Event{Type: runner.EventTypeAssistantMessage, Content: "partial", IsDelta: true, Timestamp: ts(1)})

	require.Len(t, f.messages, 2)
	assert.Equal(t, RoleAssistant, f.messages[1].Role)
	assert.Equal(t, "partial", f.messages[1].Content)
}

func TestFoldNonDeltaAssistantAppends(t *testing.T) {
	var f folder
	f.apply(runner.Event{Type: runner.EventTypeAssistantMessage, Content: "one", Timestamp: ts(0)})
	f.apply(runner.Event{Type: runner.EventTypeAssistantMessage, Content: "two", Timestamp: ts(1)})

	require.Len(t, f.messages, 2)
}

func TestFoldToolCallLifecycle(t *testing.T) {
	var f folder
	f.apply(runner.Event{Type: runner.EventTypeToolCallStart, CallID: "c1", Tool: "Read", Timestamp: ts(0)})
	f.apply(runner.Event{Type: runner.EventTypeToolCallEnd, CallID: "c1", Success: true, Result: "ok", Timestamp: ts(2)})

	require.Len(t, f.toolCalls, 1)
	tc := f.toolCalls[0]
	assert.Equal(t, ToolCallCompleted, tc.Status)
	assert.Equal(t, "ok", tc.Result)
	require.NotNil(t, tc.FinishedAt)
	assert.Equal(t, ts(2), *tc.FinishedAt)
}

func TestFoldToolCallEndMatchesMostRecentRunningByName(t *testing.T) {
	var f folder
	f.apply(runner.Event{Type: runner.EventTypeToolCallStart, Tool: "Bash", Timestamp: ts(0)})
	f.apply(runner.Event{Type: runner.EventTypeToolCallStart, Tool: "Bash", Timestamp: ts(1)})
	f.apply(runner.Event{Type: runner.EventTypeToolCallEnd, Tool: "Bash", Success: false, Result: "boom", Timestamp: ts(2)})

	require.Len(t, f.toolCalls, 2)
	assert.Equal(t, ToolCallRunning, f.toolCalls[0].Status)
	assert.Equal(t, ToolCallFailed, f.toolCalls[1].Status)
	assert.Equal(t, "boom", f.toolCalls[1].Error)
}

func TestFoldInlineToolCallsUpsertByID(t *testing.T) {
	var f folder
	f.apply(runner.Event{Type: runner.EventTypeToolCallStart, CallID: "c1", Tool: "Write", Timestamp: ts(0)})
	f.apply(runner.Event{
		Type:    runner.EventTypeAssistantMessage,
		Content: "done writing",
		ToolCalls: []runner.ToolCallRef{
			{ID: "c1", Name: "Write", Status: "completed", Result: "wrote file"},
		},
		Timestamp: ts(1),
	})

	require.Len(t, f.toolCalls, 1)
	assert.Equal(t, ToolCallCompleted, f.toolCalls[0].Status)
	assert.Equal(t, "wrote file", f.toolCalls[0].Result)
}

func TestBuildSnapshotDeterministic(t *testing.T) {
	events := []runner.Event{
		{Type: runner.EventTypeSessionStart, SessionID: "s1", Timestamp: ts(0)},
		{Type: runner.EventTypeUserMessage, Content: "do it", Timestamp: ts(1)},
		{Type: runner.EventTypeToolCallStart, CallID: "c1", Tool: "Write",
			Args: map[string]any{"file_path": "/w/main.go"}, Timestamp: ts(2)},
		{Type: runner.EventTypeToolCallEnd, CallID: "c1", Success: true, Timestamp: ts(3)},
		{Type: runner.EventTypeAssistantMessage, Content: "done",
			Extra: map[string]any{"usage": map[string]any{"input_tokens": float64(10), "output_tokens": float64(5)}},
			Timestamp: ts(4)},
		{Type: runner.EventTypeSessionEnd, SessionID: "s1", Reason: "success", Timestamp: ts(5)},
	}

	first, err := json.Marshal(BuildSnapshot(events, 5*time.Second))
	require.NoError(t, err)
	second, err := json.Marshal(BuildSnapshot(events, 5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, first, second, "replaying the same log must produce an identical snapshot")
}

func TestBuildSnapshotFileChanges(t *testing.T) {
	events := []runner.Event{
		{Type: runner.EventTypeToolCallStart, CallID: "c1", Tool: "Write",
			Args: map[string]any{"file_path": "/w/new.go"}, Timestamp: ts(0)},
		{Type: runner.EventTypeToolCallEnd, CallID: "c1", Success: true, Timestamp: ts(1)},
		{Type: runner.EventTypeToolCallStart, CallID: "c2", Tool: "Edit",
			Args: map[string]any{"file_path": "/w/old.go"}, Timestamp: ts(2)},
		{Type: runner.EventTypeToolCallEnd, CallID: "c2", Success: true, Timestamp: ts(3)},
		// Failed call contributes nothing.
		{Type: runner.EventTypeToolCallStart, CallID: "c3", Tool: "Edit",
			Args: map[string]any{"file_path": "/w/broken.go"}, Timestamp: ts(4)},
		{Type: runner.EventTypeToolCallEnd, CallID: "c3", Success: false, Timestamp: ts(5)},
		// Editing a file written earlier keeps it "created".
		{Type: runner.EventTypeToolCallStart, CallID: "c4", Tool: "Edit",
			Args: map[string]any{"file_path": "/w/new.go"}, Timestamp: ts(6)},
		{Type: runner.EventTypeToolCallEnd, CallID: "c4", Success: true, Timestamp: ts(7)},
	}

	snapshot := BuildSnapshot(events, time.Second)
	require.Len(t, snapshot.FileChanges, 2)
	assert.Equal(t, FileChange{Path: "/w/new.go", Type: ChangeCreated}, snapshot.FileChanges[0])
	assert.Equal(t, FileChange{Path: "/w/old.go", Type: ChangeModified}, snapshot.FileChanges[1])
}

func TestBuildSnapshotTokenUsage(t *testing.T) {
	t.Run("session end is authoritative", func(t *testing.T) {
		events := []runner.Event{
			{Type: runner.EventTypeAssistantMessage, Content: "a",
				Extra: map[string]any{"usage": map[string]any{"input_tokens": float64(100), "output_tokens": float64(50)}}},
			{Type: runner.EventTypeSessionEnd,
				Extra: map[string]any{"usage": map[string]any{"input_tokens": float64(120), "output_tokens": float64(60)}}},
		}
		usage := BuildSnapshot(events, 0).TokenUsage
		assert.Equal(t, TokenUsage{InputTokens: 120, OutputTokens: 60, TotalTokens: 180}, usage)
	})

	t.Run("assistant usage summed without session total", func(t *testing.T) {
		events := []runner.Event{
			{Type: runner.EventTypeAssistantMessage,
				Extra: map[string]any{"usage": map[string]any{"input_tokens": float64(10), "output_tokens": float64(5)}}},
			{Type: runner.EventTypeAssistantMessage,
				Extra: map[string]any{"usage": map[string]any{"input_tokens": float64(20), "output_tokens": float64(15)}}},
		}
		usage := BuildSnapshot(events, 0).TokenUsage
		assert.Equal(t, TokenUsage{InputTokens: 30, OutputTokens: 20, TotalTokens: 50}, usage)
	})

	t.Run("token event count as fallback", func(t *testing.T) {
		events := []runner.Event{
			{Type: runner.EventTypeToken, Content: "a"},
			{Type: runner.EventTypeToken, Content: "b"},
			{Type: runner.EventTypeToken, Content: "c"},
		}
		usage := BuildSnapshot(events, 0).TokenUsage
		assert.Equal(t, TokenUsage{OutputTokens: 3, TotalTokens: 3}, usage)
	})
}
