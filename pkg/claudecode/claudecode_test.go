package claudecode

import (
	"encoding/json"
	"testing"
)

func mustParse(t *testing.T, line string) Message {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		t.Fatalf("invalid test JSON: %v", err)
	}
	msg, err := parseMessage(raw)
	if err != nil {
		t.Fatalf("parseMessage failed: %v", err)
	}
	return msg
}

func TestParseUserMessage(t *testing.T) {
	msg := mustParse(t, `{"type":"user","message":{"content":"hello"}}`)
	um, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("got %T, want UserMessage", msg)
	}
	if um.Content != "hello" {
		t.Errorf("got %q, want %q", um.Content, "hello")
	}
}

func TestParseUserMessageContentArray(t *testing.T) {
	msg := mustParse(t, `{"type":"user","message":{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}}`)
	um, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("got %T, want UserMessage", msg)
	}
	if um.Content != "part one part two" {
		t.Errorf("got %q", um.Content)
	}
}

func TestParseAssistantMessage(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"working on it"},` +
		`{"type":"tool_use","id":"toolu_01","name":"Write","input":{"file_path":"main.go"}}` +
		`],"usage":{"input_tokens":10,"output_tokens":20}}}`
	msg := mustParse(t, line)
	am, ok := msg.(AssistantMessage)
	if !ok {
		t.Fatalf("got %T, want AssistantMessage", msg)
	}
	if len(am.Content) != 2 {
		t.Fatalf("got %d content blocks, want 2", len(am.Content))
	}

	text, ok := am.Content[0].(TextBlock)
	if !ok || text.Text != "working on it" {
		t.Errorf("block 0: got %#v", am.Content[0])
	}

	tool, ok := am.Content[1].(ToolUseBlock)
	if !ok {
		t.Fatalf("block 1: got %T, want ToolUseBlock", am.Content[1])
	}
	if tool.ID != "toolu_01" || tool.Name != "Write" {
		t.Errorf("got id=%q name=%q", tool.ID, tool.Name)
	}
	if tool.Input["file_path"] != "main.go" {
		t.Errorf("got input %v", tool.Input)
	}

	if am.Usage == nil || am.Usage["input_tokens"] != float64(10) {
		t.Errorf("got usage %v", am.Usage)
	}
}

func TestParseToolResultBlock(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"ok","is_error":false}]}}`
	msg := mustParse(t, line)
	am := msg.(AssistantMessage)

	block, ok := am.Content[0].(ToolResultBlock)
	if !ok {
		t.Fatalf("got %T, want ToolResultBlock", am.Content[0])
	}
	if block.ToolUseID != "toolu_01" {
		t.Errorf("got %q", block.ToolUseID)
	}
	if block.IsError == nil || *block.IsError {
		t.Errorf("got IsError %v, want false", block.IsError)
	}
}

func TestParseResultMessage(t *testing.T) {
	line := `{"type":"result","subtype":"success","duration_ms":1234,"num_turns":3,` +
		`"session_id":"sess_01","total_cost_usd":0.05,"usage":{"input_tokens":100},"result":"done"}`
	msg := mustParse(t, line)
	rm, ok := msg.(ResultMessage)
	if !ok {
		t.Fatalf("got %T, want ResultMessage", msg)
	}
	if rm.Subtype != "success" || rm.DurationMs != 1234 || rm.NumTurns != 3 {
		t.Errorf("got %+v", rm)
	}
	if rm.SessionID != "sess_01" {
		t.Errorf("got session %q", rm.SessionID)
	}
	if rm.TotalCostUSD == nil || *rm.TotalCostUSD != 0.05 {
		t.Errorf("got cost %v", rm.TotalCostUSD)
	}
	if rm.Result != "done" {
		t.Errorf("got result %q", rm.Result)
	}
}

func TestParseMessageMissingType(t *testing.T) {
	if _, err := parseMessage(map[string]any{"foo": "bar"}); err == nil {
		t.Error("expected error for message without type")
	}
}

func TestParseMessageUnknownType(t *testing.T) {
	if _, err := parseMessage(map[string]any{"type": "bogus"}); err == nil {
		t.Error("expected error for unknown message type")
	}
}

func TestParseTopLevelContent(t *testing.T) {
	// Old CLI versions emit fields at the top level instead of nesting
	// them under "message".
	msg := mustParse(t, `{"type":"user","content":"legacy"}`)
	um, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("got %T, want UserMessage", msg)
	}
	if um.Content != "legacy" {
		t.Errorf("got %q", um.Content)
	}
}
