// Package claudecode drives the Claude Code CLI as a subprocess and exposes
// its stream-json output as a channel of typed messages.
//
// The stream is lazy: no subprocess is started until Query is called, and
// cancelling the supplied context terminates the CLI and closes the channel.
//
//	msgs, err := claudecode.Query(ctx, "summarize this repo", nil)
//	if err != nil { ... }
//	for msg := range msgs {
//		switch m := msg.(type) {
//		case claudecode.AssistantMessage:
//			...
//		}
//	}
package claudecode

import (
	"context"
	"fmt"
)

// Query starts a CLI session for prompt and returns a channel of parsed
// messages. The channel closes when the session ends or ctx is cancelled.
func Query(ctx context.Context, prompt string, options *Options) (<-chan Message, error) {
	if options == nil {
		options = &Options{}
	}

	t := newTransport(prompt, options)
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	messages := make(chan Message)
	go func() {
		defer close(messages)
		defer t.disconnect()

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-t.receive():
				if !ok {
					return
				}
				msg, err := parseMessage(raw)
				if err != nil {
					// Unknown message shapes are forwarded by the engine
					// as opaque events, so skipping here is safe.
					continue
				}
				select {
				case messages <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return messages, nil
}

func parseMessage(raw map[string]any) (Message, error) {
	msgType, ok := raw["type"].(string)
	if !ok {
		return nil, fmt.Errorf("message missing type field")
	}

	switch msgType {
	case "user":
		return parseUserMessage(raw)
	case "assistant":
		return parseAssistantMessage(raw)
	case "system":
		subtype, _ := raw["subtype"].(string)
		data, _ := raw["message"].(map[string]any)
		if data == nil {
			data = map[string]any{}
		}
		return SystemMessage{Subtype: subtype, Data: data}, nil
	case "result":
		return parseResultMessage(raw), nil
	default:
		return nil, fmt.Errorf("unknown message type %q", msgType)
	}
}

// messageBody unwraps the nested "message" object the CLI emits for
// user/assistant lines; old CLI versions put fields at the top level.
func messageBody(raw map[string]any) map[string]any {
	if body, ok := raw["message"].(map[string]any); ok {
		return body
	}
	return raw
}

func parseUserMessage(raw map[string]any) (Message, error) {
	body := messageBody(raw)
	if content, ok := body["content"].(string); ok {
		return UserMessage{Content: content}, nil
	}
	// Tool-result user lines carry a content array; flatten text parts.
	if blocks, ok := body["content"].([]any); ok {
		var text string
		for _, b := range blocks {
			if m, ok := b.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					text += s
				}
			}
		}
		return UserMessage{Content: text}, nil
	}
	return nil, fmt.Errorf("user message missing content field")
}

func parseAssistantMessage(raw map[string]any) (Message, error) {
	body := messageBody(raw)
	blocksRaw, ok := body["content"].([]any)
	if !ok {
		return nil, fmt.Errorf("assistant message missing content field")
	}

	msg := AssistantMessage{}
	if usage, ok := body["usage"].(map[string]any); ok {
		msg.Usage = usage
	}
	for _, blockRaw := range blocksRaw {
		block, err := parseContentBlock(blockRaw)
		if err != nil {
			return nil, err
		}
		msg.Content = append(msg.Content, block)
	}
	return msg, nil
}

func parseContentBlock(raw any) (ContentBlock, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("content block is not an object")
	}
	blockType, _ := m["type"].(string)

	switch blockType {
	case "text":
		text, _ := m["text"].(string)
		return TextBlock{Text: text}, nil
	case "tool_use":
		id, _ := m["id"].(string)
		name, _ := m["name"].(string)
		input, _ := m["input"].(map[string]any)
		if input == nil {
			input = map[string]any{}
		}
		return ToolUseBlock{ID: id, Name: name, Input: input}, nil
	case "tool_result":
		id, _ := m["tool_use_id"].(string)
		block := ToolResultBlock{ToolUseID: id, Content: m["content"]}
		if isError, ok := m["is_error"].(bool); ok {
			block.IsError = &isError
		}
		return block, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", blockType)
	}
}

func parseResultMessage(raw map[string]any) ResultMessage {
	var result ResultMessage
	result.Subtype, _ = raw["subtype"].(string)
	if v, ok := raw["duration_ms"].(float64); ok {
		result.DurationMs = int(v)
	}
	result.IsError, _ = raw["is_error"].(bool)
	if v, ok := raw["num_turns"].(float64); ok {
		result.NumTurns = int(v)
	}
	result.SessionID, _ = raw["session_id"].(string)
	if v, ok := raw["total_cost_usd"].(float64); ok {
		result.TotalCostUSD = &v
	}
	result.Usage, _ = raw["usage"].(map[string]any)
	result.Result, _ = raw["result"].(string)
	return result
}
