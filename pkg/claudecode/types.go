package claudecode

// Options configures a single Claude Code CLI query.
type Options struct {
	// SystemPrompt overrides the default system prompt.
	SystemPrompt string
	// AppendSystemPrompt is appended to the default system prompt.
	AppendSystemPrompt string
	// Model selects the Claude model.
	Model string
	// Cwd is the working directory the CLI runs in.
	Cwd string
	// MaxTurns limits conversation turns; zero means unlimited.
	MaxTurns int
	// Resume continues from a previous session id.
	Resume string
	// AllowedTools / DisallowedTools restrict the tool set.
	AllowedTools    []string
	DisallowedTools []string
	// BypassPermissions skips interactive permission prompts.
	BypassPermissions bool
	// CLIPath overrides CLI binary discovery.
	CLIPath string
	// StderrLine, when set, receives each CLI stderr line.
	StderrLine func(line string)
}

// ContentBlock is one piece of an assistant message.
type ContentBlock interface {
	isContentBlock()
}

type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) isContentBlock() {}

type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (ToolUseBlock) isContentBlock() {}

type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content,omitempty"`
	IsError   *bool  `json:"is_error,omitempty"`
}

func (ToolResultBlock) isContentBlock() {}

// Message is one parsed stream-json line from the CLI.
type Message interface {
	isMessage()
}

type UserMessage struct {
	Content string `json:"content"`
}

func (UserMessage) isMessage() {}

type AssistantMessage struct {
	Content []ContentBlock `json:"content"`
	// Usage carries the per-message token accounting when the CLI reports it.
	Usage map[string]any `json:"usage,omitempty"`
}

func (AssistantMessage) isMessage() {}

type SystemMessage struct {
	Subtype string         `json:"subtype"`
	Data    map[string]any `json:"data"`
}

func (SystemMessage) isMessage() {}

// ResultMessage terminates a session.
type ResultMessage struct {
	Subtype      string         `json:"subtype"`
	DurationMs   int            `json:"duration_ms"`
	IsError      bool           `json:"is_error"`
	NumTurns     int            `json:"num_turns"`
	SessionID    string         `json:"session_id"`
	TotalCostUSD *float64       `json:"total_cost_usd,omitempty"`
	Usage        map[string]any `json:"usage,omitempty"`
	Result       string         `json:"result,omitempty"`
}

func (ResultMessage) isMessage() {}
