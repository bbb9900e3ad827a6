package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ScriptRunner executes the input prompt as a shell script. It exists for
// local development and integration testing: the full event pipeline can be
// exercised without an AI backend on the machine.
type ScriptRunner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewScriptRunner() *ScriptRunner {
	return &ScriptRunner{}
}

func (r *ScriptRunner) ID() string   { return "script" }
func (r *ScriptRunner) Name() string { return "Shell Script" }

func (r *ScriptRunner) Capabilities() Capabilities {
	return Capabilities{
		TaskKinds:          []TaskKind{TaskKindTest, TaskKindDebug},
		Streaming:          true,
		ConcurrentSessions: true,
		Abortable:          true,
		MaxConcurrency:     4,
	}
}

func (r *ScriptRunner) IsAvailable(ctx context.Context) (bool, error) {
	return true, nil
}

func (r *ScriptRunner) Run(ctx context.Context, input Input) (<-chan Event, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(input.Prompt), "script")
	if err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

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

		sessionID := ulid.Make().String()
		callID := ulid.Make().String()
		if !emit(Event{Type: EventTypeSessionStart, SessionID: sessionID}) {
			return
		}
		emit(Event{Type: EventTypeUserMessage, Content: input.Prompt, Files: input.Files})
		emit(Event{
			Type:   EventTypeToolCallStart,
			CallID: callID,
			Tool:   "shell",
			Args:   map[string]any{"script": input.Prompt},
		})

		// Stream stdout as token events while the script runs.
		pr, pw := io.Pipe()
		var stderr strings.Builder
		streamDone := make(chan struct{})
		go func() {
			defer close(streamDone)
			buf := make([]byte, 4096)
			for {
				n, err := pr.Read(buf)
				if n > 0 {
					emit(Event{Type: EventTypeToken, Content: string(buf[:n])})
				}
				if err != nil {
					return
				}
			}
		}()

		dir := input.WorkspacePath
		if dir == "" {
			dir = "."
		}
		runner, err := interp.New(
			interp.StdIO(nil, pw, &stderr),
			interp.Dir(dir),
			interp.Env(expand.ListEnviron(os.Environ()...)),
		)
		var runErr error
		if err != nil {
			runErr = err
		} else {
			runErr = runner.Run(runCtx, file)
		}
		pw.Close()
		<-streamDone

		if runErr != nil && runCtx.Err() == nil {
			status := uint8(1)
			if s, ok := interp.IsExitStatus(runErr); ok {
				status = s
			}
			emit(Event{
				Type:    EventTypeToolCallEnd,
				CallID:  callID,
				Success: false,
				Result:  fmt.Sprintf("exit status %d: %s", status, stderr.String()),
			})
			emit(Event{Type: EventTypeError, Error: runErr.Error()})
			emit(Event{Type: EventTypeSessionEnd, SessionID: sessionID, Reason: "error"})
			return
		}

		emit(Event{Type: EventTypeToolCallEnd, CallID: callID, Success: true, Result: "exit status 0"})
		emit(Event{Type: EventTypeAssistantMessage, Content: "script completed"})
		emit(Event{Type: EventTypeSessionEnd, SessionID: sessionID, Reason: "success"})
	}()

	return events, nil
}

func (r *ScriptRunner) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
