package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// transport drives one `claude -p` subprocess in stream-json mode and
// delivers raw decoded lines. One transport per query; not reusable.
type transport struct {
	prompt  string
	options *Options

	cmd    *exec.Cmd
	lines  chan map[string]any
	wg     sync.WaitGroup
	closed sync.Once
}

func newTransport(prompt string, options *Options) *transport {
	return &transport{
		prompt:  prompt,
		options: options,
		lines:   make(chan map[string]any),
	}
}

func (t *transport) connect(ctx context.Context) error {
	cliPath := t.options.CLIPath
	if cliPath == "" {
		var err error
		cliPath, err = findCLI()
		if err != nil {
			return err
		}
	}

	t.cmd = exec.CommandContext(ctx, cliPath, t.buildArgs()...)
	t.cmd.Env = append(os.Environ(), "CLAUDE_CODE_ENTRYPOINT=sdk-go")
	if t.options.Cwd != "" {
		t.cmd.Dir = t.options.Cwd
	}

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := t.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := t.cmd.Start(); err != nil {
		return &ProcessError{Message: fmt.Sprintf("failed to start claude CLI: %v", err), ExitCode: -1}
	}

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		defer t.closed.Do(func() { close(t.lines) })

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var msg map[string]any
			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				// Non-JSON noise on stdout is skipped; the CLI
				// occasionally prints version banners.
				continue
			}
			select {
			case t.lines <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer t.wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if t.options.StderrLine != nil {
				t.options.StderrLine(scanner.Text())
			}
		}
	}()

	return nil
}

func (t *transport) receive() <-chan map[string]any {
	return t.lines
}

func (t *transport) disconnect() {
	if t.cmd == nil || t.cmd.Process == nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	_ = t.cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = t.cmd.Process.Kill()
		<-done
	}

	t.wg.Wait()
}

func (t *transport) buildArgs() []string {
	args := []string{
		"-p", t.prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
	opts := t.options
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	if opts.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.AppendSystemPrompt)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", opts.MaxTurns))
	}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}
	if opts.BypassPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return args
}

// findCLI locates the claude binary in PATH or common npm install locations.
func findCLI() (string, error) {
	if path, err := exec.LookPath("claude"); err == nil {
		return path, nil
	}
	home, _ := os.UserHomeDir()
	for _, candidate := range []string{
		home + "/.npm-global/bin/claude",
		home + "/node_modules/.bin/claude",
		"/usr/local/bin/claude",
		"/usr/bin/claude",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", &NotFoundError{}
}
