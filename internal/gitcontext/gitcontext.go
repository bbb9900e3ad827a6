// Package gitcontext captures the git state of a workspace at review time:
// branch, commit pair, and per-file diffs. The review engine treats the
// result as an opaque attachment.
package gitcontext

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

type FileDiff struct {
	Path   string `json:"path" yaml:"path"`
	Status string `json:"status" yaml:"status"` // added, modified, deleted, renamed
	Diff   string `json:"diff,omitempty" yaml:"diff,omitempty"`
}

type Context struct {
	WorkspacePath string     `json:"workspacePath" yaml:"workspace_path"`
	Branch        string     `json:"branch" yaml:"branch"`
	BaseCommit    string     `json:"baseCommit" yaml:"base_commit"`
	CurrentCommit string     `json:"currentCommit" yaml:"current_commit"`
	Diffs         []FileDiff `json:"diffs" yaml:"diffs"`
	CollectedAt   time.Time  `json:"collectedAt" yaml:"collected_at"`
}

type Collector struct {
	gitPath string
}

func NewCollector() *Collector {
	return &Collector{gitPath: "git"}
}

// Collect gathers branch, HEAD and the diff against baseCommit for the
// given workspace. An empty baseCommit diffs against HEAD's parent.
func (c *Collector) Collect(ctx context.Context, workspacePath, baseCommit string) (*Context, error) {
	branch, err := c.git(ctx, workspacePath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve branch: %w", err)
	}
	current, err := c.git(ctx, workspacePath, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if baseCommit == "" {
		baseCommit = current + "^"
	}

	diffs, err := c.collectDiffs(ctx, workspacePath, baseCommit, current)
	if err != nil {
		return nil, err
	}

	return &Context{
		WorkspacePath: workspacePath,
		Branch:        branch,
		BaseCommit:    baseCommit,
		CurrentCommit: current,
		Diffs:         diffs,
		CollectedAt:   time.Now(),
	}, nil
}

func (c *Collector) collectDiffs(ctx context.Context, dir, base, current string) ([]FileDiff, error) {
	out, err := c.git(ctx, dir, "diff", "--name-status", base, current)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", base, current, err)
	}

	var diffs []FileDiff
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		status := statusName(fields[0])
		path := fields[len(fields)-1]

		fd := FileDiff{Path: path, Status: status}
		if status != "deleted" {
			fd.Diff = c.unifiedDiff(ctx, dir, base, current, path)
		}
		diffs = append(diffs, fd)
	}
	return diffs, nil
}

// unifiedDiff renders a unified diff for one file. Failures degrade to an
// empty diff; the name-status entry alone is still useful to a reviewer.
func (c *Collector) unifiedDiff(ctx context.Context, dir, base, current, path string) string {
	before, _ := c.git(ctx, dir, "show", base+":"+path)
	after, err := c.git(ctx, dir, "show", current+":"+path)
	if err != nil {
		return ""
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: fmt.Sprintf("%s@%.8s", path, base),
		ToFile:   fmt.Sprintf("%s@%.8s", path, current),
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

func (c *Collector) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.gitPath, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

func statusName(code string) string {
	switch {
	case strings.HasPrefix(code, "A"):
		return "added"
	case strings.HasPrefix(code, "M"):
		return "modified"
	case strings.HasPrefix(code, "D"):
		return "deleted"
	case strings.HasPrefix(code, "R"):
		return "renamed"
	default:
		return "modified"
	}
}
