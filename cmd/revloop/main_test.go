package main

import (
	"strings"
	"testing"

	"github.com/revloop/revloop/internal/runner"
)

func TestTaskCreateKindHelpMatchesRunnerVocabulary(t *testing.T) {
	var help string
	for _, f := range taskCreateCmd.Model().Flags {
		if f.Name == "kind" {
			help = f.Help
		}
	}
	if help == "" {
		t.Fatal("kind flag not found")
	}

	kinds := []runner.TaskKind{
		runner.TaskKindChat,
		runner.TaskKindRefactor,
		runner.TaskKindAnalyze,
		runner.TaskKindGenerate,
		runner.TaskKindDebug,
		runner.TaskKindTest,
	}
	for _, k := range kinds {
		if !strings.Contains(help, string(k)) {
			t.Errorf("kind help %q does not mention %q", help, k)
		}
	}
}
