package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildArgsBaseFlags(t *testing.T) {
	args := buildArgs(ProcessConfig{}, QueryParams{Prompt: "do the thing"})
	require.Equal(t, []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--", "do the thing",
	}, args)
}

func TestBuildArgsFullConfig(t *testing.T) {
	cfg := ProcessConfig{
		SkipPermissions: true,
		AllowedTools:    []string{"Bash", "Edit"},
		SystemPrompts:   map[string]string{"implementor": "stay on task"},
	}
	params := QueryParams{
		Prompt:    "fix issue 5",
		AgentName: "implementor",
		Model:     "opus",
	}

	args := buildArgs(cfg, params)
	require.Equal(t, []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--model", "opus",
		"--dangerously-skip-permissions",
		"--append-system-prompt", "stay on task",
		"--allowed-tools", "Bash",
		"--allowed-tools", "Edit",
		"--", "fix issue 5",
	}, args)
}

func TestBuildArgsNoSystemPromptForOtherAgent(t *testing.T) {
	cfg := ProcessConfig{SystemPrompts: map[string]string{"reviewer": "be strict"}}
	args := buildArgs(cfg, QueryParams{Prompt: "p", AgentName: "planner"})
	require.NotContains(t, args, "--append-system-prompt")
}
