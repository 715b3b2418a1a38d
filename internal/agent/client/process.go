package client

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"foreman/internal/log"
)

// knownExecutablePaths are checked under the user's home directory before
// falling back to PATH lookup.
var knownExecutablePaths = []string{
	".claude/local/claude",
	".claude/claude",
}

// ProcessConfig configures the headless CLI binding.
type ProcessConfig struct {
	// Executable is the CLI binary name or path. Empty means "claude".
	Executable string
	// SkipPermissions passes --dangerously-skip-permissions.
	SkipPermissions bool
	// AllowedTools restricts the agent's tool surface when non-empty.
	AllowedTools []string
	// SystemPrompts maps an agent name to an appended system prompt.
	SystemPrompts map[string]string
	// Env holds extra environment variables in KEY=VALUE form.
	Env []string
}

// NewProcessFactory returns a QueryFactory that spawns the headless CLI in
// stream-json mode and decodes its stdout lines into Messages.
func NewProcessFactory(cfg ProcessConfig) QueryFactory {
	return func(ctx context.Context, params QueryParams) (Query, error) {
		return spawnProcess(ctx, cfg, params)
	}
}

// process is a running headless CLI session.
type process struct {
	cmd      *exec.Cmd
	messages chan Message

	mu          sync.Mutex
	interrupted bool
}

func (p *process) Messages() <-chan Message { return p.messages }

// Interrupt sends SIGINT to the process group. The message stream still
// terminates through the normal exit path.
func (p *process) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interrupted || p.cmd.Process == nil {
		return nil
	}
	p.interrupted = true
	return p.cmd.Process.Signal(syscall.SIGINT)
}

func spawnProcess(ctx context.Context, cfg ProcessConfig, params QueryParams) (*process, error) {
	execPath, err := findExecutable(cfg.Executable)
	if err != nil {
		return nil, err
	}

	args := buildArgs(cfg, params)

	// #nosec G204 -- args are built from config, not user input
	cmd := exec.CommandContext(ctx, execPath, args...)
	cmd.Dir = params.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent process: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("agent process: stderr pipe: %w", err)
	}

	log.Debug(log.CatAgent, "Spawning agent process",
		"execPath", execPath, "agent", params.AgentName, "workDir", params.WorkDir)

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("agent process: start: %w", err)
	}

	p := &process{
		cmd:      cmd,
		messages: make(chan Message, 16),
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		// 64KB initial, 1MB max: assistant turns can carry large blocks.
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			msg, err := Decode(line)
			if err != nil {
				log.Debug(log.CatAgent, "Undecodable agent output", "error", err, "line", string(line))
				continue
			}
			select {
			case p.messages <- msg:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Debug(log.CatAgent, "Agent stdout scanner error", "error", err)
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug(log.CatAgent, "Agent stderr", "line", scanner.Text())
		}
	}()

	go func() {
		wg.Wait()
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			log.Debug(log.CatAgent, "Agent process exited with error", "error", err)
		}
		close(p.messages)
	}()

	return p, nil
}

// buildArgs constructs the CLI argument list. The -- separator keeps the
// prompt from being consumed by preceding flags.
func buildArgs(cfg ProcessConfig, params QueryParams) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
	}
	if params.Model != "" {
		args = append(args, "--model", params.Model)
	}
	if cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if sp := cfg.SystemPrompts[params.AgentName]; sp != "" {
		args = append(args, "--append-system-prompt", sp)
	}
	for _, tool := range cfg.AllowedTools {
		args = append(args, "--allowed-tools", tool)
	}
	if params.Prompt != "" {
		args = append(args, "--", params.Prompt)
	}
	return args
}

// findExecutable resolves the CLI binary: known home-relative install
// locations first, then PATH.
func findExecutable(name string) (string, error) {
	if name == "" {
		name = "claude"
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("agent process: executable %s: %w", name, err)
		}
		return name, nil
	}
	if name == "claude" {
		if home, err := os.UserHomeDir(); err == nil {
			for _, rel := range knownExecutablePaths {
				candidate := filepath.Join(home, rel)
				if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
					return candidate, nil
				}
			}
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("agent process: %s not found: %w", name, err)
	}
	return path, nil
}
