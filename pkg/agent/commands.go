// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCommandTimeout bounds a single command execution.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultMaxOutputChars caps captured stdout+stderr.
	DefaultMaxOutputChars = 10000
)

// allowedVerbs is the closed set of command verbs a worker may execute.
// The verb is the first whitespace-separated token of the command line.
var allowedVerbs = map[string]bool{
	// file operations
	"ls": true, "cat": true, "head": true, "tail": true, "find": true,
	"grep": true, "wc": true, "sort": true, "uniq": true, "mkdir": true,
	"touch": true, "cp": true, "mv": true, "rm": true, "chmod": true,
	"chown": true,
	// text processing
	"echo": true, "printf": true, "cut": true, "awk": true, "sed": true,
	"tr": true,
	// development
	"python": true, "python3": true, "node": true, "npm": true,
	"pip": true, "pip3": true, "git": true, "curl": true, "wget": true,
	// introspection
	"pwd": true, "whoami": true, "date": true, "uname": true,
	"which": true, "whereis": true, "df": true, "du": true, "ps": true,
	"top": true, "free": true, "uptime": true,
}

// blockPatterns reject a command outright regardless of its verb. A match
// means the command is never started.
var blockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)\bsudo\b`),
	regexp.MustCompile(`(?i)\bsu\b`),
	regexp.MustCompile(`(?i)>\s*/dev/\w+`),
	regexp.MustCompile(`(?i)\bchmod\s+777\b`),
	regexp.MustCompile(`&\s*$`),
	regexp.MustCompile(`(?i)\|\s*bash\b`),
	regexp.MustCompile(`(?i)\|\s*sh\b`),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`(?i)\beval\b`),
	regexp.MustCompile(`(?i)\bexec\b`),
	regexp.MustCompile(`(?i)>\s*/etc/`),
	regexp.MustCompile(`(?i)>\s*/var/log/`),
	regexp.MustCompile(`(?i)>\s*/root/`),
}

// CommandResult is the outcome of one command execution attempt.
type CommandResult struct {
	Command   string
	Output    string
	ExitCode  int
	Blocked   bool
	Reason    string
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// CommandRunner executes allow-listed shell commands inside the project
// folder with a pruned environment, a per-command timeout and an output cap.
type CommandRunner struct {
	projectDir string
	timeout    time.Duration
	maxOutput  int
	logger     *zap.Logger
}

// RunnerConfig configures a CommandRunner.
type RunnerConfig struct {
	ProjectDir string        // working directory for every command (required)
	Timeout    time.Duration // Default: 30s
	MaxOutput  int           // Default: 10000 chars
	Logger     *zap.Logger
}

// NewCommandRunner creates a runner pinned to cfg.ProjectDir.
func NewCommandRunner(cfg RunnerConfig) (*CommandRunner, error) {
	if cfg.ProjectDir == "" {
		return nil, fmt.Errorf("project directory is required")
	}
	info, err := os.Stat(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project directory is not a directory: %s", cfg.ProjectDir)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultCommandTimeout
	}
	if cfg.MaxOutput == 0 {
		cfg.MaxOutput = DefaultMaxOutputChars
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CommandRunner{
		projectDir: cfg.ProjectDir,
		timeout:    cfg.Timeout,
		maxOutput:  cfg.MaxOutput,
		logger:     cfg.Logger,
	}, nil
}

// CheckCommand validates command against the safety policy without executing
// it. It returns a human-readable refusal reason, or "" when the command may
// run.
func CheckCommand(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "empty command"
	}
	for _, p := range blockPatterns {
		if p.MatchString(trimmed) {
			return fmt.Sprintf("command matches blocked pattern %q", p.String())
		}
	}
	verb := strings.Fields(trimmed)[0]
	if !allowedVerbs[verb] {
		return fmt.Sprintf("command verb %q is not in the allow-list", verb)
	}
	return ""
}

// Run executes one command line. Blocked commands are reported, never
// started. Timed-out commands are killed and return the partial output with
// a timeout marker appended.
func (r *CommandRunner) Run(ctx context.Context, command string) CommandResult {
	start := time.Now()
	result := CommandResult{Command: command}

	if reason := CheckCommand(command); reason != "" {
		result.Blocked = true
		result.Reason = reason
		r.logger.Warn("Command refused",
			zap.String("command", command),
			zap.String("reason", reason))
		return result
	}

	shell, err := lookupShell()
	if err != nil {
		result.ExitCode = -1
		result.Output = err.Error()
		return result
	}

	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = r.projectDir
	cmd.Env = prunedEnv(r.projectDir)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		result.ExitCode = -1
		result.Output = fmt.Sprintf("failed to create stdout pipe: %v", err)
		return result
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		result.ExitCode = -1
		result.Output = fmt.Sprintf("failed to create stderr pipe: %v", err)
		return result
	}

	if err := cmd.Start(); err != nil {
		result.ExitCode = -1
		result.Output = fmt.Sprintf("failed to start command: %v", err)
		return result
	}

	var lines []string
	var outputChars int
	var truncated bool
	var mu sync.Mutex
	var wg sync.WaitGroup

	capture := func(pipe *bufio.Scanner) {
		defer wg.Done()
		buf := make([]byte, 64*1024)
		pipe.Buffer(buf, 1024*1024)
		for pipe.Scan() {
			line := pipe.Text()
			mu.Lock()
			if outputChars+len(line)+1 > r.maxOutput {
				truncated = true
				mu.Unlock()
				continue // keep draining so the process is not blocked on a full pipe
			}
			outputChars += len(line) + 1
			lines = append(lines, line)
			mu.Unlock()
		}
	}

	wg.Add(2)
	go capture(bufio.NewScanner(stdoutPipe))
	go capture(bufio.NewScanner(stderrPipe))

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false

	select {
	case waitErr = <-waitDone:
		wg.Wait()
	case <-timer.C:
		timedOut = true
		killProcess(cmd)
		select {
		case waitErr = <-waitDone:
		case <-time.After(500 * time.Millisecond):
		}
		waitStreams(&wg, 100*time.Millisecond)
	case <-ctx.Done():
		timedOut = true
		killProcess(cmd)
		select {
		case waitErr = <-waitDone:
		case <-time.After(500 * time.Millisecond):
		}
		waitStreams(&wg, 100*time.Millisecond)
	}

	mu.Lock()
	result.Output = strings.Join(lines, "\n")
	result.Truncated = truncated
	mu.Unlock()

	result.Duration = time.Since(start)
	result.TimedOut = timedOut

	if truncated {
		result.Output += fmt.Sprintf("\n[output truncated at %d characters]", r.maxOutput)
	}
	if timedOut {
		result.ExitCode = -1
		result.Output += fmt.Sprintf("\n[command timed out after %s]", r.timeout)
		r.logger.Warn("Command timed out",
			zap.String("command", command),
			zap.Duration("timeout", r.timeout))
		return result
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if result.Output != "" {
				result.Output += "\n"
			}
			result.Output += fmt.Sprintf("execution error: %v", waitErr)
		}
	}

	r.logger.Debug("Command finished",
		zap.String("command", command),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration))
	return result
}

// ExtractCommands pulls executable command lines out of fenced code blocks
// in LLM output. Only shell-flavored fences are considered; comment lines
// and leading "$ " prompts are stripped.
func ExtractCommands(output string) []string {
	var commands []string
	for _, block := range fencedBlockRe.FindAllStringSubmatch(output, -1) {
		lang := strings.ToLower(strings.TrimSpace(block[1]))
		switch lang {
		case "", "bash", "sh", "shell", "console", "zsh":
		default:
			continue
		}
		for _, line := range strings.Split(block[2], "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimPrefix(line, "$ ")
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			commands = append(commands, line)
		}
	}
	return commands
}

var fencedBlockRe = regexp.MustCompile("(?s)```([a-zA-Z]*)\n(.*?)```")

func lookupShell() (string, error) {
	if path, err := exec.LookPath("bash"); err == nil {
		return path, nil
	}
	if path, err := exec.LookPath("sh"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no shell found (tried bash, sh)")
}

// prunedEnv returns the minimal environment commands run with.
func prunedEnv(projectDir string) []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"USER=" + os.Getenv("USER"),
		"PWD=" + projectDir,
	}
}

func killProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Kill) // process may have already exited
	_ = cmd.Process.Kill()
}

func waitStreams(wg *sync.WaitGroup, patience time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(patience):
	}
}
