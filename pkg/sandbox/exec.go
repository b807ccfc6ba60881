package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// ExecRequest describes a command to run inside a workspace root.
type ExecRequest struct {
	Root    string
	Command string
	Args    []string
	Stdin   []byte
	Env     map[string]string
	Timeout time.Duration
}

// ExecResult holds the outcome of a sandboxed command.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner executes commands confined to a workspace root with a
// minimal environment.
type Runner struct {
	defaultTimeout time.Duration
}

// NewRunner creates a runner with the given default timeout.
func NewRunner(defaultTimeout time.Duration) *Runner {
	return &Runner{defaultTimeout: defaultTimeout}
}

// Run executes the request. A deadline is always applied; expiry
// returns ErrExecutionTimeout alongside whatever output was captured.
func (r *Runner) Run(ctx context.Context, req ExecRequest) (ExecResult, error) {
	if req.Root == "" {
		return ExecResult{}, fmt.Errorf("workspace root is required")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	cmd.Dir = req.Root
	cmd.Env = buildEnvironment(req.Root, req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		return result, ErrExecutionTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("failed to run command: %w", err)
		}
	}

	log.Debug().
		Str("command", req.Command).
		Strs("args", req.Args).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("command executed in workspace")

	return result, nil
}

func buildEnvironment(root string, env map[string]string) []string {
	result := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + root,
	}
	for key, value := range env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
	}
	return result
}
