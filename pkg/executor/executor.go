package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/promptgate/promptgate/pkg/config"
)

// Tool invocation flags understood by the external command.
const (
	autoApproveFlag = "--yolo"
	checkpointFlag  = "--checkpointing"
)

// DefaultTimeout bounds a single tool invocation when none is configured.
const DefaultTimeout = 5 * time.Minute

// Executor runs the external text-generation tool. It knows nothing about
// retries, caching, or quotas.
type Executor interface {
	// Execute invokes the tool with the given prompt and extra flags.
	// On success it returns the captured stdout; any non-zero exit or
	// timeout is an error carrying the captured stderr.
	Execute(ctx context.Context, prompt string, extraFlags []string) (string, error)
}

// CommandExecutor invokes the tool as a child process.
type CommandExecutor struct {
	command       string
	autoApprove   bool
	checkpointing bool
	timeout       time.Duration
}

// New creates a CommandExecutor from tool configuration.
func New(cfg config.ToolConfig) *CommandExecutor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandExecutor{
		command:       cfg.Command,
		autoApprove:   cfg.AutoApprove,
		checkpointing: cfg.Checkpointing,
		timeout:       timeout,
	}
}

// Execute implements Executor.
func (e *CommandExecutor) Execute(ctx context.Context, prompt string, extraFlags []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var args []string
	if e.autoApprove {
		args = append(args, autoApproveFlag)
	}
	if e.checkpointing {
		args = append(args, checkpointFlag)
	}
	args = append(args, extraFlags...)
	args = append(args, "-p", prompt)

	cmd := exec.CommandContext(ctx, e.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%s timed out after %s", e.command, e.timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s failed: %s", e.command, msg)
	}

	return stdout.String(), nil
}
