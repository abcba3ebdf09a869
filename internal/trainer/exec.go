package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/vk/odtrain/internal/ctxlog"
)

// RuntimeError is a failure reported by the trainer itself while training,
// as opposed to a failure to launch it.
type RuntimeError struct {
	ExitCode int
	Err      error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("trainer exited with status %d: %v", e.ExitCode, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// DefaultGracePeriod is how long an interrupted trainer may take to exit
// after SIGTERM before it is killed.
const DefaultGracePeriod = 30 * time.Second

// ExecTrainer runs an external trainer binary. The job is written to its
// stdin as JSON; its output is forwarded to Stdout and Stderr. Cancelling the
// context sends SIGTERM, then SIGKILL once GracePeriod has passed.
type ExecTrainer struct {
	Path        string
	Args        []string
	Env         []string // appended to the launcher's environment
	Stdout      io.Writer
	Stderr      io.Writer
	GracePeriod time.Duration // DefaultGracePeriod when zero
}

// Train implements Trainer.
func (e *ExecTrainer) Train(ctx context.Context, job *Job) error {
	logger := ctxlog.FromContext(ctx)

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode trainer job: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Path, e.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Cancel = func() error {
		logger.Info("Stopping trainer.", "pid", cmd.Process.Pid)
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start trainer %s: %w", e.Path, err)
	}
	logger.Info("Trainer started.", "path", e.Path, "pid", cmd.Process.Pid)

	err = cmd.Wait()
	if err == nil {
		logger.Info("Trainer finished.")
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("trainer interrupted: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &RuntimeError{ExitCode: exitErr.ExitCode(), Err: err}
	}
	return fmt.Errorf("wait for trainer: %w", err)
}
