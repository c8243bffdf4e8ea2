// Package process runs external engines as subprocesses with a per-call
// timeout, capturing their exit status and output streams.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/core"
)

// DefaultGracePeriod is how long a terminated engine has to exit before it is killed.
const DefaultGracePeriod = 5 * time.Second

const shellBinary = "/bin/sh"

var (
	// ErrBinaryRequired is returned when a Command has no executable.
	ErrBinaryRequired = errors.New("process: binary is required")
)

// Command describes one engine invocation.
type Command struct {
	// Binary is the executable path or name (resolved via PATH).
	Binary string
	Args   []string
	// Dir is the working directory. If empty, the current directory is used.
	Dir string
	// Env is additional KEY=value pairs merged over os.Environ.
	Env   []string
	Stdin io.Reader
}

// ShellCommand builds a Command that hands script to /bin/sh -c.
func ShellCommand(script string) Command {
	return Command{Binary: shellBinary, Args: []string{"-c", script}}
}

// String renders the command for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}

	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Runner executes Commands. It holds no per-call state, so one Runner serves
// any number of concurrent jobs.
type Runner struct {
	gracePeriod time.Duration
	log         *logger.Logger
}

// NewRunner creates a Runner. A zero gracePeriod selects DefaultGracePeriod.
func NewRunner(gracePeriod time.Duration, log *logger.Logger) *Runner {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}

	return &Runner{gracePeriod: gracePeriod, log: log}
}

// Run starts cmd and waits for it to exit or for timeout to elapse. A zero
// timeout waits indefinitely. A non-zero exit is not an error: the caller
// inspects the returned result. On timeout the whole process group receives
// SIGTERM, then SIGKILL after the grace period, and a KindTimeout JobError is
// returned together with whatever output was captured.
func (r *Runner) Run(ctx context.Context, cmd Command, timeout time.Duration) (*core.ProcessResult, error) {
	if cmd.Binary == "" {
		return nil, ErrBinaryRequired
	}

	runCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// #nosec G204 -- executing caller-selected engines is the purpose of this package
	execCmd := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = mergeEnv(cmd.Env)
	execCmd.Stdin = cmd.Stdin

	var stdout, stderr bytes.Buffer

	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	// Own process group so engines that fork (sh -c, wrappers) die together.
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	execCmd.Cancel = func() error {
		if execCmd.Process == nil {
			return nil
		}

		return syscall.Kill(-execCmd.Process.Pid, syscall.SIGTERM)
	}
	execCmd.WaitDelay = r.gracePeriod

	start := time.Now()
	runErr := execCmd.Run()

	result := &core.ProcessResult{
		ExitCode: execCmd.ProcessState.ExitCode(),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		return result, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.log.Warn("Engine %s exceeded %s and was terminated", cmd.Binary, timeout)

		return result, core.NewTimeoutError(
			fmt.Sprintf("%s did not finish within %s", cmd.Binary, timeout),
			runCtx.Err(),
		)
	}

	if ctx.Err() != nil {
		return result, core.NewEngineFailure(
			cmd.Binary+" was cancelled", string(result.Stderr), ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return result, nil
	}

	return result, core.NewEngineFailure("failed to start "+cmd.Binary, "", runErr)
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil
	}

	return append(os.Environ(), extra...)
}
