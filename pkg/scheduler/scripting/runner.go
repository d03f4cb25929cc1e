// Package scripting contains the shared machinery for schedulers that drive
// a line-oriented resource manager: a one-shot remote command runner and
// parsers for the common output shapes.
package scripting

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/3leaps/gridlink/pkg/scheduler"
)

// CommandRunner runs one command through a scheduler's interactive path and
// records its stdout, stderr and exit code.
//
// stdout and stderr are drained concurrently while stdin is written; without
// that a chatty command can fill a pipe buffer and deadlock against us.
type CommandRunner struct {
	exitCode int
	stdout   string
	stderr   string
}

// RunCommand submits `executable args...` as an interactive job on the
// unlimited queue, feeds it stdin, and waits for completion.
func RunCommand(ctx context.Context, sched scheduler.Scheduler, stdin string, executable string, args ...string) (*CommandRunner, error) {
	description := scheduler.NewJobDescription()
	description.Executable = executable
	description.Arguments = args
	description.QueueName = "unlimited"

	streams, err := sched.SubmitInteractiveJob(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("could not run command %q: %w", executable, err)
	}

	var out, errOut strings.Builder
	var pumps sync.WaitGroup

	pumps.Add(3)
	go func() {
		defer pumps.Done()
		defer streams.Stdin().Close()
		if stdin != "" {
			_, _ = io.Copy(streams.Stdin(), strings.NewReader(stdin))
		}
	}()
	go func() {
		defer pumps.Done()
		_, _ = io.Copy(&out, streams.Stdout())
	}()
	go func() {
		defer pumps.Done()
		_, _ = io.Copy(&errOut, streams.Stderr())
	}()

	pumps.Wait()

	status, err := sched.JobStatus(ctx, streams.JobID())
	if err != nil {
		return nil, err
	}
	if !status.Done() {
		status, err = sched.WaitUntilDone(ctx, streams.JobID(), 0)
		if err != nil {
			return nil, err
		}
	}

	if status.HasError() {
		return nil, fmt.Errorf("could not run command %q: %w", executable, status.Err())
	}

	code, _ := status.ExitCode()

	return &CommandRunner{exitCode: code, stdout: out.String(), stderr: errOut.String()}, nil
}

// Stdout returns everything the command wrote to standard output.
func (r *CommandRunner) Stdout() string {
	return r.stdout
}

// Stderr returns everything the command wrote to standard error.
func (r *CommandRunner) Stderr() string {
	return r.stderr
}

// ExitCode returns the command's exit code.
func (r *CommandRunner) ExitCode() int {
	return r.exitCode
}

// Success reports a zero exit code and an empty stderr.
func (r *CommandRunner) Success() bool {
	return r.exitCode == 0 && r.stderr == ""
}

// SuccessIgnoreError reports a zero exit code, ignoring stderr content.
func (r *CommandRunner) SuccessIgnoreError() bool {
	return r.exitCode == 0
}

func (r *CommandRunner) String() string {
	return fmt.Sprintf("CommandRunner[exitCode=%d, stdout=%q, stderr=%q]", r.exitCode, r.stdout, r.stderr)
}
