// Package jobqueue implements the local job-queue engine: a three-queue
// scheduler multiplexing submissions over bounded worker pools, and the
// executor state machine driving one process per job.
package jobqueue

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/3leaps/gridlink/pkg/scheduler"
)

// Process is the minimal surface the executor polls.
type Process interface {
	// IsDone reports whether the process has exited.
	IsDone() bool

	// ExitStatus returns the exit code. Only valid once IsDone is true.
	ExitStatus() int

	// Destroy forcibly terminates the process.
	Destroy()
}

// InteractiveProcess is a process with live stream handles.
type InteractiveProcess interface {
	Process

	// Streams returns the live stdin/stdout/stderr handles.
	Streams() *scheduler.Streams
}

// InteractiveProcessFactory creates the processes backing jobs. The local
// adaptor forks directly; remote adaptors start a session over their
// transport.
type InteractiveProcessFactory interface {
	// CreateInteractiveProcess starts a process for the description in
	// workdir. startupTimeout bounds transport-level session setup.
	CreateInteractiveProcess(ctx context.Context, description *scheduler.JobDescription, workdir string, jobID string, startupTimeout time.Duration) (InteractiveProcess, error)

	// IsOpen reports whether the factory can still create processes.
	IsOpen() (bool, error)

	// Close releases the factory's transport.
	Close() error
}

// localProcess runs a command as a child of this process.
type localProcess struct {
	cmd     *exec.Cmd
	streams *scheduler.Streams

	mu       sync.Mutex
	done     bool
	exitCode int
}

// LocalProcessFactory forks processes on the local machine.
type LocalProcessFactory struct {
	mu     sync.Mutex
	closed bool
}

var _ InteractiveProcessFactory = (*LocalProcessFactory)(nil)

// NewLocalProcessFactory returns a factory forking on the local machine.
func NewLocalProcessFactory() *LocalProcessFactory {
	return &LocalProcessFactory{}
}

func (f *LocalProcessFactory) CreateInteractiveProcess(ctx context.Context, description *scheduler.JobDescription, workdir string, jobID string, startupTimeout time.Duration) (InteractiveProcess, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, &scheduler.Error{Op: "CreateInteractiveProcess", Adaptor: "local", Job: jobID, Err: scheduler.ErrNotConnected}
	}

	cmd := exec.Command(description.Executable, description.Arguments...)
	cmd.Dir = workdir

	if len(description.Environment) > 0 {
		env := os.Environ()
		env = append(env, description.SortedEnvironment()...)
		cmd.Env = env
	}

	// Put the child in its own process group so Destroy can take down any
	// grandchildren with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Wire the streams through explicit pipes instead of the exec pipe
	// helpers: Wait must not race against stream readers, and with plain
	// files it has nothing to close under them.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("open stderr pipe: %w", err)
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW} {
			f.Close()
		}
		return nil, fmt.Errorf("start %q: %w", description.Executable, err)
	}

	// The child holds its own copies of these ends now.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	p := &localProcess{
		cmd:     cmd,
		streams: scheduler.NewStreams(jobID, stdinW, stdoutR, stderrR),
	}

	go p.wait()

	return p, nil
}

// wait reaps the child and records its exit code.
func (p *localProcess) wait() {
	err := p.cmd.Wait()

	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	p.mu.Lock()
	p.exitCode = code
	p.done = true
	p.mu.Unlock()
}

func (p *localProcess) IsDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *localProcess) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *localProcess) Destroy() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done {
		return
	}

	// Negative pid signals the whole process group.
	if p.cmd.Process != nil {
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	}
}

func (p *localProcess) Streams() *scheduler.Streams {
	return p.streams
}

func (f *LocalProcessFactory) IsOpen() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed, nil
}

func (f *LocalProcessFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
