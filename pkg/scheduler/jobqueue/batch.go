package jobqueue

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
	"github.com/3leaps/gridlink/pkg/scheduler"
)

// Default stream redirection targets for batch jobs, relative to the working
// directory.
const (
	DefaultStdout = "stdout.txt"
	DefaultStderr = "stderr.txt"
)

// batchProcess wraps an interactive process and redirects its streams to
// files on the scheduler's filesystem. stdout and stderr are pumped on their
// own goroutines; stdin is fed from a file when the description asks for it.
type batchProcess struct {
	process InteractiveProcess
	pumps   sync.WaitGroup
}

func redirectPath(workdir fspath.Path, hint string) fspath.Path {
	p := fspath.New(hint)
	if p.IsAbsolute() {
		return p
	}
	return workdir.Resolve(p)
}

// newBatchProcess starts the process for a batch job and wires its streams
// to files. The stdout/stderr targets default to stdout.txt/stderr.txt in
// the working directory.
func newBatchProcess(ctx context.Context, fs *filesystem.FileSystem, workdir fspath.Path, description *scheduler.JobDescription, jobID string, factory InteractiveProcessFactory, startupTimeout time.Duration) (*batchProcess, error) {
	stdoutHint := description.Stdout
	if stdoutHint == "" {
		stdoutHint = DefaultStdout
	}
	stderrHint := description.Stderr
	if stderrHint == "" {
		stderrHint = DefaultStderr
	}

	stdout, err := fs.WriteToFile(ctx, redirectPath(workdir, stdoutHint), -1)
	if err != nil {
		return nil, err
	}
	stderr, err := fs.WriteToFile(ctx, redirectPath(workdir, stderrHint), -1)
	if err != nil {
		stdout.Close()
		return nil, err
	}

	var stdin io.ReadCloser
	if description.Stdin != "" {
		stdin, err = fs.ReadFromFile(ctx, redirectPath(workdir, description.Stdin))
		if err != nil {
			stdout.Close()
			stderr.Close()
			return nil, err
		}
	}

	process, err := factory.CreateInteractiveProcess(ctx, description, workdir.String(), jobID, startupTimeout)
	if err != nil {
		stdout.Close()
		stderr.Close()
		if stdin != nil {
			stdin.Close()
		}
		return nil, err
	}

	b := &batchProcess{process: process}
	streams := process.Streams()

	b.pumps.Add(2)
	go b.pump(streams.Stdout(), stdout)
	go b.pump(streams.Stderr(), stderr)

	if stdin != nil {
		go func() {
			defer stdin.Close()
			defer streams.Stdin().Close()
			_, _ = io.Copy(streams.Stdin(), stdin)
		}()
	} else {
		streams.Stdin().Close()
	}

	return b, nil
}

func (b *batchProcess) pump(src io.Reader, dst io.WriteCloser) {
	defer b.pumps.Done()
	defer dst.Close()
	_, _ = io.Copy(dst, src)
}

func (b *batchProcess) IsDone() bool {
	if !b.process.IsDone() {
		return false
	}
	// Let the redirection drain before reporting completion, so the
	// output files are whole when the terminal status is observed.
	b.pumps.Wait()
	return true
}

func (b *batchProcess) ExitStatus() int {
	return b.process.ExitStatus()
}

func (b *batchProcess) Destroy() {
	b.process.Destroy()
}
