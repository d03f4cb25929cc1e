package scheduler

import (
	"fmt"
	"io"
)

// Job states reported by JobStatus. Back-ends may report additional
// scheduler-specific state strings; the booleans on JobStatus are the
// portable classification.
const (
	StatePending = "PENDING"
	StateRunning = "RUNNING"
	StateDone    = "DONE"
	StateError   = "ERROR"
	StateKilled  = "KILLED"
)

// JobStatus is a snapshot of one job as observed by a scheduler.
type JobStatus struct {
	jobID    string
	name     string
	state    string
	exitCode *int
	err      error
	running  bool
	done     bool
	info     map[string]string
}

// NewJobStatus assembles a status snapshot. exitCode may be nil when the
// back-end did not report one.
func NewJobStatus(jobID, name, state string, exitCode *int, err error, running, done bool, info map[string]string) JobStatus {
	return JobStatus{jobID: jobID, name: name, state: state, exitCode: exitCode, err: err, running: running, done: done, info: info}
}

// JobID returns the job identifier.
func (s JobStatus) JobID() string { return s.jobID }

// Name returns the job name from the description, if any.
func (s JobStatus) Name() string { return s.name }

// State returns the back-end state string.
func (s JobStatus) State() string { return s.state }

// ExitCode returns the exit code and whether one was reported.
func (s JobStatus) ExitCode() (int, bool) {
	if s.exitCode == nil {
		return 0, false
	}
	return *s.exitCode, true
}

// Running reports whether the job was running at observation time.
func (s JobStatus) Running() bool { return s.running }

// Done reports whether the job reached a terminal state.
func (s JobStatus) Done() bool { return s.done }

// HasError reports whether the job carries a failure.
func (s JobStatus) HasError() bool { return s.err != nil }

// Err returns the failure, or nil.
func (s JobStatus) Err() error { return s.err }

// SchedulerSpecific returns back-end specific fields, keyed as reported.
func (s JobStatus) SchedulerSpecific() map[string]string { return s.info }

func (s JobStatus) String() string {
	return fmt.Sprintf("JobStatus[id=%s state=%s running=%t done=%t err=%v]", s.jobID, s.state, s.running, s.done, s.err)
}

// QueueStatus describes one queue of a scheduler.
type QueueStatus struct {
	queueName string
	err       error
	info      map[string]string
}

// NewQueueStatus assembles a queue status. err is set when the queue could
// not be inspected; bulk queries embed the failure here instead of aborting.
func NewQueueStatus(queueName string, err error, info map[string]string) QueueStatus {
	return QueueStatus{queueName: queueName, err: err, info: info}
}

// QueueName returns the queue name.
func (s QueueStatus) QueueName() string { return s.queueName }

// HasError reports whether inspecting this queue failed.
func (s QueueStatus) HasError() bool { return s.err != nil }

// Err returns the failure, or nil.
func (s QueueStatus) Err() error { return s.err }

// SchedulerSpecific returns back-end specific fields, keyed as reported.
func (s QueueStatus) SchedulerSpecific() map[string]string { return s.info }

// Streams bundles the live stream handles of an interactive job. The handles
// stay valid until the owning job reaches a terminal state.
type Streams struct {
	jobID  string
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

// NewStreams bundles stream handles for an interactive job.
func NewStreams(jobID string, stdin io.WriteCloser, stdout, stderr io.Reader) *Streams {
	return &Streams{jobID: jobID, stdin: stdin, stdout: stdout, stderr: stderr}
}

// JobID returns the identifier of the owning job.
func (s *Streams) JobID() string { return s.jobID }

// Stdin is the sink feeding the job's standard input.
func (s *Streams) Stdin() io.WriteCloser { return s.stdin }

// Stdout is the source of the job's standard output.
func (s *Streams) Stdout() io.Reader { return s.stdout }

// Stderr is the source of the job's standard error.
func (s *Streams) Stderr() io.Reader { return s.stderr }
