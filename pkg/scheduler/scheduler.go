package scheduler

import (
	"context"
	"time"

	"github.com/3leaps/gridlink/pkg/filesystem"
)

// Scheduler is the uniform job scheduling contract realized by all back-ends.
//
// Wait timeouts are in wall time; 0 means wait indefinitely, negative values
// are invalid. Calls that observe a terminal status harvest the job: a later
// query with the same identifier fails with ErrNoSuchJob.
type Scheduler interface {
	// AdaptorName returns the back-end name (e.g. "local", "slurm").
	AdaptorName() string

	// QueueNames returns the queues this scheduler exposes.
	QueueNames() []string

	// DefaultQueueName returns the queue used when a description leaves
	// QueueName empty.
	DefaultQueueName() string

	// DefaultRuntime returns the maximum runtime in minutes applied when a
	// description asks for the adaptor default. 0 means unlimited.
	DefaultRuntime() int

	// Jobs returns the identifiers of unharvested jobs in the given
	// queues, or in all queues when none are named.
	Jobs(ctx context.Context, queues ...string) ([]string, error)

	// QueueStatus inspects a single queue.
	QueueStatus(ctx context.Context, queue string) (QueueStatus, error)

	// QueueStatuses inspects several queues, embedding per-queue failures
	// in the result instead of aborting.
	QueueStatuses(ctx context.Context, queues ...string) ([]QueueStatus, error)

	// SubmitBatchJob runs a description with file-redirected streams and
	// returns its job identifier.
	SubmitBatchJob(ctx context.Context, description *JobDescription) (string, error)

	// SubmitInteractiveJob runs a description with live streams. The call
	// blocks until the job is running or has failed to start.
	SubmitInteractiveJob(ctx context.Context, description *JobDescription) (*Streams, error)

	// JobStatus returns the current status of a job.
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)

	// JobStatuses returns the statuses of several jobs, embedding
	// per-job failures in the result entries.
	JobStatuses(ctx context.Context, jobIDs ...string) []JobStatus

	// CancelJob asks a job to stop and returns its status afterwards.
	CancelJob(ctx context.Context, jobID string) (JobStatus, error)

	// WaitUntilDone blocks until the job reaches a terminal state or the
	// timeout expires.
	WaitUntilDone(ctx context.Context, jobID string, timeout time.Duration) (JobStatus, error)

	// WaitUntilRunning blocks until the job leaves the pending state or
	// the timeout expires.
	WaitUntilRunning(ctx context.Context, jobID string, timeout time.Duration) (JobStatus, error)

	// FileSystem returns a filesystem rooted where this scheduler runs its
	// jobs, or ErrUnsupportedOperation.
	FileSystem() (*filesystem.FileSystem, error)

	// IsOpen reports whether the scheduler connection is usable.
	IsOpen(ctx context.Context) (bool, error)

	// Close releases the scheduler and its worker pools.
	Close() error
}

// Deadline converts a wait timeout into an absolute deadline. A zero timeout
// means "wait forever" and maps to a deadline far in the future. The clock
// is re-read by callers every iteration, so skew between waiters is bounded
// by one polling interval.
func Deadline(timeout time.Duration) time.Time {
	if timeout == 0 {
		return time.Now().Add(200 * 365 * 24 * time.Hour)
	}
	return time.Now().Add(timeout)
}
