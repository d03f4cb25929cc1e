package slurm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/scheduler"
)

// fakeRunner stands in for the inner scheduler whose interactive queue
// executes the manager's command line tools. Every submission is answered by
// the test's respond function; stdin written to a job is captured for
// assertions on generated submit scripts.
type fakeRunner struct {
	respond func(exe string, args []string) (stdout string, exit int, sessionDone bool)

	mu     sync.Mutex
	nextID int
	jobs   map[string]*fakeJob
	calls  []*fakeJob
	closed bool
}

type fakeJob struct {
	id    string
	exe   string
	args  []string
	stdin []byte
	done  bool
	exit  int
}

var _ scheduler.Scheduler = (*fakeRunner)(nil)

func newFakeRunner(respond func(exe string, args []string) (string, int, bool)) *fakeRunner {
	return &fakeRunner{respond: respond, jobs: make(map[string]*fakeJob)}
}

// lastCall returns the most recent job submitted for exe, or nil.
func (f *fakeRunner) lastCall(exe string) *fakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].exe == exe {
			return f.calls[i]
		}
	}
	return nil
}

// finishSessions marks every still-running job done with the given exit
// code, the way a scancel takes down a live session.
func (f *fakeRunner) finishSessions(exit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if !j.done {
			j.done = true
			j.exit = exit
		}
	}
}

// stdinCapture records what the command runner feeds to a job.
type stdinCapture struct {
	f   *fakeRunner
	job *fakeJob
}

func (c *stdinCapture) Write(p []byte) (int, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.job.stdin = append(c.job.stdin, p...)
	return len(p), nil
}

func (c *stdinCapture) Close() error { return nil }

func (f *fakeRunner) SubmitInteractiveJob(ctx context.Context, d *scheduler.JobDescription) (*scheduler.Streams, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, &scheduler.Error{Op: "SubmitInteractiveJob", Adaptor: "fake", Err: scheduler.ErrNotConnected}
	}
	id := fmt.Sprintf("runner-%d", f.nextID)
	f.nextID++
	f.mu.Unlock()

	stdout, exit, sessionDone := f.respond(d.Executable, append([]string{}, d.Arguments...))

	job := &fakeJob{id: id, exe: d.Executable, args: d.Arguments, done: sessionDone, exit: exit}
	f.mu.Lock()
	f.jobs[id] = job
	f.calls = append(f.calls, job)
	f.mu.Unlock()

	return scheduler.NewStreams(id, &stdinCapture{f: f, job: job}, strings.NewReader(stdout), strings.NewReader("")), nil
}

func (f *fakeRunner) JobStatus(ctx context.Context, jobID string) (scheduler.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return scheduler.JobStatus{}, &scheduler.Error{Op: "JobStatus", Adaptor: "fake", Job: jobID, Err: scheduler.ErrNoSuchJob}
	}
	if !job.done {
		return scheduler.NewJobStatus(jobID, "", scheduler.StateRunning, nil, nil, true, false, nil), nil
	}
	exit := job.exit
	return scheduler.NewJobStatus(jobID, "", scheduler.StateDone, &exit, nil, false, true, nil), nil
}

func (f *fakeRunner) CancelJob(ctx context.Context, jobID string) (scheduler.JobStatus, error) {
	f.mu.Lock()
	if job, ok := f.jobs[jobID]; ok && !job.done {
		job.done = true
		job.exit = -1
	}
	f.mu.Unlock()
	return f.JobStatus(ctx, jobID)
}

func (f *fakeRunner) WaitUntilDone(ctx context.Context, jobID string, timeout time.Duration) (scheduler.JobStatus, error) {
	return f.JobStatus(ctx, jobID)
}

func (f *fakeRunner) WaitUntilRunning(ctx context.Context, jobID string, timeout time.Duration) (scheduler.JobStatus, error) {
	return f.JobStatus(ctx, jobID)
}

func (f *fakeRunner) JobStatuses(ctx context.Context, jobIDs ...string) []scheduler.JobStatus {
	out := make([]scheduler.JobStatus, 0, len(jobIDs))
	for _, id := range jobIDs {
		status, err := f.JobStatus(ctx, id)
		if err != nil {
			status = scheduler.NewJobStatus(id, "", scheduler.StateError, nil, err, false, true, nil)
		}
		out = append(out, status)
	}
	return out
}

func (f *fakeRunner) AdaptorName() string      { return "fake" }
func (f *fakeRunner) QueueNames() []string     { return []string{"unlimited"} }
func (f *fakeRunner) DefaultQueueName() string { return "unlimited" }
func (f *fakeRunner) DefaultRuntime() int      { return 0 }

func (f *fakeRunner) Jobs(ctx context.Context, queues ...string) ([]string, error) {
	return nil, nil
}

func (f *fakeRunner) QueueStatus(ctx context.Context, queue string) (scheduler.QueueStatus, error) {
	return scheduler.NewQueueStatus(queue, nil, nil), nil
}

func (f *fakeRunner) QueueStatuses(ctx context.Context, queues ...string) ([]scheduler.QueueStatus, error) {
	return nil, nil
}

func (f *fakeRunner) SubmitBatchJob(ctx context.Context, d *scheduler.JobDescription) (string, error) {
	return "", &scheduler.Error{Op: "SubmitBatchJob", Adaptor: "fake", Err: scheduler.ErrUnsupportedOperation}
}

func (f *fakeRunner) FileSystem() (*filesystem.FileSystem, error) {
	return nil, &scheduler.Error{Op: "FileSystem", Adaptor: "fake", Err: scheduler.ErrUnsupportedOperation}
}

func (f *fakeRunner) IsOpen(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed, nil
}

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func argValue(args []string, prefix string) (string, bool) {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return strings.TrimPrefix(a, prefix), true
		}
	}
	return "", false
}

// newTestScheduler builds a slurm scheduler over a fake runner whose respond
// function already answers the construction-time partition listing.
func newTestScheduler(t *testing.T, respond func(exe string, args []string) (string, int, bool)) (*Scheduler, *fakeRunner) {
	t.Helper()

	fake := newFakeRunner(func(exe string, args []string) (string, int, bool) {
		// The construction-time partition listing is always answered so
		// individual tests only script the commands they exercise.
		if exe == "sinfo" && len(args) > 0 && args[len(args)-1] == "--format=%P" {
			return "short*\nlong\n", 0, true
		}
		return respond(exe, args)
	})

	s, err := New(context.Background(), Config{Runner: fake, PollingDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	return s, fake
}

func TestNew_DiscoversQueues(t *testing.T) {
	s, _ := newTestScheduler(t, func(exe string, args []string) (string, int, bool) {
		t.Fatalf("unexpected command %s %v", exe, args)
		return "", 1, true
	})

	assert.Equal(t, []string{"short", "long"}, s.QueueNames())
	assert.Equal(t, "short", s.DefaultQueueName())
	assert.Equal(t, DefaultRuntimeMinutes, s.DefaultRuntime())
}

func TestScheduler_SubmitBatchJob(t *testing.T) {
	ctx := context.Background()

	s, fake := newTestScheduler(t, func(exe string, args []string) (string, int, bool) {
		if exe == "sbatch" {
			return "Submitted batch job 42\n", 0, true
		}
		t.Fatalf("unexpected command %s %v", exe, args)
		return "", 1, true
	})

	d := scheduler.NewJobDescription()
	d.Name = "nightly"
	d.Executable = "/app/run"
	d.QueueName = "short"
	d.MaxRuntime = 30

	jobID, err := s.SubmitBatchJob(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "42", jobID)

	// The submit script traveled on the submit tool's stdin.
	call := fake.lastCall("sbatch")
	require.NotNil(t, call)
	script := string(call.stdin)
	assert.Contains(t, script, "#!/bin/sh")
	assert.Contains(t, script, "#SBATCH --job-name='nightly'")
	assert.Contains(t, script, "#SBATCH --partition=short")
	assert.Contains(t, script, "\n/app/run\n")
}

func TestScheduler_SubmitBatchJob_Rejections(t *testing.T) {
	ctx := context.Background()

	s, fake := newTestScheduler(t, func(exe string, args []string) (string, int, bool) {
		t.Fatalf("unexpected command %s %v", exe, args)
		return "", 1, true
	})

	d := scheduler.NewJobDescription()
	d.Executable = "/app/run"
	d.MaxRuntime = 0
	_, err := s.SubmitBatchJob(ctx, d)
	assert.ErrorIs(t, err, scheduler.ErrInvalidDescription)

	d = scheduler.NewJobDescription()
	d.Executable = "/app/run"
	d.QueueName = "imaginary"
	_, err = s.SubmitBatchJob(ctx, d)
	assert.ErrorIs(t, err, scheduler.ErrNoSuchQueue)

	assert.Nil(t, fake.lastCall("sbatch"), "rejected descriptions must not reach the manager")
}

func TestScheduler_InteractiveLifecycle(t *testing.T) {
	ctx := context.Background()

	s, fake := newTestScheduler(t, func(exe string, args []string) (string, int, bool) {
		switch {
		case exe == "srun":
			// The session stays alive until scancel.
			return "", 0, false
		case exe == "squeue":
			if _, ok := argValue(args, "--name="); ok {
				return "77\n", 0, true
			}
			// Status by id: the job is no longer in the queue.
			return "", 1, true
		case exe == "scancel":
			return "", 0, true
		case exe == "sacct":
			return "JobID|JobName|State|ExitCode|\n77|sess|CANCELLED by 1001|0:15|\n", 0, true
		}
		t.Fatalf("unexpected command %s %v", exe, args)
		return "", 1, true
	})

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/bash"
	d.Arguments = []string{"-i"}
	d.QueueName = "short"

	streams, err := s.SubmitInteractiveJob(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "77", streams.JobID())

	// The srun invocation carried the uuid tag and the partition.
	srun := fake.lastCall("srun")
	require.NotNil(t, srun)
	tag, ok := argValue(srun.args, "--job-name=")
	require.True(t, ok)
	assert.NotEmpty(t, tag)
	partition, ok := argValue(srun.args, "--partition=")
	require.True(t, ok)
	assert.Equal(t, "short", partition)

	// While the session lives, status is answered from the runner with no
	// manager round trip.
	status, err := s.JobStatus(ctx, "77")
	require.NoError(t, err)
	assert.True(t, status.Running())
	assert.False(t, status.Done())

	// scancel takes the session down; the terminal observation drops the
	// interactive tracking entry.
	fake.finishSessions(0)
	status, err = s.CancelJob(ctx, "77")
	require.NoError(t, err)
	assert.True(t, status.Done())

	// A later query goes down the command path: gone from the queue,
	// accounting reports the cancellation.
	status, err = s.JobStatus(ctx, "77")
	require.NoError(t, err)
	assert.True(t, status.Done())
	assert.True(t, scheduler.IsJobCanceled(status.Err()))
}

func TestScheduler_JobStatusBatchPaths(t *testing.T) {
	ctx := context.Background()

	inQueue := true
	s, _ := newTestScheduler(t, func(exe string, args []string) (string, int, bool) {
		switch exe {
		case "squeue":
			if inQueue {
				return "JOBID NAME STATE\n42 run RUNNING\n", 0, true
			}
			return "", 1, true
		case "sacct":
			return "JobID|JobName|State|ExitCode|\n42|run|COMPLETED|0:0|\n", 0, true
		}
		t.Fatalf("unexpected command %s %v", exe, args)
		return "", 1, true
	})

	status, err := s.JobStatus(ctx, "42")
	require.NoError(t, err)
	assert.True(t, status.Running())
	assert.False(t, status.Done())
	assert.Equal(t, "RUNNING", status.State())

	// Once the job leaves the queue, accounting answers.
	inQueue = false
	status, err = s.JobStatus(ctx, "42")
	require.NoError(t, err)
	assert.True(t, status.Done())
	code, ok := status.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 0, code)

	_, err = s.JobStatus(ctx, "")
	assert.ErrorIs(t, err, scheduler.ErrBadParameter)
}

func TestScheduler_JobStatusControlFallback(t *testing.T) {
	ctx := context.Background()

	scontrolKnows := true
	fake := newFakeRunner(nil)
	fake.respond = func(exe string, args []string) (string, int, bool) {
		switch exe {
		case "sinfo":
			return "short*\n", 0, true
		case "squeue":
			return "", 1, true
		case "scontrol":
			if scontrolKnows {
				return "JobId=9 JobName=run JobState=COMPLETED ExitCode=0:0 Reason=None", 0, true
			}
			return "", 1, true
		}
		t.Fatalf("unexpected command %s %v", exe, args)
		return "", 1, true
	}

	s, err := New(ctx, Config{Runner: fake, DisableAccounting: true, PollingDelay: 10 * time.Millisecond})
	require.NoError(t, err)

	status, err := s.JobStatus(ctx, "9")
	require.NoError(t, err)
	assert.True(t, status.Done())
	assert.Equal(t, "COMPLETED", status.State())

	// Nothing knows the job: not found.
	scontrolKnows = false
	_, err = s.JobStatus(ctx, "9")
	assert.True(t, scheduler.IsNoSuchJob(err))
}

func TestScheduler_Jobs(t *testing.T) {
	ctx := context.Background()

	s, _ := newTestScheduler(t, func(exe string, args []string) (string, int, bool) {
		if exe == "squeue" {
			if partitions, ok := argValue(args, "--partition="); ok {
				assert.Equal(t, "short", partitions)
			}
			return "11\n12\n", 0, true
		}
		t.Fatalf("unexpected command %s %v", exe, args)
		return "", 1, true
	})

	jobs, err := s.Jobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"11", "12"}, jobs)

	jobs, err = s.Jobs(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, []string{"11", "12"}, jobs)

	_, err = s.Jobs(ctx, "imaginary")
	assert.True(t, scheduler.IsNoSuchQueue(err))
}

func TestScheduler_QueueStatus(t *testing.T) {
	ctx := context.Background()

	s, _ := newTestScheduler(t, func(exe string, args []string) (string, int, bool) {
		if exe == "sinfo" {
			return "PARTITION AVAIL TIMELIMIT NODES STATE CPUS\nshort* up 1:00:00 4 idle 16\nlong up infinite 2 idle 32\n", 0, true
		}
		t.Fatalf("unexpected command %s %v", exe, args)
		return "", 1, true
	})

	status, err := s.QueueStatus(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "short", status.QueueName())
	assert.Equal(t, "up", status.SchedulerSpecific()["AVAIL"])

	_, err = s.QueueStatus(ctx, "imaginary")
	assert.True(t, scheduler.IsNoSuchQueue(err))

	statuses, err := s.QueueStatuses(ctx, "long", "imaginary")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].HasError())
	assert.True(t, statuses[1].HasError())
}

func TestScheduler_ConcurrentInteractiveStatus(t *testing.T) {
	ctx := context.Background()

	var idMu sync.Mutex
	tagIDs := map[string]string{}
	nextTag := 100

	s, _ := newTestScheduler(t, func(exe string, args []string) (string, int, bool) {
		switch {
		case exe == "srun":
			return "", 0, false
		case exe == "squeue":
			if tag, ok := argValue(args, "--name="); ok {
				idMu.Lock()
				defer idMu.Unlock()
				id, loaded := tagIDs[tag]
				if !loaded {
					id = strconv.Itoa(nextTag)
					nextTag++
					tagIDs[tag] = id
				}
				return id + "\n", 0, true
			}
		}
		// Not t.Fatalf: respond may run on a submission goroutine.
		t.Errorf("unexpected command %s %v", exe, args)
		return "", 1, true
	})

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/bash"

	streams, err := s.SubmitInteractiveJob(ctx, d)
	require.NoError(t, err)

	// Concurrent status reads against a live session while another
	// session is being submitted: exactly the mixed read/write load a
	// slurm-backed HTTP server produces.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := s.JobStatus(ctx, streams.JobID())
			assert.NoError(t, err)
			assert.True(t, status.Running())
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d := scheduler.NewJobDescription()
		d.Executable = "/bin/sh"
		other, err := s.SubmitInteractiveJob(ctx, d)
		assert.NoError(t, err)
		status, err := s.JobStatus(ctx, other.JobID())
		assert.NoError(t, err)
		assert.True(t, status.Running())
	}()

	wg.Wait()
}
