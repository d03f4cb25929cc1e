package jobqueue_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gridlink/pkg/credential"
	"github.com/3leaps/gridlink/pkg/filesystem/local"
	"github.com/3leaps/gridlink/pkg/scheduler"
	"github.com/3leaps/gridlink/pkg/scheduler/jobqueue"
	"github.com/3leaps/gridlink/pkg/scheduler/scripting"
)

func newScheduler(t *testing.T) (*jobqueue.Scheduler, string) {
	t.Helper()

	root := t.TempDir()
	fs, err := local.NewAt(credential.Default{}, root)
	require.NoError(t, err)

	s, err := jobqueue.New(jobqueue.Config{
		AdaptorName:      "local",
		Factory:          jobqueue.NewLocalProcessFactory(),
		FileSystem:       fs,
		WorkingDirectory: fs.WorkingDirectory(),
		MultiSlots:       4,
		PollingDelay:     jobqueue.MinPollingDelay,
		StartupTimeout:   time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
		_ = fs.Close()
	})
	return s, root
}

func TestNew_PollingDelayBounds(t *testing.T) {
	fs, err := local.NewAt(credential.Default{}, t.TempDir())
	require.NoError(t, err)
	defer fs.Close()

	base := jobqueue.Config{
		AdaptorName:      "local",
		Factory:          jobqueue.NewLocalProcessFactory(),
		FileSystem:       fs,
		WorkingDirectory: fs.WorkingDirectory(),
		MultiSlots:       2,
	}

	tests := []struct {
		name  string
		delay time.Duration
		ok    bool
	}{
		{name: "lower bound", delay: 100 * time.Millisecond, ok: true},
		{name: "upper bound", delay: 60 * time.Second, ok: true},
		{name: "below lower", delay: 99 * time.Millisecond},
		{name: "above upper", delay: 61 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.PollingDelay = tt.delay
			s, err := jobqueue.New(cfg)
			if tt.ok {
				require.NoError(t, err)
				_ = s.Close()
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, scheduler.ErrBadParameter)
			}
		})
	}
}

func TestScheduler_QueueSurface(t *testing.T) {
	s, _ := newScheduler(t)

	assert.Equal(t, []string{"single", "multi", "unlimited"}, s.QueueNames())
	assert.Equal(t, "single", s.DefaultQueueName())
	assert.Equal(t, 0, s.DefaultRuntime())

	_, err := s.QueueStatus(context.Background(), "nope")
	assert.True(t, scheduler.IsNoSuchQueue(err))

	statuses, err := s.QueueStatuses(context.Background(), "single", "bogus")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].HasError())
	assert.True(t, statuses[1].HasError())
}

func TestScheduler_SubmitValidation(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*scheduler.JobDescription)
		want   error
	}{
		{name: "missing executable", mutate: func(d *scheduler.JobDescription) { d.Executable = "" }, want: scheduler.ErrIncompleteDescription},
		{name: "unknown queue", mutate: func(d *scheduler.JobDescription) { d.QueueName = "batch" }, want: scheduler.ErrNoSuchQueue},
		{name: "too many tasks", mutate: func(d *scheduler.JobDescription) { d.Tasks = 2 }, want: scheduler.ErrInvalidDescription},
		{name: "tasks per node", mutate: func(d *scheduler.JobDescription) { d.TasksPerNode = 2 }, want: scheduler.ErrInvalidDescription},
		{name: "bad runtime", mutate: func(d *scheduler.JobDescription) { d.MaxRuntime = -2 }, want: scheduler.ErrInvalidDescription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := scheduler.NewJobDescription()
			d.Executable = "/bin/true"
			tt.mutate(d)

			_, err := s.SubmitBatchJob(ctx, d)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestScheduler_InteractiveValidation(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/true"
	d.Stdin = "input.txt"
	_, err := s.SubmitInteractiveJob(ctx, d)
	assert.ErrorIs(t, err, scheduler.ErrInvalidDescription)

	d = scheduler.NewJobDescription()
	d.Executable = "/bin/true"
	d.Stdout = "custom.log"
	_, err = s.SubmitInteractiveJob(ctx, d)
	assert.ErrorIs(t, err, scheduler.ErrInvalidDescription)

	// The default redirect literals are accepted.
	d = scheduler.NewJobDescription()
	d.Executable = "/bin/true"
	d.Stdout = "stdout.txt"
	d.Stderr = "stderr.txt"
	d.QueueName = "unlimited"
	streams, err := s.SubmitInteractiveJob(ctx, d)
	require.NoError(t, err)

	status, err := s.WaitUntilDone(ctx, streams.JobID(), 0)
	require.NoError(t, err)
	assert.True(t, status.Done())
}

func TestScheduler_EchoViaCommandRunner(t *testing.T) {
	s, _ := newScheduler(t)

	runner, err := scripting.RunCommand(context.Background(), s, "", "/bin/echo", "hello world")
	require.NoError(t, err)

	assert.Equal(t, 0, runner.ExitCode())
	assert.Equal(t, "hello world\n", runner.Stdout())
	assert.Empty(t, runner.Stderr())
	assert.True(t, runner.Success())
	assert.True(t, runner.SuccessIgnoreError())
}

func TestScheduler_CommandRunnerStdin(t *testing.T) {
	s, _ := newScheduler(t)

	runner, err := scripting.RunCommand(context.Background(), s, "first\nsecond\n", "/bin/cat")
	require.NoError(t, err)

	assert.True(t, runner.Success())
	assert.Equal(t, "first\nsecond\n", runner.Stdout())
}

func TestScheduler_BatchRedirectsToFiles(t *testing.T) {
	s, root := newScheduler(t)
	ctx := context.Background()

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/sh"
	d.Arguments = []string{"-c", "echo out; echo err 1>&2"}

	jobID, err := s.SubmitBatchJob(ctx, d)
	require.NoError(t, err)

	status, err := s.WaitUntilDone(ctx, jobID, 0)
	require.NoError(t, err)
	require.True(t, status.Done())
	code, ok := status.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 0, code)

	out, err := os.ReadFile(filepath.Join(root, "stdout.txt"))
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out))

	errOut, err := os.ReadFile(filepath.Join(root, "stderr.txt"))
	require.NoError(t, err)
	assert.Equal(t, "err\n", string(errOut))
}

func TestScheduler_NonZeroExit(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/sh"
	d.Arguments = []string{"-c", "exit 3"}
	d.QueueName = "unlimited"

	jobID, err := s.SubmitBatchJob(ctx, d)
	require.NoError(t, err)

	status, err := s.WaitUntilDone(ctx, jobID, 0)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateDone, status.State())
	code, ok := status.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 3, code)
	assert.False(t, status.HasError())
}

func TestScheduler_SingleHarvest(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/true"

	jobID, err := s.SubmitBatchJob(ctx, d)
	require.NoError(t, err)

	status, err := s.WaitUntilDone(ctx, jobID, 0)
	require.NoError(t, err)
	require.True(t, status.Done())

	// The terminal read harvested the job.
	_, err = s.JobStatus(ctx, jobID)
	assert.True(t, scheduler.IsNoSuchJob(err))

	_, err = s.WaitUntilDone(ctx, jobID, 0)
	assert.True(t, scheduler.IsNoSuchJob(err))
}

func TestScheduler_KillBeforeStart(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	// Park a long job on the single worker, then queue a second one
	// behind it and cancel that one before it can start.
	blocker := scheduler.NewJobDescription()
	blocker.Executable = "/bin/sleep"
	blocker.Arguments = []string{"5"}

	blockerID, err := s.SubmitBatchJob(ctx, blocker)
	require.NoError(t, err)

	victim := scheduler.NewJobDescription()
	victim.Executable = "/bin/sleep"
	victim.Arguments = []string{"5"}

	victimID, err := s.SubmitBatchJob(ctx, victim)
	require.NoError(t, err)

	status, err := s.CancelJob(ctx, victimID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateKilled, status.State())
	assert.True(t, status.Done())
	assert.True(t, scheduler.IsJobCanceled(status.Err()))

	status, err = s.CancelJob(ctx, blockerID)
	require.NoError(t, err)
	assert.True(t, status.Done())
}

func TestScheduler_CancelRunning(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/sleep"
	d.Arguments = []string{"30"}
	d.QueueName = "unlimited"

	jobID, err := s.SubmitBatchJob(ctx, d)
	require.NoError(t, err)

	_, err = s.WaitUntilRunning(ctx, jobID, 5*time.Second)
	require.NoError(t, err)

	start := time.Now()
	status, err := s.CancelJob(ctx, jobID)
	require.NoError(t, err)

	if !status.Done() {
		status, err = s.WaitUntilDone(ctx, jobID, 5*time.Second)
		require.NoError(t, err)
	}
	assert.Equal(t, scheduler.StateKilled, status.State())
	assert.True(t, scheduler.IsJobCanceled(status.Err()))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestScheduler_SingleQueueRunsInOrder(t *testing.T) {
	s, root := newScheduler(t)
	ctx := context.Background()

	// Each job appends its tag; the single queue must serialize them.
	for _, tag := range []string{"a", "b", "c"} {
		d := scheduler.NewJobDescription()
		d.Executable = "/bin/sh"
		d.Arguments = []string{"-c", "echo " + tag + " >> order.txt"}
		d.Stdout = tag + ".out"
		d.Stderr = tag + ".err"

		_, err := s.SubmitBatchJob(ctx, d)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return allDone(ctx, s)
	}, 15*time.Second, 50*time.Millisecond)

	data, err := os.ReadFile(filepath.Join(root, "order.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(data))
}

func allDone(ctx context.Context, s *jobqueue.Scheduler) bool {
	jobs, err := s.Jobs(ctx)
	if err != nil {
		return false
	}
	for _, id := range jobs {
		status, err := s.JobStatus(ctx, id)
		if err == nil && !status.Done() {
			return false
		}
	}
	return true
}

func TestScheduler_Jobs(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/sleep"
	d.Arguments = []string{"2"}
	d.QueueName = "multi"

	jobID, err := s.SubmitBatchJob(ctx, d)
	require.NoError(t, err)

	jobs, err := s.Jobs(ctx, "multi")
	require.NoError(t, err)
	assert.Contains(t, jobs, jobID)

	_, err = s.Jobs(ctx, "imaginary")
	assert.True(t, scheduler.IsNoSuchQueue(err))

	_, err = s.CancelJob(ctx, jobID)
	require.NoError(t, err)
}

func TestScheduler_DefensiveCopy(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/sleep"
	d.Arguments = []string{"1"}
	d.QueueName = "unlimited"

	jobID, err := s.SubmitBatchJob(ctx, d)
	require.NoError(t, err)

	// Mutating the caller's description after submit must not affect the
	// running job.
	d.Executable = "/bin/false"
	d.Arguments[0] = "999999"

	status, err := s.WaitUntilDone(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateDone, status.State())
}

func TestScheduler_MissingWorkdirFails(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/true"
	d.WorkingDirectory = "does/not/exist"

	jobID, err := s.SubmitBatchJob(ctx, d)
	require.NoError(t, err)

	status, err := s.WaitUntilDone(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateError, status.State())
	assert.True(t, status.HasError())
}

func TestScheduler_WaitTimeoutReturnsRunning(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/sleep"
	d.Arguments = []string{"3"}
	d.QueueName = "unlimited"

	jobID, err := s.SubmitBatchJob(ctx, d)
	require.NoError(t, err)

	status, err := s.WaitUntilDone(ctx, jobID, 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, status.Done())

	_, err = s.WaitUntilDone(ctx, jobID, -1)
	assert.ErrorIs(t, err, scheduler.ErrBadParameter)

	_, err = s.CancelJob(ctx, jobID)
	require.NoError(t, err)
}

func TestScheduler_ClosedRejectsSubmit(t *testing.T) {
	s, _ := newScheduler(t)

	require.NoError(t, s.Close())

	d := scheduler.NewJobDescription()
	d.Executable = "/bin/true"

	_, err := s.SubmitBatchJob(context.Background(), d)
	assert.ErrorIs(t, err, scheduler.ErrNotConnected)

	open, err := s.IsOpen(context.Background())
	require.NoError(t, err)
	assert.False(t, open)
}
