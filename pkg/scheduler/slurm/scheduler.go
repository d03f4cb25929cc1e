// Package slurm drives a SLURM-style workload manager through its command
// line tools, submitted over the interactive path of an inner scheduler
// (local or SSH).
package slurm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
	"github.com/3leaps/gridlink/pkg/scheduler"
	"github.com/3leaps/gridlink/pkg/scheduler/scripting"
)

// AdaptorName identifies this back-end.
const AdaptorName = "slurm"

// DefaultRuntimeMinutes is applied when a description asks for the adaptor
// default.
const DefaultRuntimeMinutes = 15

// Config assembles a slurm scheduler.
type Config struct {
	// Runner is the inner scheduler whose unlimited interactive queue
	// executes the manager's command line tools.
	Runner scheduler.Scheduler

	// FileSystem gives access to the manager's file view; submit scripts
	// resolve working directories against its entry path.
	FileSystem *filesystem.FileSystem

	// DisableAccounting skips the accounting query for terminal statuses,
	// for clusters that do not run the accounting daemon.
	DisableAccounting bool

	// PollingDelay is the interval of the wait loops. Defaults to one
	// second.
	PollingDelay time.Duration

	// CommandRate caps manager command invocations per second, so a tight
	// wait loop cannot hammer the controller. Defaults to 10.
	CommandRate float64

	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Scheduler drives the workload manager. Batch job observations go through
// the manager's own tools; live interactive sessions are answered from the
// inner scheduler. Besides the queue listing taken at construction, only the
// map of interactive sessions is kept.
type Scheduler struct {
	runner       scheduler.Scheduler
	fs           *filesystem.FileSystem
	accounting   bool
	pollingDelay time.Duration
	limiter      *rate.Limiter
	log          *zap.Logger

	queueNames   []string
	defaultQueue string

	// interactive jobs are tracked by manager id so status and streams
	// can be answered without another round trip. Guarded by mu: status
	// and submit calls may arrive on concurrent server goroutines.
	mu          sync.Mutex
	interactive map[string]string // manager job id -> runner job id
}

var _ scheduler.Scheduler = (*Scheduler)(nil)

// New connects to the manager and takes an initial queue listing.
func New(ctx context.Context, cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, &scheduler.Error{Op: "New", Adaptor: AdaptorName, Err: fmt.Errorf("%w: runner scheduler is required", scheduler.ErrBadParameter)}
	}

	pollingDelay := cfg.PollingDelay
	if pollingDelay <= 0 {
		pollingDelay = time.Second
	}
	commandRate := cfg.CommandRate
	if commandRate <= 0 {
		commandRate = 10
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Scheduler{
		runner:       cfg.Runner,
		fs:           cfg.FileSystem,
		accounting:   !cfg.DisableAccounting,
		pollingDelay: pollingDelay,
		limiter:      rate.NewLimiter(rate.Limit(commandRate), 1),
		log:          log,
		interactive:  make(map[string]string),
	}

	if err := s.loadQueues(ctx); err != nil {
		return nil, err
	}

	log.Debug("slurm scheduler created",
		zap.Strings("queues", s.queueNames),
		zap.String("default_queue", s.defaultQueue),
		zap.Bool("accounting", s.accounting))

	return s, nil
}

// runCommand executes one manager tool invocation, throttled by the command
// rate limit.
func (s *Scheduler) runCommand(ctx context.Context, stdin, executable string, args ...string) (*scripting.CommandRunner, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &scheduler.Error{Op: "runCommand", Adaptor: AdaptorName, Err: err}
	}
	return scripting.RunCommand(ctx, s.runner, stdin, executable, args...)
}

// runChecked runs a command that must fully succeed (exit 0, silent stderr).
func (s *Scheduler) runChecked(ctx context.Context, stdin, executable string, args ...string) (string, error) {
	runner, err := s.runCommand(ctx, stdin, executable, args...)
	if err != nil {
		return "", err
	}
	if !runner.Success() {
		return "", &scheduler.Error{Op: "runCommand", Adaptor: AdaptorName, Err: fmt.Errorf("%s failed (exit %d): %s", executable, runner.ExitCode(), runner.Stderr())}
	}
	return runner.Stdout(), nil
}

// loadQueues parses the partition listing. The default queue is the one the
// manager marks with a trailing asterisk.
func (s *Scheduler) loadQueues(ctx context.Context) error {
	output, err := s.runChecked(ctx, "", "sinfo", "--noheader", "--format=%P")
	if err != nil {
		return err
	}

	for _, line := range strings.Fields(output) {
		name := strings.TrimSuffix(line, "*")
		if name == "" {
			continue
		}
		if strings.HasSuffix(line, "*") {
			s.defaultQueue = name
		}
		s.queueNames = append(s.queueNames, name)
	}
	return nil
}

// AdaptorName returns "slurm".
func (s *Scheduler) AdaptorName() string {
	return AdaptorName
}

// QueueNames returns the partitions discovered at construction.
func (s *Scheduler) QueueNames() []string {
	out := make([]string, len(s.queueNames))
	copy(out, s.queueNames)
	return out
}

// DefaultQueueName returns the manager's default partition.
func (s *Scheduler) DefaultQueueName() string {
	return s.defaultQueue
}

// DefaultRuntime returns the runtime in minutes applied when a description
// asks for the adaptor default.
func (s *Scheduler) DefaultRuntime() int {
	return DefaultRuntimeMinutes
}

func (s *Scheduler) entryPath() fspath.Path {
	if s.fs != nil {
		return s.fs.WorkingDirectory()
	}
	return fspath.New("/")
}

// SubmitBatchJob renders a submit script and feeds it to the submit tool on
// stdin.
func (s *Scheduler) SubmitBatchJob(ctx context.Context, description *scheduler.JobDescription) (string, error) {
	description = description.Clone()

	if err := verifyDescription(description, s.queueNames, false); err != nil {
		return "", err
	}

	script := GenerateSubmitScript(description, s.entryPath(), s.DefaultRuntime())

	s.log.Debug("submitting batch job", zap.String("script", script))

	output, err := s.runChecked(ctx, script, "sbatch")
	if err != nil {
		return "", err
	}

	jobID, err := ParseSubmitOutput(output)
	if err != nil {
		return "", &scheduler.Error{Op: "SubmitBatchJob", Adaptor: AdaptorName, Err: err}
	}

	s.log.Debug("batch job submitted", zap.String("job_id", jobID))
	return jobID, nil
}

// SubmitInteractiveJob starts an interactive session via the per-task
// launcher, tagged with a fresh uuid, then locates the manager's job id for
// that tag in the queue.
func (s *Scheduler) SubmitInteractiveJob(ctx context.Context, description *scheduler.JobDescription) (*scheduler.Streams, error) {
	description = description.Clone()

	if err := verifyDescription(description, s.queueNames, true); err != nil {
		return nil, err
	}

	tag := uuid.New()
	args := GenerateInteractiveArguments(description, s.entryPath(), tag, s.DefaultRuntime())

	inner := scheduler.NewJobDescription()
	inner.Executable = "srun"
	inner.Arguments = args
	inner.QueueName = "unlimited"

	streams, err := s.runner.SubmitInteractiveJob(ctx, inner)
	if err != nil {
		return nil, err
	}

	jobID, err := s.findInteractiveJob(ctx, tag.String())
	if err != nil {
		// The session is already running; take it down before failing.
		_, _ = s.runner.CancelJob(ctx, streams.JobID())
		return nil, err
	}

	s.mu.Lock()
	s.interactive[jobID] = streams.JobID()
	s.mu.Unlock()

	return scheduler.NewStreams(jobID, streams.Stdin(), streams.Stdout(), streams.Stderr()), nil
}

// findInteractiveJob polls the queue for the uuid tag a freshly launched
// interactive session was labeled with.
func (s *Scheduler) findInteractiveJob(ctx context.Context, tag string) (string, error) {
	deadline := scheduler.Deadline(time.Minute)

	for time.Now().Before(deadline) {
		output, err := s.runChecked(ctx, "", "squeue", "--noheader", "--format=%i", "--name="+tag)
		if err != nil {
			return "", err
		}
		if id := strings.TrimSpace(output); id != "" {
			return strings.Fields(id)[0], nil
		}

		select {
		case <-time.After(s.pollingDelay):
		case <-ctx.Done():
			return "", &scheduler.Error{Op: "SubmitInteractiveJob", Adaptor: AdaptorName, Err: ctx.Err()}
		}
	}
	return "", &scheduler.Error{Op: "SubmitInteractiveJob", Adaptor: AdaptorName, Err: fmt.Errorf("interactive job %s did not appear in the queue", tag)}
}

// Jobs lists the unfinished jobs, optionally restricted to partitions.
func (s *Scheduler) Jobs(ctx context.Context, queues ...string) ([]string, error) {
	for _, q := range queues {
		if !s.hasQueue(q) {
			return nil, &scheduler.Error{Op: "Jobs", Adaptor: AdaptorName, Err: fmt.Errorf("%w: %s", scheduler.ErrNoSuchQueue, q)}
		}
	}

	args := []string{"--noheader", "--format=%i"}
	if len(queues) > 0 {
		args = append(args, "--partition="+strings.Join(queues, ","))
	}

	output, err := s.runChecked(ctx, "", "squeue", args...)
	if err != nil {
		return nil, err
	}
	return strings.Fields(output), nil
}

func (s *Scheduler) hasQueue(name string) bool {
	for _, q := range s.queueNames {
		if q == name {
			return true
		}
	}
	return false
}

// QueueStatus inspects one partition.
func (s *Scheduler) QueueStatus(ctx context.Context, queue string) (scheduler.QueueStatus, error) {
	output, err := s.runChecked(ctx, "", "sinfo", "--format=%P %a %l %D %T %c")
	if err != nil {
		return scheduler.QueueStatus{}, err
	}

	table, err := parsePartitionTable(output)
	if err != nil {
		return scheduler.QueueStatus{}, &scheduler.Error{Op: "QueueStatus", Adaptor: AdaptorName, Err: err}
	}

	status := queueStatusFromPartitionInfo(table, queue)
	if status == nil {
		return scheduler.QueueStatus{}, &scheduler.Error{Op: "QueueStatus", Adaptor: AdaptorName, Err: fmt.Errorf("%w: %s", scheduler.ErrNoSuchQueue, queue)}
	}
	return *status, nil
}

// parsePartitionTable keys the partition listing by partition name, with the
// default-queue marker stripped.
func parsePartitionTable(output string) (map[string]map[string]string, error) {
	table, err := scripting.ParseTable(output, "PARTITION", "", AdaptorName)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]string, len(table))
	for name, record := range table {
		out[strings.TrimSuffix(name, "*")] = record
	}
	return out, nil
}

// QueueStatuses inspects several partitions, embedding per-queue failures.
func (s *Scheduler) QueueStatuses(ctx context.Context, queues ...string) ([]scheduler.QueueStatus, error) {
	if len(queues) == 0 {
		queues = s.QueueNames()
	}

	out := make([]scheduler.QueueStatus, 0, len(queues))
	for _, name := range queues {
		status, err := s.QueueStatus(ctx, name)
		if err != nil {
			out = append(out, scheduler.NewQueueStatus(name, err, nil))
		} else {
			out = append(out, status)
		}
	}
	return out, nil
}

// JobStatus asks the queue first; finished jobs fall through to accounting,
// then to the controller.
func (s *Scheduler) JobStatus(ctx context.Context, jobID string) (scheduler.JobStatus, error) {
	if jobID == "" {
		return scheduler.JobStatus{}, &scheduler.Error{Op: "JobStatus", Adaptor: AdaptorName, Err: fmt.Errorf("%w: job identifier is empty", scheduler.ErrBadParameter)}
	}

	// Interactive sessions live in the runner; their exit is observed there.
	s.mu.Lock()
	runnerID, ok := s.interactive[jobID]
	s.mu.Unlock()

	if ok {
		status, err := s.runner.JobStatus(ctx, runnerID)
		if err != nil {
			return scheduler.JobStatus{}, err
		}
		if status.Done() {
			s.mu.Lock()
			delete(s.interactive, jobID)
			s.mu.Unlock()
		}
		code, hasCode := status.ExitCode()
		var codePtr *int
		if hasCode {
			codePtr = &code
		}
		return scheduler.NewJobStatus(jobID, status.Name(), status.State(), codePtr, status.Err(), status.Running(), status.Done(), status.SchedulerSpecific()), nil
	}

	status, err := s.queueStatus(ctx, jobID)
	if err != nil {
		return scheduler.JobStatus{}, err
	}

	if status == nil && s.accounting {
		status, err = s.accountingStatus(ctx, jobID)
		if err != nil {
			return scheduler.JobStatus{}, err
		}
	}

	if status == nil {
		status, err = s.controlStatus(ctx, jobID)
		if err != nil {
			return scheduler.JobStatus{}, err
		}
	}

	if status == nil {
		return scheduler.JobStatus{}, &scheduler.Error{Op: "JobStatus", Adaptor: AdaptorName, Job: jobID, Err: scheduler.ErrNoSuchJob}
	}
	return *status, nil
}

func (s *Scheduler) queueStatus(ctx context.Context, jobID string) (*scheduler.JobStatus, error) {
	runner, err := s.runCommand(ctx, "", "squeue", "--format=%i %j %T", "--jobs="+jobID)
	if err != nil {
		return nil, err
	}
	// The queue tool fails loudly for ids it no longer knows; that just
	// means the job left the queue.
	if !runner.SuccessIgnoreError() {
		return nil, nil
	}

	info, err := scripting.ParseTable(runner.Stdout(), "JOBID", "", AdaptorName)
	if err != nil {
		return nil, &scheduler.Error{Op: "JobStatus", Adaptor: AdaptorName, Job: jobID, Err: err}
	}
	return statusFromQueue(info, jobID)
}

func (s *Scheduler) accountingStatus(ctx context.Context, jobID string) (*scheduler.JobStatus, error) {
	output, err := s.runChecked(ctx, "", "sacct", "-X", "-p", "--format=JobID,JobName,State,ExitCode", "--jobs="+jobID)
	if err != nil {
		return nil, err
	}

	info, err := scripting.ParseTable(output, "JobID", "|", AdaptorName)
	if err != nil {
		return nil, &scheduler.Error{Op: "JobStatus", Adaptor: AdaptorName, Job: jobID, Err: err}
	}
	return statusFromAccounting(info, jobID)
}

func (s *Scheduler) controlStatus(ctx context.Context, jobID string) (*scheduler.JobStatus, error) {
	runner, err := s.runCommand(ctx, "", "scontrol", "-o", "show", "job", jobID)
	if err != nil {
		return nil, err
	}
	if !runner.SuccessIgnoreError() {
		return nil, nil
	}

	jobInfo := scripting.ParseKeyValuePairs(runner.Stdout())
	return statusFromControl(jobInfo, jobID)
}

// JobStatuses returns the statuses of several jobs, embedding per-job
// failures in the result entries.
func (s *Scheduler) JobStatuses(ctx context.Context, jobIDs ...string) []scheduler.JobStatus {
	out := make([]scheduler.JobStatus, 0, len(jobIDs))
	for _, id := range jobIDs {
		status, err := s.JobStatus(ctx, id)
		if err != nil {
			out = append(out, scheduler.NewJobStatus(id, "", scheduler.StateError, nil, err, false, true, nil))
		} else {
			out = append(out, status)
		}
	}
	return out
}

// CancelJob asks the manager to cancel and reports the status afterwards.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) (scheduler.JobStatus, error) {
	if _, err := s.runChecked(ctx, "", "scancel", jobID); err != nil {
		return scheduler.JobStatus{}, err
	}
	return s.JobStatus(ctx, jobID)
}

// WaitUntilDone polls until the job reaches a terminal state or the timeout
// expires. timeout 0 waits indefinitely; negative is invalid.
func (s *Scheduler) WaitUntilDone(ctx context.Context, jobID string, timeout time.Duration) (scheduler.JobStatus, error) {
	return s.waitFor(ctx, jobID, timeout, func(status scheduler.JobStatus) bool { return status.Done() })
}

// WaitUntilRunning polls until the job leaves the pending state or the
// timeout expires. timeout 0 waits indefinitely; negative is invalid.
func (s *Scheduler) WaitUntilRunning(ctx context.Context, jobID string, timeout time.Duration) (scheduler.JobStatus, error) {
	return s.waitFor(ctx, jobID, timeout, func(status scheduler.JobStatus) bool { return status.Running() || status.Done() })
}

func (s *Scheduler) waitFor(ctx context.Context, jobID string, timeout time.Duration, pred func(scheduler.JobStatus) bool) (scheduler.JobStatus, error) {
	if timeout < 0 {
		return scheduler.JobStatus{}, &scheduler.Error{Op: "Wait", Adaptor: AdaptorName, Job: jobID, Err: fmt.Errorf("%w: negative timeout", scheduler.ErrBadParameter)}
	}

	deadline := scheduler.Deadline(timeout)

	for {
		status, err := s.JobStatus(ctx, jobID)
		if err != nil {
			return scheduler.JobStatus{}, err
		}
		if pred(status) || !time.Now().Before(deadline) {
			return status, nil
		}

		sleep := s.pollingDelay
		if left := time.Until(deadline); left < sleep {
			sleep = left
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return status, &scheduler.Error{Op: "Wait", Adaptor: AdaptorName, Job: jobID, Err: ctx.Err()}
		}
	}
}

// FileSystem returns the filesystem this scheduler resolves paths against.
func (s *Scheduler) FileSystem() (*filesystem.FileSystem, error) {
	if s.fs == nil {
		return nil, &scheduler.Error{Op: "FileSystem", Adaptor: AdaptorName, Err: scheduler.ErrUnsupportedOperation}
	}
	return s.fs, nil
}

// IsOpen reports whether the inner scheduler is usable.
func (s *Scheduler) IsOpen(ctx context.Context) (bool, error) {
	return s.runner.IsOpen(ctx)
}

// Close shuts down the inner scheduler.
func (s *Scheduler) Close() error {
	return s.runner.Close()
}
