package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gridlink/pkg/credential"
	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
	"github.com/3leaps/gridlink/pkg/scheduler"
)

// Queue names of the local engine.
const (
	SingleQueue    = "single"
	MultiQueue     = "multi"
	UnlimitedQueue = "unlimited"
)

// Polling delay bounds enforced at construction.
const (
	MinPollingDelay = 100 * time.Millisecond
	MaxPollingDelay = 60 * time.Second
)

// workerPool runs tasks on a bounded set of goroutines. A non-positive size
// makes the pool unbounded: every task gets its own goroutine.
type workerPool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	unbounded bool
}

func newWorkerPool(size int) *workerPool {
	p := &workerPool{unbounded: size <= 0}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *workerPool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		task()
	}
}

func (p *workerPool) submit(task func()) {
	if p.unbounded {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			go task()
		}
		return
	}

	p.mu.Lock()
	if !p.closed {
		p.queue = append(p.queue, task)
		p.cond.Signal()
	}
	p.mu.Unlock()
}

// shutdown stops accepting work and releases idle workers. Running tasks
// finish on their own.
func (p *workerPool) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Config assembles a local job-queue scheduler.
type Config struct {
	// AdaptorName labels jobs and errors (e.g. "local", "ssh").
	AdaptorName string

	// Location is the location string the scheduler was created for.
	Location string

	// Credential is kept for inspection; the local engine does not use it.
	Credential credential.Credential

	// Factory creates the processes backing jobs.
	Factory InteractiveProcessFactory

	// FileSystem is the filesystem jobs run against.
	FileSystem *filesystem.FileSystem

	// WorkingDirectory is the entry path job working directories resolve
	// against.
	WorkingDirectory fspath.Path

	// MultiSlots is the worker count of the multi queue. Must be >= 1.
	MultiSlots int

	// PollingDelay is the executor poll interval. Must lie within
	// [MinPollingDelay, MaxPollingDelay].
	PollingDelay time.Duration

	// StartupTimeout bounds transport-level process setup.
	StartupTimeout time.Duration

	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Scheduler multiplexes job submissions over three queues: single (one
// worker), multi (MultiSlots workers) and unlimited. Queue lists keep
// insertion order; jobs are removed when a terminal status is observed.
type Scheduler struct {
	adaptor        string
	location       string
	cred           credential.Credential
	fs             *filesystem.FileSystem
	workDir        fspath.Path
	factory        InteractiveProcessFactory
	pollingDelay   time.Duration
	startupTimeout time.Duration
	log            *zap.Logger

	singlePool    *workerPool
	multiPool     *workerPool
	unlimitedPool *workerPool

	mu        sync.Mutex
	queues    map[string][]*Executor
	nextJobID int64
	closed    bool
}

var _ scheduler.Scheduler = (*Scheduler)(nil)

// New validates the configuration and starts the three worker pools.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Factory == nil {
		return nil, &scheduler.Error{Op: "New", Adaptor: cfg.AdaptorName, Err: fmt.Errorf("%w: process factory is required", scheduler.ErrBadParameter)}
	}
	if cfg.FileSystem == nil {
		return nil, &scheduler.Error{Op: "New", Adaptor: cfg.AdaptorName, Err: fmt.Errorf("%w: filesystem is required", scheduler.ErrBadParameter)}
	}
	if cfg.MultiSlots < 1 {
		return nil, &scheduler.Error{Op: "New", Adaptor: cfg.AdaptorName, Err: fmt.Errorf("%w: multi queue needs at least one slot", scheduler.ErrBadParameter)}
	}
	if cfg.PollingDelay < MinPollingDelay || cfg.PollingDelay > MaxPollingDelay {
		return nil, &scheduler.Error{Op: "New", Adaptor: cfg.AdaptorName, Err: fmt.Errorf("%w: polling delay must be between %s and %s", scheduler.ErrBadParameter, MinPollingDelay, MaxPollingDelay)}
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Scheduler{
		adaptor:        cfg.AdaptorName,
		location:       cfg.Location,
		cred:           cfg.Credential,
		fs:             cfg.FileSystem,
		workDir:        cfg.WorkingDirectory,
		factory:        cfg.Factory,
		pollingDelay:   cfg.PollingDelay,
		startupTimeout: cfg.StartupTimeout,
		log:            log,
		singlePool:     newWorkerPool(1),
		multiPool:      newWorkerPool(cfg.MultiSlots),
		unlimitedPool:  newWorkerPool(0),
		queues: map[string][]*Executor{
			SingleQueue:    nil,
			MultiQueue:     nil,
			UnlimitedQueue: nil,
		},
	}

	log.Debug("job queue scheduler created",
		zap.String("adaptor", cfg.AdaptorName),
		zap.Int("multi_slots", cfg.MultiSlots),
		zap.Duration("polling_delay", cfg.PollingDelay))

	return s, nil
}

// AdaptorName returns the back-end name.
func (s *Scheduler) AdaptorName() string {
	return s.adaptor
}

// Location returns the location string the scheduler was created for.
func (s *Scheduler) Location() string {
	return s.location
}

// Credential returns the credential the scheduler was created with.
func (s *Scheduler) Credential() credential.Credential {
	return s.cred
}

// QueueNames returns the three fixed queue names.
func (s *Scheduler) QueueNames() []string {
	return []string{SingleQueue, MultiQueue, UnlimitedQueue}
}

// DefaultQueueName returns "single".
func (s *Scheduler) DefaultQueueName() string {
	return SingleQueue
}

// DefaultRuntime returns 0: local jobs run unlimited by default.
func (s *Scheduler) DefaultRuntime() int {
	return 0
}

// Jobs returns the identifiers of unharvested jobs in the given queues, in
// insertion order, or across all three queues when none are named.
func (s *Scheduler) Jobs(ctx context.Context, queues ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(queues) == 0 {
		queues = []string{SingleQueue, MultiQueue, UnlimitedQueue}
	}

	var out []string
	for _, name := range queues {
		q, ok := s.queues[name]
		if !ok {
			return nil, &scheduler.Error{Op: "Jobs", Adaptor: s.adaptor, Err: fmt.Errorf("%w: %s", scheduler.ErrNoSuchQueue, name)}
		}
		for _, e := range q {
			out = append(out, e.JobID())
		}
	}
	return out, nil
}

// QueueStatus inspects a single queue.
func (s *Scheduler) QueueStatus(ctx context.Context, queue string) (scheduler.QueueStatus, error) {
	s.mu.Lock()
	_, ok := s.queues[queue]
	s.mu.Unlock()

	if !ok {
		return scheduler.QueueStatus{}, &scheduler.Error{Op: "QueueStatus", Adaptor: s.adaptor, Err: fmt.Errorf("%w: %s", scheduler.ErrNoSuchQueue, queue)}
	}
	return scheduler.NewQueueStatus(queue, nil, nil), nil
}

// QueueStatuses inspects several queues, embedding per-queue failures.
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

// verifyDescription applies the submit contract of the local engine.
func (s *Scheduler) verifyDescription(description *scheduler.JobDescription, interactive bool) error {
	if description.QueueName == "" {
		description.QueueName = SingleQueue
	}

	if _, ok := s.queues[description.QueueName]; !ok {
		return &scheduler.Error{Op: "Submit", Adaptor: s.adaptor, Err: fmt.Errorf("%w: %s", scheduler.ErrNoSuchQueue, description.QueueName)}
	}

	if description.Executable == "" {
		return &scheduler.Error{Op: "Submit", Adaptor: s.adaptor, Err: fmt.Errorf("%w: executable missing", scheduler.ErrIncompleteDescription)}
	}

	if description.Tasks != 1 {
		return &scheduler.Error{Op: "Submit", Adaptor: s.adaptor, Err: fmt.Errorf("%w: unsupported task count %d", scheduler.ErrInvalidDescription, description.Tasks)}
	}

	if description.TasksPerNode > 1 {
		return &scheduler.Error{Op: "Submit", Adaptor: s.adaptor, Err: fmt.Errorf("%w: unsupported tasks per node %d", scheduler.ErrInvalidDescription, description.TasksPerNode)}
	}

	if description.MaxRuntime < scheduler.DefaultRuntimeFlag {
		return &scheduler.Error{Op: "Submit", Adaptor: s.adaptor, Err: fmt.Errorf("%w: illegal maximum runtime %d", scheduler.ErrInvalidDescription, description.MaxRuntime)}
	}

	if interactive {
		if description.Stdin != "" {
			return &scheduler.Error{Op: "Submit", Adaptor: s.adaptor, Err: fmt.Errorf("%w: illegal stdin redirect for interactive job", scheduler.ErrInvalidDescription)}
		}
		if description.Stdout != "" && description.Stdout != DefaultStdout {
			return &scheduler.Error{Op: "Submit", Adaptor: s.adaptor, Err: fmt.Errorf("%w: illegal stdout redirect for interactive job", scheduler.ErrInvalidDescription)}
		}
		if description.Stderr != "" && description.Stderr != DefaultStderr {
			return &scheduler.Error{Op: "Submit", Adaptor: s.adaptor, Err: fmt.Errorf("%w: illegal stderr redirect for interactive job", scheduler.ErrInvalidDescription)}
		}
	}
	return nil
}

func (s *Scheduler) submit(description *scheduler.JobDescription, interactive bool) (*Executor, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}

	// Work on a defensive copy so later caller mutation has no effect.
	description = description.Clone()

	if err := s.verifyDescription(description, interactive); err != nil {
		return nil, err
	}

	s.mu.Lock()
	jobID := fmt.Sprintf("%s-%d", s.adaptor, s.nextJobID)
	s.nextJobID++

	executor := newExecutor(s.adaptor, s.fs, s.workDir, s.factory, description, jobID, interactive, s.pollingDelay, s.startupTimeout, s.log)

	queueName := description.QueueName
	s.queues[queueName] = append(s.queues[queueName], executor)
	s.mu.Unlock()

	s.log.Debug("job submitted",
		zap.String("adaptor", s.adaptor),
		zap.String("job_id", jobID),
		zap.String("queue", queueName),
		zap.Bool("interactive", interactive))

	switch queueName {
	case UnlimitedQueue:
		s.unlimitedPool.submit(executor.Run)
	case MultiQueue:
		s.multiPool.submit(executor.Run)
	default:
		s.singlePool.submit(executor.Run)
	}

	return executor, nil
}

// SubmitBatchJob runs a description with file-redirected streams.
func (s *Scheduler) SubmitBatchJob(ctx context.Context, description *scheduler.JobDescription) (string, error) {
	executor, err := s.submit(description, false)
	if err != nil {
		return "", err
	}
	return executor.JobID(), nil
}

// SubmitInteractiveJob runs a description with live streams, blocking until
// the job is running or has failed to start.
func (s *Scheduler) SubmitInteractiveJob(ctx context.Context, description *scheduler.JobDescription) (*scheduler.Streams, error) {
	executor, err := s.submit(description, true)
	if err != nil {
		return nil, err
	}

	executor.WaitUntilRunning(ctx, 0)

	if executor.IsDone() && !executor.HasRun() {
		jobID := executor.JobID()
		s.cleanupJob(jobID)
		return nil, &scheduler.Error{Op: "SubmitInteractiveJob", Adaptor: s.adaptor, Job: jobID, Err: fmt.Errorf("interactive job failed to start: %w", executor.Err())}
	}

	return executor.Streams()
}

// findJob locates an executor across all three queues.
func (s *Scheduler) findJob(jobID string) (*Executor, error) {
	if jobID == "" {
		return nil, &scheduler.Error{Op: "findJob", Adaptor: s.adaptor, Err: fmt.Errorf("%w: job identifier is empty", scheduler.ErrBadParameter)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range s.queues {
		for _, e := range q {
			if e.JobID() == jobID {
				return e, nil
			}
		}
	}
	return nil, &scheduler.Error{Op: "findJob", Adaptor: s.adaptor, Job: jobID, Err: scheduler.ErrNoSuchJob}
}

// cleanupJob removes a harvested executor from its queue.
func (s *Scheduler) cleanupJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, q := range s.queues {
		for i, e := range q {
			if e.JobID() == jobID {
				s.queues[name] = append(q[:i:i], q[i+1:]...)
				return
			}
		}
	}
}

// JobStatus returns the current status of a job. A terminal status harvests
// the job.
func (s *Scheduler) JobStatus(ctx context.Context, jobID string) (scheduler.JobStatus, error) {
	executor, err := s.findJob(jobID)
	if err != nil {
		return scheduler.JobStatus{}, err
	}

	status := executor.Status()
	if status.Done() {
		s.cleanupJob(jobID)
	}
	return status, nil
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

// WaitUntilDone blocks until the job reaches a terminal state or the timeout
// expires. timeout 0 waits indefinitely; negative is invalid. A terminal
// status harvests the job.
func (s *Scheduler) WaitUntilDone(ctx context.Context, jobID string, timeout time.Duration) (scheduler.JobStatus, error) {
	if timeout < 0 {
		return scheduler.JobStatus{}, &scheduler.Error{Op: "WaitUntilDone", Adaptor: s.adaptor, Job: jobID, Err: fmt.Errorf("%w: negative timeout", scheduler.ErrBadParameter)}
	}

	executor, err := s.findJob(jobID)
	if err != nil {
		return scheduler.JobStatus{}, err
	}

	status := executor.WaitUntilDone(ctx, timeout)
	if status.Done() {
		s.cleanupJob(jobID)
	}
	return status, nil
}

// WaitUntilRunning blocks until the job leaves the pending state or the
// timeout expires. timeout 0 waits indefinitely; negative is invalid. A
// terminal status harvests the job.
func (s *Scheduler) WaitUntilRunning(ctx context.Context, jobID string, timeout time.Duration) (scheduler.JobStatus, error) {
	if timeout < 0 {
		return scheduler.JobStatus{}, &scheduler.Error{Op: "WaitUntilRunning", Adaptor: s.adaptor, Job: jobID, Err: fmt.Errorf("%w: negative timeout", scheduler.ErrBadParameter)}
	}

	executor, err := s.findJob(jobID)
	if err != nil {
		return scheduler.JobStatus{}, err
	}

	status := executor.WaitUntilRunning(ctx, timeout)
	if status.Done() {
		s.cleanupJob(jobID)
	}
	return status, nil
}

// CancelJob marks a job killed. A job that never started reports KILLED
// immediately; a running job is destroyed by its driver loop within one
// polling delay. A terminal status harvests the job.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) (scheduler.JobStatus, error) {
	executor, err := s.findJob(jobID)
	if err != nil {
		return scheduler.JobStatus{}, err
	}

	var status scheduler.JobStatus
	if executor.Kill() {
		status = executor.Status()
	} else {
		status = executor.WaitUntilDone(ctx, s.pollingDelay)
	}

	if status.Done() {
		s.cleanupJob(jobID)
	}
	return status, nil
}

// FileSystem returns the filesystem jobs run against.
func (s *Scheduler) FileSystem() (*filesystem.FileSystem, error) {
	return s.fs, nil
}

// IsOpen reports whether the scheduler can still accept jobs.
func (s *Scheduler) IsOpen(ctx context.Context) (bool, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false, nil
	}
	return s.factory.IsOpen()
}

func (s *Scheduler) assertOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &scheduler.Error{Op: "Submit", Adaptor: s.adaptor, Err: scheduler.ErrNotConnected}
	}
	return nil
}

// Close shuts down the three worker pools and the process factory. Running
// jobs are not waited for.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.singlePool.shutdown()
	s.multiPool.shutdown()
	s.unlimitedPool.shutdown()
	return s.factory.Close()
}
