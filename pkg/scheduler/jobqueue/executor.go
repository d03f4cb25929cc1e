package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
	"github.com/3leaps/gridlink/pkg/scheduler"
)

// Executor drives one job through its lifecycle:
//
//	PENDING -> RUNNING -> DONE
//	PENDING -> KILLED                    (killed before start)
//	PENDING -> ERROR                     (start failure)
//	RUNNING -> KILLED                    (cancel or deadline)
//
// Terminal states set done; transitions out of a terminal state do not
// happen. All fields are guarded by mu; waiters are woken through the
// changed channel, which is closed and replaced on every state change.
type Executor struct {
	adaptor        string
	fs             *filesystem.FileSystem
	workDir        fspath.Path
	factory        InteractiveProcessFactory
	description    *scheduler.JobDescription
	jobID          string
	interactive    bool
	pollingDelay   time.Duration
	startupTimeout time.Duration
	log            *zap.Logger

	mu      sync.Mutex
	changed chan struct{}

	streams      *scheduler.Streams
	exitStatus   *int
	updateSignal bool
	isRunning    bool
	killed       bool
	done         bool
	hasRun       bool
	state        string
	err          error
}

func newExecutor(adaptor string, fs *filesystem.FileSystem, workDir fspath.Path, factory InteractiveProcessFactory, description *scheduler.JobDescription, jobID string, interactive bool, pollingDelay, startupTimeout time.Duration, log *zap.Logger) *Executor {
	return &Executor{
		adaptor:        adaptor,
		fs:             fs,
		workDir:        workDir,
		factory:        factory,
		description:    description,
		jobID:          jobID,
		interactive:    interactive,
		pollingDelay:   pollingDelay,
		startupTimeout: startupTimeout,
		log:            log,
		changed:        make(chan struct{}),
		state:          scheduler.StatePending,
	}
}

// JobID returns the job identifier.
func (e *Executor) JobID() string {
	return e.jobID
}

// Description returns the (already defensively copied) job description.
func (e *Executor) Description() *scheduler.JobDescription {
	return e.description
}

// notifyLocked wakes every waiter. Callers must hold mu.
func (e *Executor) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// HasRun reports whether the job ever reached the running state.
func (e *Executor) HasRun() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasRun
}

// IsDone reports whether the job reached a terminal state.
func (e *Executor) IsDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Err returns the terminal error, or nil.
func (e *Executor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// State returns the current lifecycle state string.
func (e *Executor) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Kill requests termination. When the job has not started yet the KILLED
// terminal state is synthesized immediately and true is returned. When the
// job is already running false is returned and the driver loop will destroy
// the process at its next poll. Killing a finished job is a no-op returning
// true.
func (e *Executor) Kill() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return true
	}

	e.killed = true

	if !e.isRunning {
		e.updateStateLocked(scheduler.StateKilled, -1, &scheduler.Error{Op: "CancelJob", Adaptor: e.adaptor, Job: e.jobID, Err: fmt.Errorf("%w: process cancelled by user", scheduler.ErrJobCanceled)})
		return true
	}
	return false
}

// Streams returns the interactive stream handles.
func (e *Executor) Streams() (*scheduler.Streams, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streams == nil {
		return nil, &scheduler.Error{Op: "Streams", Adaptor: e.adaptor, Job: e.jobID, Err: fmt.Errorf("streams not available")}
	}
	return e.streams, nil
}

// Status reports the current status. When the job is running, the driver is
// nudged for a fresh poll first and given up to one polling delay to react,
// so the observation is at most one interval old.
func (e *Executor) Status() scheduler.JobStatus {
	e.mu.Lock()

	if !e.done && e.state == scheduler.StateRunning {
		e.triggerStatusUpdateLocked()
		e.waitForStatusUpdateLocked(e.pollingDelay)
	}

	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Executor) statusLocked() scheduler.JobStatus {
	return scheduler.NewJobStatus(e.jobID, e.description.Name, e.state, e.exitStatus, e.err, e.state == scheduler.StateRunning, e.done, nil)
}

// WaitUntilRunning blocks until the job leaves PENDING or the timeout
// expires. A zero timeout waits indefinitely.
func (e *Executor) WaitUntilRunning(ctx context.Context, timeout time.Duration) scheduler.JobStatus {
	deadline := scheduler.Deadline(timeout)

	e.mu.Lock()
	e.triggerStatusUpdateLocked()
	e.awaitLocked(ctx, deadline, func() bool { return e.state != scheduler.StatePending })
	e.mu.Unlock()

	return e.Status()
}

// WaitUntilDone blocks until the job reaches a terminal state or the timeout
// expires. A zero timeout waits indefinitely.
func (e *Executor) WaitUntilDone(ctx context.Context, timeout time.Duration) scheduler.JobStatus {
	deadline := scheduler.Deadline(timeout)

	e.mu.Lock()
	e.triggerStatusUpdateLocked()
	e.awaitLocked(ctx, deadline, func() bool { return e.done })
	e.mu.Unlock()

	return e.Status()
}

// awaitLocked waits until pred holds, the deadline passes, or ctx is
// cancelled. mu must be held; it is released while blocked. The deadline is
// re-evaluated against a fresh clock reading every iteration.
func (e *Executor) awaitLocked(ctx context.Context, deadline time.Time, pred func() bool) {
	for !pred() {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}

		ch := e.changed
		e.mu.Unlock()

		timer := time.NewTimer(left)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			e.mu.Lock()
			return
		}
		e.mu.Lock()
	}
}

// triggerStatusUpdateLocked asks the driver loop for an eager poll.
func (e *Executor) triggerStatusUpdateLocked() {
	if e.done {
		return
	}
	e.updateSignal = true
	e.notifyLocked()
}

// waitForStatusUpdateLocked waits until the driver clears the update signal,
// bounded by maxDelay.
func (e *Executor) waitForStatusUpdateLocked(maxDelay time.Duration) {
	if e.done || !e.updateSignal {
		return
	}
	deadline := time.Now().Add(maxDelay)
	for !e.done && e.updateSignal && time.Now().Before(deadline) {
		ch := e.changed
		e.mu.Unlock()

		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
		}
		e.mu.Lock()
	}
}

// clearUpdateRequestLocked acknowledges an update request and wakes waiters.
func (e *Executor) clearUpdateRequestLocked() {
	e.updateSignal = false
	e.notifyLocked()
}

// sleep pauses between polls. It returns early when the job finishes or an
// update is requested.
func (e *Executor) sleep(maxDelay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || e.updateSignal || maxDelay <= 0 {
		return
	}

	deadline := time.Now().Add(maxDelay)
	for !e.done && !e.updateSignal {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}

		ch := e.changed
		e.mu.Unlock()

		timer := time.NewTimer(left)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
		}
		e.mu.Lock()
	}
}

// updateStateLocked performs a state transition. mu must be held.
func (e *Executor) updateStateLocked(state string, exitStatus int, err error) {
	switch state {
	case scheduler.StateError, scheduler.StateKilled:
		e.err = err
		e.done = true
	case scheduler.StateDone:
		code := exitStatus
		e.exitStatus = &code
		e.done = true
	case scheduler.StateRunning:
		e.hasRun = true
	default:
		panic("illegal executor state: " + state)
	}

	e.state = state
	e.clearUpdateRequestLocked()
}

func (e *Executor) updateState(state string, exitStatus int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateStateLocked(state, exitStatus, err)
}

// markRunning flags the job as started and reports whether a kill arrived
// first.
func (e *Executor) markRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isRunning = true
	return e.killed
}

func (e *Executor) wasKilled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killed
}

func (e *Executor) setStreams(streams *scheduler.Streams) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streams = streams
}

// resolveWorkdir resolves the description's working directory against the
// scheduler's filesystem entry path.
func (e *Executor) resolveWorkdir() fspath.Path {
	wd := e.description.WorkingDirectory
	if wd == "" {
		return e.workDir
	}
	p := fspath.New(wd)
	if p.IsAbsolute() {
		return p
	}
	return e.workDir.Resolve(p)
}

// Run is the driver loop. It is executed on a queue worker.
func (e *Executor) Run() {
	e.log.Debug("starting job", zap.String("adaptor", e.adaptor), zap.String("job_id", e.jobID))

	if e.markRunning() {
		e.updateState(scheduler.StateKilled, -1, &scheduler.Error{Op: "Run", Adaptor: e.adaptor, Job: e.jobID, Err: fmt.Errorf("%w: process cancelled by user", scheduler.ErrJobCanceled)})
		e.log.Debug("killed before start", zap.String("job_id", e.jobID))
		return
	}

	var endTime time.Time
	if e.description.MaxRuntime > 0 {
		endTime = time.Now().Add(time.Duration(e.description.MaxRuntime) * time.Minute)
	}

	ctx := context.Background()

	workdir := e.resolveWorkdir()

	exists, err := e.fs.Exists(ctx, workdir)
	if err == nil && !exists {
		err = fmt.Errorf("working directory %s does not exist", workdir)
	}
	if err != nil {
		e.updateState(scheduler.StateError, -1, &scheduler.Error{Op: "Run", Adaptor: e.adaptor, Job: e.jobID, Err: err})
		return
	}

	var process Process
	if e.interactive {
		p, err := e.factory.CreateInteractiveProcess(ctx, e.description, workdir.String(), e.jobID, e.startupTimeout)
		if err != nil {
			e.updateState(scheduler.StateError, -1, &scheduler.Error{Op: "Run", Adaptor: e.adaptor, Job: e.jobID, Err: err})
			return
		}
		e.setStreams(p.Streams())
		process = p
	} else {
		p, err := newBatchProcess(ctx, e.fs, workdir, e.description, e.jobID, e.factory, e.startupTimeout)
		if err != nil {
			e.updateState(scheduler.StateError, -1, &scheduler.Error{Op: "Run", Adaptor: e.adaptor, Job: e.jobID, Err: err})
			return
		}
		process = p
	}

	e.updateState(scheduler.StateRunning, -1, nil)

	for {
		if process.IsDone() {
			e.updateState(scheduler.StateDone, process.ExitStatus(), nil)
			e.log.Debug("job done", zap.String("job_id", e.jobID), zap.Int("exit", process.ExitStatus()))
			return
		}

		if e.wasKilled() {
			// Destroy first, then publish the state, so nobody
			// observes KILLED while the process still lives.
			process.Destroy()
			e.updateState(scheduler.StateKilled, -1, &scheduler.Error{Op: "Run", Adaptor: e.adaptor, Job: e.jobID, Err: fmt.Errorf("%w: process cancelled by user", scheduler.ErrJobCanceled)})
			e.log.Debug("job killed", zap.String("job_id", e.jobID))
			return
		}

		if !endTime.IsZero() && time.Now().After(endTime) {
			process.Destroy()
			e.updateState(scheduler.StateKilled, -1, &scheduler.Error{Op: "Run", Adaptor: e.adaptor, Job: e.jobID, Err: fmt.Errorf("%w: process timed out", scheduler.ErrJobCanceled)})
			e.log.Debug("job timed out", zap.String("job_id", e.jobID))
			return
		}

		e.mu.Lock()
		e.clearUpdateRequestLocked()
		e.mu.Unlock()

		e.sleep(e.pollingDelay)
	}
}
