package slurm

import (
	"fmt"
	"strings"

	"github.com/3leaps/gridlink/pkg/scheduler"
	"github.com/3leaps/gridlink/pkg/scheduler/scripting"
)

// statusFromAccounting derives a job status from the accounting dump (one
// record per job, keyed by job id). Returns nil when the job is unknown.
func statusFromAccounting(info map[string]map[string]string, jobID string) (*scheduler.JobStatus, error) {
	if info == nil {
		return nil, nil
	}

	jobInfo, ok := info[jobID]
	if !ok {
		return nil, nil
	}

	if err := scripting.VerifyJobInfo(jobInfo, jobID, AdaptorName, "JobID", "JobName", "State", "ExitCode"); err != nil {
		return nil, err
	}

	name := jobInfo["JobName"]
	state := jobInfo["State"]

	exitCode, err := ParseExitCode(jobInfo["ExitCode"])
	if err != nil {
		return nil, &scheduler.Error{Op: "JobStatus", Adaptor: AdaptorName, Job: jobID, Err: err}
	}

	statusErr := deriveError(state, exitCode, "")

	status := scheduler.NewJobStatus(jobID, name, state, exitCode, statusErr, IsRunningState(state), IsDoneOrFailedState(state), jobInfo)
	return &status, nil
}

// statusFromControl derives a job status from the controller's key=value
// record. Some manager versions return the most recent job when they fail to
// parse the requested id; a record that does not verify is treated as "no
// information" rather than an error.
func statusFromControl(jobInfo map[string]string, jobID string) (*scheduler.JobStatus, error) {
	if len(jobInfo) == 0 {
		return nil, nil
	}

	if err := scripting.VerifyJobInfo(jobInfo, jobID, AdaptorName, "JobId", "JobName", "JobState", "ExitCode", "Reason"); err != nil {
		return nil, nil
	}

	name := jobInfo["JobName"]
	state := jobInfo["JobState"]
	reason := jobInfo["Reason"]

	exitCode, err := ParseExitCode(jobInfo["ExitCode"])
	if err != nil {
		return nil, &scheduler.Error{Op: "JobStatus", Adaptor: AdaptorName, Job: jobID, Err: err}
	}

	statusErr := deriveError(state, exitCode, reason)

	status := scheduler.NewJobStatus(jobID, name, state, exitCode, statusErr, IsRunningState(state), IsDoneOrFailedState(state), jobInfo)
	return &status, nil
}

// statusFromQueue derives a job status from the queue listing. The listing
// carries no exit information, so the result is never terminal. Returns nil
// when the job is not in the queue.
func statusFromQueue(info map[string]map[string]string, jobID string) (*scheduler.JobStatus, error) {
	if info == nil {
		return nil, nil
	}

	jobInfo, ok := info[jobID]
	if !ok {
		return nil, nil
	}

	if err := scripting.VerifyJobInfo(jobInfo, jobID, AdaptorName, "JOBID", "NAME", "STATE"); err != nil {
		return nil, err
	}

	name := jobInfo["NAME"]
	state := jobInfo["STATE"]

	status := scheduler.NewJobStatus(jobID, name, state, nil, nil, IsRunningState(state), false, jobInfo)
	return &status, nil
}

// deriveError maps a terminal state onto the error a caller observes.
//
// A FAILED state whose cause is the user process itself (nonzero exit code,
// or a NonZeroExitCode reason from the controller) carries no error: the job
// ran fine, the program failed.
func deriveError(state string, exitCode *int, reason string) error {
	legitimateFailure := state == "FAILED" &&
		(reason == "NonZeroExitCode" || (reason == "" && exitCode != nil && *exitCode != 0))

	switch {
	case !IsFailedState(state) || legitimateFailure:
		return nil
	case strings.HasPrefix(state, "CANCELLED"):
		return &scheduler.Error{Op: "JobStatus", Adaptor: AdaptorName, Err: fmt.Errorf("%w: job %s", scheduler.ErrJobCanceled, strings.ToLower(state))}
	case reason != "" && reason != "None":
		return &scheduler.Error{Op: "JobStatus", Adaptor: AdaptorName, Err: fmt.Errorf("job failed with state %q and reason: %s", state, reason)}
	default:
		return &scheduler.Error{Op: "JobStatus", Adaptor: AdaptorName, Err: fmt.Errorf("job failed with state %q for unknown reason", state)}
	}
}

// queueStatusFromPartitionInfo derives a queue status from the partition
// listing. Returns nil when the queue is unknown.
func queueStatusFromPartitionInfo(info map[string]map[string]string, queueName string) *scheduler.QueueStatus {
	if info == nil {
		return nil
	}

	queueInfo, ok := info[queueName]
	if !ok {
		return nil
	}

	status := scheduler.NewQueueStatus(queueName, nil, queueInfo)
	return &status
}
