package slurm

import "strings"

// State sets reported by the resource manager. Classification matches on
// prefix because the manager suffixes qualifiers (e.g. "CANCELLED by 1001",
// "RUNNING+0").

// failedStates: the job terminated abnormally. FAILED covers a nonzero exit
// or other failure condition; CANCELLED an explicit cancel; NODE_FAIL a node
// loss; TIMEOUT the wall-time limit; PREEMPTED displacement by a more
// important job; BOOT_FAIL a launch failure.
var failedStates = []string{"FAILED", "CANCELLED", "NODE_FAIL", "TIMEOUT", "PREEMPTED", "BOOT_FAIL"}

// runningStates: resources are allocated and the job is progressing.
var runningStates = []string{"CONFIGURING", "RUNNING", "COMPLETING"}

// pendingStates: the job is waiting, stopped or suspended with its
// allocation retained or released.
var pendingStates = []string{"PENDING", "STOPPED", "SUSPENDED", "SPECIAL_EXIT"}

// doneState: the job and all its processes finished with exit code 0.
const doneState = "COMPLETED"

func matchesAny(state string, set []string) bool {
	for _, s := range set {
		if strings.HasPrefix(state, s) {
			return true
		}
	}
	return false
}

// IsRunningState reports whether the state string is a running state.
func IsRunningState(state string) bool {
	return matchesAny(state, runningStates)
}

// IsPendingState reports whether the state string is a pending state.
func IsPendingState(state string) bool {
	return matchesAny(state, pendingStates)
}

// IsFailedState reports whether the state string is a failed state.
func IsFailedState(state string) bool {
	return matchesAny(state, failedStates)
}

// IsDoneState reports whether the state string is the completed state.
func IsDoneState(state string) bool {
	return state == doneState
}

// IsDoneOrFailedState reports whether the state string is terminal.
func IsDoneOrFailedState(state string) bool {
	return IsDoneState(state) || IsFailedState(state)
}
