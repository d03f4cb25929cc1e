package slurm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gridlink/pkg/scheduler"
)

func TestStatusFromAccounting(t *testing.T) {
	info := map[string]map[string]string{
		"42": {"JobID": "42", "JobName": "run", "State": "COMPLETED", "ExitCode": "0:0"},
		"43": {"JobID": "43", "JobName": "bad", "State": "FAILED", "ExitCode": "1:0"},
		"44": {"JobID": "44", "JobName": "cut", "State": "CANCELLED by 1001", "ExitCode": "0:15"},
		"45": {"JobID": "45", "JobName": "sad", "State": "NODE_FAIL", "ExitCode": "0:0"},
	}

	status, err := statusFromAccounting(info, "42")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Done())
	assert.False(t, status.Running())
	assert.False(t, status.HasError())
	code, ok := status.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 0, code)

	// A nonzero exit is the user's program failing, not the manager.
	status, err = statusFromAccounting(info, "43")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Done())
	assert.False(t, status.HasError())

	status, err = statusFromAccounting(info, "44")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Done())
	assert.True(t, scheduler.IsJobCanceled(status.Err()))

	status, err = statusFromAccounting(info, "45")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.HasError())
	assert.False(t, scheduler.IsJobCanceled(status.Err()))

	// Unknown job means "no information", not an error.
	status, err = statusFromAccounting(info, "99")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestStatusFromAccounting_BadExitCode(t *testing.T) {
	info := map[string]map[string]string{
		"42": {"JobID": "42", "JobName": "x", "State": "COMPLETED", "ExitCode": "abc"},
	}

	_, err := statusFromAccounting(info, "42")
	require.Error(t, err)
}

func TestStatusFromControl(t *testing.T) {
	jobInfo := map[string]string{
		"JobId": "42", "JobName": "run", "JobState": "RUNNING", "ExitCode": "0:0", "Reason": "None",
	}

	status, err := statusFromControl(jobInfo, "42")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Running())
	assert.False(t, status.Done())

	// A record that fails verification is treated as "no information":
	// some manager versions return an unrelated job on a parse failure.
	status, err = statusFromControl(jobInfo, "43")
	require.NoError(t, err)
	assert.Nil(t, status)

	status, err = statusFromControl(map[string]string{}, "42")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestStatusFromControl_FailureReasons(t *testing.T) {
	base := func(state, exit, reason string) map[string]string {
		return map[string]string{
			"JobId": "1", "JobName": "j", "JobState": state, "ExitCode": exit, "Reason": reason,
		}
	}

	// FAILED with NonZeroExitCode reason: legitimate user failure.
	status, err := statusFromControl(base("FAILED", "2:0", "NonZeroExitCode"), "1")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.False(t, status.HasError())

	// A reported reason is carried in the error.
	status, err = statusFromControl(base("FAILED", "0:0", "launch failure"), "1")
	require.NoError(t, err)
	require.NotNil(t, status)
	require.True(t, status.HasError())
	assert.Contains(t, status.Err().Error(), "launch failure")

	// No reason at all: failed for unknown reason.
	status, err = statusFromControl(base("BOOT_FAIL", "0:0", "None"), "1")
	require.NoError(t, err)
	require.NotNil(t, status)
	require.True(t, status.HasError())
	assert.Contains(t, status.Err().Error(), "unknown reason")
}

func TestStatusFromQueue(t *testing.T) {
	info := map[string]map[string]string{
		"7": {"JOBID": "7", "NAME": "busy", "STATE": "RUNNING"},
		"8": {"JOBID": "8", "NAME": "idle", "STATE": "PENDING"},
	}

	status, err := statusFromQueue(info, "7")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Running())
	assert.False(t, status.Done(), "queue listing is never terminal")

	status, err = statusFromQueue(info, "8")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.False(t, status.Running())
	assert.Equal(t, "PENDING", status.State())

	status, err = statusFromQueue(info, "9")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestQueueStatusFromPartitionInfo(t *testing.T) {
	info := map[string]map[string]string{
		"short": {"PARTITION": "short", "AVAIL": "up"},
	}

	status := queueStatusFromPartitionInfo(info, "short")
	require.NotNil(t, status)
	assert.Equal(t, "short", status.QueueName())
	assert.Equal(t, "up", status.SchedulerSpecific()["AVAIL"])

	assert.Nil(t, queueStatusFromPartitionInfo(info, "long"))
	assert.Nil(t, queueStatusFromPartitionInfo(nil, "short"))
}
