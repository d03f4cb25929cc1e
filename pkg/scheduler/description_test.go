package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobDescription_Defaults(t *testing.T) {
	d := NewJobDescription()

	assert.Equal(t, 1, d.Tasks)
	assert.Equal(t, 1, d.CoresPerTask)
	assert.Equal(t, DefaultRuntimeFlag, d.MaxRuntime)
	assert.Empty(t, d.QueueName)
}

func TestJobDescription_Clone(t *testing.T) {
	d := NewJobDescription()
	d.Executable = "/bin/true"
	d.Arguments = []string{"a", "b"}
	d.SchedulerArguments = []string{"--x"}
	d.Environment = map[string]string{"K": "V"}

	c := d.Clone()

	// Mutating the original must not leak into the clone.
	d.Arguments[0] = "changed"
	d.Environment["K"] = "changed"
	d.SchedulerArguments[0] = "changed"

	assert.Equal(t, "a", c.Arguments[0])
	assert.Equal(t, "V", c.Environment["K"])
	assert.Equal(t, "--x", c.SchedulerArguments[0])
}

func TestJobDescription_SortedEnvironment(t *testing.T) {
	d := NewJobDescription()
	d.Environment = map[string]string{"B": "2", "A": "1", "C": "3"}

	assert.Equal(t, []string{"A=1", "B=2", "C=3"}, d.SortedEnvironment())
}

func TestJobDescription_Validate(t *testing.T) {
	valid := func() *JobDescription {
		d := NewJobDescription()
		d.Executable = "/bin/true"
		return d
	}

	tests := []struct {
		name   string
		mutate func(*JobDescription)
		want   error
	}{
		{name: "ok", mutate: func(d *JobDescription) {}},
		{name: "no executable", mutate: func(d *JobDescription) { d.Executable = " " }, want: ErrIncompleteDescription},
		{name: "zero tasks", mutate: func(d *JobDescription) { d.Tasks = 0 }, want: ErrInvalidDescription},
		{name: "negative tasks per node", mutate: func(d *JobDescription) { d.TasksPerNode = -1 }, want: ErrInvalidDescription},
		{name: "zero cores", mutate: func(d *JobDescription) { d.CoresPerTask = 0 }, want: ErrInvalidDescription},
		{name: "runtime below flag", mutate: func(d *JobDescription) { d.MaxRuntime = -2 }, want: ErrInvalidDescription},
		{name: "negative memory", mutate: func(d *JobDescription) { d.MaxMemory = -1 }, want: ErrInvalidDescription},
		{name: "unknown queue", mutate: func(d *JobDescription) { d.QueueName = "nope" }, want: ErrNoSuchQueue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)

			err := d.Validate("test", []string{"short", "long"})
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestDeadline(t *testing.T) {
	// Zero means effectively forever.
	farAway := Deadline(0)
	assert.Greater(t, farAway.Year(), 2200)
}
