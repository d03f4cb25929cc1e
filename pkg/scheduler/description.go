// Package scheduler defines the uniform job scheduling surface shared by all
// back-ends: job descriptions, job and queue statuses, stream handles and the
// Scheduler contract itself.
package scheduler

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultRuntimeFlag requests the adaptor's default maximum runtime.
const DefaultRuntimeFlag = -1

// JobDescription enumerates everything a caller can ask of a job. The zero
// value is a valid starting point; Executable is the only required field.
//
// Descriptions are caller-owned: schedulers take a defensive copy on submit,
// so later mutation by the caller has no effect on a submitted job.
type JobDescription struct {
	// Executable is the program to run. Required.
	Executable string `yaml:"executable"`

	// Arguments are passed to the executable in order.
	Arguments []string `yaml:"arguments,omitempty"`

	// Environment maps variable names to values. Names are unique;
	// insertion order is irrelevant.
	Environment map[string]string `yaml:"environment,omitempty"`

	// WorkingDirectory is resolved against the filesystem entry path when
	// relative. Empty means the entry path itself.
	WorkingDirectory string `yaml:"working_directory,omitempty"`

	// QueueName selects the target queue. Empty selects the adaptor
	// default.
	QueueName string `yaml:"queue,omitempty"`

	// Stdin, Stdout and Stderr are path hints for stream redirection.
	Stdin  string `yaml:"stdin,omitempty"`
	Stdout string `yaml:"stdout,omitempty"`
	Stderr string `yaml:"stderr,omitempty"`

	// Tasks is the total number of tasks. Must be at least 1.
	Tasks int `yaml:"tasks,omitempty"`

	// TasksPerNode spreads tasks over nodes. 0 leaves it to the back-end.
	TasksPerNode int `yaml:"tasks_per_node,omitempty"`

	// CoresPerTask is the number of cores per task. Must be at least 1.
	CoresPerTask int `yaml:"cores_per_task,omitempty"`

	// MaxMemory is the memory limit in MiB. 0 means unset.
	MaxMemory int `yaml:"max_memory,omitempty"`

	// TempSpace is the temp space requirement in MiB. 0 means unset.
	TempSpace int `yaml:"temp_space,omitempty"`

	// MaxRuntime is the wall time limit in minutes. DefaultRuntimeFlag
	// (-1) selects the adaptor default; 0 means unlimited where the
	// back-end allows it.
	MaxRuntime int `yaml:"max_runtime,omitempty"`

	// SchedulerArguments are passed through to the back-end verbatim, in
	// order.
	SchedulerArguments []string `yaml:"scheduler_arguments,omitempty"`

	// StartPerTask wraps the command in the back-end's per-task launcher.
	StartPerTask bool `yaml:"start_per_task,omitempty"`

	// Name labels the job in the back-end's bookkeeping.
	Name string `yaml:"name,omitempty"`
}

// NewJobDescription returns a description with the field defaults applied:
// one task, one core per task, adaptor-default runtime.
func NewJobDescription() *JobDescription {
	return &JobDescription{
		Tasks:        1,
		CoresPerTask: 1,
		MaxRuntime:   DefaultRuntimeFlag,
	}
}

// Clone returns a deep copy. Submitting schedulers use this to decouple the
// accepted job from the caller's value.
func (d *JobDescription) Clone() *JobDescription {
	out := *d

	if d.Arguments != nil {
		out.Arguments = make([]string, len(d.Arguments))
		copy(out.Arguments, d.Arguments)
	}
	if d.SchedulerArguments != nil {
		out.SchedulerArguments = make([]string, len(d.SchedulerArguments))
		copy(out.SchedulerArguments, d.SchedulerArguments)
	}
	if d.Environment != nil {
		out.Environment = make(map[string]string, len(d.Environment))
		for k, v := range d.Environment {
			out.Environment[k] = v
		}
	}
	return &out
}

// SortedEnvironment returns the environment as deterministic key=value pairs.
func (d *JobDescription) SortedEnvironment() []string {
	keys := make([]string, 0, len(d.Environment))
	for k := range d.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+d.Environment[k])
	}
	return out
}

func (d *JobDescription) String() string {
	return fmt.Sprintf("JobDescription[name=%q exe=%q args=%v queue=%q tasks=%d]",
		d.Name, d.Executable, d.Arguments, d.QueueName, d.Tasks)
}

// Validate performs the checks every back-end agrees on. queueNames, when
// non-empty, is the set of queues the back-end accepts.
func (d *JobDescription) Validate(adaptor string, queueNames []string) error {
	if strings.TrimSpace(d.Executable) == "" {
		return &Error{Op: "Validate", Adaptor: adaptor, Err: fmt.Errorf("%w: executable missing", ErrIncompleteDescription)}
	}

	if d.Tasks < 1 {
		return &Error{Op: "Validate", Adaptor: adaptor, Err: fmt.Errorf("%w: illegal task count %d", ErrInvalidDescription, d.Tasks)}
	}
	if d.TasksPerNode < 0 {
		return &Error{Op: "Validate", Adaptor: adaptor, Err: fmt.Errorf("%w: illegal tasks per node %d", ErrInvalidDescription, d.TasksPerNode)}
	}
	if d.CoresPerTask < 1 {
		return &Error{Op: "Validate", Adaptor: adaptor, Err: fmt.Errorf("%w: illegal cores per task %d", ErrInvalidDescription, d.CoresPerTask)}
	}
	if d.MaxRuntime < DefaultRuntimeFlag {
		return &Error{Op: "Validate", Adaptor: adaptor, Err: fmt.Errorf("%w: illegal maximum runtime %d", ErrInvalidDescription, d.MaxRuntime)}
	}
	if d.MaxMemory < 0 {
		return &Error{Op: "Validate", Adaptor: adaptor, Err: fmt.Errorf("%w: illegal maximum memory %d", ErrInvalidDescription, d.MaxMemory)}
	}
	if d.TempSpace < 0 {
		return &Error{Op: "Validate", Adaptor: adaptor, Err: fmt.Errorf("%w: illegal temp space %d", ErrInvalidDescription, d.TempSpace)}
	}

	if len(queueNames) > 0 && d.QueueName != "" {
		found := false
		for _, q := range queueNames {
			if q == d.QueueName {
				found = true
				break
			}
		}
		if !found {
			return &Error{Op: "Validate", Adaptor: adaptor, Err: fmt.Errorf("%w: %s", ErrNoSuchQueue, d.QueueName)}
		}
	}
	return nil
}
