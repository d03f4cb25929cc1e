package slurm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/gridlink/pkg/fspath"
	"github.com/3leaps/gridlink/pkg/scheduler"
	"github.com/3leaps/gridlink/pkg/scheduler/scripting"
)

// defaultJobName labels jobs whose description leaves Name empty.
const defaultJobName = "gridlink"

// ParseExitCode extracts the exit code from the manager's "ExitCode" field.
// The value is either "N" or "N:S" where S is the signal that stopped the
// job; the signal suffix is ignored.
func ParseExitCode(value string) (*int, error) {
	if value == "" {
		return nil, nil
	}

	codeString := value
	if idx := strings.Index(value, ":"); idx >= 0 {
		codeString = value[:idx]
	}

	code, err := strconv.Atoi(codeString)
	if err != nil {
		return nil, fmt.Errorf("job exit code %q is not a number", codeString)
	}
	return &code, nil
}

// workingDirPath renders the working directory for submission, resolving
// relative directories against the filesystem entry path.
func workingDirPath(description *scheduler.JobDescription, entryPath fspath.Path) string {
	wd := fspath.New(description.WorkingDirectory)
	if wd.IsAbsolute() {
		return wd.String()
	}
	return entryPath.Resolve(wd).Normalize().String()
}

// GenerateSubmitScript renders a batch submit script for the description:
// shell header, resource directives, environment exports and the quoted
// command line.
func GenerateSubmitScript(description *scheduler.JobDescription, entryPath fspath.Path, defaultRuntime int) string {
	var script strings.Builder

	script.WriteString("#!/bin/sh\n")

	name := strings.TrimSpace(description.Name)
	if name == "" {
		name = defaultJobName
	}
	fmt.Fprintf(&script, "#SBATCH --job-name='%s'\n", name)

	// The short -D form predates the rename of --workdir to --chdir and is
	// accepted by both.
	if description.WorkingDirectory != "" {
		fmt.Fprintf(&script, "#SBATCH -D '%s'\n", workingDirPath(description, entryPath))
	}

	if description.QueueName != "" {
		fmt.Fprintf(&script, "#SBATCH --partition=%s\n", description.QueueName)
	}

	fmt.Fprintf(&script, "#SBATCH --ntasks=%d\n", description.Tasks)
	fmt.Fprintf(&script, "#SBATCH --cpus-per-task=%d\n", description.CoresPerTask)

	if description.TasksPerNode > 0 {
		fmt.Fprintf(&script, "#SBATCH --ntasks-per-node=%d\n", description.TasksPerNode)
	}

	runtime := description.MaxRuntime
	if runtime == scheduler.DefaultRuntimeFlag {
		runtime = defaultRuntime
	}
	fmt.Fprintf(&script, "#SBATCH --time=%d\n", runtime)

	if description.MaxMemory > 0 {
		fmt.Fprintf(&script, "#SBATCH --mem=%dM\n", description.MaxMemory)
	}
	if description.TempSpace > 0 {
		fmt.Fprintf(&script, "#SBATCH --tmp=%dM\n", description.TempSpace)
	}

	if description.Stdin != "" {
		fmt.Fprintf(&script, "#SBATCH --input='%s'\n", description.Stdin)
	}

	// The manager substitutes %j for the job id in output paths itself.
	if description.Stdout == "" {
		script.WriteString("#SBATCH --output=/dev/null\n")
	} else {
		fmt.Fprintf(&script, "#SBATCH --output='%s'\n", description.Stdout)
	}
	if description.Stderr == "" {
		script.WriteString("#SBATCH --error=/dev/null\n")
	} else {
		fmt.Fprintf(&script, "#SBATCH --error='%s'\n", description.Stderr)
	}

	for _, arg := range description.SchedulerArguments {
		fmt.Fprintf(&script, "#SBATCH %s\n", arg)
	}

	for _, kv := range description.SortedEnvironment() {
		idx := strings.Index(kv, "=")
		fmt.Fprintf(&script, "export %s=%q\n", kv[:idx], kv[idx+1:])
	}

	script.WriteString("\n")

	if description.StartPerTask {
		script.WriteString("srun ")
	}

	script.WriteString(description.Executable)
	for _, arg := range description.Arguments {
		script.WriteString(" ")
		script.WriteString(scripting.ShellQuote(arg))
	}
	script.WriteString("\n")

	return script.String()
}

// GenerateInteractiveArguments renders the argument vector of an interactive
// session launcher. The uuid tag becomes the job name so the job can be
// located in the queue afterwards.
func GenerateInteractiveArguments(description *scheduler.JobDescription, entryPath fspath.Path, tag uuid.UUID, defaultRuntime int) []string {
	arguments := []string{
		"--quiet",
		"--job-name=" + tag.String(),
	}

	if description.WorkingDirectory != "" {
		arguments = append(arguments, "--chdir="+workingDirPath(description, entryPath))
	}

	if description.QueueName != "" {
		arguments = append(arguments, "--partition="+description.QueueName)
	}

	arguments = append(arguments, fmt.Sprintf("--ntasks=%d", description.Tasks))

	if description.TasksPerNode > 0 {
		arguments = append(arguments, fmt.Sprintf("--ntasks-per-node=%d", description.TasksPerNode))
	}

	arguments = append(arguments, fmt.Sprintf("--cpus-per-task=%d", description.CoresPerTask))

	if description.MaxMemory > 0 {
		arguments = append(arguments, fmt.Sprintf("--mem=%dM", description.MaxMemory))
	}
	if description.TempSpace > 0 {
		arguments = append(arguments, fmt.Sprintf("--tmp=%dM", description.TempSpace))
	}

	runtime := description.MaxRuntime
	if runtime == scheduler.DefaultRuntimeFlag {
		runtime = defaultRuntime
	}
	arguments = append(arguments, fmt.Sprintf("--time=%d", runtime))

	arguments = append(arguments, description.SchedulerArguments...)
	arguments = append(arguments, description.Executable)
	arguments = append(arguments, description.Arguments...)

	return arguments
}

// verifyDescription applies the submit rules of this back-end. Interactive
// jobs cannot redirect streams or carry environment variables, because
// neither survives the interactive transport.
func verifyDescription(description *scheduler.JobDescription, queueNames []string, interactive bool) error {
	if interactive {
		if description.Stdin != "" {
			return &scheduler.Error{Op: "Submit", Adaptor: AdaptorName, Err: fmt.Errorf("%w: stdin redirect not supported in interactive mode", scheduler.ErrInvalidDescription)}
		}
		if description.Stdout != "" && description.Stdout != "stdout.txt" {
			return &scheduler.Error{Op: "Submit", Adaptor: AdaptorName, Err: fmt.Errorf("%w: stdout redirect not supported in interactive mode", scheduler.ErrInvalidDescription)}
		}
		if description.Stderr != "" && description.Stderr != "stderr.txt" {
			return &scheduler.Error{Op: "Submit", Adaptor: AdaptorName, Err: fmt.Errorf("%w: stderr redirect not supported in interactive mode", scheduler.ErrInvalidDescription)}
		}
		if len(description.Environment) != 0 {
			return &scheduler.Error{Op: "Submit", Adaptor: AdaptorName, Err: fmt.Errorf("%w: environment variables not supported in interactive mode", scheduler.ErrInvalidDescription)}
		}
	}

	if err := description.Validate(AdaptorName, queueNames); err != nil {
		return err
	}

	if description.MaxRuntime == 0 {
		return &scheduler.Error{Op: "Submit", Adaptor: AdaptorName, Err: fmt.Errorf("%w: illegal maximum runtime 0", scheduler.ErrInvalidDescription)}
	}
	return nil
}

// ParseSubmitOutput extracts the job identifier from the submit command's
// reply, which is either a bare id or "Submitted batch job <id>".
func ParseSubmitOutput(output string) (string, error) {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return "", fmt.Errorf("submit produced no output")
	}

	id := fields[len(fields)-1]
	// A federation suffix like "42;cluster" may trail the id.
	if idx := strings.Index(id, ";"); idx >= 0 {
		id = id[:idx]
	}
	if _, err := strconv.Atoi(id); err != nil {
		return "", fmt.Errorf("could not find job id in submit output %q", output)
	}
	return id, nil
}
