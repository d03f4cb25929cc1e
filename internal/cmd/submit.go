package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/gridlink/internal/observability"
	"github.com/3leaps/gridlink/pkg/gridlink"
	"github.com/3leaps/gridlink/pkg/scheduler"
)

var submitCmd = &cobra.Command{
	Use:   "submit [flags] [-- args...]",
	Short: "Submit a batch job",
	Long: `Submit a batch job, described either by a YAML manifest or by flags.

Examples:
  gridlink submit --adaptor local --exe /bin/sleep -- 30
  gridlink submit --adaptor slurm --job job.yaml
  gridlink submit --adaptor local --exe ./run.sh --queue multi --name nightly`,
	RunE: runSubmit,
}

var (
	submitAdaptor  string
	submitLocation string
	submitManifest string
	submitExe      string
	submitQueue    string
	submitName     string
	submitWorkdir  string
	submitRuntime  int
	submitEnv      []string
	submitWait     bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitAdaptor, "adaptor", "local", "Scheduler adaptor (local|slurm)")
	submitCmd.Flags().StringVar(&submitLocation, "location", "", "Scheduler location")
	submitCmd.Flags().StringVarP(&submitManifest, "job", "j", "", "Path to YAML job manifest")
	submitCmd.Flags().StringVar(&submitExe, "exe", "", "Executable to run")
	submitCmd.Flags().StringVar(&submitQueue, "queue", "", "Target queue")
	submitCmd.Flags().StringVar(&submitName, "name", "", "Job name")
	submitCmd.Flags().StringVar(&submitWorkdir, "workdir", "", "Working directory")
	submitCmd.Flags().IntVar(&submitRuntime, "max-runtime", scheduler.DefaultRuntimeFlag, "Wall time limit in minutes")
	submitCmd.Flags().StringArrayVar(&submitEnv, "env", nil, "Environment variable K=V (repeatable)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Wait for the job to finish")
}

func loadDescription(cmd *cobra.Command, args []string) (*scheduler.JobDescription, error) {
	description := scheduler.NewJobDescription()

	if submitManifest != "" {
		data, err := os.ReadFile(submitManifest)
		if err != nil {
			return nil, fmt.Errorf("read job manifest: %w", err)
		}
		if err := yaml.Unmarshal(data, description); err != nil {
			return nil, fmt.Errorf("parse job manifest: %w", err)
		}
		if description.Tasks == 0 {
			description.Tasks = 1
		}
		if description.CoresPerTask == 0 {
			description.CoresPerTask = 1
		}
	}

	if submitExe != "" {
		description.Executable = submitExe
	}
	if len(args) > 0 {
		description.Arguments = args
	}
	if submitQueue != "" {
		description.QueueName = submitQueue
	}
	if submitName != "" {
		description.Name = submitName
	}
	if submitWorkdir != "" {
		description.WorkingDirectory = submitWorkdir
	}
	if cmd.Flags().Changed("max-runtime") {
		description.MaxRuntime = submitRuntime
	}

	for _, kv := range submitEnv {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("environment entry %q is not K=V", kv)
		}
		if description.Environment == nil {
			description.Environment = make(map[string]string)
		}
		description.Environment[kv[:idx]] = kv[idx+1:]
	}

	return description, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	description, err := loadDescription(cmd, args)
	if err != nil {
		return err
	}

	properties, err := propertiesFromFlags(cmd)
	if err != nil {
		return err
	}

	sched, err := gridlink.NewScheduler(ctx, submitAdaptor, submitLocation, credentialFromFlags(), properties, observability.Logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	jobID, err := sched.SubmitBatchJob(ctx, description)
	if err != nil {
		return err
	}

	observability.CLILogger.Info("job submitted", zap.String("job_id", jobID), zap.String("adaptor", submitAdaptor))
	fmt.Fprintln(cmd.OutOrStdout(), jobID)

	if !submitWait {
		return nil
	}

	status, err := sched.WaitUntilDone(ctx, jobID, 0)
	if err != nil {
		return err
	}
	printJobStatus(cmd, status)
	if status.HasError() {
		return status.Err()
	}
	return nil
}

func printJobStatus(cmd *cobra.Command, status scheduler.JobStatus) {
	line := fmt.Sprintf("%s %s", status.JobID(), status.State())
	if code, ok := status.ExitCode(); ok {
		line += fmt.Sprintf(" exit=%d", code)
	}
	if status.HasError() {
		line += fmt.Sprintf(" error=%q", status.Err().Error())
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
