package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/gridlink/internal/observability"
	"github.com/3leaps/gridlink/pkg/gridlink"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var waitCmd = &cobra.Command{
	Use:   "wait <job-id>",
	Short: "Wait for a job to finish",
	Args:  cobra.ExactArgs(1),
	RunE:  runWait,
}

var (
	statusAdaptor  string
	statusLocation string
	waitTimeout    time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd, cancelCmd, waitCmd)

	for _, c := range []*cobra.Command{statusCmd, cancelCmd, waitCmd} {
		c.Flags().StringVar(&statusAdaptor, "adaptor", "local", "Scheduler adaptor (local|slurm)")
		c.Flags().StringVar(&statusLocation, "location", "", "Scheduler location")
	}
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "Give up after this long (0 waits forever)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	properties, err := propertiesFromFlags(cmd)
	if err != nil {
		return err
	}

	sched, err := gridlink.NewScheduler(ctx, statusAdaptor, statusLocation, credentialFromFlags(), properties, observability.Logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	status, err := sched.JobStatus(ctx, args[0])
	if err != nil {
		return err
	}
	printJobStatus(cmd, status)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	properties, err := propertiesFromFlags(cmd)
	if err != nil {
		return err
	}

	sched, err := gridlink.NewScheduler(ctx, statusAdaptor, statusLocation, credentialFromFlags(), properties, observability.Logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	status, err := sched.CancelJob(ctx, args[0])
	if err != nil {
		return err
	}
	printJobStatus(cmd, status)
	return nil
}

func runWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	properties, err := propertiesFromFlags(cmd)
	if err != nil {
		return err
	}

	sched, err := gridlink.NewScheduler(ctx, statusAdaptor, statusLocation, credentialFromFlags(), properties, observability.Logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	status, err := sched.WaitUntilDone(ctx, args[0], waitTimeout)
	if err != nil {
		return err
	}
	printJobStatus(cmd, status)
	if !status.Done() {
		return fmt.Errorf("job %s still %s after %s", args[0], status.State(), waitTimeout)
	}
	return nil
}
