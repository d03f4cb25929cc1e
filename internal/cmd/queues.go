package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/gridlink/internal/observability"
	"github.com/3leaps/gridlink/pkg/gridlink"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "List the queues of a scheduler",
	RunE:  runQueues,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs [queue...]",
	Short: "List unfinished jobs",
	RunE:  runJobs,
}

var (
	queuesAdaptor  string
	queuesLocation string
)

func init() {
	rootCmd.AddCommand(queuesCmd, jobsCmd)

	for _, c := range []*cobra.Command{queuesCmd, jobsCmd} {
		c.Flags().StringVar(&queuesAdaptor, "adaptor", "local", "Scheduler adaptor (local|slurm)")
		c.Flags().StringVar(&queuesLocation, "location", "", "Scheduler location")
	}
}

func runQueues(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	properties, err := propertiesFromFlags(cmd)
	if err != nil {
		return err
	}

	sched, err := gridlink.NewScheduler(ctx, queuesAdaptor, queuesLocation, credentialFromFlags(), properties, observability.Logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	defaultQueue := sched.DefaultQueueName()
	for _, q := range sched.QueueNames() {
		marker := ""
		if q == defaultQueue {
			marker = " (default)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", q, marker)
	}
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	properties, err := propertiesFromFlags(cmd)
	if err != nil {
		return err
	}

	sched, err := gridlink.NewScheduler(ctx, queuesAdaptor, queuesLocation, credentialFromFlags(), properties, observability.Logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	jobs, err := sched.Jobs(ctx, args...)
	if err != nil {
		return err
	}
	for _, id := range jobs {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
