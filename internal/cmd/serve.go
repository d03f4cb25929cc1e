package cmd

import (
	"github.com/spf13/cobra"

	"github.com/3leaps/gridlink/internal/observability"
	"github.com/3leaps/gridlink/internal/server"
	"github.com/3leaps/gridlink/pkg/gridlink"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scheduler and filesystem over HTTP",
	RunE:  runServe,
}

var (
	serveAddr     string
	serveAdaptor  string
	serveLocation string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8484", "Listen address")
	serveCmd.Flags().StringVar(&serveAdaptor, "adaptor", "local", "Scheduler adaptor (local|slurm)")
	serveCmd.Flags().StringVar(&serveLocation, "location", "", "Scheduler location")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	properties, err := propertiesFromFlags(cmd)
	if err != nil {
		return err
	}

	sched, err := gridlink.NewScheduler(ctx, serveAdaptor, serveLocation, credentialFromFlags(), properties, observability.Logger)
	if err != nil {
		return err
	}
	defer sched.Close()

	fs, err := sched.FileSystem()
	if err != nil {
		fs = nil
	}

	return server.New(sched, fs, observability.Logger).ListenAndServe(ctx, serveAddr)
}
