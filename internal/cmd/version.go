package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/gridlink/pkg/gridlink"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gridlink version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

var adaptorsCmd = &cobra.Command{
	Use:   "adaptors",
	Short: "List the available adaptors",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "Filesystem adaptors:")
		for _, a := range gridlink.FileSystemAdaptors() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-6s %s\n", a.Name, a.Description)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Scheduler adaptors:")
		for _, a := range gridlink.SchedulerAdaptors() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-6s %s\n", a.Name, a.Description)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, adaptorsCmd)
}
