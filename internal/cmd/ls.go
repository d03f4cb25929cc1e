package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/gridlink/internal/observability"
	"github.com/3leaps/gridlink/pkg/fspath"
	"github.com/3leaps/gridlink/pkg/gridlink"
	"github.com/3leaps/gridlink/pkg/match"
)

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "List a directory on a filesystem",
	Args:  cobra.ExactArgs(1),
	RunE:  runLs,
}

var (
	lsAdaptor   string
	lsLocation  string
	lsRecursive bool
	lsLong      bool
	lsIncludes  []string
	lsExcludes  []string
	lsHidden    bool
)

func init() {
	rootCmd.AddCommand(lsCmd)

	lsCmd.Flags().StringVar(&lsAdaptor, "fs-adaptor", "file", "Filesystem adaptor (file|sftp|ftp|s3)")
	lsCmd.Flags().StringVar(&lsLocation, "location", "", "Filesystem location")
	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "r", false, "Descend into subdirectories")
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Show size, permissions and mtime")
	lsCmd.Flags().StringArrayVar(&lsIncludes, "include", nil, "Glob pattern entries must match (repeatable)")
	lsCmd.Flags().StringArrayVar(&lsExcludes, "exclude", nil, "Glob pattern entries must not match (repeatable)")
	lsCmd.Flags().BoolVar(&lsHidden, "hidden", false, "Include hidden entries")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	properties, err := propertiesFromFlags(cmd)
	if err != nil {
		return err
	}

	fs, err := gridlink.NewFileSystem(ctx, lsAdaptor, lsLocation, credentialFromFlags(), properties, observability.Logger)
	if err != nil {
		return err
	}
	defer fs.Close()

	dir := fs.ToAbsolutePath(fspath.New(args[0]))

	entries, err := fs.List(ctx, dir, lsRecursive)
	if err != nil {
		return err
	}

	matcher, err := match.New(match.Config{Includes: lsIncludes, Excludes: lsExcludes, IncludeHidden: lsHidden || (len(lsIncludes) == 0 && len(lsExcludes) == 0)})
	if err != nil {
		return err
	}
	entries = matcher.Filter(dir, entries)

	for _, e := range entries {
		rel, _ := dir.Relativize(e.Path)
		if lsLong {
			kind := "-"
			switch {
			case e.Directory:
				kind = "d"
			case e.SymbolicLink:
				kind = "l"
			}
			mtime := time.UnixMilli(e.LastModified).Format(time.RFC3339)
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s %12d %s %s\n", kind, e.Permissions, e.Size, mtime, rel)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), rel.String())
		}
	}
	return nil
}
