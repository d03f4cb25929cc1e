package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gridlink/internal/observability"
	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
	"github.com/3leaps/gridlink/pkg/gridlink"
)

var copyCmd = &cobra.Command{
	Use:   "copy <source> <dest>",
	Short: "Copy a file or tree between filesystems",
	Long: `Copy a file or tree, possibly across back-ends.

Examples:
  gridlink copy /data/in /backup/in --recursive --mode REPLACE
  gridlink copy --fs-adaptor sftp --location host:22 /remote/file \
      --dest-fs-adaptor file /tmp/file`,
	Args: cobra.ExactArgs(2),
	RunE: runCopy,
}

var (
	copyAdaptor      string
	copyLocation     string
	copyDestAdaptor  string
	copyDestLocation string
	copyMode         string
	copyRecursive    bool
	copyNoWait       bool
)

func init() {
	rootCmd.AddCommand(copyCmd)

	copyCmd.Flags().StringVar(&copyAdaptor, "fs-adaptor", "file", "Source filesystem adaptor")
	copyCmd.Flags().StringVar(&copyLocation, "location", "", "Source filesystem location")
	copyCmd.Flags().StringVar(&copyDestAdaptor, "dest-fs-adaptor", "", "Destination adaptor (defaults to source)")
	copyCmd.Flags().StringVar(&copyDestLocation, "dest-location", "", "Destination location")
	copyCmd.Flags().StringVar(&copyMode, "mode", "CREATE", "Exists policy: CREATE|REPLACE|IGNORE")
	copyCmd.Flags().BoolVarP(&copyRecursive, "recursive", "r", false, "Copy directories recursively")
	copyCmd.Flags().BoolVar(&copyNoWait, "no-wait", false, "Print the copy id and return immediately")
}

func parseMode(mode string) (filesystem.CopyMode, error) {
	switch mode {
	case "CREATE":
		return filesystem.CopyCreate, nil
	case "REPLACE":
		return filesystem.CopyReplace, nil
	case "IGNORE":
		return filesystem.CopyIgnore, nil
	default:
		return filesystem.CopyCreate, fmt.Errorf("unknown copy mode %q", mode)
	}
}

func runCopy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mode, err := parseMode(copyMode)
	if err != nil {
		return err
	}

	properties, err := propertiesFromFlags(cmd)
	if err != nil {
		return err
	}

	srcFS, err := gridlink.NewFileSystem(ctx, copyAdaptor, copyLocation, credentialFromFlags(), properties, observability.Logger)
	if err != nil {
		return err
	}
	defer srcFS.Close()

	destFS := srcFS
	if copyDestAdaptor != "" && (copyDestAdaptor != copyAdaptor || copyDestLocation != copyLocation) {
		destFS, err = gridlink.NewFileSystem(ctx, copyDestAdaptor, copyDestLocation, credentialFromFlags(), properties, observability.Logger)
		if err != nil {
			return err
		}
		defer destFS.Close()
	}

	copyID, err := srcFS.Copy(fspath.New(args[0]), destFS, fspath.New(args[1]), mode, copyRecursive)
	if err != nil {
		return err
	}

	if copyNoWait {
		fmt.Fprintln(cmd.OutOrStdout(), copyID)
		return nil
	}

	// Poll with a short wait so progress can be logged along the way.
	for {
		status, err := srcFS.WaitUntilCopyDone(copyID, 2*time.Second)
		if err != nil {
			return err
		}
		if status.Done() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d/%d bytes\n", copyID, status.State(), status.BytesCopied(), status.BytesToCopy())
			if status.HasError() {
				return status.Err()
			}
			return nil
		}
		observability.CLILogger.Info("copy in progress",
			zap.String("copy_id", copyID),
			zap.Int64("bytes_copied", status.BytesCopied()),
			zap.Int64("bytes_to_copy", status.BytesToCopy()))
	}
}
