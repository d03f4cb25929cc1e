// Package cmd implements the gridlink command line interface.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/gridlink/internal/observability"
	"github.com/3leaps/gridlink/pkg/credential"
)

var rootCmd = &cobra.Command{
	Use:   "gridlink",
	Short: "Uniform access to remote compute and storage",
	Long: `gridlink talks to local processes, SSH/SFTP hosts, FTP servers,
S3-compatible object stores and SLURM-style cluster schedulers through one
scheduler and one filesystem surface.

Adaptors and credentials are selected per command:
  gridlink submit --adaptor local --exe /bin/echo -- hello
  gridlink ls --fs-adaptor sftp --location login.example.org /home/user
  gridlink copy --fs-adaptor file /data/in /data/out --recursive`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := observability.Init(viper.GetBool("verbose")); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Config file (default $HOME/.gridlink.yaml)")
	rootCmd.PersistentFlags().String("username", "", "Credential user name")
	rootCmd.PersistentFlags().String("password", "", "Credential password (prefer GRIDLINK_PASSWORD)")
	rootCmd.PersistentFlags().StringArray("property", nil, "Adaptor property key=value (repeatable)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("username", rootCmd.PersistentFlags().Lookup("username"))
	_ = viper.BindPFlag("password", rootCmd.PersistentFlags().Lookup("password"))

	viper.SetEnvPrefix("GRIDLINK")
	viper.AutomaticEnv()

	cobra.OnInitialize(loadConfigFile)
}

func loadConfigFile() {
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.SetConfigName(".gridlink")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(".")
	}
	// A missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	defer observability.Sync()
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under a cancellable context.
func ExecuteContext(ctx context.Context) error {
	defer observability.Sync()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Error("command failed", zap.Error(err))
		return err
	}
	return nil
}

// credentialFromFlags assembles the credential the adaptor should use.
func credentialFromFlags() credential.Credential {
	user := viper.GetString("username")
	password := viper.GetString("password")

	if password != "" {
		return credential.Password{User: user, Password: []byte(password)}
	}
	return credential.Default{User: user}
}

// propertiesFromFlags parses repeated --property key=value flags.
func propertiesFromFlags(cmd *cobra.Command) (map[string]string, error) {
	raw, err := cmd.Flags().GetStringArray("property")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("property %q is not key=value", kv)
		}
		out[kv[:idx]] = kv[idx+1:]
	}
	return out, nil
}
