// Package gridlink is the front door of the middleware: create a FileSystem
// or Scheduler by adaptor name, location, credential and properties.
//
// The back-end set is fixed; the engines underneath are back-end agnostic.
package gridlink

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/3leaps/gridlink/pkg/credential"
	"github.com/3leaps/gridlink/pkg/filesystem"
	ftpfs "github.com/3leaps/gridlink/pkg/filesystem/ftp"
	"github.com/3leaps/gridlink/pkg/filesystem/local"
	s3fs "github.com/3leaps/gridlink/pkg/filesystem/s3"
	sftpfs "github.com/3leaps/gridlink/pkg/filesystem/sftp"
	"github.com/3leaps/gridlink/pkg/fspath"
	"github.com/3leaps/gridlink/pkg/scheduler"
	"github.com/3leaps/gridlink/pkg/scheduler/jobqueue"
	"github.com/3leaps/gridlink/pkg/scheduler/slurm"
)

// AdaptorDescription documents one back-end for discovery.
type AdaptorDescription struct {
	Name               string
	Description        string
	SupportedLocations []string
	SupportedProperty  []string
}

// FileSystemAdaptors describes the filesystem back-ends.
func FileSystemAdaptors() []AdaptorDescription {
	return []AdaptorDescription{
		{Name: "file", Description: "local filesystem", SupportedLocations: []string{"(empty)", "/path"}},
		{Name: "sftp", Description: "SFTP over SSH", SupportedLocations: []string{"host", "host:port"}, SupportedProperty: []string{"connect_timeout", "strict_host_key_checking"}},
		{Name: "ftp", Description: "FTP server", SupportedLocations: []string{"host", "host:port"}, SupportedProperty: []string{"connect_timeout"}},
		{Name: "s3", Description: "S3-compatible object store", SupportedLocations: []string{"bucket"}, SupportedProperty: []string{"bucket", "region", "endpoint", "profile", "force_path_style"}},
	}
}

// SchedulerAdaptors describes the scheduler back-ends.
func SchedulerAdaptors() []AdaptorDescription {
	return []AdaptorDescription{
		{Name: "local", Description: "local process queues", SupportedLocations: []string{"(empty)"}, SupportedProperty: []string{"polling_delay", "multi_slots"}},
		{Name: "slurm", Description: "SLURM workload manager", SupportedLocations: []string{"(empty, via local tools)"}, SupportedProperty: []string{"polling_delay", "disable_accounting"}},
	}
}

// decodeProperties maps a string property map onto a typed config struct,
// rejecting keys the adaptor does not define.
func decodeProperties(adaptor string, properties map[string]string, out interface{}) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(properties); err != nil {
		return fmt.Errorf("%s: %w: %v", adaptor, ErrInvalidProperty, err)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return fmt.Errorf("%s: %w: %s", adaptor, ErrUnknownProperty, strings.Join(md.Unused, ", "))
	}
	return nil
}

// sftpProperties are the adaptor properties of the sftp filesystem.
type sftpProperties struct {
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	StrictHostKeyChecking bool          `mapstructure:"strict_host_key_checking"`
}

// ftpProperties are the adaptor properties of the ftp filesystem.
type ftpProperties struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// localSchedulerProperties are the adaptor properties of the local scheduler.
type localSchedulerProperties struct {
	PollingDelay time.Duration `mapstructure:"polling_delay"`
	MultiSlots   int           `mapstructure:"multi_slots"`
}

// slurmProperties are the adaptor properties of the slurm scheduler.
type slurmProperties struct {
	PollingDelay      time.Duration `mapstructure:"polling_delay"`
	DisableAccounting bool          `mapstructure:"disable_accounting"`
}

// NewFileSystem creates a filesystem for the named adaptor.
func NewFileSystem(ctx context.Context, adaptor, location string, cred credential.Credential, properties map[string]string, log *zap.Logger) (*filesystem.FileSystem, error) {
	if cred == nil {
		cred = credential.Default{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := []filesystem.Option{filesystem.WithLogger(log), filesystem.WithProperties(properties)}

	switch adaptor {
	case "file":
		if location == "" {
			return local.New(cred, opts...)
		}
		return local.NewAt(cred, location, opts...)

	case "sftp":
		var props sftpProperties
		if err := decodeProperties(adaptor, properties, &props); err != nil {
			return nil, err
		}
		return sftpfs.New(ctx, location, cred, sftpfs.Config{
			ConnectTimeout:        props.ConnectTimeout,
			StrictHostKeyChecking: props.StrictHostKeyChecking,
		}, opts...)

	case "ftp":
		var props ftpProperties
		if err := decodeProperties(adaptor, properties, &props); err != nil {
			return nil, err
		}
		return ftpfs.New(ctx, location, cred, ftpfs.Config{ConnectTimeout: props.ConnectTimeout}, opts...)

	case "s3":
		var cfg s3fs.Config
		if err := decodeProperties(adaptor, properties, &cfg); err != nil {
			return nil, err
		}
		if cfg.Bucket == "" {
			cfg.Bucket = location
		}
		return s3fs.New(ctx, cred, cfg, opts...)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdaptor, adaptor)
	}
}

// NewScheduler creates a scheduler for the named adaptor.
func NewScheduler(ctx context.Context, adaptor, location string, cred credential.Credential, properties map[string]string, log *zap.Logger) (scheduler.Scheduler, error) {
	if cred == nil {
		cred = credential.Default{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	switch adaptor {
	case "local":
		var props localSchedulerProperties
		if err := decodeProperties(adaptor, properties, &props); err != nil {
			return nil, err
		}
		return newLocalScheduler(location, cred, props, log)

	case "slurm":
		var props slurmProperties
		if err := decodeProperties(adaptor, properties, &props); err != nil {
			return nil, err
		}

		runner, err := newLocalScheduler(location, cred, localSchedulerProperties{}, log)
		if err != nil {
			return nil, err
		}

		fs, _ := runner.FileSystem()

		sched, err := slurm.New(ctx, slurm.Config{
			Runner:            runner,
			FileSystem:        fs,
			DisableAccounting: props.DisableAccounting,
			PollingDelay:      props.PollingDelay,
			Logger:            log,
		})
		if err != nil {
			runner.Close()
			return nil, err
		}
		return sched, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdaptor, adaptor)
	}
}

func newLocalScheduler(location string, cred credential.Credential, props localSchedulerProperties, log *zap.Logger) (scheduler.Scheduler, error) {
	fs, err := local.New(cred, filesystem.WithLogger(log))
	if err != nil {
		return nil, err
	}

	workDir := fs.WorkingDirectory()
	if location != "" {
		workDir = fspath.New(location)
		if !workDir.IsAbsolute() {
			return nil, fmt.Errorf("%w: %q is not an absolute path", ErrInvalidLocation, location)
		}
	}

	pollingDelay := props.PollingDelay
	if pollingDelay == 0 {
		pollingDelay = time.Second
	}
	multiSlots := props.MultiSlots
	if multiSlots == 0 {
		multiSlots = 4
	}

	return jobqueue.New(jobqueue.Config{
		AdaptorName:      "local",
		Location:         location,
		Credential:       cred,
		Factory:          jobqueue.NewLocalProcessFactory(),
		FileSystem:       fs,
		WorkingDirectory: workDir,
		MultiSlots:       multiSlots,
		PollingDelay:     pollingDelay,
		StartupTimeout:   time.Minute,
		Logger:           log,
	})
}
