package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prn-tf/alexander-uplink/internal/config"
	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/logging"
)

// errUsage marks invalid command line input.
var errUsage = errors.New("invalid usage")

// noConfigAnnotation marks commands that run without loading configuration.
const noConfigAnnotation = "uplink/no-config"

// newRootCmd builds the command tree. The returned app owns the resources
// opened by subcommands and must be closed after execution.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "alexander-uplink",
		Short: "Upload files to S3 with static or AWS SSO credentials",
		Long: `alexander-uplink uploads files to an S3 compatible bucket, provisions the
bucket on first use and manages the AWS IAM Identity Center session that
supplies short-lived upload credentials.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[noConfigAnnotation] != "" {
				return nil
			}
			return a.init()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	root.AddCommand(
		newUploadCmd(a),
		newProvisionCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newAccountsCmd(a),
		newRolesCmd(a),
		newStatusCmd(a),
		newSecretsCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root, a
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return domain.NewConfigError("config", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(a.logLevel)
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.setupMetrics()
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}

func rangeArgs(lo, hi int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(lo, hi)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        exactArgs(0),
		Annotations: map[string]string{noConfigAnnotation: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alexander-uplink %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
		},
	}
}
