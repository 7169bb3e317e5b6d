package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/daemon"
	"github.com/charlie0129/lockbox/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the lockbox daemon.
	alwaysAllowNonRootAccess = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run lockbox daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("lockbox daemon starting")

			v, err := config.NewViper(settingsPath)
			if err != nil {
				return err
			}
			// Command line flags win over the settings file and the environment.
			if f := cmd.Flags().Lookup("daemon-socket"); f != nil && f.Changed {
				v.Set("socket", unixSocketPath)
			}
			if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
				v.Set("log_level", logLevel)
			}
			for _, key := range []string{"state", "device.pids", "calibration.cron"} {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
					return err
				}
			}

			if level, err := logrus.ParseLevel(v.GetString("log_level")); err == nil {
				logrus.SetLevel(level)
			}

			return daemon.Run(v, alwaysAllowNonRootAccess)
		},
	}

	defaults := config.DefaultSettings()
	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.String("state", defaults.State, "state file the lockboxes are persisted to (.yaml or .json)")
	f.Int("device.pids", defaults.Device.PIDs, "number of PID blocks of the simulated device")
	f.String("calibration.cron", defaults.Calibration.Cron, "cron expression for scheduled calibration, empty to disable")

	return cmd
}
