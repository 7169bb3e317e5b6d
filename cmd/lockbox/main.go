package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/lockbox/pkg/client"
	"github.com/charlie0129/lockbox/pkg/config"
)

var (
	logLevel       = "info"
	unixSocketPath = config.DefaultSettings().Socket
	settingsPath   = ""
	lockboxName    = "lockbox"
)

var apiClient *client.Client

var (
	gBasic    = "Basic:"
	gSequence = "Sequence:"
	gAdvanced = "Advanced:"
	cmdGroups = []string{gBasic, gSequence, gAdvanced}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: lockbox daemon is not running")
		fmt.Fprintf(os.Stderr, "Is the daemon listening on %s?\n", unixSocketPath)
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or start the daemon with '--always-allow-non-root-access'")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lockbox",
		Short: "lockbox drives the feedback loops of a lab instrument",
		Long: `lockbox drives the feedback loops of a lab instrument.

Each lockbox owns a set of outputs (PID blocks) and model inputs, and a
sequence of stages that brings the loops from unlocked to locked.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := setupLogger(); err != nil {
				return err
			}
			apiClient = client.NewClient(unixSocketPath)
			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&settingsPath, "config", settingsPath, "daemon settings file (yaml)")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "lockbox daemon unix socket path")
	globalFlags.StringVarP(&lockboxName, "lockbox", "b", lockboxName, "lockbox to operate on")

	for _, i := range cmdGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewLockCommand(),
		NewUnlockCommand(),
		NewSweepCommand(),
		NewNextCommand(),
		NewGotoCommand(),
		NewCalibrateCommand(),
		NewModelCommand(),
		NewModelsCommand(),
		NewOutputCommand(),
		NewStageCommand(),
		NewRelockCommand(),
		NewScheduleCommand(),
	)

	return cmd
}
