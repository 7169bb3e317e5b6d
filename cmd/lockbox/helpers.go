package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/lockbox/pkg/client"
	"github.com/charlie0129/lockbox/pkg/lockbox"
)

// newTransitionCommand returns a command that calls op on the selected
// lockbox and reports the resulting state.
func newTransitionCommand(use, short, long, group string, op func(c *client.Client, name string) (*lockbox.Status, error)) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    long,
		GroupID: group,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := op(apiClient, lockboxName)
			if err != nil {
				return fmt.Errorf("failed to %s: %w", use, err)
			}
			logrus.Infof("lockbox %s is now in state %s", st.Name, st.State)
			return nil
		},
	}
}

func newEnableDisableCommand(
	use, short, long string,
	enableFunc func() error,
	disableFunc func() error,
) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    long,
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Enable " + short,
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				if err := enableFunc(); err != nil {
					return fmt.Errorf("failed to enable %s: %w", use, err)
				}
				logrus.Infof("successfully enabled %s", use)
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable " + short,
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				if err := disableFunc(); err != nil {
					return fmt.Errorf("failed to disable %s: %w", use, err)
				}
				logrus.Infof("successfully disabled %s", use)
				return nil
			},
		},
	)

	return cmd
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

// stateText colors a lockbox state: locked stages green, sweep yellow.
func stateText(s lockbox.State) string {
	switch {
	case s == lockbox.StateUnlock:
		return bold("%s", s)
	case s == lockbox.StateSweep:
		return color.New(color.Bold, color.FgYellow).Sprint(s)
	default:
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	}
}
