package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/lockbox/pkg/lockbox"
)

func NewOutputCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "output",
		Aliases: []string{"out", "outputs"},
		Short:   "Manage the outputs of the lockbox",
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add",
			Short: "Add an output backed by a free PID",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				name, err := apiClient.AddOutput(lockboxName)
				if err != nil {
					return fmt.Errorf("failed to add output: %w", err)
				}
				cmd.Println(name)
				return nil
			},
		},
		newOutputRemoveCommand(),
		&cobra.Command{
			Use:   "rename [output] [new-name]",
			Short: "Rename an output",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				if _, err := apiClient.RenameOutput(lockboxName, args[0], args[1]); err != nil {
					return fmt.Errorf("failed to rename output: %w", err)
				}
				logrus.Infof("renamed output %s to %s", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep-default [output]",
			Short: "Set the output swept by the sweep command",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if _, err := apiClient.SetDefaultSweepOutput(lockboxName, args[0]); err != nil {
					return fmt.Errorf("failed to set default sweep output: %w", err)
				}
				logrus.Infof("default sweep output is now %s", args[0])
				return nil
			},
		},
		newOutputSetCommand(),
	)

	return cmd
}

func newOutputRemoveCommand() *cobra.Command {
	allowRemoveLast := false

	cmd := &cobra.Command{
		Use:     "rm [output]",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove an output and free its PID",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := apiClient.RemoveOutput(lockboxName, args[0], allowRemoveLast); err != nil {
				return fmt.Errorf("failed to remove output: %w", err)
			}
			logrus.Infof("removed output %s", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowRemoveLast, "allow-remove-last", false, "allow removing the only output of the lockbox")
	return cmd
}

func newOutputSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [output]",
		Short: "Change the parameters of an output",
		Long: `Change the parameters of an output. Only the given flags are changed.

The new parameters apply to the output right away, in whatever mode it is in.`,
		Example: `  lockbox output set output1 --p 0.2 --i 5
  lockbox output set piezo --sweep-amplitude 0.5 --sweep-frequency 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := apiClient.GetLockbox(lockboxName)
			if err != nil {
				return err
			}
			var found *lockbox.OutputStatus
			for i := range st.Outputs {
				if st.Outputs[i].Name == args[0] {
					found = &st.Outputs[i]
				}
			}
			if found == nil {
				return fmt.Errorf("lockbox %s has no output %s", lockboxName, args[0])
			}

			oc := found.Config
			f := cmd.Flags()
			floats := map[string]*float64{
				"p":               &oc.P,
				"i":               &oc.I,
				"sweep-amplitude": &oc.SweepAmplitude,
				"sweep-offset":    &oc.SweepOffset,
				"sweep-frequency": &oc.SweepFrequency,
				"min-voltage":     &oc.MinVoltage,
				"max-voltage":     &oc.MaxVoltage,
			}
			for name, dst := range floats {
				if !f.Changed(name) {
					continue
				}
				v, err := f.GetFloat64(name)
				if err != nil {
					return err
				}
				*dst = v
			}
			if f.Changed("channel") {
				oc.Channel, _ = f.GetString("channel")
			}

			if _, err := apiClient.ConfigureOutput(lockboxName, args[0], oc); err != nil {
				return fmt.Errorf("failed to configure output: %w", err)
			}
			logrus.Infof("configured output %s", args[0])
			return nil
		},
	}

	f := cmd.Flags()
	f.String("channel", "", "analog channel driven by the output")
	f.Float64("p", 0, "proportional gain")
	f.Float64("i", 0, "integral gain in Hz")
	f.Float64("sweep-amplitude", 0, "sweep amplitude in volts")
	f.Float64("sweep-offset", 0, "sweep offset in volts")
	f.Float64("sweep-frequency", 0, "sweep frequency in Hz")
	f.Float64("min-voltage", 0, "lower output limit in volts")
	f.Float64("max-voltage", 0, "upper output limit in volts")

	return cmd
}
