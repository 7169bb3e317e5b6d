package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/lockbox/pkg/client"
	"github.com/charlie0129/lockbox/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)

			daemonVersion, err := apiClient.GetVersion()
			if err != nil {
				logrus.Debugf("failed to get daemon version: %v", err)
				return
			}
			if daemonVersion != version.Version {
				logrus.WithFields(logrus.Fields{
					"clientVersion": version.Version,
					"daemonVersion": daemonVersion,
				}).Warn("version mismatch between client and daemon")
			}
		},
	}
}

func NewLockCommand() *cobra.Command {
	return newTransitionCommand("lock", "Run the lock sequence",
		`Run the lock sequence from its first stage.

Every output is unlocked first. Each stage with a duration advances to the next
one when it expires; the last stage holds.`,
		gBasic, (*client.Client).Lock)
}

func NewUnlockCommand() *cobra.Command {
	return newTransitionCommand("unlock", "Open every loop",
		`Open every loop and cancel a running lock sequence.`,
		gBasic, (*client.Client).Unlock)
}

func NewSweepCommand() *cobra.Command {
	return newTransitionCommand("sweep", "Sweep the default sweep output",
		`Unlock, then sweep the default sweep output.`,
		gBasic, (*client.Client).Sweep)
}

func NewNextCommand() *cobra.Command {
	return newTransitionCommand("next", "Advance to the next stage",
		`Advance to the next stage of the lock sequence. From unlock or sweep this
enters the first stage.`,
		gSequence, (*client.Client).GotoNext)
}

func NewGotoCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "goto [state]",
		Short:   "Enter a state",
		Long:    `Enter a state: unlock, sweep or the name of a stage.`,
		GroupID: gSequence,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := apiClient.SetState(lockboxName, args[0])
			if err != nil {
				return fmt.Errorf("failed to enter %s: %w", args[0], err)
			}
			logrus.Infof("lockbox %s is now in state %s", st.Name, st.State)
			return nil
		},
	}
}

func NewCalibrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "calibrate",
		Short:   "Calibrate every input",
		Long:    `Record the signal range of every input of the lockbox. Sweep the loop first so the inputs see their full range.`,
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.Calibrate(lockboxName)
			if err != nil {
				return fmt.Errorf("failed to calibrate: %w", err)
			}
			for _, in := range st.Inputs {
				if in.Calibration == nil {
					cmd.Printf("  %s: %s\n", in.Name, bold("not calibrated"))
					continue
				}
				cmd.Printf("  %s: min %s, max %s, mean %s\n", in.Name,
					bold("%.4g", in.Calibration.Min), bold("%.4g", in.Calibration.Max), bold("%.4g", in.Calibration.Mean))
			}
			return nil
		},
	}
}

func NewModelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "model [name]",
		Short: "Show or switch the model of the lockbox",
		Long: `Show or switch the model of the lockbox.

Switching rebuilds the lockbox: outputs and stages are kept, inputs are replaced
by those of the new model.`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				st, err := apiClient.GetLockbox(lockboxName)
				if err != nil {
					return err
				}
				cmd.Println(st.Classname)
				return nil
			}

			st, err := apiClient.SetClassname(lockboxName, args[0])
			if err != nil {
				return fmt.Errorf("failed to switch model: %w", err)
			}
			logrus.Infof("lockbox %s now uses model %s", st.Name, st.Classname)
			return nil
		},
	}
}

func NewModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Short:   "List the available models",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := apiClient.GetModels()
			if err != nil {
				return err
			}
			for _, m := range models {
				cmd.Printf("%s\n", bold("%s", m.Name))
				cmd.Printf("  Parameter: %s [%s]\n", m.ParameterName, strings.Join(m.Units, ", "))
				cmd.Printf("  Inputs: %s\n", strings.Join(m.Inputs, ", "))
			}
			return nil
		},
	}
}
