package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/lockbox/pkg/lockbox"
)

func NewStageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stage",
		Aliases: []string{"stages"},
		Short:   "Manage the stages of the lock sequence",
		Long: `Manage the stages of the lock sequence.

Stages cannot be added, removed or renamed while the sequence is advancing on its
own. Unlock first, or wait for the last stage.`,
		GroupID: gSequence,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add",
			Short: "Append a stage to the sequence",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				name, err := apiClient.AddStage(lockboxName)
				if err != nil {
					return fmt.Errorf("failed to add stage: %w", err)
				}
				cmd.Println(name)
				return nil
			},
		},
		&cobra.Command{
			Use:     "rm [stage]",
			Aliases: []string{"remove", "delete"},
			Short:   "Remove a stage",
			Args:    cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if _, err := apiClient.RemoveStage(lockboxName, args[0]); err != nil {
					return fmt.Errorf("failed to remove stage: %w", err)
				}
				logrus.Infof("removed stage %s", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename [stage] [new-name]",
			Short: "Rename a stage",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				if _, err := apiClient.RenameStage(lockboxName, args[0], args[1]); err != nil {
					return fmt.Errorf("failed to rename stage: %w", err)
				}
				logrus.Infof("renamed stage %s to %s", args[0], args[1])
				return nil
			},
		},
		newStageSetCommand(),
	)

	return cmd
}

func newStageSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [stage]",
		Short: "Change the duration of a stage or what it does with an output",
		Long: `Change the duration of a stage or what it does with one output.

With --output, only the given output flags are changed; the rest of its setting
is kept.`,
		Example: `  lockbox stage set stage1 --duration 0.5
  lockbox stage set stage2 --output output1 --lock-on on --setpoint 0.3 --gain 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			var u lockbox.StageUpdate

			if f.Changed("duration") {
				d, err := f.GetFloat64("duration")
				if err != nil {
					return err
				}
				u.Duration = &d
			}

			output, _ := f.GetString("output")
			if output != "" {
				setting, err := currentSetting(args[0], output)
				if err != nil {
					return err
				}
				if f.Changed("lock-on") {
					setting.LockOn, _ = f.GetString("lock-on")
				}
				if f.Changed("input") {
					setting.Input, _ = f.GetString("input")
				}
				if f.Changed("setpoint") {
					setting.Setpoint, _ = f.GetFloat64("setpoint")
				}
				if f.Changed("gain") {
					setting.GainFactor, _ = f.GetFloat64("gain")
				}
				if f.Changed("offset") {
					setting.Offset, _ = f.GetFloat64("offset")
				}
				if f.Changed("reset-offset") {
					setting.ResetOffset, _ = f.GetBool("reset-offset")
				}
				u.Outputs = map[string]lockbox.OutputSetting{output: setting}
			}

			if u.Duration == nil && u.Outputs == nil {
				return fmt.Errorf("nothing to change, give --duration or --output")
			}

			if _, err := apiClient.ConfigureStage(lockboxName, args[0], u); err != nil {
				return fmt.Errorf("failed to configure stage: %w", err)
			}
			logrus.Infof("configured stage %s", args[0])
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64("duration", 0, "seconds before the next stage is entered, 0 to hold")
	f.String("output", "", "output whose setting is changed")
	f.String("lock-on", lockbox.LockOff, "on, off or ignore")
	f.String("input", "", "input the output locks to, the first input if empty")
	f.Float64("setpoint", 0, "setpoint in units of the model parameter")
	f.Float64("gain", 1, "gain factor applied to the output P and I")
	f.Float64("offset", 0, "output offset in volts")
	f.Bool("reset-offset", false, "reset the integrator when the stage is entered")

	return cmd
}

// currentSetting returns what stage does with output now.
func currentSetting(stage, output string) (lockbox.OutputSetting, error) {
	st, err := apiClient.GetLockbox(lockboxName)
	if err != nil {
		return lockbox.OutputSetting{}, err
	}
	for _, sc := range st.Stages {
		if sc.Name != stage {
			continue
		}
		if setting, ok := sc.Outputs[output]; ok {
			return setting, nil
		}
		return lockbox.DefaultOutputSetting(), nil
	}
	return lockbox.OutputSetting{}, fmt.Errorf("lockbox %s has no stage %s", lockboxName, stage)
}
