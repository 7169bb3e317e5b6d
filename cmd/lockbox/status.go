package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/lockbox/pkg/lockbox"
)

func NewStatusCommand() *cobra.Command {
	asJSON := false
	all := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the lockbox",
		Long:    `Get the state, outputs, inputs and lock sequence of the lockbox.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var statuses []lockbox.Status
			if all {
				s, err := apiClient.GetLockboxes()
				if err != nil {
					return err
				}
				statuses = s
			} else {
				s, err := apiClient.GetLockbox(lockboxName)
				if err != nil {
					return err
				}
				statuses = []lockbox.Status{*s}
			}

			if asJSON {
				b, err := json.MarshalIndent(statuses, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal status: %w", err)
				}
				cmd.Println(string(b))
				return nil
			}

			for i, st := range statuses {
				if i > 0 {
					cmd.Println()
				}
				printStatus(cmd, st)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "show every lockbox")

	return cmd
}

func printStatus(cmd *cobra.Command, st lockbox.Status) {
	cmd.Println(bold("Lockbox %s (%s):", st.Name, st.Classname))
	cmd.Printf("  State: %s\n", stateText(st.State))
	if st.NextAdvance != nil {
		cmd.Printf("    Next stage in %s\n", time.Until(*st.NextAdvance).Round(time.Millisecond))
	}
	cmd.Printf("  Auto-relock: %s\n", bool2Text(st.AutoRelock))
	cmd.Println()

	cmd.Println(bold("Outputs:"))
	for _, o := range st.Outputs {
		marker := ""
		if o.Name == st.DefaultSweepOutput {
			marker = color.YellowString(" (sweep)")
		}
		cmd.Printf("  %s%s: %s on %s, P %s, I %s, range [%g, %g] V\n",
			bold("%s", o.Name), marker, o.Mode, o.PID,
			bold("%g", o.Config.P), bold("%g", o.Config.I), o.Config.MinVoltage, o.Config.MaxVoltage)
	}
	cmd.Println()

	cmd.Println(bold("Inputs:"))
	for _, in := range st.Inputs {
		cal := color.RedString("not calibrated")
		if in.Calibration != nil {
			cal = fmt.Sprintf("[%.4g, %.4g] at %s", in.Calibration.Min, in.Calibration.Max,
				in.Calibration.At.Local().Format(time.DateTime))
		}
		cmd.Printf("  %s (%s): %s\n", bold("%s", in.Name), in.Signal, cal)
	}
	cmd.Println()

	cmd.Println(bold("Sequence:"))
	if len(st.Stages) == 0 {
		cmd.Println("  (no stages)")
	}
	for _, sc := range st.Stages {
		name := sc.Name
		if lockbox.State(sc.Name) == st.State {
			name = color.New(color.Bold, color.FgGreen).Sprint("> " + sc.Name)
		}
		duration := "hold"
		if sc.Duration > 0 {
			duration = fmt.Sprintf("%gs", sc.Duration)
		}
		cmd.Printf("  %s (%s): %s\n", name, duration, stageOutputs(sc.Outputs))
	}
}

func stageOutputs(outputs map[string]lockbox.OutputSetting) string {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		s := outputs[name]
		if s.LockOn == lockbox.LockOn {
			parts = append(parts, fmt.Sprintf("%s on @%g x%g", name, s.Setpoint, s.GainFactor))
			continue
		}
		parts = append(parts, name+" "+s.LockOn)
	}
	return strings.Join(parts, ", ")
}
