package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage the calibration schedule",
		Long: `Manage the calibration schedule.

Scheduled calibrations calibrate every lockbox. A run is held back while any
lockbox is in one of its stages.

The schedule command can be used in multiple ways:
  lockbox schedule 'minute hour day month weekday' Set schedule with cron expression
  lockbox schedule disable                         Disable the schedule
  lockbox schedule postpone [duration]             Postpone next run
  lockbox schedule skip                            Skip next run
  lockbox schedule show                            Show current schedule`,
		Example: `  lockbox schedule '0 3 * * *'  (At 03:00 every day)
  lockbox schedule '@every 6h'  (Every 6 hours)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable the calibration schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleDisable(cmd)
			},
		},
		newSchedulePostponeCommand(),
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next scheduled calibration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleSkip(cmd)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the current calibration schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleShow(cmd)
			},
		},
	)

	return cmd
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled calibration",
		Example: `  lockbox schedule postpone      (Postpone by 1 hour)
  lockbox schedule postpone 90m  (Postpone by 90 minutes)`,
		Long: `Postpone the next scheduled calibration by a duration, 1 hour if none is given.
The postponed run must stay before the one after it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	nextRuns, err := apiClient.Schedule(cronExpr)
	if err != nil {
		return err
	}
	cmd.Printf("Calibration scheduled. Next %d run(s):\n", len(nextRuns))
	for _, run := range nextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
	return nil
}

func runScheduleDisable(cmd *cobra.Command) error {
	if _, err := apiClient.Schedule(""); err != nil {
		return err
	}
	cmd.Println("Calibration schedule disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, duration time.Duration) error {
	st, err := apiClient.PostponeSchedule(duration)
	if err != nil {
		return err
	}
	cmd.Printf("Next run postponed by %s.\n", duration)
	if st.NextRun != nil {
		cmd.Printf("  - %s\n", st.NextRun.Local().Format(time.DateTime))
	}
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	st, err := apiClient.SkipSchedule()
	if err != nil {
		return err
	}
	cmd.Println("Next scheduled run skipped.")
	if st.NextRun != nil {
		cmd.Printf("  - %s\n", st.NextRun.Local().Format(time.DateTime))
	}
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	st, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	if st.Cron == "" {
		cmd.Println("Calibration schedule is not set.")
		return nil
	}
	cmd.Printf("Schedule: %s\n", bold("%s", st.Cron))
	cmd.Printf("Running: %s\n", bool2Text(st.Running))
	if st.NextRun != nil {
		cmd.Printf("Next run: %s\n", st.NextRun.Local().Format(time.DateTime))
	}
	return nil
}
