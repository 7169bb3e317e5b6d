package daemon

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/events"
)

// Actions reported in events.CalibrationActionEvent.
const (
	ActionSchedule         = "schedule"
	ActionScheduleDisable  = "schedule-disable"
	ActionSchedulePostpone = "schedule-postpone"
	ActionScheduleSkip     = "schedule-skip"
	ActionUpcoming         = "upcoming"
	ActionError            = "error"
)

var (
	scheduleMu      = &sync.Mutex{}
	calibrationCron = ""
)

// ScheduleStatus is the state of the calibration scheduler.
type ScheduleStatus struct {
	Cron    string     `json:"cron"`
	Running bool       `json:"running"`
	NextRun *time.Time `json:"nextRun,omitempty"`
}

// calibrateAll is the scheduled task. Every lockbox is calibrated even if an
// earlier one fails.
func calibrateAll() error {
	var errs []error
	for _, lb := range inst.Lockboxes() {
		logrus.WithField("lockbox", lb.Name()).Info("running scheduled calibration")
		if err := lb.CalibrateAll(); err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "lockbox %s", lb.Name()))
		}
	}
	return errors.Join(errs...)
}

// calibrationPreCheck holds calibration back while any lockbox is in a stage.
func calibrationPreCheck() error {
	for _, lb := range inst.Lockboxes() {
		if st := lb.State(); st.IsStage() {
			return fmt.Errorf("lockbox %s is in stage %s", lb.Name(), st)
		}
	}
	return nil
}

func onUpcomingCalibration(data any) {
	runAt, _ := data.(time.Time)
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  ActionUpcoming,
		Message: fmt.Sprintf("Calibration will run at %s", runAt.Format(time.DateTime)),
		Ts:      time.Now().Unix(),
	})
}

func onCalibrationError(data any) {
	err, _ := data.(error)
	logrus.WithError(err).Error("scheduled calibration failed")
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  ActionError,
		Message: fmt.Sprint(err),
		Ts:      time.Now().Unix(),
	})
}

func currentCron() string {
	scheduleMu.Lock()
	defer scheduleMu.Unlock()

	return calibrationCron
}

// schedule sets the cron expression for scheduled calibrations and returns the next run times.
// An empty expression disables scheduled calibrations.
func schedule(cronExpr string) ([]time.Time, error) {
	scheduleMu.Lock()
	defer scheduleMu.Unlock()

	if cronExpr == "" {
		if calibrationCron == "" {
			// Already disabled
			return nil, nil
		}
		calibrationCron = ""
		scheduler.Stop()
		sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
			Action:  ActionScheduleDisable,
			Message: "Calibration schedule disabled",
			Ts:      time.Now().Unix(),
		})
		return nil, nil
	}

	// Validate cron expression
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	if err := scheduler.Schedule(cronExpr); err != nil {
		logrus.WithError(err).Error("failed to schedule calibration")
		return nil, err
	}
	scheduler.Start()
	calibrationCron = cronExpr

	// generate three next run times for response
	nextRuns := []time.Time{}
	now := time.Now()
	for range 3 {
		next := sched.Next(now)
		nextRuns = append(nextRuns, next)
		now = next
	}

	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  ActionSchedule,
		Message: fmt.Sprintf("Calibration scheduled at %s", nextRuns[0].Format("Jan _2 15:04")),
		Ts:      time.Now().Unix(),
	})

	return nextRuns, nil
}

func postpone(duration time.Duration) error {
	if err := scheduler.Postpone(duration); err != nil {
		logrus.WithError(err).Error("failed to postpone calibration")
		return err
	}

	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  ActionSchedulePostpone,
		Message: fmt.Sprintf("Calibration postponed for %s", duration.String()),
		Ts:      time.Now().Unix(),
	})
	return nil
}

func skipNextSchedule() error {
	if currentCron() == "" {
		return fmt.Errorf("no calibration schedule to skip")
	}
	if err := scheduler.Skip(); err != nil {
		logrus.WithError(err).Error("failed to skip next scheduled calibration")
		return err
	}

	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  ActionScheduleSkip,
		Message: "Calibration skipped",
		Ts:      time.Now().Unix(),
	})
	return nil
}

func getScheduleStatus() ScheduleStatus {
	st := ScheduleStatus{Cron: currentCron()}
	next, running := scheduler.Status()
	st.Running = running
	if running && !next.IsZero() {
		st.NextRun = &next
	}
	return st
}
