package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/events"
	"github.com/charlie0129/lockbox/pkg/fpga"
	"github.com/charlie0129/lockbox/pkg/lockbox"
)

var (
	device    fpga.Device
	pool      *fpga.PIDPool
	stateFile *config.File
	inst      *lockbox.Instrument
	sseHub    *events.EventHub
	scheduler *Scheduler
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/version", getVersion)
	router.GET("/models", getModels)
	router.GET("/pids", getPIDs)
	router.GET("/events", getEvents)

	router.GET("/calibration/schedule", getSchedule)
	router.PUT("/calibration/schedule", setSchedule)
	router.POST("/calibration/schedule/skip", skipSchedule)
	router.POST("/calibration/schedule/postpone", postponeSchedule)

	router.GET("/lockboxes", getLockboxes)
	lb := router.Group("/lockboxes/:name")
	{
		lb.GET("", getLockbox)
		lb.GET("/relocks", getRelocks)
		lb.PUT("/state", setState)
		lb.POST("/lock", lockLockbox)
		lb.POST("/unlock", unlockLockbox)
		lb.POST("/sweep", sweepLockbox)
		lb.POST("/next", gotoNext)
		lb.POST("/calibrate", calibrateLockbox)
		lb.PUT("/classname", setClassname)
		lb.PUT("/default-sweep-output", setDefaultSweepOutput)
		lb.PUT("/auto-relock", setAutoRelock)

		lb.POST("/outputs", addOutput)
		lb.PUT("/outputs/:output", configureOutput)
		lb.PUT("/outputs/:output/name", renameOutput)
		lb.DELETE("/outputs/:output", removeOutput)

		lb.POST("/stages", addStage)
		lb.PUT("/stages/:stage", configureStage)
		lb.PUT("/stages/:stage/name", renameStage)
		lb.DELETE("/stages/:stage", removeStage)
	}

	return router
}

// setupInstrument opens the simulated device and builds the configured
// lockboxes from the state file.
func setupInstrument(s *config.Settings) error {
	dev := fpga.NewMock(s.Device.PIDs, s.Device.Signals)
	if err := dev.Open(); err != nil {
		return pkgerrors.Wrap(err, "failed to open device")
	}
	device = dev
	pool = fpga.NewPIDPool(dev)

	var err error
	stateFile, err = config.NewFile(s.State)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to load state file")
	}
	for _, name := range unconfiguredSections(stateFile, s.Lockboxes) {
		logrus.WithField("lockbox", name).Warn("state file has a lockbox that is not configured, its state is kept but unused")
	}

	sseHub = events.NewEventHub()
	inst = lockbox.NewInstrument(lockbox.InstrumentOptions{
		Pool:               pool,
		Acquirer:           dev,
		Store:              stateFile,
		Notifier:           sseHub,
		CalibrationSamples: s.Calibration.Samples,
	})

	for _, name := range s.Lockboxes {
		lb, err := inst.AddLockbox(name)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to create lockbox %s", name)
		}
		logrus.WithFields(logrus.Fields{
			"lockbox":   name,
			"classname": lb.Classname(),
			"outputs":   lb.OutputNames(),
			"stages":    lb.StageNames(),
		}).Info("lockbox ready")
	}

	return nil
}

// unconfiguredSections returns the sorted names of the lockboxes persisted in
// f that are not in configured.
func unconfiguredSections(f *config.File, configured []string) []string {
	var ret []string
	for _, name := range f.Names() {
		if !slices.Contains(configured, name) {
			ret = append(ret, name)
		}
	}
	slices.Sort(ret)
	return ret
}

// Run runs the daemon until SIGINT or SIGTERM.
func Run(v *viper.Viper, allowNonRoot bool) error {
	s, err := config.LoadSettings(v)
	if err != nil {
		return err
	}

	if err := setupInstrument(s); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"state":     stateFile.Path(),
		"pids":      pool.Size(),
		"lockboxes": s.Lockboxes,
	}).Info("instrument ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.MQTT.Enabled {
		mc, err := events.ConnectMQTT(s.MQTT)
		if err != nil {
			logrus.WithError(err).Error("failed to connect to mqtt broker, events will not be forwarded")
		} else {
			defer mc.Close()
			bridge := events.NewMQTTBridge(sseHub, mc, s.MQTT.TopicPrefix, byte(s.MQTT.QoS))
			go bridge.Run(ctx)
		}
	}

	scheduler = NewScheduler(calibrateAll, calibrationPreCheck, onUpcomingCalibration, onCalibrationError)
	if s.Calibration.Cron != "" {
		if _, err := schedule(s.Calibration.Cron); err != nil {
			return pkgerrors.Wrapf(err, "failed to schedule calibration %q", s.Calibration.Cron)
		}
	}

	// Receive SIGHUP to reload settings
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := reloadSettings(v); err != nil {
				logrus.Errorf("failed to reload settings: %v", err)
				continue
			}
			logrus.Infof("settings reloaded")
		}
	}()

	router := setupRoutes()
	srv := &http.Server{
		Handler: router,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", s.Socket)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", s.Socket)
	}

	if allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", s.Socket)
		err = os.Chmod(s.Socket, 0777)
		if err != nil {
			return err
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	go func() {
		logrus.Debugln("relock loop starts")

		relockLoop(ctx, s.Relock.Interval)

		logrus.Debugln("relock loop exited")
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	logrus.Info("stopping calibration scheduler")
	scheduler.Stop()
	cancel()

	for _, lb := range inst.Lockboxes() {
		if err := lb.Unlock(); err != nil {
			logrus.WithError(err).WithField("lockbox", lb.Name()).Error("failed to unlock before exiting")
		}
	}
	inst.Close()

	if err := stateFile.Save(); err != nil {
		logrus.Errorf("failed to save state before exiting: %v", err)
	}
	sseHub.Close()

	logrus.Info("closing device")
	if err := device.Close(); err != nil {
		logrus.Errorf("failed to close device: %v", err)
	}

	logrus.Info("exiting")
	return nil
}

// reloadSettings re-reads the settings file. Only the log level and the
// calibration schedule take effect without a restart.
func reloadSettings(v *viper.Viper) error {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return pkgerrors.Wrapf(err, "failed to read %s", v.ConfigFileUsed())
		}
	}
	s, err := config.LoadSettings(v)
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if s.Calibration.Cron != currentCron() {
		if _, err := schedule(s.Calibration.Cron); err != nil {
			return err
		}
	}
	return nil
}
