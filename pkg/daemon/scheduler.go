package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultLead             = 5 * time.Minute
	defaultPreCheckRetries  = 30
	defaultPreCheckInterval = 10 * time.Second

	// idleWait is how long the loop sleeps when nothing is scheduled.
	idleWait = 10000 * time.Hour
)

type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs Task on a cron schedule.
//
// OnUpcoming receives the run time Lead before every run. A due run starts
// once PreCheck passes; PreCheck is retried every PreCheckInterval and the
// run is dropped after PreCheckRetries failures. OnError receives precheck and
// task errors.
type Scheduler struct {
	Task       TaskFunc
	PreCheck   TaskFunc
	OnUpcoming NotifyFunc
	OnError    NotifyFunc

	Lead             time.Duration
	PreCheckRetries  int
	PreCheckInterval time.Duration

	parser cron.Parser

	mu       sync.Mutex
	schedule cron.Schedule
	nextRun  time.Time
	running  bool
	stopCh   chan struct{}

	// wakeCh makes the loop re-read schedule and nextRun.
	wakeCh chan struct{}
}

func NewScheduler(task, preCheck TaskFunc, onUpcoming, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Task:             task,
		PreCheck:         preCheck,
		OnUpcoming:       onUpcoming,
		OnError:          onError,
		Lead:             defaultLead,
		PreCheckRetries:  defaultPreCheckRetries,
		PreCheckInterval: defaultPreCheckInterval,
		parser:           cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		wakeCh:           make(chan struct{}, 1),
	}
}

// Start starts the scheduling loop. It does nothing if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.loop(s.stopCh)
}

// Stop stops the scheduling loop. The schedule is kept and the scheduler can
// be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.running = false
}

// Schedule replaces the schedule. The next run is computed from now.
func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := s.parser.Parse(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.schedule = sh
	s.nextRun = sh.Next(time.Now())
	s.mu.Unlock()

	s.wake()
	return nil
}

// Postpone moves the next run d later. The postponed run must stay before
// the run after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() || !s.running {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to postpone")
	}
	following := s.schedule.Next(s.nextRun).Truncate(time.Second)
	pp := s.nextRun.Add(d).Truncate(time.Second)
	if pp.Compare(following) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("postpone duration too long, the run after is at %s", following.Format(time.DateTime))
	}
	s.nextRun = pp
	s.mu.Unlock()

	s.wake()
	return nil
}

// Skip drops the next run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	s.mu.Unlock()

	s.wake()
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextRun, s.running
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.schedule, s.nextRun
}

// advance moves the next run past from, unless it was changed meanwhile.
func (s *Scheduler) advance(from time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == nil || !s.nextRun.Equal(from) {
		return
	}
	s.nextRun = s.schedule.Next(from)
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	logrus.Debug("scheduler started")
	defer logrus.Debug("scheduler stopped")

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	var (
		announced    time.Time
		attempts     int
		lastCheckErr error
	)

	for {
		sched, next := s.snapshot()
		scheduled := sched != nil && !next.IsZero()

		wait := idleWait
		switch {
		case !scheduled:
		case attempts > 0:
			wait = s.PreCheckInterval
		case !announced.Equal(next):
			wait = time.Until(next) - s.Lead
		default:
			wait = time.Until(next)
		}
		resetTimer(timer, max(wait, 0))

		select {
		case <-stopCh:
			return
		case <-s.wakeCh:
			attempts, lastCheckErr = 0, nil
			continue
		case <-timer.C:
		}

		if !scheduled {
			continue
		}

		if !announced.Equal(next) {
			announced = next
			logrus.WithField("at", next.Format(time.DateTime)).Debug("scheduled task upcoming")
			s.notify(s.OnUpcoming, next)
			continue
		}
		if time.Now().Before(next) {
			continue
		}

		if s.PreCheck != nil {
			if err := s.PreCheck(); err != nil {
				// Report each distinct failure once.
				if lastCheckErr == nil || err.Error() != lastCheckErr.Error() {
					s.notify(s.OnError, fmt.Errorf("precheck failed: %w", err))
				}
				lastCheckErr = err
				attempts++

				log := logrus.WithFields(logrus.Fields{
					"attempt": attempts,
					"max":     s.PreCheckRetries,
				}).WithError(err)
				if attempts <= s.PreCheckRetries {
					log.Debugf("precheck failed, retrying in %s", s.PreCheckInterval)
					continue
				}
				log.Warn("precheck kept failing, dropping scheduled run")
				attempts, lastCheckErr = 0, nil
				s.advance(next)
				continue
			}
		}
		attempts, lastCheckErr = 0, nil

		logrus.WithField("at", next.Format(time.DateTime)).Debug("running scheduled task")
		go func() {
			if err := s.Task(); err != nil {
				s.notify(s.OnError, fmt.Errorf("task failed: %w", err))
			}
		}()
		s.advance(next)
	}
}

func (s *Scheduler) notify(f NotifyFunc, data any) {
	if f == nil {
		return
	}
	go f(data)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
