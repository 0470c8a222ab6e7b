package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultLead      = 10 * time.Second // notify this long before a scheduled burst
	preCheckMaxTimes = 5
	preCheckInterval = 2 * time.Second
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// TaskFunc represents a runnable task.
type TaskFunc func(ctx context.Context) error

// Scheduler runs a task on a cron schedule. Before each run it calls
// OnUpcoming, and the run only happens once PreCheck passes. A run whose
// pre-check keeps failing is dropped.
type Scheduler struct {
	OnUpcoming func(runAt time.Time) // called Lead before running the task
	OnError    func(err error)       // called on pre-check or task error
	Task       TaskFunc
	PreCheck   func() error
	Lead       time.Duration

	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool

	controlCh chan controlMsg
	ctx       context.Context
	cancel    context.CancelFunc
}

// internal control kinds (not user visible events)
type controlKind int

const (
	ctrlRecalculate controlKind = iota // timer needs recalculation due to schedule change
	ctrlPostpone                       // next run postponed
	ctrlSkip                           // next run skipped
)

type controlMsg struct {
	kind controlKind
	data any
}

func NewScheduler(task TaskFunc, preCheck func() error) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		Task:      task,
		PreCheck:  preCheck,
		Lead:      defaultLead,
		controlCh: make(chan controlMsg, 4),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Stop stops the scheduler and cancels a running task.
func (s *Scheduler) Stop() {
	s.cancel()
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

// Schedule sets the cron expression. It may be called while running.
func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	running := s.running
	if !running {
		s.schedule = sh
		s.nextRun = sh.Next(time.Now())
	}
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, sh)
	}
	return nil
}

// Postpone postpones the next scheduled run by d. The run cannot be pushed
// past the one after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() || !s.running {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to postpone")
	}
	orig := s.nextRun
	next := s.schedule.Next(orig).Truncate(time.Second)
	s.mu.Unlock()

	pp := orig.Add(d).Truncate(time.Second)
	if pp.Compare(next) >= 0 {
		return fmt.Errorf("postpone duration too long, next run is at %s", next.Format(time.DateTime))
	}

	s.trySendControl(ctrlPostpone, pp)
	return nil
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, nil)
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextRun, s.running
}

func (s *Scheduler) runScheduled() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for {
		leading := true
		attempts := 0
		var precheckErr error

		schedule, nextRun := s.snapshot()
		idle := schedule == nil || nextRun.IsZero()
		var timer *time.Timer
		if idle {
			timer = time.NewTimer(time.Hour * 10000)
		} else {
			timer = time.NewTimer(max(time.Until(nextRun)-s.Lead, 0))
		}

	wait:
		for {
			select {
			case <-timer.C:
				if idle {
					break wait
				}

				if leading {
					logrus.WithField("runAt", nextRun.Format(time.DateTime)).Debug("upcoming scheduled capture")
					leading = false
					timer.Reset(max(time.Until(nextRun), 0))
					s.sendUpcoming(nextRun)
					continue
				}

				if s.PreCheck != nil {
					if err := s.PreCheck(); err != nil {
						if precheckErr == nil || err.Error() != precheckErr.Error() {
							precheckErr = err
							s.sendError(fmt.Errorf("precheck failed: %w", err))
						}

						attempts++
						if attempts <= preCheckMaxTimes {
							logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, preCheckMaxTimes, err, preCheckInterval)
							timer.Reset(preCheckInterval)
							continue
						}

						logrus.WithError(err).Warn("dropping scheduled capture")
						s.advanceNextRun()
						break wait
					}
				}

				logrus.WithField("runAt", nextRun.Format(time.DateTime)).Debug("running scheduled capture")
				go func() {
					if err := s.Task(s.ctx); err != nil {
						s.sendError(fmt.Errorf("task failed: %w", err))
					}
				}()
				s.advanceNextRun()
				break wait
			case <-s.ctx.Done():
				timer.Stop()
				return
			case msg := <-s.controlCh:
				logrus.WithFields(logrus.Fields{
					"kind": msg.kind,
					"data": msg.data,
				}).Debug("received control msg")

				switch msg.kind {
				case ctrlRecalculate:
					timer.Stop()
					sh := msg.data.(cron.Schedule)
					s.mu.Lock()
					s.schedule = sh
					s.nextRun = sh.Next(time.Now())
					s.mu.Unlock()
				case ctrlPostpone: // only postpone current run
					pp := msg.data.(time.Time)
					timer.Reset(time.Until(pp))
					continue
				case ctrlSkip:
					timer.Stop()
				}
				break wait
			}
		}
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	s.nextRun = s.schedule.Next(s.nextRun)
}

func (s *Scheduler) sendUpcoming(runAt time.Time) {
	if s.OnUpcoming == nil {
		return
	}

	go s.OnUpcoming(runAt)
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, data any) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}

// NextRuns returns the next n run times of cronExpr after from.
func NextRuns(cronExpr string, from time.Time, n int) ([]time.Time, error) {
	sh, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	runs := make([]time.Time, 0, n)
	for range n {
		from = sh.Next(from)
		runs = append(runs, from)
	}
	return runs, nil
}
