// Package scheduler triggers the reminder job on a cron schedule and guards
// every run, scheduled or manual, with a shared lock so ticks never overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/franzego/salon-reminders/internal/reminder"
	redislock "github.com/franzego/salon-reminders/pkg/redis"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const LockKey = "reminders:run:lock"

var ErrRunInProgress = errors.New("a reminder run is already in progress")

type Runner interface {
	RunAt(ctx context.Context, now time.Time) (*reminder.RunSummary, error)
}

type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

type Scheduler struct {
	cron    *cron.Cron
	spec    string
	runner  Runner
	locker  Locker
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// New builds a scheduler. A nil locker runs without cross-replica
// exclusion.
func New(spec string, runner Runner, locker Locker, timeout time.Duration, logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(reminder.OperatingZone),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		spec:    spec,
		runner:  runner,
		locker:  locker,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("reminder scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Stop waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("reminder scheduler stopped")
}

// Trigger runs one tick as of now while holding the run lock.
func (s *Scheduler) Trigger(ctx context.Context, now time.Time) (*reminder.RunSummary, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		if errors.Is(err, redislock.ErrLockHeld) {
			return nil, ErrRunInProgress
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			// the run context may already be done
			if err := release(context.Background()); err != nil {
				s.logger.Warn("failed to release run lock", zap.Error(err))
			}
		}()
	}
	return s.runner.RunAt(ctx, now)
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := s.Trigger(ctx, s.now())
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("skipping tick, previous run still holds the lock")
	case err != nil:
		fields := []zap.Field{zap.Error(err)}
		if summary != nil {
			fields = append(fields, zap.String("run_id", summary.RunID), zap.Int("processed", len(summary.Results)))
		}
		s.logger.Error("reminder run failed", fields...)
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
