package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	applogger "FinAlloc/pkg/logger"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Scheduler runs jobs on cron schedules. A run still in progress when its
// next tick fires makes that tick a no-op.
type Scheduler struct {
	cron    *cron.Cron
	logger  *applogger.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a scheduler whose job runs are bounded by timeout (zero means
// unbounded). Schedules accept the standard five fields plus descriptors
// such as "@every 15m".
func New(l *applogger.Logger, timeout time.Duration) *Scheduler {
	if l == nil {
		l = applogger.Nop()
	}
	l = l.Component("scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{l}), cron.SkipIfStillRunning(cronLogger{l}))),
		logger:  l,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", job.Name(), schedule, err)
	}
	s.logger.Info("job registered", applogger.String("job", job.Name()), applogger.String("schedule", schedule))
	return nil
}

// RunNow executes job synchronously outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	return s.run(job)
}

func (s *Scheduler) run(job Job) error {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := job.Run(ctx)
	if err != nil {
		s.logger.Error("job failed", applogger.String("job", job.Name()), applogger.Error(err))
		return err
	}
	s.logger.Debug("job done", applogger.String("job", job.Name()), applogger.Duration("took", time.Since(start)))
	return nil
}

func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("started", applogger.Int("jobs", s.Entries()))
}

// Stop cancels running jobs and waits for them up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

type cronLogger struct{ l *applogger.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug(msg, applogger.Any("details", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error(msg, applogger.Error(err), applogger.Any("details", kv))
}
