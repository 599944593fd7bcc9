package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	xhttp "FinAlloc/pkg/http"
	pkgkafka "FinAlloc/pkg/kafka"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/scheduler"
)

// Runner is a background component with its own lifecycle, such as the
// live quote stream.
type Runner interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// App owns the process lifecycle: it starts every component, waits for a
// signal and stops them in reverse order.
type App struct {
	logger          *applogger.Logger
	http            *xhttp.Server
	shutdownTimeout time.Duration

	consumer  *pkgkafka.Consumer
	handlers  []pkgkafka.MessageHandler
	scheduler *scheduler.Scheduler
	runners   []Runner
	closers   []io.Closer
}

type Option func(*App)

// WithConsumer attaches a Kafka consumer and the handlers it serves. A nil
// consumer is ignored.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		if c != nil {
			a.consumer = c
			a.handlers = append(a.handlers, handlers...)
		}
	}
}

func WithScheduler(s *scheduler.Scheduler) Option {
	return func(a *App) { a.scheduler = s }
}

func WithRunner(r Runner) Option {
	return func(a *App) {
		if r != nil {
			a.runners = append(a.runners, r)
		}
	}
}

// WithCloser registers resources closed last, after every component stopped.
func WithCloser(c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, c)
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

func New(httpServer *xhttp.Server, l *applogger.Logger, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{logger: l.Component("app"), http: httpServer, shutdownTimeout: 10 * time.Second}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run starts everything and blocks until SIGINT/SIGTERM or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}
	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	a.Shutdown(sctx)
	return nil
}

func (a *App) Start(ctx context.Context) error {
	for _, r := range a.runners {
		if err := r.Start(ctx); err != nil {
			// a dead feed only costs freshness; quotes still come from providers
			a.logger.Error("runner start failed", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
			a.logger.Info("consuming", applogger.String("topic", h.Topic()))
		}
		if err := a.consumer.Start(ctx); err != nil {
			return err
		}
	}
	if a.scheduler != nil {
		a.scheduler.Start()
	}
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops components in reverse start order. Errors are logged and
// do not stop the sequence.
func (a *App) Shutdown(ctx context.Context) {
	var errs []error
	if a.http != nil {
		errs = append(errs, a.http.Stop(ctx))
	}
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop(ctx))
	}
	if a.consumer != nil {
		errs = append(errs, a.consumer.Stop(ctx))
	}
	for i := len(a.runners) - 1; i >= 0; i-- {
		errs = append(errs, a.runners[i].Shutdown(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", applogger.Error(err))
		return
	}
	a.logger.Info("shutdown complete")
}
