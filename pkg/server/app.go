package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarketPulse/internal/broadcast"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/queue"
)

// Closer releases one infrastructure client during shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	httpServer  *xhttp.Server
	collector   *usecase.QuoteCollector
	broadcaster *broadcast.Broadcaster

	consumer *pkgkafka.Consumer
	kh       pkgkafka.MessageHandler
	queue    *queue.RedisQueue
	limiter  *ratelimit.Limiter
	// closers run in order after every service has stopped.
	closers []Closer
}

// Option adds an optional component to App.
type Option func(*App)

// WithKafkaConsumer consumes inbound events with kh.
func WithKafkaConsumer(consumer *pkgkafka.Consumer, kh pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = consumer
		a.kh = kh
	}
}

// WithRetryQueue runs the Redis queue that replays failed webhooks.
func WithRetryQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.queue = q }
}

// WithLimiter sweeps idle rate-limit buckets while the app runs.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(a *App) { a.limiter = l }
}

// WithClosers registers infrastructure clients to close on shutdown.
func WithClosers(c ...Closer) Option {
	return func(a *App) { a.closers = append(a.closers, c...) }
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	httpServer *xhttp.Server,
	collector *usecase.QuoteCollector,
	broadcaster *broadcast.Broadcaster,
	opts ...Option,
) *App {
	a := &App{
		cfg:         cfg,
		logger:      logger,
		httpServer:  httpServer,
		collector:   collector,
		broadcaster: broadcaster,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = applogger.Nop()
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done or the
// HTTP server fails, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			a.logger.Error("retry queue start error", applogger.Error(err))
			return err
		}
	}

	if err := a.collector.Start(runCtx); err != nil {
		a.logger.Error("collector start error", applogger.Error(err))
		return err
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.logger.Error("kafka consumer error", applogger.Error(err))
		} else {
			a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
		}
	}

	if a.limiter != nil {
		go a.sweep(runCtx)
	}

	httpErr := a.httpServer.Start()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err, ok := <-httpErr:
		if ok && err != nil {
			runErr = err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	cancel()
	return errors.Join(runErr, a.shutdown(shutdownCtx))
}

func (a *App) sweep(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.limiter.Sweep(10 * time.Minute); n > 0 {
				a.logger.Debug("rate limiter swept", applogger.Int("buckets", n))
			}
		}
	}
}

// shutdown gracefully stops all services. Intake stops first so nothing
// is dispatched into a closed stage.
func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")
	var errs []error

	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	if err := a.collector.Stop(ctx); err != nil {
		a.logger.Warn("collector stop error", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.logger.Warn("retry queue stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.broadcaster != nil {
		a.broadcaster.Close()
	}

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("component", c.Name), applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
