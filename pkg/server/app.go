package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ClarityPull/internal/handler/ws"
	"ClarityPull/internal/usecase"
	"ClarityPull/pkg/config"
	xhttp "ClarityPull/pkg/http"
	pkgkafka "ClarityPull/pkg/kafka"
	applogger "ClarityPull/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	l           *applogger.Logger
	httpServer  *xhttp.Server
	polls       *usecase.PollService
	status      *usecase.StatusTracker
	hub         *ws.Hub
	consumer    *pkgkafka.Consumer
	pollHandler pkgkafka.MessageHandler
	scheduler   *usecase.Scheduler
	cleanup     func()
}

// New creates a new App. consumer, pollHandler and scheduler may be nil.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	polls *usecase.PollService,
	status *usecase.StatusTracker,
	hub *ws.Hub,
	consumer *pkgkafka.Consumer,
	pollHandler pkgkafka.MessageHandler,
	scheduler *usecase.Scheduler,
	cleanup func(),
) *App {
	return &App{
		cfg:         cfg,
		l:           l,
		httpServer:  httpServer,
		polls:       polls,
		status:      status,
		hub:         hub,
		consumer:    consumer,
		pollHandler: pollHandler,
		scheduler:   scheduler,
		cleanup:     cleanup,
	}
}

// Run starts every component and blocks until interrupted or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Statuses left in processing by a previous process can never finish.
	if n, err := a.status.Recover(ctx); err != nil {
		a.l.Warn("status recovery failed", applogger.Error(err))
	} else if n > 0 {
		a.l.Warn("recovered interrupted polls", applogger.Int("count", n))
	}

	if a.consumer != nil && a.pollHandler != nil {
		a.consumer.WithConsumerHook(pkgkafka.LoggingHook{Logger: a.l, SlowThreshold: a.cfg.Metrics.SlowThreshold})
		a.consumer.RegisterHandler(a.pollHandler)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.pollHandler.Topic()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.httpServer.Run(gctx) })
	if a.hub != nil {
		g.Go(func() error { return a.hub.Run(gctx) })
	}
	if a.scheduler != nil {
		g.Go(func() error { return a.scheduler.Run(gctx) })
	}

	err := g.Wait()
	a.l.Info("shutdown signal received")
	a.shutdown()
	return err
}

// shutdown stops intake first, then waits for in-flight polls.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.consumer != nil && a.pollHandler != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.polls.Shutdown(ctx); err != nil {
		a.l.Warn("in-flight polls did not finish", applogger.Error(err))
	}
	if a.cleanup != nil {
		a.cleanup()
	}
	a.l.Info("shutdown complete")
}
