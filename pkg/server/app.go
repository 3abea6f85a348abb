package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	mid "SpinCast/internal/middleware"
	"SpinCast/internal/services/predictor"
	"SpinCast/internal/usecase"
	pkgch "SpinCast/pkg/clickhouse"
	"SpinCast/pkg/config"
	xhttp "SpinCast/pkg/http"
	pkgkafka "SpinCast/pkg/kafka"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/queue"
)

// Deps are the components the application runs. Optional ones are nil when
// disabled in config.
type Deps struct {
	Config     *config.Config
	Log        *logger.Logger
	Redis      *redis.Client
	Store      domrepo.HotStore
	ModelStore domrepo.ModelStore
	Handle     *predictor.ModelHandle
	Driver     *usecase.Driver
	Pipeline   *mid.RealtimePipeline
	Trainer    *usecase.Trainer
	Jobs       *queue.RedisQueue
	HTTP       *xhttp.Server

	Collector       *usecase.OutcomeCollector
	Consumer        *pkgkafka.Consumer
	OutcomesHandler *usecase.KafkaOutcomesHandler
	Fanout          *usecase.PredictionFanout
	ClickHouse      *pkgch.Client
}

// App encapsulates the entire application lifecycle.
type App struct {
	Deps
}

func New(d Deps) *App {
	return &App{Deps: d}
}

// Run starts every component and blocks until ctx is cancelled, a signal
// arrives or a component fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.loadModel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Driver.Run(gctx) })
	g.Go(func() error { return a.HTTP.Run(gctx) })

	a.Pipeline.Start(gctx)
	if a.Fanout != nil {
		a.Fanout.Start(context.WithoutCancel(gctx))
	}
	if err := a.Jobs.Start(); err != nil {
		a.Log.Warn("job queue not started", logger.Error(err))
	}

	if a.Collector != nil {
		if err := a.Collector.Start(gctx); err != nil {
			a.Log.Error("feed collector start failed", logger.Error(err))
		} else {
			a.Log.Info("feed collector started", logger.String("url", a.Config.Feed.URL))
		}
	}
	if a.Consumer != nil && a.OutcomesHandler != nil {
		a.Consumer.RegisterHandler(a.OutcomesHandler)
		if err := a.Consumer.Start(); err != nil {
			a.Log.Error("kafka consumer start failed", logger.Error(err))
		} else {
			a.Log.Info("kafka consumer started", logger.String("topic", a.OutcomesHandler.Topic()))
		}
	}

	a.Log.Info("spincast started", logger.String("env", a.Config.Environment))
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Log.Error("component failed", logger.Error(err))
	} else {
		a.Log.Info("shutdown signal received")
		err = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	a.Shutdown(shutdownCtx)
	return err
}

func (a *App) loadModel(ctx context.Context) {
	err := a.Handle.LoadFrom(ctx, a.ModelStore)
	switch {
	case err == nil:
		meta := a.Handle.Current().Meta
		a.Log.Info("model loaded", logger.Int64("version", meta.Version), logger.Float64("accuracy", meta.TrainAccuracy))
	case errors.Is(err, models.ErrModelNotFound):
		a.Log.Info("no trained model yet, using statistical fallback")
	default:
		a.Log.Warn("model load failed, using statistical fallback", logger.Error(err))
	}
}

// Shutdown stops inputs first, then drains outputs and closes clients.
func (a *App) Shutdown(ctx context.Context) {
	if a.Collector != nil {
		if err := a.Collector.Shutdown(ctx); err != nil {
			a.Log.Warn("collector stop error", logger.Error(err))
		}
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			a.Log.Warn("kafka consumer stop error", logger.Error(err))
		}
	}
	a.Pipeline.Stop()
	if err := a.Jobs.Stop(ctx); err != nil {
		a.Log.Warn("job queue stop error", logger.Error(err))
	}
	a.Close()
	a.Log.Info("shutdown complete")
}

// Close drains the prediction fanout and releases the infrastructure
// clients.
func (a *App) Close() {
	a.Log.RemoveCollector()
	if a.Fanout != nil {
		if err := a.Fanout.Close(); err != nil {
			a.Log.Warn("prediction fanout close error", logger.Error(err))
		}
	}
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			a.Log.Warn("clickhouse close error", logger.Error(err))
		}
	}
	if err := a.Redis.Close(); err != nil {
		a.Log.Warn("redis close error", logger.Error(err))
	}
}

// Oneshot runs fn with the driver running, for CLI commands that push
// outcomes through the full cycle.
func (a *App) Oneshot(ctx context.Context, fn func(context.Context) error) error {
	a.loadModel(ctx)
	if a.Fanout != nil {
		a.Fanout.Start(context.WithoutCancel(ctx))
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Driver.Run(ctx) }()

	err := fn(ctx)
	cancel()
	if runErr := <-done; err == nil {
		err = runErr
	}
	return err
}
