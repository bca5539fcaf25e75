package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"StockRisk/internal/domain/repository"
	internalrepo "StockRisk/internal/repository"
	"StockRisk/internal/usecase"
	"StockRisk/pkg/config"
	xhttp "StockRisk/pkg/http"
	pkgkafka "StockRisk/pkg/kafka"
	"StockRisk/pkg/logger"
)

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the prediction service lifecycle.
type App struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *xhttp.Server
	predictor  *usecase.RiskPredictor
	store      *internalrepo.FSModelStore
	mirror     repository.ArtifactMirror

	consumer     *pkgkafka.Consumer
	auditHandler *usecase.PredictionAuditHandler
	auditStore   repository.AuditStore

	closers []closer
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	lgr *logger.Logger,
	httpServer *xhttp.Server,
	predictor *usecase.RiskPredictor,
	store *internalrepo.FSModelStore,
) *App {
	return &App{
		cfg:        cfg,
		log:        lgr,
		httpServer: httpServer,
		predictor:  predictor,
		store:      store,
	}
}

// SetMirror makes startup fetch the configured version from S3 before
// loading it. nil keeps loading local-only.
func (a *App) SetMirror(m repository.ArtifactMirror) { a.mirror = m }

// SetAuditIngest enables the Kafka -> ClickHouse prediction log consumer.
func (a *App) SetAuditIngest(c *pkgkafka.Consumer, h *usecase.PredictionAuditHandler, s repository.AuditStore) {
	if c == nil || h == nil || s == nil {
		return
	}
	a.consumer, a.auditHandler, a.auditStore = c, h, s
}

// AddCloser registers fn to run at shutdown, in reverse order of
// registration.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run serves HTTP immediately, loads the model in the background and blocks
// until interrupted. A model that fails to load stops the process.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.consumer != nil {
		if err := a.auditStore.Init(ctx); err != nil {
			return fmt.Errorf("audit store init: %w", err)
		}
		a.consumer.RegisterHandler(a.auditHandler)
		a.auditHandler.Start()
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("audit consumer: %w", err)
		}
		a.log.Info("audit ingest started", logger.String("topic", a.auditHandler.Topic()))
	}

	httpErr := a.httpServer.Start()

	loadErr := make(chan error, 1)
	go func() {
		loadErr <- a.loadModel(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	for runErr == nil {
		select {
		case sig := <-sigCh:
			a.log.Info("shutdown signal received", logger.String("signal", sig.String()))
			return a.shutdown(ctx)
		case err, ok := <-httpErr:
			if ok && err != nil {
				runErr = err
			}
			httpErr = nil
		case err := <-loadErr:
			if err != nil {
				a.log.Error("model load failed", logger.Error(err))
				runErr = err
			}
			loadErr = nil
		}
	}
	return errors.Join(runErr, a.shutdown(ctx))
}

func (a *App) loadModel(ctx context.Context) error {
	version := a.cfg.Model.Version
	if a.mirror != nil {
		v, err := a.mirror.Fetch(ctx, version)
		if err != nil {
			a.log.Warn("fetch model from s3, falling back to local store",
				logger.String("version", version), logger.Error(err))
		} else {
			version = v
		}
	}
	a.log.Info("loading model", logger.String("dir", a.store.Root()), logger.String("version", version))
	return a.predictor.Load(ctx, a.store, version)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", logger.Error(err))
		errs = append(errs, err)
	}

	// consumer first so no record lands after the final flush
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", logger.Error(err))
		}
		if err := a.auditHandler.Stop(shutdownCtx); err != nil {
			a.log.Warn("audit flush error", logger.Error(err))
		}
		if err := a.auditStore.Close(); err != nil {
			a.log.Warn("audit store close error", logger.Error(err))
		}
	}

	// the collector publishes through the producer closed below
	a.log.RemoveCollector()
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.log.Warn("close error", logger.String("component", c.name), logger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
