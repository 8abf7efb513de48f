package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/okian/churngym/internal/adapters/http/api"
	"github.com/okian/churngym/internal/adapters/http/swagger"
	"github.com/okian/churngym/internal/adapters/mq/queue"
	"github.com/okian/churngym/internal/adapters/mq/worker"
	"github.com/okian/churngym/internal/adapters/repository"
	"github.com/okian/churngym/internal/domain/dedupe"
	service "github.com/okian/churngym/internal/app"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout          = 10 * time.Second
	writeTimeout         = 60 * time.Second
	idleTimeout          = 60 * time.Second
	readHeaderTimeout    = 5 * time.Second
	shutdownTimeout      = 30 * time.Second
	storeMetricsInterval = 10 * time.Second
)

func (a *app) serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the prediction API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides addr)"},
			&cli.StringFlag{Name: "model", Usage: "Model file to score with (overrides model_path)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if addr := cmd.String("addr"); addr != "" {
				a.cfg.Addr = addr
			}
			return a.serve(ctx, cmd.String("model"))
		},
	}
}

// server is the wired API with everything that must be released on shutdown.
type server struct {
	handler http.Handler
	store   *repository.SQLiteStore
	pool    *worker.Pool
	log     logger.Logger
}

func (a *app) newServer(ctx context.Context, modelPath string) (*server, error) {
	predictor, err := a.predictor(modelPath)
	if err != nil {
		return nil, err
	}
	store, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	srv := &server{store: store, log: a.log}

	opts := []service.Option{
		service.WithPredictor(predictor),
		service.WithStore(store),
	}
	notifier, err := a.notifier()
	if err != nil {
		store.Close()
		return nil, err
	}
	if notifier != nil {
		// Alerts are sent in the background so requests never wait on Telegram.
		q := queue.NewInMemoryQueue(queue.WithCapacity(a.cfg.AlertQueueSize))
		poolOpts := []worker.Option{worker.WithLogger(a.log)}
		if a.cfg.AlertCooldownMinutes > 0 {
			poolOpts = append(poolOpts, worker.WithDeduper(dedupe.NewInMemoryDeduper(
				dedupe.WithMaxSize(a.cfg.AlertDedupeSize),
				dedupe.WithTTL(time.Duration(a.cfg.AlertCooldownMinutes)*time.Minute),
			)))
		}
		srv.pool = worker.NewPool(a.cfg.AlertWorkers, q, notifier, poolOpts...)
		srv.pool.Start(context.WithoutCancel(ctx))
		opts = append(opts, service.WithNotifier(srv.pool))
	}

	svc, err := a.newService(opts...)
	if err != nil {
		srv.close(ctx)
		return nil, err
	}

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, a.cfg.MaxAtRiskLimit).Register(ctx, mux)
	srv.handler = mux
	return srv, nil
}

func (s *server) close(ctx context.Context) {
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.log.Warn(ctx, "alert pool shutdown failed", logger.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn(ctx, "closing prediction store failed", logger.Error(err))
	}
}

func (a *app) serve(ctx context.Context, modelPath string) error {
	metrics.Init(metrics.WithConstLabels(map[string]string{"experiment": a.cfg.ExperimentName}))

	srv, err := a.newServer(ctx, modelPath)
	if err != nil {
		return err
	}

	go startStoreMetricsUpdater(ctx, srv.store)

	httpSrv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           srv.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info(ctx, "starting HTTP server", logger.String("addr", a.cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.close(context.Background())
			return err
		}
	}
	a.log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	srv.close(shutdownCtx)

	a.log.Info(ctx, "server stopped")
	return nil
}

// startStoreMetricsUpdater periodically publishes how many members have a stored prediction.
func startStoreMetricsUpdater(ctx context.Context, store *repository.SQLiteStore) {
	ticker := time.NewTicker(storeMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.Count(ctx); err == nil {
				metrics.UpdateStoredPredictions(n)
			}
		}
	}
}
