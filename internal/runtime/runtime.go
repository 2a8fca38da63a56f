// Package runtime assembles the daemon: telemetry, stores, providers, the
// event bus, and the HTTP API, with ordered shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lecternlabs/lectern-core/internal/bus"
	"github.com/lecternlabs/lectern-core/internal/chunkstore"
	"github.com/lecternlabs/lectern-core/internal/config"
	"github.com/lecternlabs/lectern-core/internal/jobstore"
	"github.com/lecternlabs/lectern-core/internal/narrate"
	"github.com/lecternlabs/lectern-core/internal/natsserver"
	"github.com/lecternlabs/lectern-core/internal/pipeline"
	"github.com/lecternlabs/lectern-core/internal/provider"
	"github.com/lecternlabs/lectern-core/internal/server"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := newTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown

	jobs, err := jobstore.Open(ctx, r.cfg.JobStore, r.logger.With(slog.String("component", "jobstore")))
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobs.Close()

	chunks, err := chunkstore.New(r.cfg.ChunkStore.Dir, r.logger)
	if err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}

	providers, err := provider.BuildRegistry(r.cfg.Providers, r.logger)
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}

	extractor, err := narrate.NewExtractor(r.cfg.Extract)
	if err != nil {
		return fmt.Errorf("build extractor: %w", err)
	}

	deps := pipeline.Deps{
		Providers: providers,
		Extractor: extractor,
		Chunks:    chunks,
		Jobs:      jobs,
	}
	if r.cfg.Narration.TablesEnabled {
		deps.Tables = narrate.NewTableNarrator(r.cfg.Narration, r.logger)
	}
	if r.cfg.Narration.ImagesEnabled {
		deps.Captions = narrate.NewImageCaptioner(r.cfg.Narration, r.logger)
	}
	if r.cfg.Artwork.Enabled {
		deps.Artwork = narrate.NewArtworkGenerator(r.cfg.Artwork)
	}
	orch := pipeline.New(r.cfg, deps, r.logger)

	var busClient *bus.Client
	var embedded *natsserver.EmbeddedServer
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("connect bus: %w", err)
		}
	}

	api := server.New(r.cfg, orch, jobs, chunks, busClient, r.logger)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	metricsServer := tel.mount(mux)
	if metricsServer != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	busClient.Close()
	embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
