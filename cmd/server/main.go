package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sabr-processor/internal/platform/config"
	"sabr-processor/internal/platform/logger"
	"sabr-processor/internal/platform/metrics"
	"sabr-processor/internal/session"

	"github.com/go-chi/chi/v5"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Minute
)

func main() {
	_ = config.Load()
	cfg := config.LoadServer()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	repo := session.NewInMemoryRepository()
	svc := session.NewService(repo, log, cfg.LiveSegmentToleranceMs, cfg.MaxPartSizeBytes)
	met := metrics.New()
	h := session.NewHandler(svc, log, met, cfg.MaxChunkBytes)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go pruneSessions(ctx, svc, cfg.SessionRetention)

	log.Info("server starting",
		"port", cfg.Port,
		"live_segment_tolerance_ms", cfg.LiveSegmentToleranceMs,
		"max_part_size_bytes", cfg.MaxPartSizeBytes,
		"max_chunk_bytes", cfg.MaxChunkBytes,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// pruneSessions drops ended sessions once they are older than retention.
func pruneSessions(ctx context.Context, svc *session.Service, retention time.Duration) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			svc.PruneEnded(retention)
		}
	}
}
