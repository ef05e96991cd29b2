package workers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xrplbridge/config"
	"xrplbridge/logging"
	"xrplbridge/workers/handlers"
)

func NewRouter(h *handlers.Handlers, logger logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(Recoverer)

	r.Options("/*", CORSHeaders)

	r.Get("/", handlers.Banner)
	r.Get("/state", h.State)

	r.Route("/bridge", func(r chi.Router) {
		r.Post("/source-to-dest", h.CreateSourceToDest)
		r.Post("/dest-to-source", h.CreateDestToSource)
		r.Get("/status/{requestId}", h.Status)
	})
	// routes of the previous bridge API
	r.Route("/api/bridge", func(r chi.Router) {
		r.Post("/xrpl-to-evm", h.CreateSourceToDest)
		r.Post("/evm-to-xrpl", h.CreateDestToSource)
		r.Get("/status/{requestId}", h.Status)
	})

	r.Get("/balance/xrpl", h.BalanceXRPL)
	r.Get("/balance/evm", h.BalanceEVM)

	r.Get("/stats/{status}", h.Stats)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Worker_HTTP serves the API until SIGINT or SIGTERM, then shuts the server down.
// Bridge runs still in the pool are left to the caller.
func Worker_HTTP(cfg *config.Configuration, handler http.Handler, logger logging.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.UseSSL {
		cert, err := tls.LoadX509KeyPair(cfg.Server.CertChain, cfg.Server.CertKey)
		if err != nil {
			return fmt.Errorf("can't load certificate: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(done)

	errs := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.UseSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	logger.WithField("addr", server.Addr).Info("HTTP service started")

	select {
	case <-done:
		logger.Info("HTTP service stopped")
	case err := <-errs:
		return fmt.Errorf("error listening to %s: %w", server.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP service shutdown error: %w", err)
	}
	logger.Info("HTTP service shutdown normal")
	return nil
}
