// Package server exposes the calculated column engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the API routes
func NewRouter(h *Handler, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireUser)

		r.Post("/calculations/validate", h.ValidateFormula)
		r.Post("/calculations/preview", h.PreviewFormula)

		r.Route("/uploads/{uploadID}", func(r chi.Router) {
			r.Post("/calculations/validate", h.ValidateForUpload)
			r.Post("/calculations/preview", h.PreviewForUpload)
			r.Post("/calculations/execute", h.ExecuteForUpload)
			r.Get("/calculated-columns", h.ListColumns)
			r.Post("/calculated-columns", h.SaveColumn)
			r.Get("/data", h.UploadData)
		})

		r.Delete("/calculated-columns/{columnID}", h.DeleteColumn)
	})

	return r
}

// Options configures the HTTP server
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Run serves handler until ctx is cancelled, then shuts down gracefully
func Run(ctx context.Context, handler http.Handler, opts Options, logger *logrus.Logger) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API listening on %s", opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
