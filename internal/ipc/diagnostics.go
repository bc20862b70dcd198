/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/friendsincode/waver/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// DiagnosticsServer is the chi-routed HTTP surface named in SPEC_FULL.md's
// internal/ipc module: ops tooling that sits alongside, but is not part
// of, the raw TCP wire protocol above.
type DiagnosticsServer struct {
	bind       string
	port       int
	wire       *Server
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewDiagnosticsServer builds the HTTP diagnostics surface. wire may be
// nil in tests that only want /healthz.
func NewDiagnosticsServer(bind string, port int, wire *Server, logger zerolog.Logger) *DiagnosticsServer {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	d := &DiagnosticsServer{
		bind:   bind,
		port:   port,
		wire:   wire,
		logger: logger.With().Str("component", "diagnostics").Logger(),
	}

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Get("/diagnostics", d.handleDiagnostics)
	router.Handle("/metrics", metrics.Handler())

	d.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d
}

func (d *DiagnosticsServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if d.wire == nil {
		_, _ = w.Write([]byte(`{"sessions":0,"errors":[]}`))
		return
	}
	_ = json.NewEncoder(w).Encode(d.wire.diagnosticsSnapshot())
}

// ListenAndServe starts the diagnostics HTTP server until ctx is canceled.
func (d *DiagnosticsServer) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.httpServer.Shutdown(shutdownCtx)
	}()

	d.logger.Info().Str("addr", d.httpServer.Addr).Msg("diagnostics server listening")
	err := d.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
