// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthHandler reports liveness.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// stopHandler requests cancellation of the running grid.
func (a *App) stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.logger.Info("🛑 Stop requested.", "remote_addr", r.RemoteAddr)
	a.Stop()
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/stop", a.stopHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{Registry: a.promRegistry}))
	return mux
}

// startHealthcheckServer binds the port and serves health, stop and
// metrics endpoints in the background.
func (a *App) startHealthcheckServer(ctx context.Context, port int) error {
	a.logger.Debug("Configuring health check server.")
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to start health check server: %w", err)
	}
	a.httpServer = &http.Server{Handler: a.handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://%s/health", ln.Addr()))
		// Serve returns ErrServerClosed on graceful shutdown.
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Health check server failed unexpectedly", "error", err)
		}
	}()
	return nil
}

func (a *App) closeHealthcheckServer(ctx context.Context) error {
	if a.httpServer == nil {
		a.logger.Debug("Health check server was not running.")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	a.logger.Info("🩺 Shutting down health check server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Health check server shutdown failed", "error", err)
		return err
	}
	a.httpServer = nil
	return nil
}
