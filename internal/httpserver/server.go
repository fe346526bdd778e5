// Package httpserver serves the world list to patched clients.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gnomepatch/internal/httpserver/mw"
	"gnomepatch/internal/logger"
	"gnomepatch/internal/worldlist"
)

// Server wraps the HTTP server and the world list it publishes.
type Server struct {
	http   *http.Server
	logger logger.Logger
}

// New builds the server. worlds is the encoded world list served at
// /worldlist.ws and decoded for /worldlist.json.
func New(addr string, log logger.Logger, worlds []byte) *Server {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Use(mw.Log(log))

	records, _ := worldlist.Decode(worlds)
	d := &directory{worlds: worlds, count: len(records), logger: log, started: time.Now()}
	r.Get("/worldlist.ws", d.worldsBinary)
	r.Get("/worldlist.json", d.worldsJSON)
	r.Get("/healthz", d.healthz)

	s := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return &Server{http: s, logger: log}
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start runs the HTTP server (blocks until error or shutdown).
func (s *Server) Start() error {
	s.logger.Infof("world list server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("world list server shutting down")
	return s.http.Shutdown(ctx)
}
