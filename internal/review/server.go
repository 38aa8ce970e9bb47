package review

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ryanoboyle/wharf/pkg/logging"
)

// Server hosts the review session's single-client WebSocket endpoint and
// a health check, adapted from the teacher's chi-based API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	port       int
	hub        *Hub
	core       *Core
	reaper     *Reaper
}

// NewServer builds a Server bound to port, wiring core and reaper to run
// alongside the HTTP listener for the lifetime of the review session.
func NewServer(port int, core *Core, hub *Hub, reaper *Reaper) *Server {
	s := &Server{port: port, hub: hub, core: core, reaper: reaper}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := s.hub.Upgrade(w, r); err != nil {
			logging.Logger().Warn("review websocket upgrade failed", logging.Err(err))
			return
		}
		// core.Run outlives this handler's return; it ends itself via
		// the session's Abort handle, not the request's context.
		go s.core.Run(context.Background())
	})

	s.router = r
}

// Start runs the reaper and blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go s.reaper.Run()

	logging.Logger().Info("review server listening", logging.Operation("serve"))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the reaper, the client connection, and the
// HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.reaper.Stop()
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
