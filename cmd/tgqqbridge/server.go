package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tgqqbridge/internal/constants"
	"tgqqbridge/internal/middleware"
	"tgqqbridge/internal/models"
	"tgqqbridge/internal/stats"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// queueSource exposes retry queue depth for the admin API.
type queueSource interface {
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}

// Server is the admin HTTP surface: liveness, sync counters and queue depth.
type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	stats   *stats.Collector
	queue   queueSource
	version string
	server  *http.Server
}

func NewServer(collector *stats.Collector, queue queueSource, version string, logger *logrus.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		stats:   collector,
		queue:   queue,
		version: version,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/healthz", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats()).Methods(http.MethodGet)
	s.router.HandleFunc("/queue", s.handleQueue()).Methods(http.MethodGet)
}

func (s *Server) Start(port int) error {
	if port <= 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting admin server on port %d", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": s.version,
		})
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.stats.Snapshot())
	}
}

func (s *Server) handleQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueStats, err := s.queue.QueueStats(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Failed to read queue stats")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read queue stats"})
			return
		}
		writeJSON(w, http.StatusOK, queueStats)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
