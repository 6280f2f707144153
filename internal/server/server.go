package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"facilitywatch/internal/classifier"
	"facilitywatch/internal/config"
	"facilitywatch/internal/detector"
	"facilitywatch/internal/models"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP server
type Server struct {
	cfg         config.ServerConfig
	classifiers *classifier.Set
	router      *mux.Router
	handler     http.Handler
	httpServer  *http.Server
	logger      *zap.Logger
}

// NewServer wires one predict endpoint per subsystem. Every subsystem must
// have a classifier in set.
func NewServer(cfg config.ServerConfig, set *classifier.Set, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		classifiers: set,
		router:      mux.NewRouter(),
		logger:      logger,
	}

	s.router.Use(requestLogger(logger))
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Not found"})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "Method not allowed"})
	})

	for _, sub := range models.Subsystems {
		c, ok := set.Get(sub)
		if !ok {
			return nil, fmt.Errorf("no classifier loaded for subsystem %s", sub)
		}
		h := NewPredictHandler(detector.NewAnomalyDetector(sub, c), logger)
		s.router.Handle(sub.Route(), h).Methods(http.MethodPost)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger)),
		handlers.PrintRecoveryStack(true),
	)(s.router)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler exposes the full handler chain
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called. It returns nil once shut down,
// including when Shutdown ran first.
func (s *Server) Start() error {
	s.logger.Info("server listening", zap.String("addr", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns the server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"subsystems": models.Subsystems,
	})
}

// handleModels lists the loaded classifiers
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	infos := s.classifiers.Describe()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(infos),
		"classifiers": infos,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
