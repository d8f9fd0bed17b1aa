// Package status serves the local read-only HTTP status surface.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"felicad/pipeline"
)

// Config holds the status server settings. An empty Addr disables it.
type Config struct {
	Addr string `yaml:"addr" env:"FELICAD_STATUS_ADDR"`
}

// LastReader reports the most recent card read.
type LastReader interface {
	Last() (pipeline.LastRead, bool)
}

type Server struct {
	httpServer *http.Server
	cards      LastReader
	log        logrus.FieldLogger
}

func NewServer(addr string, cards LastReader, log logrus.FieldLogger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		cards: cards,
		log:   log.WithField("component", "status"),
	}

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/cards", s.handleCards)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(s.log, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Infof("Status server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	last, ok := s.cards.Last()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no card read yet"})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(log logrus.FieldLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"from":   r.RemoteAddr,
			"dur":    time.Since(start).String(),
		}).Debug("HTTP request")
	})
}
