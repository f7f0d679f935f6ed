// Package diagnostics is a read-only HTTP introspection server over one or
// more asyncsql.ConnectionManagers: live sessions, Prometheus metrics, and
// a liveness probe. Grounded on the teacher's internal/api/server.go,
// trimmed to the subset that makes sense for a client library with no
// tenant concept (see DESIGN.md "Dropped teacher concepts").
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asyncsql/asyncsql"
)

// Server exposes read-only introspection over the ConnectionManagers it is
// given; it never mutates session or transaction state.
type Server struct {
	managers   []asyncsql.ConnectionManager
	httpServer *http.Server
	startTime  time.Time
}

// NewServer wraps one or more managers (typically one per protocol in use)
// for introspection.
func NewServer(managers ...asyncsql.ConnectionManager) *Server {
	return &Server{managers: managers, startTime: time.Now()}
}

// Start begins serving on addr in the background; it returns once the
// listener has been handed to net/http, mirroring the teacher's
// api.Server.Start (fire the listen goroutine, return nil immediately and
// let it log its own bind errors).
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherers(), promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[diagnostics] listening on %s", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[diagnostics] server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// gatherers combines every manager's Prometheus registry into one Gatherer,
// since each manager owns a fresh registry per obsmetrics.New().
func (s *Server) gatherers() prometheus.Gatherers {
	gs := make(prometheus.Gatherers, 0, len(s.managers))
	for _, m := range s.managers {
		if reg := m.Metrics(); reg != nil {
			gs = append(gs, reg)
		}
	}
	return gs
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var out []asyncsql.SessionInfo
	for _, m := range s.managers {
		if lister, ok := m.(asyncsql.SessionLister); ok {
			out = append(out, lister.Sessions()...)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, m := range s.managers {
		lister, ok := m.(asyncsql.SessionLister)
		if !ok {
			continue
		}
		if info, ok := lister.Session(id); ok {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "up",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"managers_wired": len(s.managers),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
