// Package api exposes the seller over HTTP and websocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/otcseller/internal/api/handlers"
	"github.com/wonny/otcseller/pkg/database"
	"github.com/wonny/otcseller/pkg/logger"
)

// Pinger is a dependency /health reports on
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseHealth reports pool details for /health; *database.DB implements it
type DatabaseHealth interface {
	HealthCheck(ctx context.Context) (*database.HealthStatus, error)
}

// Handlers groups everything the router mounts. Events, Metrics, Database and
// Checks are optional.
type Handlers struct {
	Orders   *handlers.OrderHandler
	Pairs    *handlers.PairHandler
	Ledger   *handlers.LedgerHandler
	Events   http.Handler // websocket stream
	Metrics  http.Handler
	Database DatabaseHealth
	Checks   map[string]Pinger
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: every route is declared here
func NewRouter(h Handlers, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthCheckHandler(h.Database, h.Checks)).Methods("GET")
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods("GET")
	}
	if h.Events != nil {
		r.Handle("/ws/events", h.Events).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Pairs and prices
	api.HandleFunc("/pairs", h.Pairs.List).Methods("GET")
	api.HandleFunc("/price", h.Pairs.Price).Methods("GET")

	// Orders; /check is registered before /{uid} so it is never read as a uid
	api.HandleFunc("/orders/check", h.Orders.Check).Methods("POST")
	api.HandleFunc("/orders", h.Orders.Settle).Methods("POST")
	api.HandleFunc("/orders", h.Orders.List).Methods("GET")
	api.HandleFunc("/orders/{uid}", h.Orders.Get).Methods("GET")
	api.HandleFunc("/orders/{uid}/cancel", h.Orders.Cancel).Methods("POST")
	api.HandleFunc("/orders/{uid}/complete", h.Orders.Complete).Methods("POST")

	// Ledger
	api.HandleFunc("/reserved", h.Ledger.ReservedAll).Methods("GET")
	api.HandleFunc("/reserved/{token}", h.Ledger.Reserved).Methods("GET")
	api.HandleFunc("/events", h.Ledger.Events).Methods("GET")

	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler reports ok only when every check passes
func healthCheckHandler(db DatabaseHealth, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		results := make(map[string]string, len(checks)+1)
		var dbStatus *database.HealthStatus
		if db != nil {
			var err error
			if dbStatus, err = db.HealthCheck(ctx); err != nil {
				results["database"] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
			} else {
				results["database"] = "ok"
			}
		}
		for name, c := range checks {
			if err := c.Ping(ctx); err != nil {
				results[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		body := map[string]interface{}{
			"status":  status,
			"service": "otcseller-api",
			"checks":  results,
		}
		if dbStatus != nil {
			body["database"] = dbStatus
		}
		json.NewEncoder(w).Encode(body)
	}
}

// statusRecorder captures the status code for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack passes through for the websocket upgrade
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"caller":   r.Header.Get(handlers.CallerHeader),
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
