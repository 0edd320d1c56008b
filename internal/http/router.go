package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/auth"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/organization"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/telemetry"
)

const ServiceName = "tenant-service"

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the router wires into routes. Metrics
// and LoginLimiter are optional.
type Dependencies struct {
	Handler      *organization.Handler
	Tokens       auth.TokenValidator
	Health       HealthChecker
	Logger       *zap.Logger
	Metrics      *telemetry.Metrics
	LoginLimiter *LoginLimiter
}

// SetupRouter initializes all routes for the application
func SetupRouter(d Dependencies) *mux.Router {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := mux.NewRouter()
	r.Use(otelmux.Middleware(ServiceName))
	if d.Metrics != nil {
		r.Use(metricsMiddleware(d.Metrics))
	}

	var authMiddleware func(http.Handler) http.Handler
	if d.Metrics != nil {
		authMiddleware = auth.MiddlewareWithMetrics(d.Tokens, logger, d.Metrics)
	} else {
		authMiddleware = auth.Middleware(d.Tokens, logger)
	}

	r.HandleFunc("/health", healthHandler(d.Health, logger)).Methods(http.MethodGet)

	// Public
	r.HandleFunc("/org/create", d.Handler.CreateOrganization).Methods(http.MethodPost)
	r.HandleFunc("/org/get", d.Handler.GetOrganization).Methods(http.MethodGet)

	var login http.Handler = http.HandlerFunc(d.Handler.AdminLogin)
	if d.LoginLimiter != nil {
		login = d.LoginLimiter.Middleware(login)
	}
	r.Handle("/admin/login", login).Methods(http.MethodPost)

	// Token bound to the target organization
	r.Handle("/org/delete", authMiddleware(http.HandlerFunc(d.Handler.DeleteOrganization))).Methods(http.MethodDelete)
	r.Handle("/org/update", authMiddleware(http.HandlerFunc(d.Handler.UpdateOrganization))).Methods(http.MethodPut)

	return r
}

func healthHandler(h HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := h.Ping(ctx); err != nil {
				logger.Warn("Health check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "service": ServiceName})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
	}
}

func metricsMiddleware(m *telemetry.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if cr := mux.CurrentRoute(r); cr != nil {
				if tpl, err := cr.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			snoop := httpsnoop.CaptureMetrics(next, w, r)
			m.RecordHTTPRequest(r.Context(), r.Method, route, snoop.Code, float64(snoop.Duration.Microseconds())/1000)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
