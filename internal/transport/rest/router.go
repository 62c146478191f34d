package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fleetops/orchestrator/internal/metrics"
	"github.com/fleetops/orchestrator/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger checks the broker's reachability for readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterDeps struct {
	Handler   *Handler
	Verifier  security.AccessTokenVerifier
	JWTIssuer string
	Redis     Pinger
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(metrics.HTTPMiddleware)
	r.Use(HTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/healthz", healthzHandler)
	r.Get("/readyz", readyzHandler(d.Redis))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhook/jobs/", d.Handler.CreateJob)
	r.Get("/jobs/", d.Handler.ListJobs)
	r.Get("/jobs/{job_id}/", d.Handler.GetJob)
	r.Get("/jobs/{job_id}/executions", d.Handler.ListJobExecutions)
	r.Get("/jobs/executions/{execution_id}/logs", d.Handler.GetExecutionLogs)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier, AuthOptions{ExpectedIssuer: d.JWTIssuer}))

		r.Post("/jobs/{job_id}/approve/", d.Handler.ApproveJob)
		r.Post("/jobs/{job_id}/reject/", d.Handler.RejectJob)
		r.Put("/hosts/{host_id}/blocks", d.Handler.SetHostBlocks)
		r.Delete("/hosts/{host_id}/blocks/{command_type}", d.Handler.DeleteHostBlock)
	})

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func readyzHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string)
		allHealthy := true

		if pinger != nil {
			if err := pinger.Ping(ctx); err != nil {
				checks["redis"] = "unhealthy: " + err.Error()
				allHealthy = false
			} else {
				checks["redis"] = "healthy"
			}
		} else {
			checks["redis"] = "not_configured"
		}

		checks["status"] = "ready"
		if !allHealthy {
			checks["status"] = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(checks)
	}
}
