package api

import (
	"net/http"

	"docjobs/internal/health"
	"docjobs/internal/job"
	"docjobs/internal/observability"
	"docjobs/internal/ratelimit"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService    *job.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	RateLimiter   ratelimit.Limiter // nil disables rate limiting
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Worker webhook - authenticated per job by the callback token
	limit := RateLimitMiddleware(cfg.RateLimiter, cfg.Metrics)
	mux.Handle("POST /v1/callbacks", limit(http.HandlerFunc(handler.Callback)))

	// Job endpoints - auth required
	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs", auth(limit(http.HandlerFunc(handler.AdmitJob))))
	mux.Handle("POST /v1/jobs/reclaim", auth(limit(http.HandlerFunc(handler.ReclaimJobs))))
	mux.Handle("GET /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.GetJob)))
	mux.Handle("POST /v1/jobs/{jobId}/cancel", auth(limit(http.HandlerFunc(handler.CancelJob))))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
