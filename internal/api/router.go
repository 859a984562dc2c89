package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/circuitbreaker"
	"github.com/gabri3lsal3s/ikgaihub/internal/metrics"
	"github.com/gabri3lsal3s/ikgaihub/internal/redis"
)

const healthTimeout = 2 * time.Second

// Check tests one dependency for the health endpoint.
type Check func(ctx context.Context) error

// RouterConfig carries the optional pieces of the HTTP surface.
type RouterConfig struct {
	Limiter        *redis.RateLimiter
	Checks         map[string]Check
	Breakers       []*circuitbreaker.CircuitBreaker
	RequestTimeout time.Duration
}

// NewRouter mounts every route on a chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(h.logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireUser)
		r.Use(RateLimitMiddleware(cfg.Limiter, h.logger, UserKeyFunc))

		r.Route("/reminders", func(r chi.Router) {
			r.Post("/", h.CreateReminder)
			r.Get("/", h.ListReminders)
			r.Get("/calendar.ics", h.ReminderCalendar)
			r.Get("/{id}", h.GetReminder)
			r.Patch("/{id}", h.UpdateReminder)
			r.Delete("/{id}", h.DeleteReminder)
			r.Post("/{id}/toggle", h.ToggleReminder)
			r.Post("/{id}/complete", h.CompleteReminder)
		})

		r.Get("/schedules/pending", h.PendingSchedules)
		r.Post("/schedules/{id}/sent", h.MarkScheduleSent)

		r.Get("/dashboard", h.Dashboard)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/{id}/read", h.MarkNotificationRead)

		r.Get("/push/permission", h.PushPermission)
		r.Post("/push/subscriptions", h.RegisterPushSubscription)
		r.Delete("/push/subscriptions/{id}", h.DeletePushSubscription)

		r.Post("/session", h.StartSession)
		r.Delete("/session", h.EndSession)
	})

	r.Get("/health", HealthHandler(cfg.Checks, cfg.Breakers, h.logger))
	r.Handle("/metrics", metrics.Handler())

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Checks   map[string]string      `json:"checks"`
	Breakers []circuitbreaker.Stats `json:"breakers,omitempty"`
}

// HealthHandler runs every check and reports breaker states. Any failing
// check turns the response into a 503.
func HealthHandler(checks map[string]Check, breakers []*circuitbreaker.CircuitBreaker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		for _, cb := range breakers {
			resp.Breakers = append(resp.Breakers, cb.Stats())
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
