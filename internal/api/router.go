package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/oroshine/booking-engine/internal/booking"
	"github.com/oroshine/booking-engine/internal/config"
	redisclient "github.com/oroshine/booking-engine/internal/redis"
)

type RouterConfig struct {
	Service *booking.Service
	Limiter *redisclient.RateLimiter
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Cfg     config.Config
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	bookingLimit := redisclient.Limit{Max: cfg.Cfg.BookingLimit, Window: cfg.Cfg.BookingWindow}
	availabilityLimit := redisclient.Limit{Max: cfg.Cfg.AvailabilityLimit, Window: cfg.Cfg.AvailabilityWindow}

	// Booking endpoints
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Limiter, "booking", bookingLimit))
		r.Post("/appointments", createAppointmentHandler(cfg.Service))
	})

	r.Get("/appointments", listAppointmentsHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))

	// Availability
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Limiter, "availability", availabilityLimit))
		r.Get("/providers/{id}/availability", availabilityHandler(cfg.Service))
	})

	return r
}
