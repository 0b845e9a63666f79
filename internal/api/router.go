package api

import (
	"context"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/provider-availability/internal/availability"
)

// AvailabilityService is the part of availability.Service the handlers use.
type AvailabilityService interface {
	Create(ctx context.Context, providerID uuid.UUID, req availability.CreateRequest) ([]availability.WindowWithSlots, error)
	Update(ctx context.Context, providerID, id uuid.UUID, req availability.UpdateRequest) (*availability.WindowWithSlots, error)
	Delete(ctx context.Context, providerID, id uuid.UUID, req availability.DeleteRequest) (availability.DeleteResult, error)
	Get(ctx context.Context, id uuid.UUID) (*availability.WindowWithSlots, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, from, to civil.Date, page availability.Page) (availability.ListResult, error)
	Search(ctx context.Context, filter availability.SearchFilter, page availability.Page) (availability.ListResult, error)
}

type RouterConfig struct {
	Service     AvailabilityService
	Logger      zerolog.Logger
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	RateLimiter RateLimiter
	JWTSecret   string
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(RateLimitMiddleware(cfg.RateLimiter))
		}

		r.Get("/availability/search", searchAvailabilityHandler(cfg.Service))
		r.Get("/provider/{providerId}/availability", listProviderAvailabilityHandler(cfg.Service))
		r.Get("/provider/availability/{id}", getAvailabilityHandler(cfg.Service))

		// Availability writes
		r.Group(func(r chi.Router) {
			r.Use(ProviderAuth(cfg.JWTSecret))
			r.Post("/provider/availability", createAvailabilityHandler(cfg.Service))
			r.Put("/provider/availability/{id}", updateAvailabilityHandler(cfg.Service))
			r.Delete("/provider/availability/{id}", deleteAvailabilityHandler(cfg.Service))
		})
	})

	return otelhttp.NewHandler(r, "availability-api",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/health/live" && req.URL.Path != "/health/ready"
		}),
	)
}
