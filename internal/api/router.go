package api

import (
	"github.com/ayo6706/merchant-onboarding/internal/api/handler"
	"github.com/ayo6706/merchant-onboarding/internal/api/middleware"
	"github.com/ayo6706/merchant-onboarding/internal/api/spec"
	"github.com/ayo6706/merchant-onboarding/internal/config"
	"github.com/ayo6706/merchant-onboarding/internal/gateway"
	"github.com/ayo6706/merchant-onboarding/internal/idempotency"
	"github.com/ayo6706/merchant-onboarding/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Router wires handlers and middleware into the HTTP surface.
type Router struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	redis      redis.Cmdable
	onboarding *service.OnboardingService
	webhook    *service.WebhookAuthenticator
	bank       gateway.BankGateway
	idem       *idempotency.Store
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	onboarding *service.OnboardingService,
	webhookAuth *service.WebhookAuthenticator,
	bank gateway.BankGateway,
	idemStore *idempotency.Store,
) *Router {
	return &Router{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		onboarding: onboarding,
		webhook:    webhookAuth,
		bank:       bank,
		idem:       idemStore,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	auth := middleware.NewAuth(api.cfg.JWTSecret, api.cfg.JWTIssuer, api.cfg.JWTAudience)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	merchantHandler := handler.NewMerchantHandler(api.onboarding)
	adminHandler := handler.NewAdminHandler(api.onboarding)
	webhookHandler := handler.NewWebhookHandler(api.webhook, api.bank, api.onboarding, api.logger)

	// Operational endpoints, no auth.
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Bank partner callback. Authenticated by HMAC signature, not JWT.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/webhooks/bank", webhookHandler.HandleBankDecision)
	})

	// Merchant owner endpoints.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Post("/v1/merchants", merchantHandler.CreateMerchant)
		r.Get("/v1/merchants/me", merchantHandler.GetOwnMerchant)
		r.Post("/v1/merchants/submit", merchantHandler.SubmitForReview)
	})

	// Review endpoints. Manual transitions are idempotency-key protected.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(middleware.RequireRole(middleware.RoleAdmin))
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/admin/merchants", adminHandler.ListMerchants)
		r.Get("/v1/admin/merchants/{id}", adminHandler.GetMerchant)

		r.Group(func(r chi.Router) {
			r.Use(middleware.IdempotencyMiddleware(api.idem, api.logger))
			r.Post("/v1/admin/merchants/{id}/validate", adminHandler.Validate)
			r.Post("/v1/admin/merchants/{id}/approve", adminHandler.OverrideApprove)
			r.Post("/v1/admin/merchants/{id}/reject", adminHandler.Reject)
		})
	})

	return r
}
