package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/wa-autoreply/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/wa-autoreply/internal/http/middleware"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Webhook        *handlers.WhatsAppWebhookHandler
	InstanceStatus *handlers.InstanceStatusHandler
	MetricsHandler http.Handler

	// Webhook rate limit per instance key; zero disables it.
	WebhookRateLimit float64
	WebhookRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handlers.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Webhook != nil {
		r.Route("/webhook/{instanceKey}", func(wh chi.Router) {
			if cfg.WebhookRateLimit > 0 {
				wh.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
			}
			wh.Get("/", cfg.Webhook.Verify)
			wh.Post("/", cfg.Webhook.Handle)
		})
	}

	if cfg.InstanceStatus != nil {
		r.Route("/instances/{instanceKey}/status", func(st chi.Router) {
			st.Put("/", cfg.InstanceStatus.UpdateStatus)
			st.Post("/refresh", cfg.InstanceStatus.RefreshStatus)
		})
	}

	return r
}
