package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apimiddleware "github.com/supportbridge/whatsapp-chatwoot-bridge/internal/api/middleware"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/chatwoot"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/messaging"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	InboundHandler  *messaging.Handler
	ChatwootWebhook *chatwoot.WebhookHandler
	MetricsHandler  http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(apimiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", cfg.InboundHandler.HealthCheck)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/twilio/whatsapp", cfg.InboundHandler.WhatsAppWebhook)
		if cfg.ChatwootWebhook != nil {
			r.Post("/chatwoot", cfg.ChatwootWebhook.Handle)
		}
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
