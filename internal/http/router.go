package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	WhatsApp       *WhatsAppHandler
	Payments       *PaymentHandler
	Tenants        *TenantHandler
	Health         *HealthHandler
	ReceiptsDir    string
	AdminJWTSecret string
	RequestTimeout time.Duration
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

// NewRouter wires every public, webhook and admin route and wraps the result
// in an OpenTelemetry handler.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDHeader)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/payment/success", PaymentSuccess)
	r.Handle("/receipts/*", http.StripPrefix("/receipts/", http.FileServer(http.Dir(cfg.ReceiptsDir))))

	r.Route("/webhook", func(r chi.Router) {
		r.Get("/whatsapp", cfg.WhatsApp.Verify)
		r.Post("/whatsapp", cfg.WhatsApp.Receive)
		r.Post("/razorpay", cfg.Payments.Receive)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(AdminAuth(cfg.AdminJWTSecret))

		r.Get("/stats", cfg.Tenants.PlatformStats)
		r.Route("/tenants", func(r chi.Router) {
			r.Post("/", cfg.Tenants.Create)
			r.Get("/", cfg.Tenants.List)
			r.Route("/{tenantId}", func(r chi.Router) {
				r.Get("/", cfg.Tenants.Get)
				r.Put("/", cfg.Tenants.Update)
				r.Delete("/", cfg.Tenants.Deactivate)
				r.Get("/orders", cfg.Tenants.ListOrders)
				r.Post("/orders/{orderId}/refund", cfg.Tenants.RefundOrder)
				r.Get("/conversations", cfg.Tenants.ListConversations)
				r.Get("/stats", cfg.Tenants.Stats)
				r.Post("/test-whatsapp", cfg.Tenants.TestWhatsApp)
			})
		})
	})

	return otelhttp.NewHandler(r, "wa-commerce",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
