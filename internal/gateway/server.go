package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.gatherer != nil && g.config.MetricsPath != "-" {
		r.Handle(g.config.MetricsPath, promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	}

	// Webhooks carry their own per-source authentication.
	r.Post("/webhooks/{source}", g.dispatcher.ServeHTTP)
	r.Get("/webhooks/{source}", g.dispatcher.ServeVerify)
	// Sockets authenticate their own clients.
	r.Get("/ws/{source}", g.sockets.ServeHTTP)

	// Admin endpoints. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth, g.auditLogger, g.rateLimiter))
			r.Get("/status", g.handleStatus())
			r.Route("/api", func(r chi.Router) {
				r.Route("/channels", func(r chi.Router) {
					r.Get("/", g.handleListChannels())
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", g.handleGetChannel())
						r.Post("/connect", g.handleChannelAction(actionConnect))
						r.Post("/disconnect", g.handleChannelAction(actionDisconnect))
						r.Post("/logout", g.handleChannelAction(actionLogout))
						r.Post("/login", g.handleLogin())
						r.Delete("/login", g.handleCancelLogin())
						r.Get("/qr.png", g.handleQR())
						r.Post("/messages", g.handleSend())
					})
				})
				r.Get("/modules", g.handleGetAllModules())
				r.Get("/config", g.handleGetConfig())
				r.Post("/config/reload", g.handleReloadConfig())
			})
		})
	}

	return r
}
