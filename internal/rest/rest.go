// Package rest exposes the portal's HTTP API and serves the built frontend.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/zoniahub/portal/internal/auth"
)

// Routes assembles the full router: WebSocket endpoint, API routes with the
// session gate, and SPA serving for everything else.
func (h *Handler) Routes(websocket http.Handler, staticDir string) chi.Router {
	r := chi.NewRouter()
	r.Use(
		withSecurityHeaders,
		withCORS(),
		withLogger(h.logger),
		middleware.Recoverer,
	)

	r.Handle("/ws", websocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/test", h.Test)
		r.Post("/contact", h.Contact)
		r.Post("/upload", h.Upload)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.sessions))
			r.Get("/me", h.Me)
			r.Get("/workflows", h.ListWorkflows)
			r.Get("/workflows/{workflowID}/users", h.WorkflowUsers)
			r.Get("/workflows/{workflowID}/check-update", h.CheckUpdate)
			r.Post("/workflows/{workflowID}/refresh-name", h.RefreshName)
		})
	})

	r.NotFound(spaHandler(staticDir))
	return r
}

// withSecurityHeaders sets the headers the portal needs to host n8n in an
// iframe on the same origin without letting third parties frame it.
// Cross-Origin-Embedder-Policy stays off: n8n pulls assets from CDNs that do
// not send CORP headers.
func withSecurityHeaders(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "SAMEORIGIN")
		header.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		header.Set("Cross-Origin-Opener-Policy", "same-origin")
		header.Set("Content-Security-Policy", "frame-ancestors 'self'; frame-src 'self' https:")

		if req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https" {
			header.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		handler.ServeHTTP(w, req)
	})
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: false,
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logger.WithContext(req.Context())
			req = req.WithContext(ctx)
			handler.ServeHTTP(w, req)
		})
	}
}
