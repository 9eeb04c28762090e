package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

type contextKey struct{}

// IdentityFromContext returns the authenticated identity attached by
// Middleware, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}

// Middleware rejects requests without a valid session cookie and attaches
// the verified identity to the request context.
func Middleware(sessions *Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			identity, err := sessions.FromRequest(req)
			if err != nil {
				log.Ctx(req.Context()).Debug().Str("path", req.URL.Path).Msg("rejected unauthenticated request")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"error":"authentication required"}`)
				return
			}
			ctx := context.WithValue(req.Context(), contextKey{}, identity)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
