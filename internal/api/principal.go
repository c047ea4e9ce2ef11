package api

import (
	"context"
	"net/http"
	"strings"
)

type principalKey struct{}

// Principal identifies the authenticated caller. Authentication itself is an
// external concern; the bearer token is treated as an opaque principal id.
type Principal struct {
	UserID string
}

// WithPrincipal extracts the bearer token into a request-scoped Principal.
// Requests without a token proceed as anonymous; enforcement belongs to the
// collaborator in front of this service.
func WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := Principal{UserID: "anonymous"}
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
				p.UserID = token
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// PrincipalFrom returns the caller principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Principal{UserID: "anonymous"}
}
