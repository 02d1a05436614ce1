package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const UsernameKey contextKey = "username"

// RequestAuthenticator resolves the caller of a request.
type RequestAuthenticator interface {
	AuthenticateRequest(r *http.Request) (string, error)
}

// AuthMiddleware rejects unauthenticated requests and stores the caller's
// username in the request context.
func AuthMiddleware(authn RequestAuthenticator, onFailure http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, err := authn.AuthenticateRequest(r)
			if err != nil {
				onFailure.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), UsernameKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok && username != ""
}
