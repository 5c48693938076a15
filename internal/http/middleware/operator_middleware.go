package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/licenselock/licenselock/internal/http/response"
)

type contextKey string

const actorContextKey contextKey = "operator_actor"

// RequireOperatorKey guards the administrative surface with a shared key.
// The operator names itself through X-Operator-Actor for the audit trail.
func RequireOperatorKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-Operator-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "operator key required", nil)
				return
			}
			actor := r.Header.Get("X-Operator-Actor")
			if actor == "" {
				actor = "operator"
			}
			ctx := context.WithValue(r.Context(), actorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey).(string); ok {
		return actor
	}
	return "operator"
}
