package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/fieldlock/fieldlock/access"
)

type contextKey int

const actorKey contextKey = iota

// AuthMiddleware validates the Bearer token, resolves the actor's
// stored profile and puts the actor on the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		actor, err := a.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		actor = a.verifier.ResolveProfile(r.Context(), actor)

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromContext(ctx context.Context) access.Actor {
	actor, _ := ctx.Value(actorKey).(access.Actor)
	return actor
}

// requireAdmin gates operational endpoints to tenant admins.
func requireAdmin(w http.ResponseWriter, actor access.Actor) bool {
	if actor.Role != access.RoleAdmin && actor.Role != access.RoleSuperAdmin {
		writeError(w, http.StatusForbidden, "administrator role required")
		return false
	}
	return true
}
