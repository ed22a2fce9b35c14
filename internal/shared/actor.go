package shared

import (
	"context"
	"net/http"
	"strings"
)

// Role enumerates the office roles recognised by the workflow engine.
type Role string

const (
	RoleStorekeeper Role = "storekeeper"
	RoleAccount     Role = "account"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "super-admin"
	RoleApproval    Role = "approval"
)

// Actor is the authenticated user acting on a document. Authentication itself
// happens upstream; the actor arrives fully resolved.
type Actor struct {
	FullName    string
	Designation string
	Role        Role
}

// Valid reports whether the actor carries a known role.
func (a Actor) Valid() bool {
	switch a.Role {
	case RoleStorekeeper, RoleAccount, RoleAdmin, RoleSuperAdmin, RoleApproval:
		return a.FullName != ""
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ActorMiddleware resolves the acting user from the headers injected by the
// upstream auth proxy. Requests without a usable actor pass through; role
// checks happen at the workflow edges, not here.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := Actor{
			FullName:    strings.TrimSpace(r.Header.Get("X-Actor-Name")),
			Designation: strings.TrimSpace(r.Header.Get("X-Actor-Designation")),
			Role:        Role(strings.ToLower(strings.TrimSpace(r.Header.Get("X-Actor-Role")))),
		}
		if actor.Valid() {
			r = r.WithContext(ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
