package shared

import "context"

// Role names recognised by the guard and gate middleware.
const (
	RoleAdmin  = "admin"
	RoleWorker = "worker"
)

// Actor identifies the authenticated user behind a request. Authentication
// itself happens upstream; the gateway forwards identity headers.
type Actor struct {
	ID   int64
	Name string
	Role string
}

// IsAdmin reports whether the actor carries the admin role.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
