package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the authenticated actor id in context. The actor is
// supplied by the outer authentication layer; the core only attributes it.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the actor id from context. The second return
// reports whether an actor was attached; callers attributing anonymous
// commands may discard it and use the zero id.
func ActorFromContext(ctx context.Context) (int64, bool) {
	actorID, ok := ctx.Value(actorContextKey{}).(int64)
	return actorID, ok
}
