package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting user id in context. The identity is
// supplied by the auth layer; the engine only records it.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the acting user id, 0 when absent.
func ActorFromContext(ctx context.Context) int64 {
	actorID, _ := ctx.Value(actorContextKey{}).(int64)
	return actorID
}
