package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the signed-in identity id in context.
func ContextWithActor(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, identityID)
}

// ActorFromContext extracts the identity id stored by ContextWithActor.
func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorContextKey{}).(string)
	return id
}
