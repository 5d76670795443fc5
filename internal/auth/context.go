// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type actorContextKey struct{}

var ctxActorKey actorContextKey

// Actor is the authenticated caller of a request. Role is the role claimed in
// the actor's token; the approval engine re-checks it against storage before
// any resolution.
type Actor struct {
	ID   string
	Role string
}

// WithActor stores the authenticated actor on the request context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey, actor)
}

// ActorFromContext reads the authenticated actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	v := ctx.Value(ctxActorKey)
	actor, ok := v.(Actor)
	if !ok || actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}
