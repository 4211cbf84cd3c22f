// Package api defines the REST API handlers and the interfaces they depend on.
package api

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/lifecycle"
)

// LifecycleRunner runs the materializer and archival sweep. Implemented by
// *lifecycle.Engine.
type LifecycleRunner interface {
	Run(ctx context.Context) (lifecycle.RunResult, error)
	Today() civil.Date
}

var _ LifecycleRunner = (*lifecycle.Engine)(nil)

type contextKey int

const ctxKeyActor contextKey = 0

// WithActor returns ctx carrying the authenticated actor.
func WithActor(ctx context.Context, a actor.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, a)
}

// ActorFrom returns the actor stored by WithActor.
func ActorFrom(ctx context.Context) (actor.Actor, bool) {
	a, ok := ctx.Value(ctxKeyActor).(actor.Actor)
	return a, ok
}
