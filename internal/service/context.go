package service

import "context"

type ctxKey string

const ctxActorKey ctxKey = "actor"

type ActorRole string

const (
	ActorGuest  ActorRole = "guest"
	ActorStaff  ActorRole = "staff"
	ActorSystem ActorRole = "system"
)

// Actor: кто инициирует переход статуса. Override снимает проверку депозита
// и доступен только персоналу.
type Actor struct {
	ID       string
	Role     ActorRole
	Override bool
	Reason   string
}

var systemActor = Actor{ID: "system", Role: ActorSystem}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(ctxActorKey).(Actor)
	return v, ok
}

func actorOrSystem(ctx context.Context) Actor {
	if a, ok := ActorFromContext(ctx); ok {
		return a
	}
	return systemActor
}
