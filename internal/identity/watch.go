package identity

import (
	"context"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

// ActorChange is emitted for every session change. A nil Actor means the
// dependent view must drop all ticket state.
type ActorChange struct {
	Actor *domain.Actor
	Err   error
}

// Authenticated reports whether the change carries a usable actor.
func (c ActorChange) Authenticated() bool {
	return c.Actor != nil
}

// Watch resolves each session pushed on sessions, in order. A nil session
// is a logout. The returned channel closes when ctx ends or sessions closes.
func (r *Resolver) Watch(ctx context.Context, sessions <-chan *Session) <-chan ActorChange {
	out := make(chan ActorChange)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case session, ok := <-sessions:
				if !ok {
					return
				}
				change := r.change(ctx, session)
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (r *Resolver) change(ctx context.Context, session *Session) ActorChange {
	if session == nil {
		return ActorChange{}
	}
	actor, err := r.ActorFor(ctx, session)
	if err != nil {
		return ActorChange{Err: err}
	}
	return ActorChange{Actor: &actor}
}
