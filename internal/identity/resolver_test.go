package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

type failingProfiles struct{}

func (failingProfiles) GetByUserID(context.Context, string) (*domain.Profile, error) {
	return nil, errors.New("connection reset")
}

func (failingProfiles) Upsert(context.Context, *domain.Profile) error {
	return errors.New("connection reset")
}

func newResolver(t *testing.T, profiles ...domain.Profile) *Resolver {
	t.Helper()
	store := repository.NewMemoryStore().Profiles()
	for i := range profiles {
		if err := store.Upsert(context.Background(), &profiles[i]); err != nil {
			t.Fatalf("Upsert returned error: %v", err)
		}
	}
	return NewResolver(store, nil)
}

func TestResolve(t *testing.T) {
	r := newResolver(t,
		domain.Profile{UserID: "agent123", Role: domain.RoleSupportAgent},
		domain.Profile{UserID: "u-blank", Role: ""},
		domain.Profile{UserID: "u-odd", Role: domain.ParseRole("superuser")},
	)

	tests := []struct {
		name     string
		session  *Session
		wantRole domain.Role
		wantErr  error
	}{
		{"agent", &Session{UserID: "agent123", Email: "agent@x.com"}, domain.RoleSupportAgent, nil},
		{"no profile", &Session{UserID: "u-new", Email: "new@x.com"}, domain.RoleUnknown, apperrors.ErrProfileMissing},
		{"blank role", &Session{UserID: "u-blank", Email: "b@x.com"}, domain.RoleUnknown, apperrors.ErrProfileMissing},
		{"unrecognised role", &Session{UserID: "u-odd", Email: "o@x.com"}, domain.RoleUnknown, nil},
		{"nil session", nil, "", apperrors.ErrUnauthorized},
		{"blank user id", &Session{Email: "x@x.com"}, "", apperrors.ErrUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			actor, err := r.Resolve(context.Background(), tc.session)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if actor.Role != tc.wantRole {
				t.Fatalf("expected role %q, got %q", tc.wantRole, actor.Role)
			}
		})
	}
}

func TestActorForDefaultsToCustomer(t *testing.T) {
	r := newResolver(t)
	actor, err := r.ActorFor(context.Background(), &Session{UserID: "u-new", Email: "new@x.com"})
	if err != nil {
		t.Fatalf("ActorFor returned error: %v", err)
	}
	if actor.Role != domain.RoleCustomer || actor.Email != "new@x.com" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestActorForSurfacesStoreFailure(t *testing.T) {
	r := NewResolver(failingProfiles{}, nil)
	_, err := r.ActorFor(context.Background(), &Session{UserID: "u1", Email: "a@x.com"})
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestWatchEmitsChangesInOrder(t *testing.T) {
	r := newResolver(t, domain.Profile{UserID: "admin1", Role: domain.RoleAdmin})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := make(chan *Session)
	changes := r.Watch(ctx, sessions)

	go func() {
		sessions <- &Session{UserID: "admin1", Email: "admin@x.com"}
		sessions <- nil
		sessions <- &Session{UserID: "u-new", Email: "new@x.com"}
		close(sessions)
	}()

	want := []struct {
		authenticated bool
		role          domain.Role
	}{
		{true, domain.RoleAdmin},
		{false, ""},
		{true, domain.RoleCustomer},
	}
	for i, w := range want {
		select {
		case change := <-changes:
			if change.Authenticated() != w.authenticated {
				t.Fatalf("change %d: expected authenticated=%v", i, w.authenticated)
			}
			if w.authenticated && change.Actor.Role != w.role {
				t.Fatalf("change %d: expected role %s, got %s", i, w.role, change.Actor.Role)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for change %d", i)
		}
	}
	select {
	case _, ok := <-changes:
		if ok {
			t.Fatalf("expected channel to close after sessions closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for close")
	}
}
