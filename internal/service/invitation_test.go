package service

import (
	"context"
	"testing"
	"time"

	"debate_arena/internal/models"
)

func TestNewInviteTokenShape(t *testing.T) {
	first, err := NewInviteToken()
	if err != nil {
		t.Fatalf("NewInviteToken err: %v", err)
	}
	second, err := NewInviteToken()
	if err != nil {
		t.Fatalf("NewInviteToken err: %v", err)
	}

	if len(first) != 64 || len(second) != 64 {
		t.Fatalf("token lengths = %d, %d, want 64", len(first), len(second))
	}
	if first == second {
		t.Fatal("two freshly minted tokens collided")
	}
}

func TestGetOrCreateLinkStableWhileValid(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	token, expiresAt, err := env.invitation.GetOrCreateLink(session.ID)
	if err != nil {
		t.Fatalf("GetOrCreateLink err: %v", err)
	}
	if token != session.InviteToken {
		t.Fatal("valid token was replaced")
	}
	if !expiresAt.Equal(session.InviteExpiresAt) {
		t.Fatalf("expiry = %v, want %v", expiresAt, session.InviteExpiresAt)
	}

	again, _, err := env.invitation.GetOrCreateLink(session.ID)
	if err != nil {
		t.Fatalf("GetOrCreateLink err: %v", err)
	}
	if again != token {
		t.Fatal("token changed between consecutive reads")
	}
}

func TestGetOrCreateLinkRegeneratesExpired(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	old := session.InviteToken

	env.invitation.now = func() time.Time {
		return session.InviteExpiresAt.Add(time.Second)
	}

	token, expiresAt, err := env.invitation.GetOrCreateLink(session.ID)
	if err != nil {
		t.Fatalf("GetOrCreateLink err: %v", err)
	}
	if token == old {
		t.Fatal("expired token was not regenerated")
	}
	if len(token) != 64 {
		t.Fatalf("regenerated token length = %d, want 64", len(token))
	}
	if !expiresAt.After(session.InviteExpiresAt) {
		t.Fatal("regenerated expiry is not later than the old one")
	}

	// 舊令牌即刻作廢
	current, _ := env.store.FindByID(session.ID)
	if err := env.invitation.Validate(current, old); KindOf(err) != KindValidation {
		t.Fatalf("old token: kind = %v, want validation", KindOf(err))
	}
	if err := env.invitation.Validate(current, token); err != nil {
		t.Fatalf("new token rejected: %v", err)
	}
}

func TestGetOrCreateLinkMintsWhenMissing(t *testing.T) {
	env := newTestEnv()

	session := &models.Session{
		Topic:  "辯題",
		Rounds: 3,
		Status: models.SessionStatusCreated,
	}
	if err := env.store.Create(session); err != nil {
		t.Fatalf("Create err: %v", err)
	}

	token, _, err := env.invitation.GetOrCreateLink(session.ID)
	if err != nil {
		t.Fatalf("GetOrCreateLink err: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("token length = %d, want 64", len(token))
	}
}

func TestGetOrCreateLinkMissingSession(t *testing.T) {
	env := newTestEnv()

	_, _, err := env.invitation.GetOrCreateLink(404)
	if KindOf(err) != KindValidation {
		t.Fatalf("missing session: kind = %v, want validation", KindOf(err))
	}
}
