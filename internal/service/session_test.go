package service

import (
	"context"
	"testing"
	"time"

	"debate_arena/internal/models"
)

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	cases := []struct {
		name   string
		topic  string
		rounds int
		pro    uint
		opp    uint
	}{
		{"空辯題", "", 3, 1, 2},
		{"回合數過低", "辯題", 0, 1, 2},
		{"回合數過高", "辯題", MaxRounds + 1, 1, 2},
		{"同一用戶佔雙方", "辯題", 3, 1, 1},
	}
	for _, tc := range cases {
		_, err := env.sessions.CreateSession(ctx, tc.topic, tc.rounds, 1, tc.pro, tc.opp)
		if KindOf(err) != KindValidation {
			t.Fatalf("%s: kind = %v, want validation", tc.name, KindOf(err))
		}
	}
}

func TestCreateSessionMintsInvite(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if session.Status != models.SessionStatusCreated {
		t.Fatalf("status = %s, want created", session.Status)
	}
	// 256 位熵的十六進制表示
	if len(session.InviteToken) != 64 {
		t.Fatalf("invite token length = %d, want 64", len(session.InviteToken))
	}
	ttl := time.Until(session.InviteExpiresAt)
	if ttl < InviteTTL-time.Minute || ttl > InviteTTL {
		t.Fatalf("invite ttl = %v, want about %v", ttl, InviteTTL)
	}
}

func TestAssignParticipantIdempotentAndConflicts(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 0, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	// 首次認領與重複認領都成功
	if err := env.sessions.AssignParticipant(ctx, session.ID, models.PositionProponent, 1); err != nil {
		t.Fatalf("first assign err: %v", err)
	}
	if err := env.sessions.AssignParticipant(ctx, session.ID, models.PositionProponent, 1); err != nil {
		t.Fatalf("repeat assign err: %v", err)
	}

	// 被占用的位置拒絕其他用戶
	if err := env.sessions.AssignParticipant(ctx, session.ID, models.PositionProponent, 2); KindOf(err) != KindConflict {
		t.Fatalf("occupied position: kind = %v, want conflict", KindOf(err))
	}
	// 同一用戶不能再占另一個位置
	if err := env.sessions.AssignParticipant(ctx, session.ID, models.PositionOpponent, 1); KindOf(err) != KindConflict {
		t.Fatalf("both positions: kind = %v, want conflict", KindOf(err))
	}

	current, _ := env.store.FindByID(session.ID)
	if current.ProponentID != 1 || current.OpponentID != 0 {
		t.Fatalf("participants = (%d, %d), want (1, 0)", current.ProponentID, current.OpponentID)
	}
}

func TestAssignParticipantAfterStartRejected(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session := env.runningSession(ctx, 2)

	err := env.sessions.AssignParticipant(ctx, session.ID, models.PositionOpponent, 9)
	if KindOf(err) != KindConflict {
		t.Fatalf("assign on running: kind = %v, want conflict", KindOf(err))
	}
}

func TestStartSessionRequiresBothSides(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	err = env.sessions.StartSession(ctx, session.ID)
	if KindOf(err) != KindValidation {
		t.Fatalf("start with empty seat: kind = %v, want validation", KindOf(err))
	}
}

func TestStartSessionOnlyOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 2)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if err := env.sessions.StartSession(ctx, session.ID); err != nil {
		t.Fatalf("first start err: %v", err)
	}
	if err := env.sessions.StartSession(ctx, session.ID); KindOf(err) != KindConflict {
		t.Fatalf("second start: kind = %v, want conflict", KindOf(err))
	}

	// 啟動後第一個發言位已備妥：序號 0，正方
	pending, ok := env.turnCoord.PendingFor(session.ID)
	if !ok {
		t.Fatal("no pending turn after start")
	}
	if pending.OrderIndex != 0 || pending.Speaker != models.SpeakerProponent {
		t.Fatalf("pending = %+v, want index 0 proponent", pending)
	}
}

func TestAcceptInvitationFillsSeatAndAutoStarts(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if err := env.sessions.AcceptInvitation(ctx, session.ID, session.InviteToken, 2); err != nil {
		t.Fatalf("AcceptInvitation err: %v", err)
	}

	current, _ := env.store.FindByID(session.ID)
	if current.OpponentID != 2 {
		t.Fatalf("opponent = %d, want 2", current.OpponentID)
	}
	// 雙方齊備後自動啟動
	if current.Status != models.SessionStatusRunning {
		t.Fatalf("status = %s, want running", current.Status)
	}

	// 重複接受是冪等的
	if err := env.sessions.AcceptInvitation(ctx, session.ID, session.InviteToken, 2); err != nil {
		t.Fatalf("repeat accept err: %v", err)
	}
}

func TestAcceptInvitationWrongToken(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if err := env.sessions.AcceptInvitation(ctx, session.ID, "deadbeef", 2); KindOf(err) != KindValidation {
		t.Fatalf("wrong token: kind = %v, want validation", KindOf(err))
	}
	if err := env.sessions.AcceptInvitation(ctx, session.ID, "", 2); KindOf(err) != KindValidation {
		t.Fatalf("empty token: kind = %v, want validation", KindOf(err))
	}

	current, _ := env.store.FindByID(session.ID)
	if current.OpponentID != 0 {
		t.Fatalf("opponent = %d after rejected accepts, want 0", current.OpponentID)
	}
}

func TestAcceptInvitationExpired(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	// 把時鐘撥到過期時刻之後一秒
	env.invitation.now = func() time.Time {
		return session.InviteExpiresAt.Add(time.Second)
	}

	err = env.sessions.AcceptInvitation(ctx, session.ID, session.InviteToken, 2)
	if KindOf(err) != KindValidation {
		t.Fatalf("expired token: kind = %v, want validation", KindOf(err))
	}

	current, _ := env.store.FindByID(session.ID)
	if current.OpponentID != 0 {
		t.Fatalf("opponent = %d after expired accept, want 0", current.OpponentID)
	}
	if current.Status != models.SessionStatusCreated {
		t.Fatalf("status = %s after expired accept, want created", current.Status)
	}
}

func TestAcceptInvitationSelfRejected(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	err = env.sessions.AcceptInvitation(ctx, session.ID, session.InviteToken, 1)
	if KindOf(err) != KindConflict {
		t.Fatalf("self accept: kind = %v, want conflict", KindOf(err))
	}
}

func TestAcceptInvitationSeatTaken(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session, err := env.sessions.CreateSession(ctx, "辯題", 3, 1, 1, 0)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if err := env.sessions.AssignParticipant(ctx, session.ID, models.PositionOpponent, 3); err != nil {
		t.Fatalf("assign err: %v", err)
	}

	err = env.sessions.AcceptInvitation(ctx, session.ID, session.InviteToken, 2)
	if KindOf(err) != KindConflict {
		t.Fatalf("seat taken: kind = %v, want conflict", KindOf(err))
	}
}

func TestGetSessionIncludesOrderedTurns(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	session := env.runningSession(ctx, 2)
	for _, userID := range []uint{1, 2} {
		if err := env.turnCoord.SubmitArgument(ctx, session.ID, userID, sampleArgument); err != nil {
			t.Fatalf("submit err: %v", err)
		}
	}

	loaded, err := env.sessions.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if len(loaded.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(loaded.Turns))
	}
	for i, turn := range loaded.Turns {
		if turn.OrderIndex != i {
			t.Fatalf("turn %d has order index %d", i, turn.OrderIndex)
		}
	}
}

func TestGetSessionNotFound(t *testing.T) {
	env := newTestEnv()

	_, err := env.sessions.GetSession(404)
	if KindOf(err) != KindValidation {
		t.Fatalf("missing session: kind = %v, want validation", KindOf(err))
	}
}
