package service

import (
	"context"
	"log"

	"debate_arena/internal/repository"
)

// stateNotifier 統一「重新載入並廣播會話狀態」這件事，
// 讓各協調器不用各自持有載入加廣播的閉包
type stateNotifier struct {
	sessions repository.SessionRepository
	bus      Broadcaster
}

func newStateNotifier(sessions repository.SessionRepository, bus Broadcaster) *stateNotifier {
	return &stateNotifier{sessions: sessions, bus: bus}
}

// BroadcastState 載入最新的會話（含發言）並廣播給所有觀察者。
// 廣播失敗只記錄日誌，不影響主流程。
func (n *stateNotifier) BroadcastState(ctx context.Context, sessionID uint) {
	session, err := n.sessions.FindByIDWithTurns(sessionID)
	if err != nil {
		log.Printf("[notifier] failed to reload session %d: %v", sessionID, err)
		return
	}

	payload := map[string]interface{}{"session": session}
	if err := n.bus.Publish(ctx, sessionID, EventSessionUpdate, payload); err != nil {
		log.Printf("[notifier] failed to broadcast session %d state: %v", sessionID, err)
	}
}
