package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"gorm.io/gorm"

	"debate_arena/internal/models"
	"debate_arena/internal/repository"
)

// 發言內容的長度界限（以字節計）
const (
	MinArgumentLength = 10
	MaxArgumentLength = 5000
)

// TurnCoordinator 負責確定性的發言排序與無競態的提交。
// PendingTurn 快取只存在於本進程，正確性完全由存儲層
// (session_id, order_index) 的唯一約束保證。
type TurnCoordinator struct {
	sessions repository.SessionRepository
	turns    repository.TurnRepository
	bus      Broadcaster
	notifier *stateNotifier
	judge    *JudgeCoordinator

	pendingMux sync.Mutex
	pending    map[uint]models.PendingTurn
}

func NewTurnCoordinator(
	sessions repository.SessionRepository,
	turns repository.TurnRepository,
	bus Broadcaster,
	notifier *stateNotifier,
	judge *JudgeCoordinator,
) *TurnCoordinator {
	return &TurnCoordinator{
		sessions: sessions,
		turns:    turns,
		bus:      bus,
		notifier: notifier,
		judge:    judge,
		pending:  make(map[uint]models.PendingTurn),
	}
}

// PendingFor 回傳會話目前的待提交預期，測試與恢復驗證用
func (c *TurnCoordinator) PendingFor(sessionID uint) (models.PendingTurn, bool) {
	c.pendingMux.Lock()
	defer c.pendingMux.Unlock()
	pending, ok := c.pending[sessionID]
	return pending, ok
}

func (c *TurnCoordinator) setPending(sessionID uint, pending models.PendingTurn) {
	c.pendingMux.Lock()
	defer c.pendingMux.Unlock()
	c.pending[sessionID] = pending
}

func (c *TurnCoordinator) clearPending(sessionID uint) {
	c.pendingMux.Lock()
	defer c.pendingMux.Unlock()
	delete(c.pending, sessionID)
}

// InitiateNextTurn 從持久化的發言數重新推導下一個發言位，
// 預算用盡時移交評審。預期永遠重算，不信任先前快取的值。
func (c *TurnCoordinator) InitiateNextTurn(ctx context.Context, sessionID uint) error {
	session, err := c.sessions.FindByID(sessionID)
	if err != nil {
		return NewExternalError("讀取會話失敗", err)
	}

	count, err := c.turns.CountBySession(sessionID)
	if err != nil {
		return NewExternalError("讀取發言數失敗", err)
	}

	orderIndex := int(count)
	if orderIndex >= session.TurnBudget() {
		// 發言預算已用盡，移交評審。評審失敗只記錄日誌並靠廣播通知，
		// 不讓提交請求本身失敗。
		if err := c.judge.CoordinateJudging(ctx, sessionID); err != nil {
			log.Printf("[turn] judging for session %d failed: %v", sessionID, err)
		}
		return nil
	}

	// 防止重複發起：該序號已有發言時什麼都不做
	exists, err := c.turns.ExistsAt(sessionID, orderIndex)
	if err != nil {
		return NewExternalError("檢查發言序號失敗", err)
	}
	if exists {
		return nil
	}

	speaker := models.SpeakerFor(orderIndex)
	c.setPending(sessionID, models.PendingTurn{OrderIndex: orderIndex, Speaker: speaker})

	payload := map[string]interface{}{
		"order_index": orderIndex,
		"speaker":     speaker,
		"user_id":     session.ParticipantFor(speaker),
	}
	if err := c.bus.Publish(ctx, sessionID, EventYourTurn, payload); err != nil {
		log.Printf("[turn] failed to broadcast your_turn for session %d: %v", sessionID, err)
	}
	return nil
}

// SubmitArgument 驗證並持久化一次發言。預期序號在提交當下
// 從持久化計數重算；插入由唯一約束仲裁，衝突視為已有人提交。
func (c *TurnCoordinator) SubmitArgument(ctx context.Context, sessionID, userID uint, content string) error {
	session, err := c.sessions.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewValidationError("會話不存在")
		}
		return NewExternalError("讀取會話失敗", err)
	}

	if session.Status != models.SessionStatusRunning {
		return NewConflictError("辯論不在進行中，無法發言")
	}

	pending, ok := c.PendingFor(sessionID)
	if !ok {
		return NewConflictError("目前沒有待提交的發言")
	}

	count, err := c.turns.CountBySession(sessionID)
	if err != nil {
		return NewExternalError("讀取發言數失敗", err)
	}

	expected := int(count)
	if expected != pending.OrderIndex {
		// 快取已過期（另一個進程接受了提交），清掉並拒絕這次請求
		c.clearPending(sessionID)
		return NewConflictError("發言狀態已過期，請重新取得會話狀態")
	}

	speaker := models.SpeakerFor(expected)
	if session.ParticipantFor(speaker) != userID {
		return NewConflictError("還沒輪到你發言")
	}

	trimmed := strings.TrimSpace(content)
	if len(trimmed) < MinArgumentLength {
		return NewValidationError(fmt.Sprintf("發言內容至少需要 %d 個字符", MinArgumentLength))
	}
	if len(trimmed) > MaxArgumentLength {
		return NewValidationError(fmt.Sprintf("發言內容不能超過 %d 個字符", MaxArgumentLength))
	}

	turn := &models.Turn{
		SessionID:  sessionID,
		OrderIndex: expected,
		Speaker:    speaker,
		Content:    trimmed,
	}

	if err := c.turns.Create(turn); err != nil {
		if errors.Is(err, repository.ErrTurnConflict) {
			// 唯一約束仲裁輸了：別的請求已在這個序號寫入
			c.clearPending(sessionID)
			c.notifier.BroadcastState(ctx, sessionID)
			return NewConflictError("該序號的發言已被提交")
		}
		return NewExternalError("保存發言失敗", err)
	}

	c.clearPending(sessionID)
	c.notifier.BroadcastState(ctx, sessionID)

	return c.InitiateNextTurn(ctx, sessionID)
}

// RecoverPendingTurns 在進程啟動時重建所有進行中會話的發言預期。
// 預期純粹由持久化的發言數推導，所以進程內快取可以隨時丟棄。
func (c *TurnCoordinator) RecoverPendingTurns(ctx context.Context) error {
	sessions, err := c.sessions.FindByStatus(models.SessionStatusRunning)
	if err != nil {
		return NewExternalError("讀取進行中會話失敗", err)
	}

	for i := range sessions {
		session := &sessions[i]
		if err := c.InitiateNextTurn(ctx, session.ID); err != nil {
			log.Printf("[turn] failed to recover session %d: %v", session.ID, err)
			continue
		}
		log.Printf("[turn] recovered pending turn for session %d", session.ID)
	}
	return nil
}
