package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"debate_arena/internal/models"
	"debate_arena/internal/repository"
	"debate_arena/pkg/config"
)

// Judge 是外部評審函數的契約，可能回傳錯誤或超過呼叫方設定的超時
type Judge interface {
	Judge(ctx context.Context, topic, transcript string) (*models.Verdict, error)
}

// JudgeCoordinator 驅動 running→judging→{finished|failed} 的轉移，
// 每次有效嘗試恰好評審一次。跨進程仲裁靠條件狀態更新，
// 進程內的 in-progress 集合只是壓掉同進程的重複嘗試。
type JudgeCoordinator struct {
	sessions repository.SessionRepository
	turns    repository.TurnRepository
	bus      Broadcaster
	notifier *stateNotifier
	judge    Judge
	limiter  *RateLimiter
	limits   config.RateLimitConfig
	timeout  time.Duration

	inProgressMux sync.Mutex
	inProgress    map[uint]bool
}

func NewJudgeCoordinator(
	sessions repository.SessionRepository,
	turns repository.TurnRepository,
	bus Broadcaster,
	notifier *stateNotifier,
	judge Judge,
	limiter *RateLimiter,
	judgeCfg config.JudgeConfig,
	limits config.RateLimitConfig,
) *JudgeCoordinator {
	timeout := time.Duration(judgeCfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JudgeCoordinator{
		sessions:   sessions,
		turns:      turns,
		bus:        bus,
		notifier:   notifier,
		judge:      judge,
		limiter:    limiter,
		limits:     limits,
		timeout:    timeout,
		inProgress: make(map[uint]bool),
	}
}

func (c *JudgeCoordinator) markInProgress(sessionID uint) bool {
	c.inProgressMux.Lock()
	defer c.inProgressMux.Unlock()
	if c.inProgress[sessionID] {
		return false
	}
	c.inProgress[sessionID] = true
	return true
}

func (c *JudgeCoordinator) clearInProgress(sessionID uint) {
	c.inProgressMux.Lock()
	defer c.inProgressMux.Unlock()
	delete(c.inProgress, sessionID)
}

// CoordinateJudging 嘗試把會話帶進評審。條件更新是跨進程的仲裁點：
// 只有贏得 running→judging 更新的呼叫者繼續，其餘靜默返回。
func (c *JudgeCoordinator) CoordinateJudging(ctx context.Context, sessionID uint) error {
	if !c.markInProgress(sessionID) {
		// 本進程已有評審在跑
		return nil
	}
	defer c.clearInProgress(sessionID)

	applied, err := c.sessions.UpdateStatusIf(sessionID, models.SessionStatusRunning, models.SessionStatusJudging, nil)
	if err != nil {
		return NewExternalError("更新會話狀態失敗", err)
	}
	if !applied {
		// 其他進程贏得仲裁，或狀態早已推進
		return nil
	}

	session, err := c.sessions.FindByID(sessionID)
	if err != nil {
		return NewExternalError("讀取會話失敗", err)
	}
	if session.Winner != "" {
		// 已有裁決，冪等收場
		return nil
	}

	c.notifier.BroadcastState(ctx, sessionID)
	return c.performJudgment(ctx, session)
}

// RetryJudging 只允許從 failed 且發言預算完整時重試
func (c *JudgeCoordinator) RetryJudging(ctx context.Context, sessionID uint) error {
	session, err := c.sessions.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewValidationError("會話不存在")
		}
		return NewExternalError("讀取會話失敗", err)
	}

	if session.Status != models.SessionStatusFailed {
		return NewConflictError("只有評審失敗的會話才能重試")
	}

	count, err := c.turns.CountBySession(sessionID)
	if err != nil {
		return NewExternalError("讀取發言數失敗", err)
	}
	if int(count) != session.TurnBudget() {
		return NewConflictError("發言尚未齊全，無法重試評審")
	}

	if !c.markInProgress(sessionID) {
		return NewConflictError("該會話的評審正在進行中")
	}
	defer c.clearInProgress(sessionID)

	// 重試前清掉上一輪的結果與錯誤記錄
	reset := map[string]interface{}{
		"winner":        "",
		"verdict":       nil,
		"error_message": "",
		"failed_at":     nil,
	}
	applied, err := c.sessions.UpdateStatusIf(sessionID, models.SessionStatusFailed, models.SessionStatusJudging, reset)
	if err != nil {
		return NewExternalError("更新會話狀態失敗", err)
	}
	if !applied {
		return NewConflictError("會話狀態已變更，請重新取得狀態")
	}

	session, err = c.sessions.FindByID(sessionID)
	if err != nil {
		return NewExternalError("讀取會話失敗", err)
	}

	c.notifier.BroadcastState(ctx, sessionID)
	return c.performJudgment(ctx, session)
}

// performJudgment 組出按序號排列的逐字稿，在牆鐘超時下呼叫外部評審，
// 任何失敗都把會話收到 failed，絕不讓狀態卡在 judging。
func (c *JudgeCoordinator) performJudgment(ctx context.Context, session *models.Session) error {
	turns, err := c.turns.FindBySession(session.ID)
	if err != nil {
		return c.failJudgment(ctx, session, NewExternalError("讀取發言失敗", err))
	}

	transcript := BuildTranscript(turns)

	// 評審呼叫有自己的配額；等待上限取窗口加上餘裕，
	// 確保嚴格大於任何單次 RetryAfter
	window := time.Duration(c.limits.JudgeWindowSeconds) * time.Second
	maxWait := window + 5*time.Second
	if err := c.limiter.WaitFor(ctx, JudgeKey(), c.limits.JudgeQuota, window, maxWait); err != nil {
		return c.failJudgment(ctx, session, NewTimeoutError("等待評審配額超時", err))
	}
	c.limiter.Check(ctx, JudgeKey(), c.limits.JudgeQuota, window, true)

	if c.judge == nil {
		return c.failJudgment(ctx, session, NewExternalError("評審函數未配置", nil))
	}

	judgeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	verdict, err := c.judge.Judge(judgeCtx, session.Topic, transcript)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.failJudgment(ctx, session, NewTimeoutError("評審呼叫超時", err))
		}
		return c.failJudgment(ctx, session, NewExternalError("評審呼叫失敗", err))
	}

	if verdict == nil || !models.ValidWinner(verdict.Winner) {
		return c.failJudgment(ctx, session, NewExternalError("評審結果格式不正確", nil))
	}

	verdictJSON, err := json.Marshal(verdict)
	if err != nil {
		return c.failJudgment(ctx, session, NewExternalError("序列化裁決失敗", err))
	}

	fields := map[string]interface{}{
		"winner":  verdict.Winner,
		"verdict": string(verdictJSON),
	}
	applied, err := c.sessions.UpdateStatusIf(session.ID, models.SessionStatusJudging, models.SessionStatusFinished, fields)
	if err != nil {
		return c.failJudgment(ctx, session, NewExternalError("保存裁決失敗", err))
	}
	if !applied {
		log.Printf("[judge] session %d left judging before verdict write, skipping", session.ID)
		return nil
	}

	payload := map[string]interface{}{
		"winner":  verdict.Winner,
		"verdict": verdict,
	}
	if err := c.bus.Publish(ctx, session.ID, EventVerdict, payload); err != nil {
		log.Printf("[judge] failed to broadcast verdict for session %d: %v", session.ID, err)
	}
	c.notifier.BroadcastState(ctx, session.ID)

	log.Printf("[judge] session %d finished, winner=%s", session.ID, verdict.Winner)
	return nil
}

// failJudgment 把會話收到 failed 並廣播錯誤事件，回傳原始的領域錯誤
func (c *JudgeCoordinator) failJudgment(ctx context.Context, session *models.Session, cause *Error) error {
	now := time.Now()
	fields := map[string]interface{}{
		"error_message": cause.Message,
		"failed_at":     now,
	}
	applied, err := c.sessions.UpdateStatusIf(session.ID, models.SessionStatusJudging, models.SessionStatusFailed, fields)
	if err != nil {
		log.Printf("[judge] failed to mark session %d failed: %v", session.ID, err)
	} else if !applied {
		log.Printf("[judge] session %d was not in judging when marking failed", session.ID)
	}

	errPayload := map[string]interface{}{"error": cause.Message}
	if err := c.bus.Publish(ctx, session.ID, EventJudgingError, errPayload); err != nil {
		log.Printf("[judge] failed to broadcast judging error for session %d: %v", session.ID, err)
	}
	c.notifier.BroadcastState(ctx, session.ID)

	return cause
}

// BuildTranscript 把發言按序號串成帶發言方標籤的逐字稿
func BuildTranscript(turns []models.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		label := "正方"
		if turn.Speaker == models.SpeakerOpponent {
			label = "反方"
		}
		lines = append(lines, fmt.Sprintf("%s：%s", label, turn.Content))
	}
	return strings.Join(lines, "\n\n")
}
