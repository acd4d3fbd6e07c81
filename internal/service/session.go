package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"debate_arena/internal/models"
	"debate_arena/internal/repository"
)

// 回合數的允許範圍
const (
	MinRounds = 1
	MaxRounds = 20
)

// SessionService 是頂層的生命週期狀態機：
// created→running→judging→{finished|failed}，只有 failed 可經重試回到 judging。
type SessionService struct {
	sessions   repository.SessionRepository
	notifier   *stateNotifier
	turnCoord  *TurnCoordinator
	invitation *InvitationService

	// 同進程的啟動防抖，跨進程仲裁仍靠存儲層的條件更新
	startMux sync.Mutex
	starting map[uint]bool
}

func NewSessionService(
	sessions repository.SessionRepository,
	notifier *stateNotifier,
	turnCoord *TurnCoordinator,
	invitation *InvitationService,
) *SessionService {
	return &SessionService{
		sessions:   sessions,
		notifier:   notifier,
		turnCoord:  turnCoord,
		invitation: invitation,
		starting:   make(map[uint]bool),
	}
}

// CreateSession 建立 created 狀態的新會話並附上新鑄造的邀請令牌
func (s *SessionService) CreateSession(ctx context.Context, topic string, rounds int, creatorID, proponentID, opponentID uint) (*models.Session, error) {
	if topic == "" {
		return nil, NewValidationError("辯題不能為空")
	}
	if rounds < MinRounds || rounds > MaxRounds {
		return nil, NewValidationError("回合數必須介於 1 到 20 之間")
	}
	if proponentID != 0 && proponentID == opponentID {
		return nil, NewValidationError("同一用戶不能同時佔據雙方位置")
	}

	token, err := NewInviteToken()
	if err != nil {
		return nil, NewExternalError("生成邀請令牌失敗", err)
	}

	session := &models.Session{
		Topic:           topic,
		Rounds:          rounds,
		Status:          models.SessionStatusCreated,
		CreatorID:       creatorID,
		ProponentID:     proponentID,
		OpponentID:      opponentID,
		InviteToken:     token,
		InviteExpiresAt: time.Now().Add(InviteTTL),
	}

	if err := s.sessions.Create(session); err != nil {
		return nil, NewExternalError("創建會話失敗", err)
	}

	return session, nil
}

// AssignParticipant 把用戶放進指定位置。
// 同一用戶重複認領同一位置是冪等的；位置被別人占用、
// 或該用戶已在另一個位置時拒絕；只允許在 created 狀態操作。
func (s *SessionService) AssignParticipant(ctx context.Context, sessionID uint, position models.Position, userID uint) error {
	session, err := s.loadSession(sessionID)
	if err != nil {
		return err
	}

	if session.Status != models.SessionStatusCreated {
		return NewConflictError("會話已開始，無法再加入")
	}

	switch position {
	case models.PositionProponent:
		if session.ProponentID == userID {
			return nil
		}
		if session.ProponentID != 0 {
			return NewConflictError("正方位置已被占用")
		}
		if session.OpponentID == userID {
			return NewConflictError("同一用戶不能同時佔據雙方位置")
		}
		session.ProponentID = userID
	case models.PositionOpponent:
		if session.OpponentID == userID {
			return nil
		}
		if session.OpponentID != 0 {
			return NewConflictError("反方位置已被占用")
		}
		if session.ProponentID == userID {
			return NewConflictError("同一用戶不能同時佔據雙方位置")
		}
		session.OpponentID = userID
	default:
		return NewValidationError("無效的位置")
	}

	if err := s.sessions.Update(session); err != nil {
		return NewExternalError("保存參與者失敗", err)
	}

	s.notifier.BroadcastState(ctx, sessionID)
	return nil
}

// StartSession 把會話從 created 帶進 running 並發起第一個發言位。
// 條件更新保證跨進程只有一個呼叫者成功；進程內的啟動防抖
// 額外壓掉同進程的併發重複呼叫。
func (s *SessionService) StartSession(ctx context.Context, sessionID uint) error {
	if !s.markStarting(sessionID) {
		// 同進程已有啟動在進行，直接合併
		return nil
	}
	defer s.clearStarting(sessionID)

	session, err := s.loadSession(sessionID)
	if err != nil {
		return err
	}

	if session.Status != models.SessionStatusCreated {
		return NewConflictError("會話不在可啟動狀態")
	}
	if !session.BothSidesFilled() {
		return NewValidationError("雙方都就位後才能開始辯論")
	}

	applied, err := s.sessions.UpdateStatusIf(sessionID, models.SessionStatusCreated, models.SessionStatusRunning, nil)
	if err != nil {
		return NewExternalError("更新會話狀態失敗", err)
	}
	if !applied {
		return NewConflictError("會話已由其他請求啟動")
	}

	s.notifier.BroadcastState(ctx, sessionID)
	return s.turnCoord.InitiateNextTurn(ctx, sessionID)
}

// AcceptInvitation 用邀請令牌把接受者放進反方位置，
// 雙方齊備時順帶嘗試啟動；啟動失敗只記錄日誌，不影響入場本身。
func (s *SessionService) AcceptInvitation(ctx context.Context, sessionID uint, token string, userID uint) error {
	session, err := s.loadSession(sessionID)
	if err != nil {
		return err
	}

	if err := s.invitation.Validate(session, token); err != nil {
		return err
	}

	if session.OpponentID == userID {
		// 已經在位置上，冪等
		return nil
	}
	if session.OpponentID != 0 {
		return NewConflictError("反方位置已被占用")
	}
	if session.ProponentID == userID {
		return NewConflictError("發起方不能接受自己的邀請")
	}

	if err := s.AssignParticipant(ctx, sessionID, models.PositionOpponent, userID); err != nil {
		return err
	}

	session, err = s.loadSession(sessionID)
	if err != nil {
		return err
	}
	if session.BothSidesFilled() && session.Status == models.SessionStatusCreated {
		if err := s.StartSession(ctx, sessionID); err != nil {
			log.Printf("[session] auto start after invitation for session %d failed: %v", sessionID, err)
		}
	}
	return nil
}

// GetSession 取得會話及按序排列的全部發言
func (s *SessionService) GetSession(sessionID uint) (*models.Session, error) {
	session, err := s.sessions.FindByIDWithTurns(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewValidationError("會話不存在")
		}
		return nil, NewExternalError("讀取會話失敗", err)
	}
	return session, nil
}

// ListSessions 查詢所有會話
func (s *SessionService) ListSessions() ([]models.Session, error) {
	sessions, err := s.sessions.FindAll()
	if err != nil {
		return nil, NewExternalError("讀取會話列表失敗", err)
	}
	return sessions, nil
}

func (s *SessionService) loadSession(sessionID uint) (*models.Session, error) {
	session, err := s.sessions.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewValidationError("會話不存在")
		}
		return nil, NewExternalError("讀取會話失敗", err)
	}
	return session, nil
}

func (s *SessionService) markStarting(sessionID uint) bool {
	s.startMux.Lock()
	defer s.startMux.Unlock()
	if s.starting[sessionID] {
		return false
	}
	s.starting[sessionID] = true
	return true
}

func (s *SessionService) clearStarting(sessionID uint) {
	s.startMux.Lock()
	defer s.startMux.Unlock()
	delete(s.starting, sessionID)
}
