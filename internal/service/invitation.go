package service

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"debate_arena/internal/models"
	"debate_arena/internal/repository"
)

// 邀請令牌自會話創建起七天有效
const InviteTTL = 7 * 24 * time.Hour

// NewInviteToken 生成 256 位熵的不透明令牌
func NewInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invite token: %v", err)
	}
	return hex.EncodeToString(buf), nil
}

// InvitationService 負責第二位參與者入場令牌的簽發與驗證
type InvitationService struct {
	sessions repository.SessionRepository
	now      func() time.Time
}

func NewInvitationService(sessions repository.SessionRepository) *InvitationService {
	return &InvitationService{sessions: sessions, now: time.Now}
}

// GetOrCreateLink 回傳現行未過期的令牌；缺失或過期時一律重新鑄造
func (s *InvitationService) GetOrCreateLink(sessionID uint) (string, time.Time, error) {
	session, err := s.sessions.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", time.Time{}, NewValidationError("會話不存在")
		}
		return "", time.Time{}, NewExternalError("讀取會話失敗", err)
	}

	if session.InviteToken != "" && s.now().Before(session.InviteExpiresAt) {
		return session.InviteToken, session.InviteExpiresAt, nil
	}

	token, err := NewInviteToken()
	if err != nil {
		return "", time.Time{}, NewExternalError("生成邀請令牌失敗", err)
	}

	expiresAt := s.now().Add(InviteTTL)
	if err := s.sessions.UpdateInvite(sessionID, token, expiresAt); err != nil {
		return "", time.Time{}, NewExternalError("保存邀請令牌失敗", err)
	}

	return token, expiresAt, nil
}

// Validate 檢查令牌是否與會話綁定且未過期
func (s *InvitationService) Validate(session *models.Session, token string) error {
	if token == "" || session.InviteToken == "" || session.InviteToken != token {
		return NewValidationError("邀請連結無效")
	}
	if !s.now().Before(session.InviteExpiresAt) {
		return NewValidationError("邀請連結已過期")
	}
	return nil
}
