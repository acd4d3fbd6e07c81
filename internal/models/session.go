package models

import (
	"time"

	"gorm.io/gorm"
)

// Session 表示一場辯論會話及其生命週期狀態
type Session struct {
	gorm.Model
	Topic     string        `json:"topic" gorm:"type:text;not null"`
	Rounds    int           `json:"rounds" gorm:"not null"` // 回合數，總發言數 = Rounds * 2
	Status    SessionStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	CreatorID uint          `json:"creator_id"`

	// 參與者雙方，0 表示該位置尚未有人
	ProponentID uint `json:"proponent_id"`
	OpponentID  uint `json:"opponent_id"`

	// 評審結果，僅在 finished 時設置 Winner
	Winner       string     `json:"winner,omitempty" gorm:"type:varchar(20)"`
	Verdict      string     `json:"verdict,omitempty" gorm:"type:jsonb;default:null"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`

	// 邀請令牌，過期後會在下次取得連結時重新生成
	InviteToken     string    `json:"-" gorm:"type:varchar(64);index"`
	InviteExpiresAt time.Time `json:"-"`

	Turns []Turn `json:"turns,omitempty" gorm:"foreignKey:SessionID"`
}

// SessionStatus 定義會話狀態的類型
type SessionStatus string

const (
	SessionStatusCreated  SessionStatus = "created"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusJudging  SessionStatus = "judging"
	SessionStatusFinished SessionStatus = "finished"
	SessionStatusFailed   SessionStatus = "failed"
)

// 勝負結果的取值
const (
	WinnerProponent = "proponent"
	WinnerOpponent  = "opponent"
	WinnerTie       = "tie"
)

// Position 表示會話中的參與位置
type Position string

const (
	PositionProponent Position = "proponent"
	PositionOpponent  Position = "opponent"
)

// TurnBudget 回傳這場會話允許的總發言數
func (s *Session) TurnBudget() int {
	return s.Rounds * 2
}

// ParticipantFor 回傳佔據指定發言方位置的用戶 ID
func (s *Session) ParticipantFor(speaker string) uint {
	if speaker == SpeakerProponent {
		return s.ProponentID
	}
	return s.OpponentID
}

// BothSidesFilled 表示雙方位置是否都已有人
func (s *Session) BothSidesFilled() bool {
	return s.ProponentID != 0 && s.OpponentID != 0
}
