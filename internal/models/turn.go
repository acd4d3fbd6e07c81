package models

import (
	"gorm.io/gorm"
)

// Turn 表示某位參與者在特定序號上的單次發言。
// (SessionID, OrderIndex) 上的唯一索引是跨進程防止重複提交的唯一依據。
type Turn struct {
	gorm.Model
	SessionID  uint   `json:"session_id" gorm:"not null;uniqueIndex:idx_turns_session_order"`
	OrderIndex int    `json:"order_index" gorm:"not null;uniqueIndex:idx_turns_session_order"`
	Speaker    string `json:"speaker" gorm:"type:varchar(20);not null"`
	Content    string `json:"content" gorm:"type:text;not null"`
}

// 發言方：偶數序號是正方，奇數序號是反方
const (
	SpeakerProponent = "proponent"
	SpeakerOpponent  = "opponent"
)

// SpeakerFor 由發言序號推導發言方
func SpeakerFor(orderIndex int) string {
	if orderIndex%2 == 0 {
		return SpeakerProponent
	}
	return SpeakerOpponent
}

// PendingTurn 是協調器對下一次提交的當前預期。
// 僅存在於進程內，必須隨時能從持久化的發言數重新推導。
type PendingTurn struct {
	OrderIndex int    `json:"order_index"`
	Speaker    string `json:"speaker"`
}

// Verdict 是外部評審產生的結構化裁決
type Verdict struct {
	Winner    string             `json:"winner"`
	Reasoning string             `json:"reasoning"`
	Scores    map[string]float64 `json:"scores,omitempty"`
}

// ValidWinner 檢查裁決中的勝方取值是否合法
func ValidWinner(winner string) bool {
	switch winner {
	case WinnerProponent, WinnerOpponent, WinnerTie:
		return true
	}
	return false
}
