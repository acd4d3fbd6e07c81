package models

import "time"

// RateLimitEntry 是滑動窗口限流的一筆計數記錄，
// 每筆帶唯一 ID 與時間戳，檢查時清除窗口外的舊記錄。
type RateLimitEntry struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Key       string    `gorm:"type:varchar(128);not null;index"`
	CreatedAt time.Time `gorm:"not null;index"`
}
