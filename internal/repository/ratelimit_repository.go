package repository

import (
	"time"

	"debate_arena/internal/models"
	"debate_arena/internal/storage"
)

// RateLimitRepository 是限流器共用的鍵值計數存儲
type RateLimitRepository interface {
	PurgeBefore(key string, cutoff time.Time) error
	Count(key string) (int64, error)
	Oldest(key string) (*models.RateLimitEntry, error)
	Append(entry *models.RateLimitEntry) error
}

type rateLimitRepository struct {
	db *storage.PostgresDB
}

func NewRateLimitRepository(db *storage.PostgresDB) RateLimitRepository {
	return &rateLimitRepository{db: db}
}

func (r *rateLimitRepository) PurgeBefore(key string, cutoff time.Time) error {
	return r.db.Where("key = ? AND created_at < ?", key, cutoff).
		Delete(&models.RateLimitEntry{}).Error
}

func (r *rateLimitRepository) Count(key string) (int64, error) {
	var count int64
	err := r.db.Model(&models.RateLimitEntry{}).Where("key = ?", key).Count(&count).Error
	return count, err
}

func (r *rateLimitRepository) Oldest(key string) (*models.RateLimitEntry, error) {
	var entry models.RateLimitEntry
	err := r.db.Where("key = ?", key).Order("created_at ASC").First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *rateLimitRepository) Append(entry *models.RateLimitEntry) error {
	return r.db.Create(entry).Error
}
