package repository

import (
	"errors"

	"gorm.io/gorm"

	"debate_arena/internal/models"
	"debate_arena/internal/storage"
)

// ErrTurnConflict 表示同一會話同一序號已存在發言。
// 這是跨進程唯一可靠的重複提交判定，呼叫方應視為「已有人提交」而非寫入失敗。
var ErrTurnConflict = errors.New("turn already exists at this order index")

type TurnRepository interface {
	Create(turn *models.Turn) error
	CountBySession(sessionID uint) (int64, error)
	FindBySession(sessionID uint) ([]models.Turn, error)
	ExistsAt(sessionID uint, orderIndex int) (bool, error)
}

type turnRepository struct {
	db *storage.PostgresDB
}

func NewTurnRepository(db *storage.PostgresDB) TurnRepository {
	return &turnRepository{db: db}
}

func (r *turnRepository) Create(turn *models.Turn) error {
	err := r.db.Create(turn).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrTurnConflict
	}
	return err
}

func (r *turnRepository) CountBySession(sessionID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Turn{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

func (r *turnRepository) FindBySession(sessionID uint) ([]models.Turn, error) {
	var turns []models.Turn
	err := r.db.Where("session_id = ?", sessionID).Order("order_index ASC").Find(&turns).Error
	return turns, err
}

func (r *turnRepository) ExistsAt(sessionID uint, orderIndex int) (bool, error) {
	var count int64
	err := r.db.Model(&models.Turn{}).
		Where("session_id = ? AND order_index = ?", sessionID, orderIndex).
		Count(&count).Error
	return count > 0, err
}
