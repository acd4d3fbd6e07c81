package repository

import (
	"time"

	"gorm.io/gorm"

	"debate_arena/internal/models"
	"debate_arena/internal/storage"
)

type SessionRepository interface {
	Create(session *models.Session) error
	FindByID(id uint) (*models.Session, error)
	FindByIDWithTurns(id uint) (*models.Session, error)
	Update(session *models.Session) error
	// UpdateStatusIf 是跨進程的仲裁原語：只有前置狀態符合時更新才生效，
	// 回傳是否真的套用。extra 中的欄位會隨狀態一起寫入。
	UpdateStatusIf(id uint, from, to models.SessionStatus, extra map[string]interface{}) (bool, error)
	UpdateInvite(id uint, token string, expiresAt time.Time) error
	FindByStatus(status models.SessionStatus) ([]models.Session, error)
	FindAll() ([]models.Session, error)
}

type sessionRepository struct {
	db *storage.PostgresDB
}

func NewSessionRepository(db *storage.PostgresDB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(session *models.Session) error {
	return r.db.Create(session).Error
}

func (r *sessionRepository) FindByID(id uint) (*models.Session, error) {
	var session models.Session
	err := r.db.First(&session, id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByIDWithTurns 載入會話及按發言序號排序的全部發言
func (r *sessionRepository) FindByIDWithTurns(id uint) (*models.Session, error) {
	var session models.Session
	err := r.db.Preload("Turns", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("order_index ASC")
	}).First(&session, id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) Update(session *models.Session) error {
	return r.db.Save(session).Error
}

func (r *sessionRepository) UpdateStatusIf(id uint, from, to models.SessionStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.Model(&models.Session{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *sessionRepository) UpdateInvite(id uint, token string, expiresAt time.Time) error {
	return r.db.Model(&models.Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"invite_token":      token,
			"invite_expires_at": expiresAt,
		}).Error
}

func (r *sessionRepository) FindByStatus(status models.SessionStatus) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.Where("status = ?", status).Find(&sessions).Error
	return sessions, err
}

// FindAll 查詢所有會話
func (r *sessionRepository) FindAll() ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.Order("created_at DESC").Find(&sessions).Error
	return sessions, err
}
