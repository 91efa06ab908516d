package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

// GormSessionRepository records consumed form tokens
type GormSessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) IsUsed(ctx context.Context, tokenHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AppealSession{}).Where("token_hash = ?", tokenHash).Count(&count).Error
	return count > 0, err
}

func (r *GormSessionRepository) MarkUsed(ctx context.Context, s *models.AppealSession) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "last_submit"}),
	}).Create(s).Error
}

func (r *GormSessionRepository) LastSubmit(ctx context.Context, p models.Platform, userID string) (time.Time, error) {
	var s models.AppealSession
	err := r.db.WithContext(ctx).
		Where("platform = ? AND user_id = ?", p, userID).
		Order("last_submit DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return s.LastSubmit, nil
}
