package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

type GormTokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) *GormTokenRepository {
	return &GormTokenRepository{db: db}
}

func (r *GormTokenRepository) Save(ctx context.Context, t *models.OAuthToken) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "subject"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_at", "updated_at"}),
	}).Create(t).Error
}

func (r *GormTokenRepository) Get(ctx context.Context, p models.Platform, subject string) (*models.OAuthToken, error) {
	var t models.OAuthToken
	err := r.db.WithContext(ctx).Where("platform = ? AND subject = ?", p, subject).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
