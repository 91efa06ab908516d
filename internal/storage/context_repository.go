package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

type GormContextRepository struct {
	db *gorm.DB
}

func NewContextRepository(db *gorm.DB) *GormContextRepository {
	return &GormContextRepository{db: db}
}

// Upsert replaces the stored snapshot for the user.
func (r *GormContextRepository) Upsert(ctx context.Context, c *models.BannedUserContext) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"guild_id", "messages", "banned_at", "updated_at"}),
	}).Create(c).Error
}

func (r *GormContextRepository) Get(ctx context.Context, userID string) (*models.BannedUserContext, error) {
	var c models.BannedUserContext
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
