package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

// GormRemovalRepository handles transient guild memberships awaiting removal
type GormRemovalRepository struct {
	db *gorm.DB
}

func NewRemovalRepository(db *gorm.DB) *GormRemovalRepository {
	return &GormRemovalRepository{db: db}
}

// Add schedules a removal; re-adding the same member moves the deadline.
func (r *GormRemovalRepository) Add(ctx context.Context, pr *models.PendingRemoval) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"remove_at", "updated_at"}),
	}).Create(pr).Error
}

// Remove removes a pending record by guild and user
func (r *GormRemovalRepository) Remove(ctx context.Context, guildID, userID string) error {
	return r.db.WithContext(ctx).Where("guild_id = ? AND user_id = ?", guildID, userID).Delete(&models.PendingRemoval{}).Error
}

// Due returns the removals whose deadline has passed
func (r *GormRemovalRepository) Due(ctx context.Context, now time.Time) ([]models.PendingRemoval, error) {
	var rows []models.PendingRemoval
	result := r.db.WithContext(ctx).Where("remove_at <= ?", now).Order("remove_at").Find(&rows)
	return rows, result.Error
}
