package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

// GormAppellantRepository stores per-platform eligibility state
type GormAppellantRepository struct {
	db *gorm.DB
}

func NewAppellantRepository(db *gorm.DB) *GormAppellantRepository {
	return &GormAppellantRepository{db: db}
}

func (r *GormAppellantRepository) Get(ctx context.Context, p models.Platform, userID string) (*models.AppellantState, error) {
	var s models.AppellantState
	err := r.db.WithContext(ctx).Where("platform = ? AND user_id = ?", p, userID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Update runs fn inside a transaction holding a row lock. A concurrent first
// insert of the same row surfaces as a duplicate key and is retried once.
func (r *GormAppellantRepository) Update(ctx context.Context, p models.Platform, userID string, fn func(*models.AppellantState) error) (*models.AppellantState, error) {
	var out *models.AppellantState
	attempt := func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			s := models.AppellantState{Platform: p, UserID: userID}
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("platform = ? AND user_id = ?", p, userID).
				First(&s).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := fn(&s); err != nil {
				return err
			}
			if err := tx.Save(&s).Error; err != nil {
				return err
			}
			out = &s
			return nil
		})
	}
	err := attempt()
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		err = attempt()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
