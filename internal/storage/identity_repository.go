package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

type GormIdentityRepository struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) *GormIdentityRepository {
	return &GormIdentityRepository{db: db}
}

func (r *GormIdentityRepository) Get(ctx context.Context, key string) (*models.AppellantIdentity, error) {
	var ident models.AppellantIdentity
	err := r.db.WithContext(ctx).Where("appellant_key = ?", key).First(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

func (r *GormIdentityRepository) FindByPlatform(ctx context.Context, p models.Platform, platformID string) (*models.AppellantIdentity, error) {
	column := "discord_id"
	switch p {
	case models.PlatformDiscord:
	case models.PlatformRoblox:
		column = "roblox_id"
	default:
		return nil, fmt.Errorf("unknown platform %q", p)
	}
	var ident models.AppellantIdentity
	err := r.db.WithContext(ctx).Where(column+" = ?", platformID).Order("updated_at DESC").First(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

func (r *GormIdentityRepository) CompareAndSwap(ctx context.Context, ident *models.AppellantIdentity, expected int64) (bool, error) {
	if expected == 0 {
		row := *ident
		row.Version = 1
		err := r.db.WithContext(ctx).Create(&row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		ident.Version = 1
		return true, nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.AppellantIdentity{}).
		Where("appellant_key = ? AND version = ?", ident.Key, expected).
		Updates(map[string]interface{}{
			"canonical_id": ident.CanonicalID,
			"discord_id":   ident.DiscordID,
			"discord_name": ident.DiscordName,
			"roblox_id":    ident.RobloxID,
			"roblox_name":  ident.RobloxName,
			"display_name": ident.DisplayName,
			"version":      expected + 1,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	ident.Version = expected + 1
	return true, nil
}
