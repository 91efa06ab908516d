package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

// GormAppealRepository handles database operations for both appeal tables
type GormAppealRepository struct {
	db *gorm.DB
}

// NewAppealRepository creates a new GormAppealRepository
func NewAppealRepository(db *gorm.DB) *GormAppealRepository {
	return &GormAppealRepository{db: db}
}

func (r *GormAppealRepository) Create(ctx context.Context, a models.Appeal) error {
	err := r.db.WithContext(ctx).Create(a).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *GormAppealRepository) Get(ctx context.Context, p models.Platform, appealID string) (models.Appeal, error) {
	a := models.NewAppeal(p)
	err := r.db.WithContext(ctx).Where("appeal_id = ?", appealID).First(a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ApplyDecision only touches rows still pending, so a second decision on
// the same appeal cannot overwrite the first.
func (r *GormAppealRepository) ApplyDecision(ctx context.Context, p models.Platform, appealID string, d models.Decision) error {
	decidedAt := d.DecisionAt
	result := r.db.WithContext(ctx).
		Model(models.NewAppeal(p)).
		Where("appeal_id = ? AND status = ?", appealID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":       d.Status,
			"decision_by":  d.DecisionBy,
			"decision_at":  &decidedAt,
			"dm_delivered": d.DMDelivered,
			"notes":        d.Notes,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := r.Get(ctx, p, appealID); err != nil {
		return err
	}
	return ErrNotPending
}

func (r *GormAppealRepository) ListByUser(ctx context.Context, p models.Platform, userID string, limit int) ([]models.Appeal, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	switch p {
	case models.PlatformDiscord:
		return findAppeals[models.DiscordAppeal](q)
	case models.PlatformRoblox:
		return findAppeals[models.RobloxAppeal](q)
	default:
		return nil, fmt.Errorf("unknown platform %q", p)
	}
}

func (r *GormAppealRepository) HasOpen(ctx context.Context, p models.Platform, userID string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(models.NewAppeal(p)).
		Where("user_id = ? AND status IN ? AND created_at >= ?", userID,
			[]models.AppealStatus{models.StatusPending, models.StatusAccepted}, since).
		Count(&count).Error
	return count > 0, err
}

func findAppeals[T any, PT interface {
	*T
	models.Appeal
}](q *gorm.DB) ([]models.Appeal, error) {
	var rows []T
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Appeal, 0, len(rows))
	for i := range rows {
		out = append(out, PT(&rows[i]))
	}
	return out, nil
}
