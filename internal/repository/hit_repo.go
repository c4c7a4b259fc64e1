package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AutosaveHit is one rate-limiter sample. The table is shared by every server
// instance, which is what makes the autosave limit hold cluster-wide.
type AutosaveHit struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	ScopeKey string    `gorm:"column:scope_key;type:varchar(120);not null;index:idx_autosave_hits_scope_at"`
	HitAt    time.Time `gorm:"column:hit_at;not null;index:idx_autosave_hits_scope_at"`
}

func (AutosaveHit) TableName() string {
	return "ratelimit.autosave_hits"
}

// HitRepository is the CounterStore backing internal/ratelimit.
type HitRepository struct {
	db *gorm.DB
}

func NewHitRepository(db *gorm.DB) *HitRepository {
	return &HitRepository{db: db}
}

func (r *HitRepository) Hit(ctx context.Context, key string, at, windowStart time.Time) (int, error) {
	if err := r.db.WithContext(ctx).Create(&AutosaveHit{ScopeKey: key, HitAt: at}).Error; err != nil {
		return 0, fmt.Errorf("recording autosave hit: %w", err)
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&AutosaveHit{}).
		Where("scope_key = ? AND hit_at >= ?", key, windowStart).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting autosave hits: %w", err)
	}
	return int(count), nil
}

func (r *HitRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("hit_at < ?", olderThan).
		Delete(&AutosaveHit{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning autosave hits: %w", res.Error)
	}
	return res.RowsAffected, nil
}
