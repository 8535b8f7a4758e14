// Package repository holds the GORM backed stores of instances, webhook
// subscriptions and the delivery log.
package repository

import (
	"context"
	"time"

	"github.com/talkincode/wamux/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormInstanceRepository persists instance identity.
type GormInstanceRepository struct {
	db *gorm.DB
}

func NewGormInstanceRepository(db *gorm.DB) *GormInstanceRepository {
	return &GormInstanceRepository{db: db}
}

// SaveInstance inserts or replaces an instance record.
func (r *GormInstanceRepository) SaveInstance(ctx context.Context, inst *domain.WhatsAppInstance) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(inst).Error
}

// UpdateInstanceState records the last known status and identity.
func (r *GormInstanceRepository) UpdateInstanceState(ctx context.Context, id, status, phone string, lastSeen *time.Time) error {
	updates := map[string]interface{}{
		"last_status": status,
		"phone":       phone,
		"updated_at":  time.Now(),
	}
	if lastSeen != nil {
		updates["last_seen"] = *lastSeen
	}
	return r.db.WithContext(ctx).
		Model(&domain.WhatsAppInstance{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *GormInstanceRepository) GetInstance(ctx context.Context, id string) (*domain.WhatsAppInstance, error) {
	var inst domain.WhatsAppInstance
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&inst).Error
	return &inst, err
}

func (r *GormInstanceRepository) ListInstances(ctx context.Context) ([]*domain.WhatsAppInstance, error) {
	var insts []*domain.WhatsAppInstance
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&insts).Error
	return insts, err
}

func (r *GormInstanceRepository) DeleteInstance(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.WhatsAppInstance{}).Error
}
