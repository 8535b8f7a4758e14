package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/talkincode/wamux/internal/domain"
	"github.com/talkincode/wamux/internal/webhook"
)

// GormWebhookRepository implements webhook.SubscriptionStore.
type GormWebhookRepository struct {
	db *gorm.DB
}

func NewGormWebhookRepository(db *gorm.DB) *GormWebhookRepository {
	return &GormWebhookRepository{db: db}
}

func (r *GormWebhookRepository) SaveSubscription(ctx context.Context, sub webhook.Subscription) error {
	rec := &domain.WebhookSubscription{
		InstanceID: sub.InstanceID,
		URL:        sub.URL,
		Events:     strings.Join(sub.Events, ","),
		Secret:     sub.Secret,
		UpdatedAt:  sub.UpdatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instance_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "events", "secret", "updated_at"}),
		}).
		Create(rec).Error
}

func (r *GormWebhookRepository) DeleteSubscription(ctx context.Context, instanceID string) error {
	return r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Delete(&domain.WebhookSubscription{}).Error
}

func (r *GormWebhookRepository) ListSubscriptions(ctx context.Context) ([]webhook.Subscription, error) {
	var recs []*domain.WebhookSubscription
	if err := r.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	subs := make([]webhook.Subscription, 0, len(recs))
	for _, rec := range recs {
		var events []string
		if rec.Events != "" {
			events = strings.Split(rec.Events, ",")
		}
		subs = append(subs, webhook.Subscription{
			InstanceID: rec.InstanceID,
			URL:        rec.URL,
			Events:     events,
			Secret:     rec.Secret,
			HasSecret:  rec.Secret != "",
			UpdatedAt:  rec.UpdatedAt,
		})
	}
	return subs, nil
}

// GormDeliveryRepository is the webhook delivery log.
type GormDeliveryRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewGormDeliveryRepository(db *gorm.DB, nodeID int64) (*GormDeliveryRepository, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &GormDeliveryRepository{db: db, node: node}, nil
}

// RecordDelivery implements webhook.DeliveryRecorder. Write errors are logged.
func (r *GormDeliveryRepository) RecordDelivery(d webhook.Delivery) {
	rec := &domain.WebhookDelivery{
		ID:         r.node.Generate().Int64(),
		InstanceID: d.InstanceID,
		Event:      d.Event,
		URL:        d.URL,
		StatusCode: d.StatusCode,
		Success:    d.Success(),
		ErrorMsg:   d.Error,
		DurationMs: d.Duration.Milliseconds(),
		CreatedAt:  d.Timestamp,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		zap.L().Warn("webhook: record delivery failed", zap.String("instance", d.InstanceID), zap.Error(err))
	}
}

// List returns the newest deliveries of an instance, newest first.
// An empty instanceID lists all instances.
func (r *GormDeliveryRepository) List(ctx context.Context, instanceID string, since time.Time, limit int) ([]*domain.WebhookDelivery, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var recs []*domain.WebhookDelivery
	query := r.db.WithContext(ctx)
	if instanceID != "" {
		query = query.Where("instance_id = ?", instanceID)
	}
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	err := query.Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// DeleteByInstance drops the log of a deleted instance.
func (r *GormDeliveryRepository) DeleteByInstance(ctx context.Context, instanceID string) error {
	return r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Delete(&domain.WebhookDelivery{}).Error
}

// PruneOlderThan removes deliveries older than days and returns the count.
func (r *GormDeliveryRepository) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.WebhookDelivery{})
	return res.RowsAffected, res.Error
}
