package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wamux/internal/domain"
	"github.com/talkincode/wamux/internal/webhook"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Tables...))
	return db
}

func TestInstanceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormInstanceRepository(newTestDB(t))

	now := time.Now()
	require.NoError(t, repo.SaveInstance(ctx, &domain.WhatsAppInstance{ID: "a", Name: "sales", CreatedAt: now}))
	require.NoError(t, repo.SaveInstance(ctx, &domain.WhatsAppInstance{ID: "b", Name: "support", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, repo.SaveInstance(ctx, &domain.WhatsAppInstance{ID: "a", Name: "sales-2", CreatedAt: now}))

	list, err := repo.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "sales-2", list[0].Name)

	seen := time.Now()
	require.NoError(t, repo.UpdateInstanceState(ctx, "a", "connected", "15551234567", &seen))
	got, err := repo.GetInstance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "connected", got.LastStatus)
	assert.Equal(t, "15551234567", got.Phone)
	require.NotNil(t, got.LastSeen)

	require.NoError(t, repo.DeleteInstance(ctx, "a"))
	_, err = repo.GetInstance(ctx, "a")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestWebhookRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormWebhookRepository(newTestDB(t))

	sub := webhook.Subscription{InstanceID: "a", URL: "https://example.test/a", Events: []string{"qr", "message"}, Secret: "s", UpdatedAt: time.Now()}
	require.NoError(t, repo.SaveSubscription(ctx, sub))
	sub.URL = "https://example.test/b"
	sub.Events = []string{"presence"}
	sub.Secret = ""
	require.NoError(t, repo.SaveSubscription(ctx, sub))

	subs, err := repo.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://example.test/b", subs[0].URL)
	assert.Equal(t, []string{"presence"}, subs[0].Events)
	assert.False(t, subs[0].HasSecret)

	require.NoError(t, repo.DeleteSubscription(ctx, "a"))
	subs, err = repo.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDeliveryRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := NewGormDeliveryRepository(newTestDB(t), 1)
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -10)
	repo.RecordDelivery(webhook.Delivery{InstanceID: "a", Event: "qr", URL: "u", StatusCode: 200, Timestamp: old})
	repo.RecordDelivery(webhook.Delivery{InstanceID: "a", Event: "message", URL: "u", StatusCode: 500, Error: "boom", Timestamp: time.Now()})
	repo.RecordDelivery(webhook.Delivery{InstanceID: "b", Event: "message", URL: "u", StatusCode: 200, Timestamp: time.Now()})

	recs, err := repo.List(ctx, "a", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "message", recs[0].Event)
	assert.False(t, recs[0].Success)
	assert.True(t, recs[1].Success)

	recent, err := repo.List(ctx, "", time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	n, err := repo.PruneOlderThan(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, repo.DeleteByInstance(ctx, "b"))
	all, err := repo.List(ctx, "", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
