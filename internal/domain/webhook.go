package domain

import "time"

// WebhookSubscription one per instance
type WebhookSubscription struct {
	InstanceID string    `json:"instance_id" gorm:"primaryKey;size:64"`
	URL        string    `json:"url"`
	Events     string    `json:"events"` // comma separated
	Secret     string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (WebhookSubscription) TableName() string {
	return "webhook_subscription"
}

// WebhookDelivery audit trail of delivery attempts
type WebhookDelivery struct {
	ID         int64     `json:"id,string" gorm:"primaryKey"`
	InstanceID string    `json:"instance_id" gorm:"index;size:64"`
	Event      string    `json:"event" gorm:"index"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Success    bool      `json:"success"`
	ErrorMsg   string    `json:"error_msg"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_delivery"
}
