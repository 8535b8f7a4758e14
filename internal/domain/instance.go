package domain

import "time"

// WhatsAppInstance is the persisted record of a session instance. Runtime
// connection state lives in memory; only identity survives a restart.
type WhatsAppInstance struct {
	ID         string     `json:"id" gorm:"primaryKey;size:64"`
	Name       string     `json:"name"`
	WebhookURL string     `json:"webhook_url"`
	Phone      string     `json:"phone"`       // last resolved identity
	LastStatus string     `json:"last_status"` // status at last shutdown or transition
	LastSeen   *time.Time `json:"last_seen"`
	CreatedAt  time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (WhatsAppInstance) TableName() string {
	return "whatsapp_instance"
}
