package registry

import (
	"sync"
	"time"

	"github.com/talkincode/wamux/internal/transport"
)

// Status is the connection state of an instance.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusQRCode       Status = "qr_code"
	StatusConnected    Status = "connected"
)

// Instance is one chat session. ID, Name and CreatedAt never change; every
// other field is guarded by the instance lock.
type Instance struct {
	ID        string
	Name      string
	CreatedAt time.Time

	mu sync.Mutex

	WebhookURL string
	Status     Status
	Phone      string
	Transport  transport.Transport
	// QR is the rendered challenge (PNG data URL), QRString the raw code.
	QR       string
	QRString string
	Pairing  string
	LastSeen time.Time
	// Generation increases each time a transport is attached so events of
	// a torn-down transport can be told apart.
	Generation uint64

	deleted bool
}

func NewInstance(id, name, webhookURL string, createdAt time.Time) *Instance {
	return &Instance{
		ID:         id,
		Name:       name,
		CreatedAt:  createdAt,
		WebhookURL: webhookURL,
		Status:     StatusDisconnected,
	}
}

func (i *Instance) Lock()   { i.mu.Lock() }
func (i *Instance) Unlock() { i.mu.Unlock() }

// MarkDeleted flags the instance as being destroyed. Caller holds the lock.
func (i *Instance) MarkDeleted() { i.deleted = true }

// Deleted reports whether MarkDeleted was called. Caller holds the lock.
func (i *Instance) Deleted() bool { return i.deleted }

// ClearArtifacts drops the QR and pairing challenges. Caller holds the lock.
func (i *Instance) ClearArtifacts() {
	i.QR = ""
	i.QRString = ""
	i.Pairing = ""
}

// Info is a point-in-time copy of an instance safe to hand out.
type Info struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         Status     `json:"status"`
	Phone          *string    `json:"phone"`
	WebhookURL     string     `json:"webhookUrl,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastSeen       *time.Time `json:"lastSeen"`
	HasQR          bool       `json:"hasQr"`
	HasPairingCode bool       `json:"hasPairingCode"`
	Attached       bool       `json:"-"`
}

// Snapshot copies the instance under its lock.
func (i *Instance) Snapshot() Info {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.SnapshotLocked()
}

// SnapshotLocked is Snapshot for callers already holding the lock.
func (i *Instance) SnapshotLocked() Info {
	info := Info{
		ID:             i.ID,
		Name:           i.Name,
		Status:         i.Status,
		WebhookURL:     i.WebhookURL,
		CreatedAt:      i.CreatedAt,
		HasQR:          i.QR != "",
		HasPairingCode: i.Pairing != "",
		Attached:       i.Transport != nil,
	}
	if i.Phone != "" {
		phone := i.Phone
		info.Phone = &phone
	}
	if !i.LastSeen.IsZero() {
		ls := i.LastSeen
		info.LastSeen = &ls
	}
	return info
}
