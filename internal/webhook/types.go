package webhook

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/talkincode/wamux/internal/errors"
)

// Event kinds a subscription may select.
const (
	EventMessage       = "message"
	EventConnection    = "connection"
	EventQR            = "qr"
	EventPairingCode   = "pairing_code"
	EventDisconnected  = "disconnected"
	EventConnected     = "connected"
	EventMessageUpdate = "message_update"
	EventPresence      = "presence"

	// EventTest is only used by connectivity checks and cannot be subscribed.
	EventTest = "test"
)

// SecretHeader carries the subscription secret on every delivery.
const SecretHeader = "X-Webhook-Secret"

// TopicNotification is the event bus topic the session core publishes on.
const TopicNotification = "instance:notification"

var ValidEvents = []string{
	EventMessage,
	EventConnection,
	EventQR,
	EventPairingCode,
	EventDisconnected,
	EventConnected,
	EventMessageUpdate,
	EventPresence,
}

// DefaultEvents is used when a subscription is configured without events.
var DefaultEvents = []string{EventMessage, EventConnection, EventQR}

func IsValidEvent(event string) bool {
	for _, e := range ValidEvents {
		if e == event {
			return true
		}
	}
	return false
}

// Subscription is the webhook of one instance.
type Subscription struct {
	InstanceID string    `json:"instanceId"`
	URL        string    `json:"url"`
	Events     []string  `json:"events"`
	Secret     string    `json:"-"`
	HasSecret  bool      `json:"hasSecret"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Wants reports whether event is in the subscribed set.
func (s Subscription) Wants(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Notification is what the session core publishes for every event.
type Notification struct {
	InstanceID string
	Event      string
	Data       any
}

// Envelope is the JSON body of every delivery.
type Envelope struct {
	Event      string `json:"event"`
	InstanceID string `json:"instanceId,omitempty"`
	Data       any    `json:"data"`
	Timestamp  string `json:"timestamp"`
}

// Delivery is the outcome of one POST.
type Delivery struct {
	InstanceID string
	Event      string
	URL        string
	StatusCode int
	Error      string
	Duration   time.Duration
	Timestamp  time.Time
}

func (d Delivery) Success() bool {
	return d.Error == "" && d.StatusCode >= 200 && d.StatusCode < 300
}

// DeliveryRecorder observes delivery attempts. Implementations must not block.
type DeliveryRecorder interface {
	RecordDelivery(d Delivery)
}

// SubscriptionStore persists subscriptions across restarts.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, instanceID string) error
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
}

// TestResult reports a connectivity check.
type TestResult struct {
	Success      bool   `json:"success"`
	Status       int    `json:"status,omitempty"`
	ResponseTime int64  `json:"responseTime"`
	Response     any    `json:"response,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) error {
	return validateURL("", raw)
}

func validateURL(id, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return errors.NewInvalidArgument("webhook", id, "malformed url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewInvalidArgument("webhook", id, "url %q must be http or https", raw)
	}
	if u.Host == "" {
		return errors.NewInvalidArgument("webhook", id, "url %q has no host", raw)
	}
	return nil
}

// normalizeEvents validates events and removes duplicates, keeping order.
func normalizeEvents(id string, events []string) ([]string, error) {
	if len(events) == 0 {
		return append([]string(nil), DefaultEvents...), nil
	}
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if !IsValidEvent(e) {
			return nil, errors.NewInvalidArgument("webhook", id, "invalid event %q, valid events: %s", e, strings.Join(ValidEvents, ", "))
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
