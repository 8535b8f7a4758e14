// Package transport describes the per-instance chat connection the session
// core drives. Implementations wrap a protocol library and report what
// happens on the wire as Events through the emit callback they were built
// with; the core never looks inside a transport.
package transport

import (
	"context"
	"time"
)

// Transport is one live protocol connection owned by exactly one instance.
type Transport interface {
	// Connect starts connection establishment. It returns once the socket
	// is dialled; progress is reported later through events.
	Connect() error
	// Disconnect closes the socket without invalidating credentials.
	Disconnect()
	// Logout invalidates the credentials on the remote side and closes.
	Logout(ctx context.Context) error
	// RequestPairingCode asks for a text pairing challenge for phone (digits only).
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Send(ctx context.Context, to string, msg OutgoingMessage) (SendResult, error)
}

// Factory builds transports bound to an instance's persisted credentials.
type Factory interface {
	// New returns an unconnected transport for instanceID. Events are
	// delivered through emit, possibly from several goroutines at once.
	New(instanceID string, emit func(Event)) (Transport, error)
	// Provision prepares the credential storage of a new instance.
	Provision(instanceID string) error
	// Purge removes all credential material of instanceID.
	Purge(instanceID string) error
}

// Event is implemented by every event a transport reports.
type Event interface {
	eventName() string
}

// QR carries a fresh login challenge.
type QR struct {
	Code string
}

// Identity is the account a transport authenticated as.
type Identity struct {
	ID   string // e.g. "15551234567:12@s.whatsapp.net"
	Name string
}

// Opened reports a successful login.
type Opened struct {
	Identity Identity
}

// Closed reports the connection went away.
type Closed struct {
	Code      int
	Reason    string
	LoggedOut bool
}

// Message is an inbound chat message.
type Message struct {
	ID        string
	From      string // chat the message belongs to
	Sender    string
	FromMe    bool
	Kind      string // conversation, imageMessage, ...
	PushName  string
	Timestamp time.Time
	Raw       any
}

// MessageUpdate carries delivery or read receipts.
type MessageUpdate struct {
	Updates any
}

// Presence carries an online/typing notification.
type Presence struct {
	Data any
}

func (QR) eventName() string            { return "qr" }
func (Opened) eventName() string        { return "opened" }
func (Closed) eventName() string        { return "closed" }
func (Message) eventName() string       { return "message" }
func (MessageUpdate) eventName() string { return "message_update" }
func (Presence) eventName() string      { return "presence" }

// Name returns a short label of ev for logging.
func Name(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}

// MessageKind enumerates outgoing message shapes.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
)

type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

type Contact struct {
	DisplayName string
	VCard       string
}

// OutgoingMessage is one message to send. Only the fields relevant to
// Kind are read.
type OutgoingMessage struct {
	Kind      MessageKind
	Text      string
	Caption   string
	MediaPath string
	FileName  string
	Mimetype  string
	Location  Location
	Contact   Contact
}

type SendResult struct {
	ID        string
	Timestamp time.Time
}
