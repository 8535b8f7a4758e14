package meow

import (
	jsoniter "github.com/json-iterator/go"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/talkincode/wamux/internal/transport"
)

// close codes reported for whatsmeow events that carry none
const (
	codeLoggedOut      = 401
	codeBanned         = 403
	codeConnectionLost = 428
	codeReplaced       = 440
)

// translate maps a whatsmeow event to a transport event. self is read
// only for events.Connected.
func translate(evt any, self func() transport.Identity) (transport.Event, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return transport.Opened{Identity: self()}, true
	case *events.LoggedOut:
		return transport.Closed{Code: codeLoggedOut, Reason: e.Reason.String(), LoggedOut: true}, true
	case *events.TemporaryBan:
		return transport.Closed{Code: codeBanned, Reason: e.String(), LoggedOut: true}, true
	case *events.StreamReplaced:
		return transport.Closed{Code: codeReplaced, Reason: "connection replaced"}, true
	case *events.ConnectFailure:
		return transport.Closed{Code: int(e.Reason), Reason: e.Message, LoggedOut: e.Reason.IsLoggedOut()}, true
	case *events.Disconnected:
		return transport.Closed{Code: codeConnectionLost, Reason: "connection closed"}, true
	case *events.Message:
		return transport.Message{
			ID:        e.Info.ID,
			From:      e.Info.Chat.String(),
			Sender:    e.Info.Sender.String(),
			FromMe:    e.Info.IsFromMe,
			Kind:      messageKind(e.Message),
			PushName:  e.Info.PushName,
			Timestamp: e.Info.Timestamp,
			Raw:       rawMessage(e.Message),
		}, true
	case *events.Receipt:
		return transport.MessageUpdate{Updates: []map[string]any{{
			"ids":       e.MessageIDs,
			"type":      receiptType(e),
			"chat":      e.Chat.String(),
			"sender":    e.Sender.String(),
			"timestamp": e.Timestamp.Unix(),
		}}}, true
	case *events.Presence:
		data := map[string]any{
			"from":        e.From.String(),
			"unavailable": e.Unavailable,
		}
		if !e.LastSeen.IsZero() {
			data["lastSeen"] = e.LastSeen.Unix()
		}
		return transport.Presence{Data: data}, true
	case *events.ChatPresence:
		return transport.Presence{Data: map[string]any{
			"chat":   e.Chat.String(),
			"sender": e.Sender.String(),
			"state":  string(e.State),
			"media":  string(e.Media),
		}}, true
	}
	return nil, false
}

func receiptType(e *events.Receipt) string {
	if e.Type == "" {
		return "delivered"
	}
	return string(e.Type)
}

// messageKind names the populated content field, e.g. "conversation" or
// "imageMessage".
func messageKind(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	kind := ""
	m.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, _ protoreflect.Value) bool {
		if fd.JSONName() == "messageContextInfo" {
			return true
		}
		kind = fd.JSONName()
		return false
	})
	return kind
}

// rawMessage renders the protobuf as generic JSON for webhook payloads.
func rawMessage(m *waE2E.Message) any {
	if m == nil {
		return nil
	}
	b, err := protojson.Marshal(m)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := jsoniter.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
