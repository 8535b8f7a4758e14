package whatsapp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talkincode/wamux/internal/errors"
	"github.com/talkincode/wamux/internal/registry"
	"github.com/talkincode/wamux/internal/transport"
)

// DefaultChatDomain is appended to recipients given as bare phone numbers.
const DefaultChatDomain = "s.whatsapp.net"

// SendResult is returned by every send operation.
type SendResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// ContactCard describes the contact shared by SendContact.
type ContactCard struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// NormalizeRecipient keeps a full JID verbatim and turns anything else
// into <digits>@s.whatsapp.net.
func NormalizeRecipient(to string) (string, error) {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		return to, nil
	}
	digits := onlyDigits(to)
	if digits == "" {
		return "", errors.NewInvalidArgument("message", "", "recipient %q is not a phone number or jid", to)
	}
	return digits + "@" + DefaultChatDomain, nil
}

var mediaKinds = map[string]transport.MessageKind{
	".jpg":  transport.KindImage,
	".jpeg": transport.KindImage,
	".png":  transport.KindImage,
	".gif":  transport.KindImage,
	".webp": transport.KindImage,
	".mp4":  transport.KindVideo,
	".avi":  transport.KindVideo,
	".mov":  transport.KindVideo,
	".mkv":  transport.KindVideo,
	".mp3":  transport.KindAudio,
	".wav":  transport.KindAudio,
	".ogg":  transport.KindAudio,
	".aac":  transport.KindAudio,
}

// MediaKind infers the message kind from the file extension; unknown
// extensions are sent as documents.
func MediaKind(path string) transport.MessageKind {
	if k, ok := mediaKinds[strings.ToLower(filepath.Ext(path))]; ok {
		return k
	}
	return transport.KindDocument
}

// BuildVCard renders a vCard 3.0 contact card.
func BuildVCard(c ContactCard) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\n")
	b.WriteString("VERSION:3.0\n")
	fmt.Fprintf(&b, "FN:%s\n", c.Name)
	fmt.Fprintf(&b, "TEL:%s\n", c.Phone)
	if c.Email != "" {
		fmt.Fprintf(&b, "EMAIL:%s\n", c.Email)
	}
	b.WriteString("END:VCARD")
	return b.String()
}

func (s *Service) SendText(ctx context.Context, id, to, text string) (SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return SendResult{}, errors.NewInvalidArgument("instance", id, "message text is required")
	}
	return s.send(ctx, id, to, transport.OutgoingMessage{Kind: transport.KindText, Text: text})
}

// SendMedia sends the file at mediaPath; its kind follows the extension.
// fileName overrides the document name shown to the recipient.
func (s *Service) SendMedia(ctx context.Context, id, to, mediaPath, caption, fileName string) (SendResult, error) {
	if strings.TrimSpace(mediaPath) == "" {
		return SendResult{}, errors.NewInvalidArgument("instance", id, "media file is required")
	}
	kind := MediaKind(fileName)
	if fileName == "" {
		kind = MediaKind(mediaPath)
		fileName = filepath.Base(mediaPath)
	}
	return s.send(ctx, id, to, transport.OutgoingMessage{
		Kind:      kind,
		Caption:   caption,
		MediaPath: mediaPath,
		FileName:  fileName,
	})
}

func (s *Service) SendLocation(ctx context.Context, id, to string, lat, lon float64, name, address string) (SendResult, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return SendResult{}, errors.NewInvalidArgument("instance", id, "coordinates %f,%f out of range", lat, lon)
	}
	return s.send(ctx, id, to, transport.OutgoingMessage{
		Kind: transport.KindLocation,
		Location: transport.Location{
			Latitude:  lat,
			Longitude: lon,
			Name:      name,
			Address:   address,
		},
	})
}

func (s *Service) SendContact(ctx context.Context, id, to string, c ContactCard) (SendResult, error) {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" {
		return SendResult{}, errors.NewInvalidArgument("instance", id, "contact name and phone are required")
	}
	return s.send(ctx, id, to, transport.OutgoingMessage{
		Kind: transport.KindContact,
		Contact: transport.Contact{
			DisplayName: c.Name,
			VCard:       BuildVCard(c),
		},
	})
}

// send requires a connected instance. The transport is used outside the
// instance lock so a slow upload does not stall event handling.
func (s *Service) send(ctx context.Context, id, to string, msg transport.OutgoingMessage) (SendResult, error) {
	jid, err := NormalizeRecipient(to)
	if err != nil {
		return SendResult{}, err
	}
	inst, err := s.registry.MustGet(id)
	if err != nil {
		return SendResult{}, err
	}
	inst.Lock()
	t := inst.Transport
	connected := !inst.Deleted() && t != nil && inst.Status == registry.StatusConnected
	inst.Unlock()
	if !connected {
		return SendResult{}, errors.NewNotConnected("instance", id)
	}
	res, err := t.Send(ctx, jid, msg)
	if err != nil {
		zap.L().Warn("whatsapp: send failed",
			zap.String("instance", id),
			zap.String("kind", string(msg.Kind)),
			zap.String("to", jid),
			zap.Error(err))
		return SendResult{}, errors.NewTransportFailure("instance", id, "send "+string(msg.Kind), err)
	}
	ts := res.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	zap.L().Info("whatsapp: message sent",
		zap.String("instance", id),
		zap.String("kind", string(msg.Kind)),
		zap.String("to", jid),
		zap.String("message_id", res.ID))
	return SendResult{MessageID: res.ID, Timestamp: ts}, nil
}
