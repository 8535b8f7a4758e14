package meow

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/wamux/internal/transport"
)

// pairing codes are requested as a Chrome companion
const pairDisplayName = "Chrome (Linux)"

// Transport is one whatsmeow client.
type Transport struct {
	id   string
	cli  *whatsmeow.Client
	emit func(transport.Event)

	mu       sync.Mutex
	qrCancel context.CancelFunc
}

// Connect dials the server. A device without credentials first opens the
// QR channel so login challenges are reported as they rotate.
func (t *Transport) Connect() error {
	if t.cli.Store.ID == nil {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := t.cli.GetQRChannel(ctx)
		if err != nil {
			cancel()
			return fmt.Errorf("open qr channel: %w", err)
		}
		t.mu.Lock()
		t.qrCancel = cancel
		t.mu.Unlock()
		go t.watchQR(ch)
	}
	return t.cli.Connect()
}

func (t *Transport) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			t.emit(transport.QR{Code: item.Code})
		case "success":
			zap.L().Debug("meow: qr login succeeded", zap.String("instance", t.id))
		case "timeout":
			t.emit(transport.Closed{Code: 408, Reason: "qr code timed out"})
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			t.emit(transport.Closed{Code: 500, Reason: reason})
		}
	}
}

func (t *Transport) stopQR() {
	t.mu.Lock()
	cancel := t.qrCancel
	t.qrCancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Transport) Disconnect() {
	t.stopQR()
	t.cli.Disconnect()
}

func (t *Transport) Logout(ctx context.Context) error {
	t.stopQR()
	return t.cli.Logout(ctx)
}

func (t *Transport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return t.cli.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, pairDisplayName)
}

func (t *Transport) Send(ctx context.Context, to string, msg transport.OutgoingMessage) (transport.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return transport.SendResult{}, fmt.Errorf("parse jid %q: %w", to, err)
	}
	m, err := t.build(ctx, msg)
	if err != nil {
		return transport.SendResult{}, err
	}
	resp, err := t.cli.SendMessage(ctx, jid, m)
	if err != nil {
		return transport.SendResult{}, err
	}
	return transport.SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (t *Transport) build(ctx context.Context, msg transport.OutgoingMessage) (*waE2E.Message, error) {
	switch msg.Kind {
	case transport.KindText:
		return &waE2E.Message{Conversation: proto.String(msg.Text)}, nil
	case transport.KindLocation:
		return &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(msg.Location.Latitude),
			DegreesLongitude: proto.Float64(msg.Location.Longitude),
			Name:             optional(msg.Location.Name),
			Address:          optional(msg.Location.Address),
		}}, nil
	case transport.KindContact:
		return &waE2E.Message{ContactMessage: &waE2E.ContactMessage{
			DisplayName: proto.String(msg.Contact.DisplayName),
			Vcard:       proto.String(msg.Contact.VCard),
		}}, nil
	case transport.KindImage, transport.KindVideo, transport.KindAudio, transport.KindDocument:
		return t.buildMedia(ctx, msg)
	}
	return nil, fmt.Errorf("unsupported message kind %q", msg.Kind)
}

var mediaTypes = map[transport.MessageKind]whatsmeow.MediaType{
	transport.KindImage:    whatsmeow.MediaImage,
	transport.KindVideo:    whatsmeow.MediaVideo,
	transport.KindAudio:    whatsmeow.MediaAudio,
	transport.KindDocument: whatsmeow.MediaDocument,
}

func (t *Transport) buildMedia(ctx context.Context, msg transport.OutgoingMessage) (*waE2E.Message, error) {
	data, err := os.ReadFile(msg.MediaPath)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("media file is empty")
	}
	mimetype := msg.Mimetype
	if mimetype == "" {
		mimetype = mime.TypeByExtension(filepath.Ext(msg.FileName))
	}
	if mimetype == "" {
		mimetype = http.DetectContentType(data)
	}
	up, err := t.cli.Upload(ctx, data, mediaTypes[msg.Kind])
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	length := proto.Uint64(uint64(len(data)))
	switch msg.Kind {
	case transport.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       optional(msg.Caption),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
		}}, nil
	case transport.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       optional(msg.Caption),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
		}}, nil
	case transport.KindAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(msg.FileName),
			FileName:      proto.String(msg.FileName),
			Caption:       optional(msg.Caption),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
		}}, nil
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

func (t *Transport) handle(evt any) {
	if ev, ok := translate(evt, t.self); ok {
		t.emit(ev)
	}
}

func (t *Transport) self() transport.Identity {
	id := transport.Identity{Name: t.cli.Store.PushName}
	if t.cli.Store.ID != nil {
		id.ID = t.cli.Store.ID.String()
	}
	return id
}
