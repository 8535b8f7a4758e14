package meow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/wamux/internal/transport"
)

func noSelf() transport.Identity { return transport.Identity{} }

func TestTranslateConnection(t *testing.T) {
	self := func() transport.Identity {
		return transport.Identity{ID: "15551234567:3@s.whatsapp.net", Name: "Shop"}
	}
	ev, ok := translate(&events.Connected{}, self)
	require.True(t, ok)
	assert.Equal(t, transport.Opened{Identity: self()}, ev)

	ev, ok = translate(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, noSelf)
	require.True(t, ok)
	closed := ev.(transport.Closed)
	assert.True(t, closed.LoggedOut)
	assert.Equal(t, codeLoggedOut, closed.Code)

	ev, ok = translate(&events.Disconnected{}, noSelf)
	require.True(t, ok)
	assert.False(t, ev.(transport.Closed).LoggedOut)

	ev, ok = translate(&events.StreamReplaced{}, noSelf)
	require.True(t, ok)
	assert.Equal(t, codeReplaced, ev.(transport.Closed).Code)

	_, ok = translate(&events.QR{Codes: []string{"x"}}, noSelf)
	assert.False(t, ok, "qr codes come from the qr channel")
}

func TestTranslateMessage(t *testing.T) {
	chat := types.NewJID("15550001111", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "ABC",
			PushName:      "Ann",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: proto.String("hello")},
	}
	ev, ok := translate(evt, noSelf)
	require.True(t, ok)
	msg := ev.(transport.Message)
	assert.Equal(t, "ABC", msg.ID)
	assert.Equal(t, "15550001111@s.whatsapp.net", msg.From)
	assert.Equal(t, "conversation", msg.Kind)
	assert.False(t, msg.FromMe)
	assert.Equal(t, map[string]any{"conversation": "hello"}, msg.Raw)

	img := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("cat")}}
	assert.Equal(t, "imageMessage", messageKind(img))
	assert.Equal(t, "", messageKind(nil))
}

func TestTranslateReceiptAndPresence(t *testing.T) {
	chat := types.NewJID("15550001111", types.DefaultUserServer)
	ev, ok := translate(&events.Receipt{
		MessageSource: types.MessageSource{Chat: chat, Sender: chat},
		MessageIDs:    []types.MessageID{"A", "B"},
		Type:          types.ReceiptTypeRead,
		Timestamp:     time.Unix(1700000000, 0),
	}, noSelf)
	require.True(t, ok)
	updates := ev.(transport.MessageUpdate).Updates.([]map[string]any)
	require.Len(t, updates, 1)
	assert.Equal(t, "read", updates[0]["type"])

	ev, ok = translate(&events.Presence{From: chat, Unavailable: true}, noSelf)
	require.True(t, ok)
	assert.Equal(t, true, ev.(transport.Presence).Data.(map[string]any)["unavailable"])
}

func TestFactoryProvisionAndPurge(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(dir)
	defer f.Close()

	require.NoError(t, f.Provision("inst-1"))
	_, err := os.Stat(filepath.Join(dir, "inst-1", sessionFile))
	require.NoError(t, err)

	tr, err := f.New("inst-1", func(transport.Event) {})
	require.NoError(t, err)
	assert.Equal(t, "", tr.(*Transport).self().ID, "a fresh device has no identity")

	require.NoError(t, f.Purge("inst-1"))
	_, err = os.Stat(filepath.Join(dir, "inst-1"))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, f.Purge("inst-1"))
}
