package whatsapp

import (
	"context"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.uber.org/zap"

	"github.com/talkincode/wamux/internal/errors"
	"github.com/talkincode/wamux/internal/registry"
	"github.com/talkincode/wamux/internal/transport"
	"github.com/talkincode/wamux/internal/webhook"
)

// Connect attaches a fresh transport and starts connection establishment.
// Progress (QR, open, close) arrives later as events.
func (s *Service) Connect(ctx context.Context, id string) error {
	return s.connect(id, nil)
}

// reconnect is fired by the reconnector.
func (s *Service) reconnect(id string, token uint64) {
	claim := func() bool { return s.reconnector.Claim(id, token) }
	err := s.connect(id, claim)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrNotFound):
		s.reconnector.Forget(id)
	case errors.Is(err, errors.ErrTransportFailure):
		delay := s.reconnector.Schedule(id)
		zap.L().Warn("whatsapp: reconnect failed, retrying",
			zap.String("instance", id),
			zap.Duration("delay", delay),
			zap.Error(err))
	default:
		zap.L().Debug("whatsapp: reconnect skipped", zap.String("instance", id), zap.Error(err))
	}
}

// connect attaches a transport under the instance lock and dials outside
// it. claim, when set, must approve the attempt; it rejects reconnects
// cancelled while waiting for the lock.
func (s *Service) connect(id string, claim func() bool) error {
	inst, err := s.registry.MustGet(id)
	if err != nil {
		return err
	}
	inst.Lock()
	if inst.Deleted() {
		inst.Unlock()
		return errors.NewNotFound("instance", id)
	}
	if claim != nil && !claim() {
		inst.Unlock()
		return nil
	}
	if inst.Transport != nil {
		inst.Unlock()
		return errors.NewAlreadyConnected("instance", id)
	}
	s.reconnector.Cancel(id)

	inst.Generation++
	gen := inst.Generation
	t, err := s.factory.New(id, s.emitter(id, gen))
	if err != nil {
		inst.Unlock()
		return errors.NewTransportFailure("instance", id, "create transport", err)
	}
	inst.Transport = t
	inst.ClearArtifacts()
	s.setStatusLocked(inst, registry.StatusConnecting)
	inst.Unlock()

	if err := t.Connect(); err != nil {
		t.Disconnect()
		inst.Lock()
		if inst.Generation == gen && inst.Transport == t {
			inst.Generation++
			inst.Transport = nil
			s.setStatusLocked(inst, registry.StatusDisconnected)
		}
		inst.Unlock()
		zap.L().Warn("whatsapp: connect failed", zap.String("instance", id), zap.Error(err))
		return errors.NewTransportFailure("instance", id, "connect", err)
	}
	inst.Lock()
	stale := inst.Generation != gen || inst.Transport != t
	inst.Unlock()
	if stale {
		// detached while dialling
		t.Disconnect()
		return nil
	}
	zap.L().Info("whatsapp: connecting", zap.String("instance", id))
	return nil
}

// Disconnect logs out (when logged in) and detaches the transport. It never
// schedules a reconnect and is a no-op without a transport.
func (s *Service) Disconnect(ctx context.Context, id string) (registry.Info, error) {
	inst, err := s.registry.MustGet(id)
	if err != nil {
		return registry.Info{}, err
	}
	inst.Lock()
	if inst.Deleted() {
		inst.Unlock()
		return registry.Info{}, errors.NewNotFound("instance", id)
	}
	s.reconnector.Cancel(id)
	t := inst.Transport
	if t == nil {
		info := inst.SnapshotLocked()
		inst.Unlock()
		return info, nil
	}
	loggedIn := inst.Status == registry.StatusConnected
	s.detachLocked(inst, map[string]any{
		"reason":          "disconnected_by_request",
		"shouldReconnect": false,
	})
	info := inst.SnapshotLocked()
	inst.Unlock()

	s.closeTransport(ctx, id, t, loggedIn)
	s.persist(ctx, info)
	zap.L().Info("whatsapp: disconnected", zap.String("instance", id))
	return info, nil
}

// closeTransport logs out a logged-in transport, otherwise just closes it.
// Logout failures are logged and fall back to a plain close. The transport
// must already be detached and the instance lock released.
func (s *Service) closeTransport(ctx context.Context, id string, t transport.Transport, loggedIn bool) {
	if loggedIn {
		if err := t.Logout(ctx); err != nil {
			zap.L().Warn("whatsapp: logout failed", zap.String("instance", id), zap.Error(err))
			t.Disconnect()
		}
		return
	}
	t.Disconnect()
}

// detachLocked clears the transport and every artifact and emits the
// disconnect notifications. Caller holds the lock.
func (s *Service) detachLocked(inst *registry.Instance, data map[string]any) {
	inst.Generation++
	inst.Transport = nil
	inst.Phone = ""
	inst.ClearArtifacts()
	s.setStatusLocked(inst, registry.StatusDisconnected)
	s.emit(inst.ID, webhook.EventDisconnected, data)
}

// RequestPairingCode asks the attached transport for a text pairing code.
// The request runs outside the instance lock; a code for a transport that
// was detached meanwhile is discarded.
func (s *Service) RequestPairingCode(ctx context.Context, id, phone string) (string, error) {
	inst, err := s.registry.MustGet(id)
	if err != nil {
		return "", err
	}
	digits := onlyDigits(phone)
	if digits == "" {
		return "", errors.NewInvalidArgument("instance", id, "phone number is required")
	}
	inst.Lock()
	if inst.Deleted() {
		inst.Unlock()
		return "", errors.NewNotFound("instance", id)
	}
	t, gen := inst.Transport, inst.Generation
	inst.Unlock()
	if t == nil {
		return "", errors.NewNotConnected("instance", id)
	}

	code, err := t.RequestPairingCode(ctx, digits)
	if err != nil {
		return "", errors.NewTransportFailure("instance", id, "request pairing code", err)
	}

	inst.Lock()
	defer inst.Unlock()
	if inst.Deleted() || inst.Generation != gen || inst.Transport != t {
		return "", errors.NewNotConnected("instance", id)
	}
	inst.Pairing = code
	s.emit(id, webhook.EventPairingCode, map[string]any{
		"code":  code,
		"phone": digits,
	})
	zap.L().Info("whatsapp: pairing code issued", zap.String("instance", id))
	return code, nil
}

// handleEvent applies one transport event. Events of a transport that is
// no longer attached are dropped.
func (s *Service) handleEvent(inst *registry.Instance, t tagged) {
	inst.Lock()
	if inst.Deleted() || inst.Transport == nil || inst.Generation != t.gen {
		inst.Unlock()
		zap.L().Debug("whatsapp: stale event dropped",
			zap.String("instance", inst.ID),
			zap.String("event", transport.Name(t.ev)))
		return
	}
	persist := false
	var closed transport.Transport
	switch ev := t.ev.(type) {
	case transport.QR:
		s.onQR(inst, ev)
	case transport.Opened:
		s.onOpen(inst, ev)
		persist = true
	case transport.Closed:
		closed = s.onClose(inst, ev)
		persist = true
	case transport.Message:
		s.onMessage(inst, ev)
	case transport.MessageUpdate:
		s.emit(inst.ID, webhook.EventMessageUpdate, map[string]any{"updates": ev.Updates})
	case transport.Presence:
		s.emit(inst.ID, webhook.EventPresence, ev.Data)
	default:
		zap.L().Debug("whatsapp: unhandled event", zap.String("instance", inst.ID), zap.String("event", transport.Name(t.ev)))
	}
	info := inst.SnapshotLocked()
	inst.Unlock()
	if closed != nil {
		closed.Disconnect()
	}
	if persist {
		s.persist(context.Background(), info)
	}
}

func (s *Service) onQR(inst *registry.Instance, ev transport.QR) {
	if inst.Status == registry.StatusConnected {
		return
	}
	dataURL, err := RenderQR(ev.Code)
	if err != nil {
		zap.L().Error("whatsapp: render qr failed", zap.String("instance", inst.ID), zap.Error(err))
		return
	}
	inst.QR = dataURL
	inst.QRString = ev.Code
	s.setStatusLocked(inst, registry.StatusQRCode)
	if s.qrWriter != nil {
		qrterminal.GenerateHalfBlock(ev.Code, qrterminal.L, s.qrWriter)
	}
	s.emit(inst.ID, webhook.EventQR, map[string]any{
		"qrCode":   dataURL,
		"qrString": ev.Code,
	})
}

func (s *Service) onOpen(inst *registry.Instance, ev transport.Opened) {
	inst.Phone = phoneFromJID(ev.Identity.ID)
	inst.LastSeen = time.Now()
	inst.ClearArtifacts()
	s.reconnector.Reset(inst.ID)
	s.setStatusLocked(inst, registry.StatusConnected)
	s.emit(inst.ID, webhook.EventConnected, map[string]any{
		"phone": inst.Phone,
		"user": map[string]any{
			"id":   ev.Identity.ID,
			"name": ev.Identity.Name,
		},
	})
	zap.L().Info("whatsapp: connected", zap.String("instance", inst.ID), zap.String("phone", inst.Phone))
}

// onClose detaches the transport and returns it so the caller can close
// it once the lock is released.
func (s *Service) onClose(inst *registry.Instance, ev transport.Closed) transport.Transport {
	shouldReconnect := !ev.LoggedOut
	t := inst.Transport
	s.detachLocked(inst, map[string]any{
		"reason":          ev.Code,
		"message":         ev.Reason,
		"shouldReconnect": shouldReconnect,
	})
	if !shouldReconnect {
		zap.L().Info("whatsapp: logged out", zap.String("instance", inst.ID), zap.String("reason", ev.Reason))
		return t
	}
	delay := s.reconnector.Schedule(inst.ID)
	zap.L().Info("whatsapp: connection closed, reconnect scheduled",
		zap.String("instance", inst.ID),
		zap.Int("code", ev.Code),
		zap.String("reason", ev.Reason),
		zap.Duration("delay", delay))
	return t
}

func (s *Service) onMessage(inst *registry.Instance, ev transport.Message) {
	if ev.FromMe {
		return
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.emit(inst.ID, webhook.EventMessage, map[string]any{
		"id":          ev.ID,
		"message":     ev.Raw,
		"messageType": ev.Kind,
		"from":        ev.From,
		"sender":      ev.Sender,
		"pushName":    ev.PushName,
		"timestamp":   ts.Unix(),
	})
}

// setStatusLocked changes the status and emits a connection event when it
// actually changed. Caller holds the lock.
func (s *Service) setStatusLocked(inst *registry.Instance, st registry.Status) {
	prev := inst.Status
	if prev == st {
		return
	}
	inst.Status = st
	s.emit(inst.ID, webhook.EventConnection, map[string]any{
		"status":   string(st),
		"previous": string(prev),
	})
}

func (s *Service) emit(id, event string, data any) {
	s.bus.Publish(webhook.TopicNotification, webhook.Notification{
		InstanceID: id,
		Event:      event,
		Data:       data,
	})
}

// phoneFromJID extracts the phone part of "15551234567:12@s.whatsapp.net".
func phoneFromJID(jid string) string {
	if i := strings.IndexAny(jid, ":@"); i >= 0 {
		return jid[:i]
	}
	return jid
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
