package whatsapp

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/talkincode/wamux/internal/domain"
	"github.com/talkincode/wamux/internal/errors"
	"github.com/talkincode/wamux/internal/registry"
	"github.com/talkincode/wamux/internal/transport"
	"github.com/talkincode/wamux/internal/webhook"
)

// InstanceStore persists instance identity and last known state.
type InstanceStore interface {
	SaveInstance(ctx context.Context, inst *domain.WhatsAppInstance) error
	UpdateInstanceState(ctx context.Context, id, status, phone string, lastSeen *time.Time) error
	ListInstances(ctx context.Context) ([]*domain.WhatsAppInstance, error)
	DeleteInstance(ctx context.Context, id string) error
}

// Dispatcher is the webhook side the service needs.
type Dispatcher interface {
	Configure(ctx context.Context, id, url string, events []string, secret string) (webhook.Subscription, error)
	Get(id string) (webhook.Subscription, bool)
	Remove(ctx context.Context, id string) bool
	Test(ctx context.Context, url string, data any) (webhook.TestResult, error)
	Handle(n webhook.Notification)
}

type Options struct {
	Factory    transport.Factory
	Dispatcher Dispatcher
	// Bus carries notifications to the dispatcher and any other listener.
	// A private bus is created when nil.
	Bus   EventBus.Bus
	Store InstanceStore

	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration

	// QRWriter, when set, receives every QR challenge rendered as text.
	QRWriter io.Writer
}

// Service is the session orchestrator. It owns the registry, attaches
// transports and runs the connection state machine of every instance.
type Service struct {
	registry    *registry.Registry
	factory     transport.Factory
	dispatcher  Dispatcher
	bus         EventBus.Bus
	store       InstanceStore
	reconnector *reconnector
	qrWriter    io.Writer

	inboxMu sync.Mutex
	inboxes map[string]*inbox
}

func NewService(opts Options) (*Service, error) {
	if opts.Factory == nil {
		return nil, errors.New("whatsapp: transport factory is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("whatsapp: webhook dispatcher is required")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.ReconnectMaxDelay < opts.ReconnectDelay {
		opts.ReconnectMaxDelay = opts.ReconnectDelay
	}
	bus := opts.Bus
	if bus == nil {
		bus = EventBus.New()
	}
	s := &Service{
		registry:   registry.New(),
		factory:    opts.Factory,
		dispatcher: opts.Dispatcher,
		bus:        bus,
		store:      opts.Store,
		qrWriter:   opts.QRWriter,
		inboxes:    make(map[string]*inbox),
	}
	s.reconnector = newReconnector(opts.ReconnectDelay, opts.ReconnectMaxDelay, s.reconnect)
	if err := bus.Subscribe(webhook.TopicNotification, opts.Dispatcher.Handle); err != nil {
		return nil, errors.Wrap(err, "whatsapp: subscribe dispatcher")
	}
	return s, nil
}

// Bus exposes the notification bus so other components can listen.
func (s *Service) Bus() EventBus.Bus {
	return s.bus
}

// Create registers a new disconnected instance. A non-empty webhookURL
// installs a subscription with the default events.
func (s *Service) Create(ctx context.Context, name, webhookURL string) (registry.Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return registry.Info{}, errors.NewInvalidArgument("instance", "", "name is required")
	}
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL != "" {
		if err := webhook.ValidateURL(webhookURL); err != nil {
			return registry.Info{}, err
		}
	}
	id := uuid.NewString()
	inst, err := s.registry.Create(id, name, webhookURL)
	if err != nil {
		return registry.Info{}, err
	}
	if err := s.factory.Provision(id); err != nil {
		s.registry.Remove(id)
		return registry.Info{}, errors.Wrapf(err, "provision credentials for instance %s", id)
	}
	s.startInbox(inst)
	if webhookURL != "" {
		if _, err := s.dispatcher.Configure(ctx, id, webhookURL, nil, ""); err != nil {
			zap.L().Warn("whatsapp: default webhook not installed", zap.String("instance", id), zap.Error(err))
		}
	}
	info := inst.Snapshot()
	if s.store != nil {
		rec := &domain.WhatsAppInstance{
			ID:         id,
			Name:       name,
			WebhookURL: webhookURL,
			LastStatus: string(info.Status),
			CreatedAt:  info.CreatedAt,
		}
		if err := s.store.SaveInstance(ctx, rec); err != nil {
			zap.L().Warn("whatsapp: persist instance failed", zap.String("instance", id), zap.Error(err))
		}
	}
	zap.L().Info("whatsapp: instance created", zap.String("instance", id), zap.String("name", name))
	return info, nil
}

// List returns a snapshot of every instance in creation order.
func (s *Service) List() []registry.Info {
	insts := s.registry.List()
	out := make([]registry.Info, 0, len(insts))
	for _, inst := range insts {
		out = append(out, inst.Snapshot())
	}
	return out
}

// Counts reports how many instances exist and how many are connected.
func (s *Service) Counts() (total, connected int) {
	for _, info := range s.List() {
		total++
		if info.Status == registry.StatusConnected {
			connected++
		}
	}
	return total, connected
}

func (s *Service) Get(id string) (registry.Info, error) {
	inst, err := s.registry.MustGet(id)
	if err != nil {
		return registry.Info{}, err
	}
	return inst.Snapshot(), nil
}

// StatusInfo is the reply of Status.
type StatusInfo struct {
	Status         registry.Status `json:"status"`
	Phone          *string         `json:"phone"`
	LastSeen       *time.Time      `json:"lastSeen"`
	HasQR          bool            `json:"hasQr"`
	HasPairingCode bool            `json:"hasPairingCode"`
}

func (s *Service) Status(id string) (StatusInfo, error) {
	info, err := s.Get(id)
	if err != nil {
		return StatusInfo{}, err
	}
	return StatusInfo{
		Status:         info.Status,
		Phone:          info.Phone,
		LastSeen:       info.LastSeen,
		HasQR:          info.HasQR,
		HasPairingCode: info.HasPairingCode,
	}, nil
}

// QRCode returns the current QR data URL. ok is false when no challenge is pending.
func (s *Service) QRCode(id string) (qr string, ok bool, err error) {
	inst, err := s.registry.MustGet(id)
	if err != nil {
		return "", false, err
	}
	inst.Lock()
	defer inst.Unlock()
	return inst.QR, inst.QR != "", nil
}

// PairingCode returns the last pairing code, if any.
func (s *Service) PairingCode(id string) (string, bool, error) {
	inst, err := s.registry.MustGet(id)
	if err != nil {
		return "", false, err
	}
	inst.Lock()
	defer inst.Unlock()
	return inst.Pairing, inst.Pairing != "", nil
}

// Delete tears the instance down and forgets everything derived from it.
func (s *Service) Delete(ctx context.Context, id string) error {
	inst, err := s.registry.MustGet(id)
	if err != nil {
		return err
	}
	inst.Lock()
	if inst.Deleted() {
		inst.Unlock()
		return errors.NewNotFound("instance", id)
	}
	inst.MarkDeleted()
	s.reconnector.Forget(id)
	t := inst.Transport
	loggedIn := inst.Status == registry.StatusConnected
	inst.Generation++
	inst.Transport = nil
	inst.Phone = ""
	inst.ClearArtifacts()
	inst.Status = registry.StatusDisconnected
	inst.Unlock()

	if t != nil {
		s.closeTransport(ctx, id, t, loggedIn)
	}

	if err := s.factory.Purge(id); err != nil {
		zap.L().Warn("whatsapp: purge credentials failed", zap.String("instance", id), zap.Error(err))
	}
	s.dispatcher.Remove(ctx, id)
	s.registry.Remove(id)
	s.stopInbox(id)
	if s.store != nil {
		if err := s.store.DeleteInstance(ctx, id); err != nil {
			zap.L().Warn("whatsapp: delete stored instance failed", zap.String("instance", id), zap.Error(err))
		}
	}
	zap.L().Info("whatsapp: instance deleted", zap.String("instance", id))
	return nil
}

// Restore loads persisted instances as disconnected. With autoConnect each
// restored instance is connected in the background.
func (s *Service) Restore(ctx context.Context, autoConnect bool) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	recs, err := s.store.ListInstances(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list stored instances")
	}
	restored := make([]string, 0, len(recs))
	for _, rec := range recs {
		inst := registry.NewInstance(rec.ID, rec.Name, rec.WebhookURL, rec.CreatedAt)
		if rec.LastSeen != nil {
			inst.LastSeen = *rec.LastSeen
		}
		if err := s.registry.Add(inst); err != nil {
			zap.L().Warn("whatsapp: skip stored instance", zap.String("instance", rec.ID), zap.Error(err))
			continue
		}
		s.startInbox(inst)
		restored = append(restored, rec.ID)
	}
	zap.L().Info("whatsapp: instances restored", zap.Int("count", len(restored)), zap.Bool("auto_connect", autoConnect))
	if autoConnect {
		for _, id := range restored {
			go func(id string) {
				if err := s.Connect(context.Background(), id); err != nil {
					zap.L().Warn("whatsapp: auto-connect failed", zap.String("instance", id), zap.Error(err))
					if errors.Is(err, errors.ErrTransportFailure) {
						s.reconnector.Schedule(id)
					}
				}
			}(id)
		}
	}
	return len(restored), nil
}

// Shutdown cancels pending reconnects and closes every live transport
// without logging out, so sessions resume on the next start.
func (s *Service) Shutdown(ctx context.Context) error {
	s.reconnector.Stop()
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range s.registry.List() {
		inst := inst
		g.Go(func() error {
			inst.Lock()
			t := inst.Transport
			if t == nil {
				inst.Unlock()
				return nil
			}
			inst.Generation++
			inst.Transport = nil
			inst.Phone = ""
			inst.ClearArtifacts()
			inst.Status = registry.StatusDisconnected
			info := inst.SnapshotLocked()
			inst.Unlock()
			t.Disconnect()
			s.persist(gctx, info)
			return nil
		})
	}
	err := g.Wait()
	s.inboxMu.Lock()
	for id, ib := range s.inboxes {
		ib.stop()
		delete(s.inboxes, id)
	}
	s.inboxMu.Unlock()
	zap.L().Info("whatsapp: service stopped")
	return err
}

// persist records the last known state. Failures are logged only.
func (s *Service) persist(ctx context.Context, info registry.Info) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	phone := ""
	if info.Phone != nil {
		phone = *info.Phone
	}
	if err := s.store.UpdateInstanceState(ctx, info.ID, string(info.Status), phone, info.LastSeen); err != nil {
		zap.L().Warn("whatsapp: persist instance state failed", zap.String("instance", info.ID), zap.Error(err))
	}
}

var (
	globalService *Service
	globalMu      sync.RWMutex
)

// SetGlobalService registers s for the admin API.
func SetGlobalService(s *Service) {
	globalMu.Lock()
	globalService = s
	globalMu.Unlock()
}

// Get returns the global service, or nil before SetGlobalService.
func Get() *Service {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalService
}
