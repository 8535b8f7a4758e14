package whatsapp

import (
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/talkincode/wamux/internal/registry"
	"github.com/talkincode/wamux/internal/transport"
)

// tagged is a transport event stamped with the generation of the
// transport that produced it.
type tagged struct {
	gen uint64
	ev  transport.Event
}

// inbox serializes the transport events of one instance. Transports may
// emit from many goroutines; a single worker applies them in arrival order.
type inbox struct {
	mu   sync.Mutex
	q    *queue.Queue
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newInbox() *inbox {
	return &inbox{
		q:    queue.New(),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (b *inbox) push(t tagged) {
	b.mu.Lock()
	b.q.Add(t)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *inbox) pop() (tagged, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.q.Length() == 0 {
		return tagged{}, false
	}
	return b.q.Remove().(tagged), true
}

func (b *inbox) stop() {
	b.once.Do(func() { close(b.done) })
}

func (b *inbox) run(handle func(tagged)) {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		for {
			t, ok := b.pop()
			if !ok {
				break
			}
			handle(t)
		}
	}
}

func (s *Service) startInbox(inst *registry.Instance) {
	ib := newInbox()
	s.inboxMu.Lock()
	if old := s.inboxes[inst.ID]; old != nil {
		old.stop()
	}
	s.inboxes[inst.ID] = ib
	s.inboxMu.Unlock()
	go ib.run(func(t tagged) {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("whatsapp: event handler panic",
					zap.String("instance", inst.ID),
					zap.String("event", transport.Name(t.ev)),
					zap.Any("panic", r))
			}
		}()
		s.handleEvent(inst, t)
	})
}

func (s *Service) stopInbox(id string) {
	s.inboxMu.Lock()
	ib := s.inboxes[id]
	delete(s.inboxes, id)
	s.inboxMu.Unlock()
	if ib != nil {
		ib.stop()
	}
}

// emitter returns the callback handed to a transport built for generation gen.
func (s *Service) emitter(id string, gen uint64) func(transport.Event) {
	return func(ev transport.Event) {
		s.inboxMu.Lock()
		ib := s.inboxes[id]
		s.inboxMu.Unlock()
		if ib == nil {
			return
		}
		ib.push(tagged{gen: gen, ev: ev})
	}
}
