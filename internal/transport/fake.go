package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Factory for tests and dry runs. Every transport it
// builds records the calls made on it, and tests drive the instance by
// calling Emit.
type Fake struct {
	mu          sync.Mutex
	transports  map[string][]*FakeTransport
	provisioned map[string]bool
	purged      map[string]int

	// ConnectErr, when set, is returned by Connect of new transports.
	ConnectErr error
	// PairingCode is returned by RequestPairingCode; defaults to "ABCD-1234".
	PairingCode string

	gate chan struct{}
}

func NewFake() *Fake {
	return &Fake{
		transports:  make(map[string][]*FakeTransport),
		provisioned: make(map[string]bool),
		purged:      make(map[string]int),
	}
}

func (f *Fake) New(instanceID string, emit func(Event)) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &FakeTransport{fake: f, id: instanceID, emit: emit, connectErr: f.ConnectErr, pairingCode: f.PairingCode}
	if t.pairingCode == "" {
		t.pairingCode = "ABCD-1234"
	}
	f.transports[instanceID] = append(f.transports[instanceID], t)
	return t, nil
}

func (f *Fake) Provision(instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisioned[instanceID] = true
	return nil
}

func (f *Fake) Purge(instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.provisioned, instanceID)
	f.purged[instanceID]++
	return nil
}

// Hold makes Connect, Logout and RequestPairingCode of every transport
// block until release is called, simulating a slow network.
func (f *Fake) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *Fake) wait() {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

// Latest returns the most recently built transport for id, or nil.
func (f *Fake) Latest(id string) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.transports[id]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

// Built reports how many transports were built for id.
func (f *Fake) Built(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports[id])
}

func (f *Fake) Provisioned(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provisioned[id]
}

func (f *Fake) Purged(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purged[id]
}

// FakeTransport is a Transport whose events are injected by the caller.
type FakeTransport struct {
	fake        *Fake
	id          string
	emit        func(Event)
	connectErr  error
	pairingCode string

	mu           sync.Mutex
	connects     int
	disconnects  int
	logouts      int
	pairingCalls []string
	sent         []FakeSent
}

type FakeSent struct {
	To  string
	Msg OutgoingMessage
}

func (t *FakeTransport) Connect() error {
	t.fake.wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return t.connectErr
}

func (t *FakeTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
}

func (t *FakeTransport) Logout(ctx context.Context) error {
	t.fake.wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logouts++
	return nil
}

func (t *FakeTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	t.fake.wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pairingCalls = append(t.pairingCalls, phone)
	return t.pairingCode, nil
}

func (t *FakeTransport) Send(ctx context.Context, to string, msg OutgoingMessage) (SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, FakeSent{To: to, Msg: msg})
	return SendResult{ID: fmt.Sprintf("%s-%d", t.id, len(t.sent)), Timestamp: time.Now()}, nil
}

// Emit injects ev as if the protocol library had reported it.
func (t *FakeTransport) Emit(ev Event) {
	t.emit(ev)
}

func (t *FakeTransport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *FakeTransport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

func (t *FakeTransport) Logouts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logouts
}

func (t *FakeTransport) PairingCalls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.pairingCalls...)
}

func (t *FakeTransport) Sent() []FakeSent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]FakeSent(nil), t.sent...)
}
