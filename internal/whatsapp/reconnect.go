package whatsapp

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type reconnectEntry struct {
	timer   *time.Timer
	token   uint64
	backoff *backoff.ExponentialBackOff
}

// reconnector keeps one cancellable reconnect timer per instance. Delays
// grow exponentially from initial to max and reset after a successful open.
type reconnector struct {
	mu      sync.Mutex
	entries map[string]*reconnectEntry
	initial time.Duration
	max     time.Duration
	fire    func(id string, token uint64)
	stopped bool
}

func newReconnector(initial, max time.Duration, fire func(id string, token uint64)) *reconnector {
	return &reconnector{
		entries: make(map[string]*reconnectEntry),
		initial: initial,
		max:     max,
		fire:    fire,
	}
}

func (r *reconnector) entry(id string) *reconnectEntry {
	e := r.entries[id]
	if e == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = r.initial
		b.MaxInterval = r.max
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.Reset()
		e = &reconnectEntry{backoff: b}
		r.entries[id] = e
	}
	return e
}

// Schedule arms the reconnect timer of id, replacing a pending one, and
// returns the delay used.
func (r *reconnector) Schedule(id string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return 0
	}
	e := r.entry(id)
	if e.timer != nil {
		e.timer.Stop()
	}
	e.token++
	token := e.token
	delay := e.backoff.NextBackOff()
	e.timer = time.AfterFunc(delay, func() { r.fire(id, token) })
	return delay
}

// Claim consumes the pending timer identified by token. It fails when the
// timer was cancelled or replaced after it fired.
func (r *reconnector) Claim(id string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	if e == nil || e.timer == nil || e.token != token || r.stopped {
		return false
	}
	e.timer = nil
	return true
}

// Cancel disarms the pending reconnect of id, keeping its backoff state.
func (r *reconnector) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[id]; e != nil {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.token++
	}
}

// Reset restarts the backoff sequence of id.
func (r *reconnector) Reset(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[id]; e != nil {
		e.backoff.Reset()
	}
}

// Forget cancels and drops all state of id.
func (r *reconnector) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[id]; e != nil {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(r.entries, id)
	}
}

func (r *reconnector) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	return e != nil && e.timer != nil
}

// Stop cancels every timer and refuses new ones.
func (r *reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for id, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(r.entries, id)
	}
}
