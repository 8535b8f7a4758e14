// Package registry owns the id to instance mapping. The registry lock only
// protects the mapping itself; per-instance fields are guarded by each
// instance's own lock.
package registry

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/talkincode/wamux/internal/errors"
)

type entry struct {
	seq  uint64
	inst *Instance
}

// Registry keeps instances addressable by id and listable in insertion order.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*entry
	order *btree.BTreeG[*entry]
	seq   uint64
}

func New() *Registry {
	return &Registry{
		byID: make(map[string]*entry),
		order: btree.NewG[*entry](32, func(a, b *entry) bool {
			return a.seq < b.seq
		}),
	}
}

// Create registers a new disconnected instance.
func (r *Registry) Create(id, name, webhookURL string) (*Instance, error) {
	inst := NewInstance(id, name, webhookURL, time.Now())
	if err := r.Add(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Add registers an already built instance, e.g. one restored from storage.
func (r *Registry) Add(inst *Instance) error {
	if inst == nil || inst.ID == "" {
		return errors.NewInvalidArgument("instance", "", "id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[inst.ID]; ok {
		return errors.NewAlreadyExists("instance", inst.ID)
	}
	r.seq++
	e := &entry{seq: r.seq, inst: inst}
	r.byID[inst.ID] = e
	r.order.ReplaceOrInsert(e)
	return nil
}

func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.inst, true
}

// MustGet is Get returning a NotFound error for unknown ids.
func (r *Registry) MustGet(id string) (*Instance, error) {
	inst, ok := r.Get(id)
	if !ok {
		return nil, errors.NewNotFound("instance", id)
	}
	return inst, nil
}

// List returns the instances in insertion order.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.byID))
	r.order.Ascend(func(e *entry) bool {
		out = append(out, e.inst)
		return true
	})
	return out
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	r.order.Delete(e)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
