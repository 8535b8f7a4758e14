package whatsapp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fired struct {
	mu     sync.Mutex
	tokens []uint64
}

func (f *fired) fire(id string, token uint64) {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
}

func (f *fired) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func TestReconnectorBackoff(t *testing.T) {
	r := newReconnector(time.Hour, 4*time.Hour, func(string, uint64) {})
	defer r.Stop()

	assert.Equal(t, time.Hour, r.Schedule("a"))
	assert.Equal(t, 2*time.Hour, r.Schedule("a"))
	assert.Equal(t, 4*time.Hour, r.Schedule("a"))
	assert.Equal(t, 4*time.Hour, r.Schedule("a"))
	assert.Equal(t, time.Hour, r.Schedule("b"))

	r.Reset("a")
	assert.Equal(t, time.Hour, r.Schedule("a"))
}

func TestReconnectorClaim(t *testing.T) {
	f := &fired{}
	r := newReconnector(5*time.Millisecond, 5*time.Millisecond, f.fire)
	defer r.Stop()

	r.Schedule("a")
	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, time.Millisecond)
	token := f.tokens[0]
	assert.True(t, r.Claim("a", token))
	assert.False(t, r.Claim("a", token), "a timer is claimed once")
	assert.False(t, r.Pending("a"))
}

func TestReconnectorCancel(t *testing.T) {
	f := &fired{}
	r := newReconnector(20*time.Millisecond, 20*time.Millisecond, f.fire)
	defer r.Stop()

	r.Schedule("a")
	assert.True(t, r.Pending("a"))
	r.Cancel("a")
	assert.False(t, r.Pending("a"))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.count())

	r.Schedule("b")
	r.Forget("b")
	r.Stop()
	assert.Zero(t, r.Schedule("c"))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.count())
}
