package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wamux/internal/errors"
)

func TestCreateAndGet(t *testing.T) {
	r := New()
	inst, err := r.Create("a", "sales", "https://example.test/hook")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, inst.Status)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, inst, got)

	info := got.Snapshot()
	assert.Nil(t, info.Phone)
	assert.Nil(t, info.LastSeen)
	assert.False(t, info.HasQR)
}

func TestCreateDuplicate(t *testing.T) {
	r := New()
	_, err := r.Create("a", "one", "")
	require.NoError(t, err)
	_, err = r.Create("a", "two", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyExists))
	assert.Equal(t, 1, r.Len())
}

func TestMustGetUnknown(t *testing.T) {
	_, err := New().MustGet("nope")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestListInsertionOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Create(id, id, "")
		require.NoError(t, err)
	}
	require.True(t, r.Remove("a"))
	_, err := r.Create("a", "a", "")
	require.NoError(t, err)

	var ids []string
	for _, inst := range r.List() {
		ids = append(ids, inst.ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestRemove(t *testing.T) {
	r := New()
	_, _ = r.Create("a", "a", "")
	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Empty(t, r.List())
}

func TestConcurrentCreateRemove(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("i%d", n)
			_, err := r.Create(id, id, "")
			assert.NoError(t, err)
			_ = r.List()
			if n%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.Len())
	assert.Len(t, r.List(), 25)
}

func TestSnapshotCopiesArtifacts(t *testing.T) {
	inst := NewInstance("x", "x", "", time.Now())
	inst.Lock()
	inst.Status = StatusQRCode
	inst.QR = "data:image/png;base64,AAAA"
	inst.Pairing = "1234"
	inst.Unlock()

	info := inst.Snapshot()
	assert.True(t, info.HasQR)
	assert.True(t, info.HasPairingCode)

	inst.Lock()
	inst.ClearArtifacts()
	inst.Unlock()
	assert.False(t, inst.Snapshot().HasQR)
	assert.True(t, info.HasQR)
}
