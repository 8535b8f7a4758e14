package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eapache/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/wamux/internal/errors"
)

type received struct {
	env    map[string]any
	secret string
}

type receiver struct {
	srv   *httptest.Server
	mu    sync.Mutex
	got   []received
	count atomic.Int32
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var env map[string]any
		_ = json.Unmarshal(body, &env)
		r.mu.Lock()
		r.got = append(r.got, received{env: env, secret: req.Header.Get(SecretHeader)})
		r.mu.Unlock()
		r.count.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *receiver) snapshot() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.got...)
}

type memStore struct {
	mu   sync.Mutex
	subs map[string]Subscription
	err  error
}

func newMemStore() *memStore { return &memStore{subs: make(map[string]Subscription)} }

func (m *memStore) SaveSubscription(ctx context.Context, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.subs[sub.InstanceID] = sub
	return nil
}

func (m *memStore) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *memStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

type recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (r *recorder) RecordDelivery(d Delivery) {
	r.mu.Lock()
	r.deliveries = append(r.deliveries, d)
	r.mu.Unlock()
}

func (r *recorder) all() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

func newTestDispatcher(t *testing.T, opts Options) *Dispatcher {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	d, err := NewDispatcher(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func TestConfigureDefaultsAndDedup(t *testing.T) {
	d := newTestDispatcher(t, Options{})
	sub, err := d.Configure(context.Background(), "i1", "https://example.test/hook", nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultEvents, sub.Events)
	assert.False(t, sub.HasSecret)

	sub, err = d.Configure(context.Background(), "i1", "https://example.test/hook", []string{"qr", "qr", "message"}, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, []string{"qr", "message"}, sub.Events)
	assert.True(t, sub.HasSecret)
}

func TestConfigureInvalidEventLeavesSubscription(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(t, Options{Store: store})
	_, err := d.Configure(context.Background(), "i1", "https://example.test/a", []string{"message"}, "")
	require.NoError(t, err)

	_, err = d.Configure(context.Background(), "i1", "https://example.test/b", []string{"message", "typing"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	assert.Contains(t, err.Error(), `"typing"`)

	sub, ok := d.Get("i1")
	require.True(t, ok)
	assert.Equal(t, "https://example.test/a", sub.URL)
	assert.Equal(t, []string{"message"}, sub.Events)
	assert.Equal(t, "https://example.test/a", store.subs["i1"].URL)
}

func TestConfigureInvalidURL(t *testing.T) {
	d := newTestDispatcher(t, Options{})
	for _, u := range []string{"", "not a url", "ftp://example.test/x", "http:///nohost", "/relative"} {
		_, err := d.Configure(context.Background(), "i1", u, nil, "")
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument), u)
	}
	_, ok := d.Get("i1")
	assert.False(t, ok)
}

func TestConfigureStoreFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("disk full")
	d := newTestDispatcher(t, Options{Store: store})
	_, err := d.Configure(context.Background(), "i1", "https://example.test/a", nil, "")
	require.Error(t, err)
	_, ok := d.Get("i1")
	assert.False(t, ok)
}

func TestDispatchDeliversEnvelope(t *testing.T) {
	rcv := newReceiver(t, http.StatusOK)
	rec := &recorder{}
	d := newTestDispatcher(t, Options{Recorders: []DeliveryRecorder{rec}})
	_, err := d.Configure(context.Background(), "i1", rcv.srv.URL, []string{EventMessage}, "topsecret")
	require.NoError(t, err)

	d.Dispatch("i1", EventMessage, map[string]any{"from": "123@s.whatsapp.net"})

	require.Eventually(t, func() bool { return rcv.count.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	got := rcv.snapshot()[0]
	assert.Equal(t, "message", got.env["event"])
	assert.Equal(t, "i1", got.env["instanceId"])
	assert.Equal(t, "123@s.whatsapp.net", got.env["data"].(map[string]any)["from"])
	assert.NotEmpty(t, got.env["timestamp"])
	assert.NotContains(t, got.env, "secret")
	assert.Equal(t, "topsecret", got.secret)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, rec.all()[0].Success())
}

func TestDispatchUnsubscribedIsNoop(t *testing.T) {
	rcv := newReceiver(t, http.StatusOK)
	d := newTestDispatcher(t, Options{})
	_, err := d.Configure(context.Background(), "i1", rcv.srv.URL, []string{EventMessage}, "")
	require.NoError(t, err)

	d.Dispatch("i1", EventPresence, map[string]any{"id": "x"})
	d.Dispatch("other", EventMessage, map[string]any{})
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(0), rcv.count.Load())
}

func TestDispatchFailureIsRecorded(t *testing.T) {
	rcv := newReceiver(t, http.StatusInternalServerError)
	rec := &recorder{}
	d := newTestDispatcher(t, Options{Recorders: []DeliveryRecorder{rec}})
	_, err := d.Configure(context.Background(), "i1", rcv.srv.URL, []string{EventQR}, "")
	require.NoError(t, err)

	d.Dispatch("i1", EventQR, map[string]any{"qrString": "x"})
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	dl := rec.all()[0]
	assert.False(t, dl.Success())
	assert.Equal(t, http.StatusInternalServerError, dl.StatusCode)
	assert.Contains(t, dl.Error, "500")
}

func TestDispatchPreservesOrderPerInstance(t *testing.T) {
	rcv := newReceiver(t, http.StatusOK)
	d := newTestDispatcher(t, Options{})
	_, err := d.Configure(context.Background(), "i1", rcv.srv.URL, []string{EventMessage}, "")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		d.Dispatch("i1", EventMessage, map[string]any{"n": i})
	}
	require.NoError(t, d.Close(context.Background()))
	got := rcv.snapshot()
	require.Len(t, got, 10)
	for i, r := range got {
		assert.EqualValues(t, i, r.env["data"].(map[string]any)["n"])
	}
}

func TestSlowReceiverDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()
	defer close(release)
	fast := newReceiver(t, http.StatusOK)

	d := newTestDispatcher(t, Options{Timeout: 5 * time.Second})
	_, err := d.Configure(context.Background(), "slow", slow.URL, []string{EventMessage}, "")
	require.NoError(t, err)
	_, err = d.Configure(context.Background(), "fast", fast.srv.URL, []string{EventMessage}, "")
	require.NoError(t, err)

	start := time.Now()
	d.Dispatch("slow", EventMessage, map[string]any{})
	d.Dispatch("fast", EventMessage, map[string]any{})
	assert.Less(t, time.Since(start), time.Second)
	require.Eventually(t, func() bool { return fast.count.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRemove(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(t, Options{Store: store})
	_, err := d.Configure(context.Background(), "i1", "https://example.test/a", nil, "")
	require.NoError(t, err)
	assert.True(t, d.Remove(context.Background(), "i1"))
	assert.False(t, d.Remove(context.Background(), "i1"))
	_, ok := d.Get("i1")
	assert.False(t, ok)
	assert.Empty(t, store.subs)
}

func TestRestore(t *testing.T) {
	store := newMemStore()
	store.subs["i1"] = Subscription{InstanceID: "i1", URL: "https://example.test/a", Events: []string{"qr"}}
	d := newTestDispatcher(t, Options{Store: store})
	n, err := d.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	sub, ok := d.Get("i1")
	require.True(t, ok)
	assert.True(t, sub.Wants("qr"))
	assert.False(t, sub.Wants("message"))
}

func TestConnectivityCheck(t *testing.T) {
	rcv := newReceiver(t, http.StatusOK)
	d := newTestDispatcher(t, Options{})
	res, err := d.Test(context.Background(), rcv.srv.URL, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, map[string]any{"ok": true}, res.Response)

	got := rcv.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "test", got[0].env["event"])
	assert.NotContains(t, got[0].env, "instanceId")
	assert.Contains(t, got[0].env["data"], "message")
}

func TestConnectivityCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := newTestDispatcher(t, Options{Timeout: time.Second})
	res, err := d.Test(context.Background(), url, map[string]any{"hello": "world"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	_, err = d.Test(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestOutboxDropsOldest(t *testing.T) {
	d := newTestDispatcher(t, Options{QueueSize: 2})
	d.subs["i1"] = Subscription{InstanceID: "i1", URL: "http://127.0.0.1:1/x", Events: []string{EventMessage}}

	// A running outbox is only appended to, never drained here.
	d.outMu.Lock()
	ob := &outbox{q: queue.New(), running: true}
	d.outboxes["i1"] = ob
	d.outMu.Unlock()

	for i := 0; i < 5; i++ {
		d.Dispatch("i1", EventMessage, i)
	}
	d.outMu.Lock()
	defer d.outMu.Unlock()
	require.Equal(t, 2, ob.q.Length())
	assert.Equal(t, 3, ob.dropped)
	assert.Equal(t, 3, ob.q.Peek().(job).env.Data)
}

func TestAddRecorder(t *testing.T) {
	rcv := newReceiver(t, http.StatusOK)
	first, second := &recorder{}, &recorder{}
	d := newTestDispatcher(t, Options{Recorders: []DeliveryRecorder{first}})
	d.AddRecorder(nil)
	d.AddRecorder(second)

	_, err := d.Configure(context.Background(), "i1", rcv.srv.URL, []string{EventMessage}, "")
	require.NoError(t, err)
	d.Dispatch("i1", EventMessage, map[string]any{"n": 1})

	require.Eventually(t, func() bool {
		return len(first.all()) == 1 && len(second.all()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, second.all()[0].Success())
}

func TestLargeReplyIsTruncated(t *testing.T) {
	big := strings.Repeat("x", 4*maxResponseBody)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = io.Copy(io.Discard, req.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, big)
	}))
	defer srv.Close()

	rec := &recorder{}
	d := newTestDispatcher(t, Options{Recorders: []DeliveryRecorder{rec}})
	res, err := d.Test(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	reply, ok := res.Response.(string)
	require.True(t, ok)
	assert.Len(t, reply, maxResponseBody)

	_, err = d.Configure(context.Background(), "i1", srv.URL, []string{EventMessage}, "")
	require.NoError(t, err)
	d.Dispatch("i1", EventMessage, map[string]any{"n": 1})
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, rec.all()[0].Success())
}
