// Package webhook keeps the per-instance webhook subscriptions and delivers
// event envelopes to them. Deliveries run on a worker pool, one ordered
// outbox per instance, so a slow receiver only delays its own instance.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/middler"
	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/talkincode/wamux/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const userAgent = "wamux-webhook/1.0"

// maxResponseBody caps how much of a receiver's reply is read.
const maxResponseBody = 64 << 10

type Options struct {
	Client    *http.Client
	Timeout   time.Duration
	QueueSize int
	Workers   int
	Store     SubscriptionStore
	Recorders []DeliveryRecorder
}

type job struct {
	sub Subscription
	env Envelope
}

type outbox struct {
	q       *queue.Queue
	running bool
	dropped int
}

// Dispatcher owns subscriptions and their delivery outboxes.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[string]Subscription

	outMu    sync.Mutex
	outboxes map[string]*outbox

	pool      *ants.Pool
	client    *http.Client
	timeout   time.Duration
	queueSize int
	store     SubscriptionStore
	recorders []DeliveryRecorder
	wg        sync.WaitGroup
}

func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 64
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	pool, err := ants.NewPool(opts.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			zap.L().Error("webhook: delivery worker panic", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create delivery pool: %w", err)
	}
	return &Dispatcher{
		subs:      make(map[string]Subscription),
		outboxes:  make(map[string]*outbox),
		pool:      pool,
		client:    opts.Client,
		timeout:   opts.Timeout,
		queueSize: opts.QueueSize,
		store:     opts.Store,
		recorders: opts.Recorders,
	}, nil
}

// AddRecorder registers another delivery observer. Call before dispatching.
func (d *Dispatcher) AddRecorder(r DeliveryRecorder) {
	if r == nil {
		return
	}
	d.mu.Lock()
	d.recorders = append(d.recorders, r)
	d.mu.Unlock()
}

// Restore loads persisted subscriptions.
func (d *Dispatcher) Restore(ctx context.Context) (int, error) {
	if d.store == nil {
		return 0, nil
	}
	subs, err := d.store.ListSubscriptions(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list webhook subscriptions")
	}
	d.mu.Lock()
	for _, s := range subs {
		d.subs[s.InstanceID] = s
	}
	d.mu.Unlock()
	return len(subs), nil
}

// Configure replaces the subscription of instance id. Nothing changes when
// the url or any event is invalid.
func (d *Dispatcher) Configure(ctx context.Context, id, rawURL string, events []string, secret string) (Subscription, error) {
	if err := validateURL(id, rawURL); err != nil {
		return Subscription{}, err
	}
	evs, err := normalizeEvents(id, events)
	if err != nil {
		return Subscription{}, err
	}
	sub := Subscription{
		InstanceID: id,
		URL:        rawURL,
		Events:     evs,
		Secret:     secret,
		HasSecret:  secret != "",
		UpdatedAt:  time.Now(),
	}
	if d.store != nil {
		if err := d.store.SaveSubscription(ctx, sub); err != nil {
			return Subscription{}, errors.Wrapf(err, "save webhook for instance %s", id)
		}
	}
	d.mu.Lock()
	d.subs[id] = sub
	d.mu.Unlock()
	zap.L().Info("webhook: configured",
		zap.String("instance", id),
		zap.String("url", rawURL),
		zap.Strings("events", evs))
	return sub, nil
}

func (d *Dispatcher) Get(id string) (Subscription, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.subs[id]
	return s, ok
}

// Remove drops the subscription and any queued deliveries of id.
func (d *Dispatcher) Remove(ctx context.Context, id string) bool {
	d.mu.Lock()
	_, ok := d.subs[id]
	delete(d.subs, id)
	d.mu.Unlock()

	d.outMu.Lock()
	if ob, found := d.outboxes[id]; found {
		for ob.q.Length() > 0 {
			ob.q.Remove()
		}
		delete(d.outboxes, id)
	}
	d.outMu.Unlock()

	if ok && d.store != nil {
		if err := d.store.DeleteSubscription(ctx, id); err != nil {
			zap.L().Warn("webhook: delete stored subscription failed", zap.String("instance", id), zap.Error(err))
		}
	}
	return ok
}

// Handle is the event bus entry point.
func (d *Dispatcher) Handle(n Notification) {
	d.Dispatch(n.InstanceID, n.Event, n.Data)
}

// Dispatch queues event for delivery if instance id subscribes to it.
// It never blocks on the network and never reports delivery failures.
func (d *Dispatcher) Dispatch(id, event string, data any) {
	d.mu.RLock()
	sub, ok := d.subs[id]
	d.mu.RUnlock()
	if !ok || !sub.Wants(event) {
		return
	}
	j := job{
		sub: sub,
		env: Envelope{Event: event, InstanceID: id, Data: data, Timestamp: timestamp(time.Now())},
	}

	d.outMu.Lock()
	defer d.outMu.Unlock()
	ob := d.outboxes[id]
	if ob == nil {
		ob = &outbox{q: queue.New()}
		d.outboxes[id] = ob
	}
	if ob.q.Length() >= d.queueSize {
		old := ob.q.Remove().(job)
		ob.dropped++
		zap.L().Warn("webhook: outbox full, dropping oldest",
			zap.String("instance", id),
			zap.String("event", old.env.Event),
			zap.Int("dropped", ob.dropped))
	}
	ob.q.Add(j)
	if ob.running {
		return
	}
	ob.running = true
	d.wg.Add(1)
	task := func() {
		defer d.wg.Done()
		d.drain(ob)
	}
	if err := d.pool.Submit(task); err != nil {
		if err == ants.ErrPoolClosed {
			ob.running = false
			d.wg.Done()
			zap.L().Warn("webhook: dispatcher closed, event dropped", zap.String("instance", id), zap.String("event", event))
			return
		}
		go task()
	}
}

func (d *Dispatcher) drain(ob *outbox) {
	for {
		d.outMu.Lock()
		if ob.q.Length() == 0 {
			ob.running = false
			d.outMu.Unlock()
			return
		}
		j := ob.q.Remove().(job)
		d.outMu.Unlock()
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	start := time.Now()
	dl := Delivery{
		InstanceID: j.sub.InstanceID,
		Event:      j.env.Event,
		URL:        j.sub.URL,
		Timestamp:  start,
	}
	body, err := json.Marshal(j.env)
	if err != nil {
		dl.Error = err.Error()
		d.record(dl)
		zap.L().Error("webhook: encode envelope failed", zap.String("instance", dl.InstanceID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	code, err := d.post(ctx, j.sub.URL, j.sub.Secret, body, nil)
	dl.StatusCode = code
	dl.Duration = time.Since(start)
	if err == nil && (code < 200 || code >= 300) {
		err = errors.NewDeliveryFailure("webhook", dl.InstanceID, fmt.Sprintf("unexpected status %d", code), nil)
	} else if err != nil {
		err = errors.NewDeliveryFailure("webhook", dl.InstanceID, "post failed", err)
	}
	if err != nil {
		dl.Error = err.Error()
		zap.L().Warn("webhook: delivery failed",
			zap.String("instance", dl.InstanceID),
			zap.String("event", dl.Event),
			zap.String("url", dl.URL),
			zap.Int("status", code),
			zap.Duration("elapsed", dl.Duration),
			zap.Error(err))
	} else {
		zap.L().Debug("webhook: delivered",
			zap.String("instance", dl.InstanceID),
			zap.String("event", dl.Event),
			zap.Int("status", code),
			zap.Duration("elapsed", dl.Duration))
	}
	d.record(dl)
}

func (d *Dispatcher) record(dl Delivery) {
	d.mu.RLock()
	recorders := d.recorders
	d.mu.RUnlock()
	for _, r := range recorders {
		r.RecordDelivery(dl)
	}
}

type limitedBody struct {
	io.Reader
	io.Closer
}

var limitResponse = middler.WithResponseMiddlerFunc(func(resp *http.Response) error {
	resp.Body = limitedBody{Reader: io.LimitReader(resp.Body, maxResponseBody), Closer: resp.Body}
	return nil
})

// post sends body to url. The reply is read into resp, at most
// maxResponseBody bytes, only when resp is not nil.
func (d *Dispatcher) post(ctx context.Context, url, secret string, body []byte, resp *string) (int, error) {
	headers := gout.H{
		"Content-Type": "application/json",
		"User-Agent":   userAgent,
	}
	if secret != "" {
		headers[SecretHeader] = secret
	}
	var code int
	flow := gout.New(d.client).
		POST(url).
		WithContext(ctx).
		SetHeader(headers).
		SetJSON(body).
		Code(&code).
		ResponseUse(limitResponse)
	if resp != nil {
		flow = flow.BindBody(resp)
	}
	err := flow.Do()
	return code, err
}

// Test posts a test envelope to url, independent of any subscription.
func (d *Dispatcher) Test(ctx context.Context, rawURL string, data any) (TestResult, error) {
	if err := ValidateURL(rawURL); err != nil {
		return TestResult{}, err
	}
	now := time.Now()
	if data == nil {
		data = map[string]any{
			"message":   "Test webhook from wamux",
			"timestamp": timestamp(now),
		}
	}
	body, err := json.Marshal(Envelope{Event: EventTest, Data: data, Timestamp: timestamp(now)})
	if err != nil {
		return TestResult{}, errors.NewInvalidArgument("webhook", "", "test data is not serializable: %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var resp string
	code, err := d.post(ctx, rawURL, "", body, &resp)
	res := TestResult{
		Status:       code,
		ResponseTime: time.Since(now).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	res.Success = code >= 200 && code < 300
	if !res.Success {
		res.Error = fmt.Sprintf("unexpected status %d", code)
	}
	var decoded any
	if resp != "" && json.UnmarshalFromString(resp, &decoded) == nil {
		res.Response = decoded
	} else if resp != "" {
		res.Response = resp
	}
	return res, nil
}

// Close waits for queued deliveries until ctx expires, then stops the pool.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.pool.Release()
	return err
}
