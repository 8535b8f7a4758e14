// Package metrics keeps short-lived time series about webhook deliveries
// and instance activity in an embedded tstorage database.
package metrics

import (
	"path"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/nakabonne/tstorage"
	"go.uber.org/zap"

	"github.com/talkincode/wamux/internal/webhook"
)

const (
	MetricDeliveryLatency = "webhook_delivery_ms"
	MetricDeliveryOK      = "webhook_delivery_ok"
	MetricDeliveryFailed  = "webhook_delivery_failed"
	MetricEvent           = "instance_event"
	MetricConnected       = "instances_connected"
	MetricInstances       = "instances_total"
	MetricProcessMem      = "process_memuse"
	MetricProcessCPU      = "process_cpuuse"
	MetricSystemMem       = "system_memuse"
	MetricSystemCPU       = "system_cpuuse"
)

const labelInstance = "instance"

// Point is one sample.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P95   float64 `json:"p95"`
}

type Store struct {
	storage tstorage.Storage
}

// Open creates a store persisted under dir, or in memory when dir is empty.
func Open(dir string) (*Store, error) {
	opts := []tstorage.Option{
		tstorage.WithTimestampPrecision(tstorage.Nanoseconds),
		tstorage.WithPartitionDuration(time.Hour),
		tstorage.WithRetention(7 * 24 * time.Hour),
	}
	if dir != "" {
		opts = append(opts, tstorage.WithDataPath(dir))
	}
	storage, err := tstorage.NewStorage(opts...)
	if err != nil {
		return nil, err
	}
	return &Store{storage: storage}, nil
}

func labels(instance string) []tstorage.Label {
	if instance == "" {
		return nil
	}
	return []tstorage.Label{{Name: labelInstance, Value: instance}}
}

// Insert adds a sample at now. An empty instance records a process-wide series.
func (s *Store) Insert(metric, instance string, value float64) error {
	return s.InsertAt(metric, instance, value, time.Now())
}

func (s *Store) InsertAt(metric, instance string, value float64, ts time.Time) error {
	return s.storage.InsertRows([]tstorage.Row{{
		Metric:    metric,
		Labels:    labels(instance),
		DataPoint: tstorage.DataPoint{Timestamp: ts.UnixNano(), Value: value},
	}})
}

// Select returns the samples in [start, end).
func (s *Store) Select(metric, instance string, start, end time.Time) ([]Point, error) {
	dps, err := s.storage.Select(metric, labels(instance), start.UnixNano(), end.UnixNano())
	if err == tstorage.ErrNoDataPoints {
		return []Point{}, nil
	}
	if err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(dps))
	for _, dp := range dps {
		points = append(points, Point{Timestamp: time.Unix(0, dp.Timestamp), Value: dp.Value})
	}
	return points, nil
}

// Summarize reduces points to count, extremes, mean and 95th percentile.
func Summarize(points []Point) Summary {
	if len(points) == 0 {
		return Summary{}
	}
	data := make(stats.Float64Data, 0, len(points))
	for _, p := range points {
		data = append(data, p.Value)
	}
	sum := Summary{Count: len(data)}
	sum.Min, _ = stats.Min(data)
	sum.Max, _ = stats.Max(data)
	sum.Mean, _ = stats.Mean(data)
	sum.P95, _ = stats.Percentile(data, 95)
	return sum
}

// RecordDelivery implements webhook.DeliveryRecorder.
func (s *Store) RecordDelivery(d webhook.Delivery) {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rows := []tstorage.Row{{
		Metric:    MetricDeliveryLatency,
		Labels:    labels(d.InstanceID),
		DataPoint: tstorage.DataPoint{Timestamp: ts.UnixNano(), Value: float64(d.Duration.Milliseconds())},
	}}
	outcome := MetricDeliveryOK
	if !d.Success() {
		outcome = MetricDeliveryFailed
	}
	rows = append(rows, tstorage.Row{
		Metric:    outcome,
		Labels:    labels(d.InstanceID),
		DataPoint: tstorage.DataPoint{Timestamp: ts.UnixNano(), Value: 1},
	})
	if err := s.storage.InsertRows(rows); err != nil {
		zap.L().Debug("metrics: insert delivery failed", zap.Error(err))
	}
}

// ObserveNotification counts events published by the session core.
func (s *Store) ObserveNotification(n webhook.Notification) {
	if err := s.Insert(MetricEvent, n.InstanceID, 1); err != nil {
		zap.L().Debug("metrics: insert event failed", zap.Error(err))
	}
}

func (s *Store) Close() error {
	return s.storage.Close()
}

var (
	defaultMu    sync.RWMutex
	defaultStore *Store
)

// InitMetrics opens the process-wide store under <workdir>/metrics.
func InitMetrics(workdir string) error {
	dir := ""
	if workdir != "" {
		dir = path.Join(workdir, "metrics")
	}
	s, err := Open(dir)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	old := defaultStore
	defaultStore = s
	defaultMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Default returns the process-wide store, or nil before InitMetrics.
func Default() *Store {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultStore
}

// SetGauge records a process-wide sample on the default store.
func SetGauge(name string, value int64) {
	s := Default()
	if s == nil {
		return
	}
	if err := s.Insert(name, "", float64(value)); err != nil {
		zap.L().Debug("metrics: set gauge failed", zap.String("metric", name), zap.Error(err))
	}
}

// Close flushes and closes the default store.
func Close() error {
	defaultMu.Lock()
	s := defaultStore
	defaultStore = nil
	defaultMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
