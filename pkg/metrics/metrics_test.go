package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/wamux/internal/webhook"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSelectEmpty(t *testing.T) {
	s := newMemStore(t)
	points, err := s.Select(MetricEvent, "nope", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestRecordDeliveryAndSummary(t *testing.T) {
	s := newMemStore(t)
	now := time.Now()
	for i, ms := range []int{10, 20, 30, 40} {
		s.RecordDelivery(webhook.Delivery{
			InstanceID: "a",
			StatusCode: 200,
			Duration:   time.Duration(ms) * time.Millisecond,
			Timestamp:  now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	s.RecordDelivery(webhook.Delivery{InstanceID: "a", StatusCode: 500, Error: "boom", Timestamp: now.Add(10 * time.Millisecond)})

	start, end := now.Add(-time.Minute), now.Add(time.Minute)
	latency, err := s.Select(MetricDeliveryLatency, "a", start, end)
	require.NoError(t, err)
	require.Len(t, latency, 5)

	failed, err := s.Select(MetricDeliveryFailed, "a", start, end)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	other, err := s.Select(MetricDeliveryLatency, "b", start, end)
	require.NoError(t, err)
	assert.Empty(t, other)

	sum := Summarize(latency)
	assert.Equal(t, 5, sum.Count)
	assert.Equal(t, 0.0, sum.Min)
	assert.Equal(t, 40.0, sum.Max)
	assert.InDelta(t, 20.0, sum.Mean, 0.001)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestDefaultStoreGauge(t *testing.T) {
	require.NoError(t, InitMetrics(""))
	defer Close()
	SetGauge(MetricInstances, 3)
	points, err := Default().Select(MetricInstances, "", time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 3.0, points[0].Value)

	require.NoError(t, Close())
	assert.Nil(t, Default())
	SetGauge(MetricInstances, 4)
}
