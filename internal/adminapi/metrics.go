package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"

	"github.com/talkincode/wamux/internal/webserver"
	"github.com/talkincode/wamux/pkg/metrics"
)

const defaultMetricsWindow = time.Hour

var knownMetrics = map[string]bool{
	metrics.MetricDeliveryLatency: true,
	metrics.MetricDeliveryOK:      true,
	metrics.MetricDeliveryFailed:  true,
	metrics.MetricEvent:           true,
	metrics.MetricConnected:       true,
	metrics.MetricInstances:       true,
	metrics.MetricProcessMem:      true,
	metrics.MetricProcessCPU:      true,
	metrics.MetricSystemMem:       true,
	metrics.MetricSystemCPU:       true,
}

func registerMetricsRoutes() {
	webserver.ApiGET("/metrics/:metric", getMetric)
}

// parseSince accepts a look-back duration ("15m") or an absolute date in
// any format dateparse understands. Empty means no lower bound.
func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d), nil
	}
	return dateparse.ParseLocal(raw)
}

// getMetric query: instance, since (default one hour back)
func getMetric(c echo.Context) error {
	name := c.Param("metric")
	if !knownMetrics[name] {
		return fail(c, http.StatusNotFound, "METRIC_NOT_FOUND", "Unknown metric", name)
	}
	store := metrics.Default()
	if store == nil {
		return fail(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "Metrics are not enabled", nil)
	}
	since, err := parseSince(c.QueryParam("since"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_SINCE", "since must be a duration or a date", err.Error())
	}
	if since.IsZero() {
		since = time.Now().Add(-defaultMetricsWindow)
	}
	instance := c.QueryParam("instance")
	points, err := store.Select(name, instance, since, time.Now().Add(time.Second))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "METRICS_ERROR", "Failed to query metric", err.Error())
	}
	return ok(c, map[string]interface{}{
		"metric":   name,
		"instance": instance,
		"since":    since,
		"points":   points,
		"summary":  metrics.Summarize(points),
	})
}
