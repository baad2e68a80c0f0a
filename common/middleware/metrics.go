package middleware

import (
	"context"
	"time"

	aws_pkg "github.com/causehive/donation-service/pkg/aws"
	"github.com/gin-gonic/gin"
)

const metricsFlushTimeout = 5 * time.Second

// MetricsMiddleware publishes per-route request counters and latency to
// CloudWatch. Health probes and unmatched paths are not recorded.
func MetricsMiddleware(metricsClient *aws_pkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		begin := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" || route == "/health" {
			return
		}
		elapsed := time.Since(begin)
		code := c.Writer.Status()
		dims := map[string]string{
			"Service": serviceName,
			"Route":   c.Request.Method + " " + route,
			"Status":  statusCodeToRange(code),
		}

		go publishRequestMetrics(metricsClient, dims, code, elapsed)
	}
}

func publishRequestMetrics(m *aws_pkg.MetricsClient, dims map[string]string, code int, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsFlushTimeout)
	defer cancel()

	_ = m.RecordCount(ctx, aws_pkg.MetricHTTPRequests, dims)
	_ = m.RecordLatency(ctx, aws_pkg.MetricHTTPLatency, elapsed, dims)
	if code < 400 {
		return
	}
	_ = m.RecordCount(ctx, aws_pkg.MetricHTTPErrors, dims)
	if code >= 500 {
		_ = m.RecordCount(ctx, aws_pkg.MetricHTTP5xx, dims)
	} else {
		_ = m.RecordCount(ctx, aws_pkg.MetricHTTP4xx, dims)
	}
}

func statusCodeToRange(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return string(rune('0'+code/100)) + "xx"
}
