package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dcom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Signaling metrics
	SignalingPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dcom_signaling_peers",
			Help: "Peers connected to signaling rooms",
		},
	)

	SignalsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcom_signals_relayed_total",
			Help: "Signaling frames relayed, by signal type",
		},
		[]string{"type"},
	)

	RoomsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcom_rooms_rejected_total",
			Help: "Signaling joins turned away because the room was full",
		},
	)

	// Relay chat metrics
	ChatUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dcom_chat_users",
			Help: "Registered relay chat users",
		},
	)

	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcom_chat_messages_total",
			Help: "Relay chat messages broadcast",
		},
		[]string{"kind"}, // "user" or "system"
	)

	// Send drops
	DroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcom_dropped_frames_total",
			Help: "Frames dropped because a client send buffer was full",
		},
	)
)

// Middleware records request count and latency per route. Routes are
// labelled by their pattern so room ids do not explode cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
		).Observe(time.Since(start).Seconds())
	}
}
