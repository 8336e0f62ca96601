package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_http_requests_total",
			Help: "Total number of HTTP requests processed by the realtime service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutor_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tutor_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutor_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	dualWriteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_dualwrite_operations_total",
			Help: "Dual-write operations by kind, operation and outcome.",
		},
		[]string{"kind", "op", "outcome"},
	)
	dualWriteFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_dualwrite_partial_faults_total",
			Help: "Dual writes that failed after the first store was written.",
		},
		[]string{"kind", "op", "stage"},
	)
	presenceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_presence_transitions_total",
			Help: "Presence transitions by target status and trigger.",
		},
		[]string{"status", "trigger"},
	)
	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutor_presence_online_users",
			Help: "Users with at least one local connection.",
		},
	)
	fanoutDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_fanout_deliveries_total",
			Help: "Frames handed to connections by scope and result.",
		},
		[]string{"scope", "result"},
	)
	counterDriftTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_counter_drift_total",
			Help: "Recomputes that found the cached counters out of date.",
		},
		[]string{"counter"},
	)
	relayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_relay_messages_total",
			Help: "Cross-process relay messages by direction.",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		dualWriteTotal,
		dualWriteFaultsTotal,
		presenceTransitionsTotal,
		onlineUsers,
		fanoutDeliveriesTotal,
		counterDriftTotal,
		relayMessagesTotal,
	)
}

// MetricsHandler exposes the default registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncDualWrite(kind, op, outcome string) {
	dualWriteTotal.WithLabelValues(kind, op, outcome).Inc()
}

func IncDualWriteFault(kind, op, stage string) {
	dualWriteFaultsTotal.WithLabelValues(kind, op, stage).Inc()
}

func IncPresenceTransition(status, trigger string) {
	presenceTransitionsTotal.WithLabelValues(status, trigger).Inc()
}

func SetOnlineUsers(n int) {
	onlineUsers.Set(float64(n))
}

func IncFanout(scope, result string) {
	fanoutDeliveriesTotal.WithLabelValues(scope, result).Inc()
}

func IncCounterDrift(counter string) {
	counterDriftTotal.WithLabelValues(counter).Inc()
}

func IncRelay(direction string) {
	relayMessagesTotal.WithLabelValues(direction).Inc()
}
