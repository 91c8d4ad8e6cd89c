package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/containerless/platform/pkg/events"
)

var (
	// Function table metrics
	FunctionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "containerless_functions_total",
			Help: "Total number of known functions by manager state",
		},
		[]string{"state"},
	)

	VanillaReplicasTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "containerless_vanilla_replicas_total",
			Help: "Vanilla replica count per function",
		},
		[]string{"function"},
	)

	TracingReplicasTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "containerless_tracing_replicas_total",
			Help: "Tracing replica presence per function (0 or 1)",
		},
		[]string{"function"},
	)

	ManagerStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "containerless_manager_state_transitions_total",
			Help: "Total number of manager state transitions by function, from-state and to-state",
		},
		[]string{"function", "from", "to"},
	)

	ManagerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "containerless_manager_state",
			Help: "Whether a function's manager is currently in a given state (1) or not (0)",
		},
		[]string{"function", "state"},
	)

	// Invocation metrics
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "containerless_invocations_total",
			Help: "Total number of invocations by function, backend and status",
		},
		[]string{"function", "backend", "status"},
	)

	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "containerless_invocation_duration_seconds",
			Help:    "Invocation duration in seconds by function and backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function", "backend"},
	)

	NativeTraceUnknownTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "containerless_native_trace_unknown_total",
			Help: "Total number of native trace invocations that returned Unknown",
		},
		[]string{"function"},
	)

	// Autoscaler metrics
	AutoscalerWindowMax = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "containerless_autoscaler_window_max",
			Help: "Windowed maximum of requests-per-tick observed by the autoscaler",
		},
		[]string{"function"},
	)

	AutoscalerTargetReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "containerless_autoscaler_target_replicas",
			Help: "Target vanilla replica count computed by the autoscaler",
		},
		[]string{"function"},
	)

	// Compiler actor metrics
	CompileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "containerless_compile_duration_seconds",
			Help:    "Time taken by a native build in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	CompilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "containerless_compiles_total",
			Help: "Total number of compile attempts by outcome",
		},
		[]string{"outcome"},
	)

	DispatcherVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "containerless_dispatcher_version",
			Help: "Current dispatcher deployment version",
		},
	)

	CompilingNow = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "containerless_compiling_now",
			Help: "Whether a native build is currently in flight (1) or not (0)",
		},
	)

	// Dispatcher ingress metrics
	DispatcherRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "containerless_dispatcher_requests_total",
			Help: "Total number of dispatcher requests by function and status",
		},
		[]string{"function", "status"},
	)

	DispatcherRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "containerless_dispatcher_request_duration_seconds",
			Help:    "Dispatcher request duration in seconds by function",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	// Controller API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "containerless_api_requests_total",
			Help: "Total number of controller API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "containerless_api_request_duration_seconds",
			Help:    "Controller API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(FunctionsTotal)
	prometheus.MustRegister(VanillaReplicasTotal)
	prometheus.MustRegister(TracingReplicasTotal)
	prometheus.MustRegister(ManagerStateTransitionsTotal)
	prometheus.MustRegister(ManagerState)
	prometheus.MustRegister(InvocationsTotal)
	prometheus.MustRegister(InvocationDuration)
	prometheus.MustRegister(NativeTraceUnknownTotal)
	prometheus.MustRegister(AutoscalerWindowMax)
	prometheus.MustRegister(AutoscalerTargetReplicas)
	prometheus.MustRegister(CompileDuration)
	prometheus.MustRegister(CompilesTotal)
	prometheus.MustRegister(DispatcherVersion)
	prometheus.MustRegister(CompilingNow)
	prometheus.MustRegister(DispatcherRequestsTotal)
	prometheus.MustRegister(DispatcherRequestDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ConsumeManagerEvents subscribes to broker's manager state transitions
// and keeps ManagerState in sync with them until ctx is done, the
// metrics side of the EventManagerStateChanged events pkg/manager
// publishes on every transition.
func ConsumeManagerEvents(ctx context.Context, broker *events.Broker) {
	sub := broker.Subscribe()
	go func() {
		defer broker.Unsubscribe(sub)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.Type != events.EventManagerStateChanged {
					continue
				}
				if from := ev.Metadata["from"]; from != "" {
					ManagerState.WithLabelValues(ev.FunctionName, from).Set(0)
				}
				if to := ev.Metadata["to"]; to != "" {
					ManagerState.WithLabelValues(ev.FunctionName, to).Set(1)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
