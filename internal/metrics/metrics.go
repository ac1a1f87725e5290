package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/berfenger/lynx2mqtt/pkg/lynx"
)

const (
	metricPrefix = "lynx2mqtt_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	pollCycles       *prometheus.CounterVec
	pollCycleLatency *prometheus.HistogramVec

	apiRequests       *prometheus.CounterVec
	apiRequestLatency *prometheus.HistogramVec

	mqttPublishes *prometheus.CounterVec

	serviceRequests *prometheus.CounterVec
)

// Init registers the bridge metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		pollCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_cycles_total",
				Help: "Total poll cycles by result",
			},
			[]string{"result"},
		)
		pollCycleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_cycle_duration_seconds",
				Help:    "Poll cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		apiRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lynx_api_requests_total",
				Help: "Total Lynx API requests by operation and result",
			},
			[]string{"op", "result"},
		)
		apiRequestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "lynx_api_request_duration_seconds",
				Help:    "Lynx API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		)

		mqttPublishes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mqtt_publishes_total",
				Help: "Total MQTT messages published to the HA broker by result",
			},
			[]string{"result"},
		)

		serviceRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "service_requests_total",
				Help: "Total management service requests by route and result",
			},
			[]string{"route", "result"},
		)

		prometheus.MustRegister(
			pollCycles,
			pollCycleLatency,
			apiRequests,
			apiRequestLatency,
			mqttPublishes,
			serviceRequests,
		)
	})
}

// ObservePollCycle records one coordinator cycle.
func ObservePollCycle(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if pollCycles != nil {
		pollCycles.WithLabelValues(result).Inc()
	}
	if pollCycleLatency != nil {
		pollCycleLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveAPIRequest records one Lynx REST call.
func ObserveAPIRequest(op string, duration time.Duration, err error) {
	if op == "" {
		op = "unknown"
	}
	if apiRequests != nil {
		apiRequests.WithLabelValues(op, resultOf(err)).Inc()
	}
	if apiRequestLatency != nil {
		apiRequestLatency.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// IncMQTTPublish increments the HA broker publish counter.
func IncMQTTPublish(err error) {
	if mqttPublishes != nil {
		mqttPublishes.WithLabelValues(resultOf(err)).Inc()
	}
}

// IncServiceRequest increments the management route counter.
func IncServiceRequest(route string, result string) {
	if route == "" {
		route = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if serviceRequests != nil {
		serviceRequests.WithLabelValues(route, result).Inc()
	}
}

// LynxInstrument adapts the API client's timing hook to these metrics.
func LynxInstrument() lynx.Instrument {
	return lynx.Instrument{
		RecordTime: func(op string, duration time.Duration, err error) {
			ObserveAPIRequest(op, duration, err)
		},
	}
}

func resultOf(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
