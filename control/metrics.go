// control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus collectors of the offload engine.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hioload_accel"

// Registry holds every engine collector. Expose it with promhttp.HandlerFor.
var Registry = prometheus.NewRegistry()

var (
	// KernelLaunches counts kernel launches by device type.
	KernelLaunches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "kernel_launches_total",
		Help:      "Number of kernel launches enqueued",
	}, []string{"device"})

	// KernelErrors counts failed kernel launches by device type.
	KernelErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "kernel_errors_total",
		Help:      "Number of kernel launches that failed on the device",
	}, []string{"device"})

	// IoBaseExhausted counts io-base allocations that found no free slot.
	IoBaseExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "pool",
		Name:      "io_base_exhausted_total",
		Help:      "Number of io-base allocations that found every slot checked out",
	}, []string{"device"})

	// CtrlRequests counts remote control requests by type and reply.
	CtrlRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "knapp",
		Name:      "ctrl_requests_total",
		Help:      "Number of remote control requests",
	}, []string{"request", "reply"})

	// CtrlLatency observes control request round trips.
	CtrlLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "knapp",
		Name:      "ctrl_request_duration_seconds",
		Help:      "Round trip time of remote control requests",
		Buckets:   prometheus.ExponentialBuckets(50e-6, 4, 8),
	}, []string{"request"})

	// PollTimeouts counts poll ring slots abandoned after the deadline.
	PollTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "knapp",
		Name:      "poll_timeouts_total",
		Help:      "Number of poll ring slots that missed their completion deadline",
	})

	// BatchesOffloaded counts batches that completed a device round trip.
	BatchesOffloaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "offload",
		Name:      "batches_total",
		Help:      "Number of batches processed",
	}, []string{"element", "device"})

	// PacketsDropped counts packets killed by elements.
	PacketsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "offload",
		Name:      "packets_dropped_total",
		Help:      "Number of packets dropped by elements",
	}, []string{"element"})
)

func init() {
	Registry.MustRegister(
		KernelLaunches,
		KernelErrors,
		IoBaseExhausted,
		CtrlRequests,
		CtrlLatency,
		PollTimeouts,
		BatchesOffloaded,
		PacketsDropped,
	)
}
