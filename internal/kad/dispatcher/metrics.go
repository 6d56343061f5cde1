package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 调度器计数器
//
// 仅用于观测，不参与正确性判断。每个节点使用自己的 Registerer，
// 同一进程内的多个节点互不冲突。
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	Timeouts         prometheus.Counter
	LateResponses    prometheus.Counter
	Malformed        prometheus.Counter
	RTT              prometheus.Histogram
}

// NewMetrics 在 reg 上注册计数器，reg 为 nil 时使用私有 registry
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kad",
			Name:      "messages_sent_total",
			Help:      "Messages sent, by kind.",
		}, []string{"kind"}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kad",
			Name:      "messages_received_total",
			Help:      "Messages received, by kind.",
		}, []string{"kind"}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Name:      "bytes_sent_total",
			Help:      "Encoded bytes handed to the transport.",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Name:      "bytes_received_total",
			Help:      "Bytes received from the transport.",
		}),
		Timeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Name:      "request_timeouts_total",
			Help:      "Requests that reached their deadline without a response.",
		}),
		LateResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Name:      "late_responses_total",
			Help:      "Responses dropped because no request was pending.",
		}),
		Malformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Name:      "malformed_messages_total",
			Help:      "Messages that failed to decode or did not match their request.",
		}),
		RTT: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kad",
			Name:      "request_rtt_seconds",
			Help:      "Round trip time of answered requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}
