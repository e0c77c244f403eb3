package rtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransportMetrics счетчики RTP транспорта, общие для всех плеч процесса.
// Методы безопасны для nil получателя.
type TransportMetrics struct {
	PacketsSent     prometheus.Counter
	PacketsReceived prometheus.Counter
	BytesSent       prometheus.Counter
	BytesReceived   prometheus.Counter
	Errors          *prometheus.CounterVec
}

// NewTransportMetrics регистрирует метрики в указанном реестре.
func NewTransportMetrics(reg prometheus.Registerer) *TransportMetrics {
	factory := promauto.With(reg)
	return &TransportMetrics{
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conference",
			Subsystem: "rtp",
			Name:      "packets_sent_total",
			Help:      "Total number of RTP packets sent",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conference",
			Subsystem: "rtp",
			Name:      "packets_received_total",
			Help:      "Total number of RTP packets received",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conference",
			Subsystem: "rtp",
			Name:      "bytes_sent_total",
			Help:      "Total number of RTP bytes sent",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conference",
			Subsystem: "rtp",
			Name:      "bytes_received_total",
			Help:      "Total number of RTP bytes received",
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conference",
			Subsystem: "rtp",
			Name:      "errors_total",
			Help:      "Total number of RTP transport errors by operation",
		}, []string{"operation"}),
	}
}

func (m *TransportMetrics) observeSent(n int) {
	if m == nil {
		return
	}
	m.PacketsSent.Inc()
	m.BytesSent.Add(float64(n))
}

func (m *TransportMetrics) observeReceived(n int) {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

func (m *TransportMetrics) observeError(operation string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(operation).Inc()
}
