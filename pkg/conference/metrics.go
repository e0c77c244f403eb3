package conference

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics метрики движка конференций.
// Все методы безопасны для nil получателя, что позволяет работать без метрик.
type Metrics struct {
	conferencesActive prometheus.Gauge
	membersActive     prometheus.Gauge
	ticksTotal        prometheus.Counter
	tickJumps         prometheus.Counter
	tickDuration      prometheus.Histogram
	queueOverruns     *prometheus.CounterVec
	eventsTotal       *prometheus.CounterVec
	playbackDone      *prometheus.CounterVec
	memberFailures    *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в указанном реестре
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		conferencesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "conference",
			Name:      "rooms_active",
			Help:      "Number of running conference rooms",
		}),
		membersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "conference",
			Name:      "members_active",
			Help:      "Number of members in all rooms",
		}),
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conference",
			Subsystem: "mixer",
			Name:      "ticks_total",
			Help:      "Total number of mixer ticks",
		}),
		tickJumps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conference",
			Subsystem: "mixer",
			Name:      "catchup_ticks_total",
			Help:      "Ticks executed to catch up after the mixer was delayed",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conference",
			Subsystem: "mixer",
			Name:      "tick_duration_seconds",
			Help:      "Time spent mixing one tick",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02},
		}),
		queueOverruns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conference",
			Name:      "queue_overruns_total",
			Help:      "Member audio queue overruns by direction",
		}, []string{"direction"}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conference",
			Name:      "events_total",
			Help:      "Published conference events by action",
		}, []string{"action"}),
		playbackDone: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conference",
			Subsystem: "playback",
			Name:      "completed_total",
			Help:      "Completed playback nodes by kind",
		}, []string{"kind"}),
		memberFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conference",
			Name:      "member_failures_total",
			Help:      "Members removed because of a local failure, by error code",
		}, []string{"code"}),
	}
}

func (m *Metrics) conferenceStarted() {
	if m != nil {
		m.conferencesActive.Inc()
	}
}

func (m *Metrics) conferenceStopped() {
	if m != nil {
		m.conferencesActive.Dec()
	}
}

func (m *Metrics) memberJoined() {
	if m != nil {
		m.membersActive.Inc()
	}
}

func (m *Metrics) memberLeft() {
	if m != nil {
		m.membersActive.Dec()
	}
}

func (m *Metrics) tick(d time.Duration) {
	if m != nil {
		m.ticksTotal.Inc()
		m.tickDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) catchUp(n int) {
	if m != nil && n > 0 {
		m.tickJumps.Add(float64(n))
	}
}

func (m *Metrics) overrun(direction string) {
	if m != nil {
		m.queueOverruns.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) event(action EventAction) {
	if m != nil {
		m.eventsTotal.WithLabelValues(string(action)).Inc()
	}
}

func (m *Metrics) playbackCompleted(kind NodeKind) {
	if m != nil {
		m.playbackDone.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) memberFailed(code ErrorCode) {
	if m != nil {
		m.memberFailures.WithLabelValues(code.String()).Inc()
	}
}
