package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DLQMetrics observes dead letter traffic per queue: arrivals, replays and
// purges, with Prometheus collectors under meshkit_dlq_* and an in-memory
// per-queue summary served by the management API.
type DLQMetrics struct {
	mu     sync.RWMutex
	topics map[string]*DLQTopicMetrics

	messagesTotal   *prometheus.CounterVec
	messagesCurrent *prometheus.GaugeVec
	replayedTotal   *prometheus.CounterVec
	purgedTotal     *prometheus.CounterVec
	ageSeconds      *prometheus.HistogramVec
	retryCount      *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// DLQTopicMetrics summarises dead letter activity of one queue.
type DLQTopicMetrics struct {
	MessagesReceived uint64    `json:"messages_received"`
	MessagesCurrent  uint64    `json:"messages_current"`
	MessagesReplayed uint64    `json:"messages_replayed"`
	MessagesPurged   uint64    `json:"messages_purged"`
	OldestMessageAt  time.Time `json:"oldest_message_at,omitempty"`
	NewestMessageAt  time.Time `json:"newest_message_at,omitempty"`
	AvgRetryCount    float64   `json:"avg_retry_count"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
}

func (t *DLQTopicMetrics) clone() *DLQTopicMetrics {
	cloned := *t
	return &cloned
}

// DLQMetricsSnapshot is a point-in-time view across all queues.
type DLQMetricsSnapshot struct {
	TotalMessages uint64                      `json:"total_messages"`
	TotalReplayed uint64                      `json:"total_replayed"`
	TotalPurged   uint64                      `json:"total_purged"`
	TopicMetrics  map[string]*DLQTopicMetrics `json:"topic_metrics"`
	CollectedAt   time.Time                   `json:"collected_at"`
}

// NewDLQMetrics builds the collector set. A nil registerer uses the default
// Prometheus registerer. Call Register before recording.
func NewDLQMetrics(registerer prometheus.Registerer) *DLQMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "meshkit", Subsystem: "dlq", Name: name, Help: help}
	}

	return &DLQMetrics{
		topics:     make(map[string]*DLQTopicMetrics),
		registerer: registerer,
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("messages_total", "Messages moved to the dead letter queue.")),
			[]string{"topic", "handler"}),
		messagesCurrent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts(opts("messages_current", "Messages currently in the dead letter queue.")),
			[]string{"topic"}),
		replayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("replayed_total", "Messages replayed out of the dead letter queue.")),
			[]string{"topic"}),
		purgedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("purged_total", "Messages purged from the dead letter queue.")),
			[]string{"topic"}),
		ageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meshkit",
			Subsystem: "dlq",
			Name:      "message_age_seconds",
			Help:      "Message age when it was dead-lettered.",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		}, []string{"topic"}),
		retryCount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meshkit",
			Subsystem: "dlq",
			Name:      "retry_count",
			Help:      "Retries consumed before the message was dead-lettered.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20},
		}, []string{"topic"}),
	}
}

// Register registers the Prometheus collectors. Safe to call more than once.
func (m *DLQMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{
		m.messagesTotal, m.messagesCurrent, m.replayedTotal,
		m.purgedTotal, m.ageSeconds, m.retryCount,
	} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// RecordMessageToDLQ records a message arriving in the dead letter queue.
func (m *DLQMetrics) RecordMessageToDLQ(topic, handler string, retryCount int, messageAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	t := m.topic(topic)
	t.MessagesReceived++
	t.MessagesCurrent++
	t.LastUpdatedAt = now
	if t.OldestMessageAt.IsZero() {
		t.OldestMessageAt = now
	}
	t.NewestMessageAt = now
	t.AvgRetryCount += (float64(retryCount) - t.AvgRetryCount) / float64(t.MessagesReceived)

	m.messagesTotal.WithLabelValues(topic, handler).Inc()
	m.messagesCurrent.WithLabelValues(topic).Set(float64(t.MessagesCurrent))
	m.ageSeconds.WithLabelValues(topic).Observe(messageAge.Seconds())
	m.retryCount.WithLabelValues(topic).Observe(float64(retryCount))
}

// RecordMessageReplayed records a message leaving the dead letter queue for
// another delivery attempt.
func (m *DLQMetrics) RecordMessageReplayed(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topic(topic)
	t.MessagesReplayed++
	if t.MessagesCurrent > 0 {
		t.MessagesCurrent--
	}
	t.LastUpdatedAt = time.Now()

	m.replayedTotal.WithLabelValues(topic).Inc()
	m.messagesCurrent.WithLabelValues(topic).Set(float64(t.MessagesCurrent))
}

// RecordMessagesPurged records count messages dropped from the dead letter
// queue.
func (m *DLQMetrics) RecordMessagesPurged(topic string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topic(topic)
	t.MessagesPurged += uint64(count)
	if t.MessagesCurrent >= uint64(count) {
		t.MessagesCurrent -= uint64(count)
	} else {
		t.MessagesCurrent = 0
	}
	t.LastUpdatedAt = time.Now()

	m.purgedTotal.WithLabelValues(topic).Add(float64(count))
	m.messagesCurrent.WithLabelValues(topic).Set(float64(t.MessagesCurrent))
}

// SetCurrentCount overrides the current depth, for syncing with a transport
// that owns the dead letter storage.
func (m *DLQMetrics) SetCurrentCount(topic string, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topic(topic)
	t.MessagesCurrent = count
	t.LastUpdatedAt = time.Now()

	m.messagesCurrent.WithLabelValues(topic).Set(float64(count))
}

// GetSnapshot returns a copy of all per-queue summaries.
func (m *DLQMetrics) GetSnapshot() DLQMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := DLQMetricsSnapshot{
		TopicMetrics: make(map[string]*DLQTopicMetrics, len(m.topics)),
		CollectedAt:  time.Now(),
	}
	for topic, t := range m.topics {
		snapshot.TopicMetrics[topic] = t.clone()
		snapshot.TotalMessages += t.MessagesCurrent
		snapshot.TotalReplayed += t.MessagesReplayed
		snapshot.TotalPurged += t.MessagesPurged
	}
	return snapshot
}

// GetTopicMetrics returns a copy of one queue's summary, or nil when the
// queue has seen no dead letters.
func (m *DLQMetrics) GetTopicMetrics(topic string) *DLQTopicMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t, ok := m.topics[topic]; ok {
		return t.clone()
	}
	return nil
}

// Reset clears all counters, for tests.
func (m *DLQMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topics = make(map[string]*DLQTopicMetrics)
	m.messagesTotal.Reset()
	m.messagesCurrent.Reset()
	m.replayedTotal.Reset()
	m.purgedTotal.Reset()
	m.ageSeconds.Reset()
	m.retryCount.Reset()
}

// topic must be called with the lock held.
func (m *DLQMetrics) topic(name string) *DLQTopicMetrics {
	t, ok := m.topics[name]
	if !ok {
		t = &DLQTopicMetrics{}
		m.topics[name] = t
	}
	return t
}
