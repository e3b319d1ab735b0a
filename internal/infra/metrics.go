package infra

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts subscription activity with lock-free atomics.
// It implements prometheus.Collector so the same counters can be scraped.
type Metrics struct {
	// Counters
	notifications  atomic.Uint64
	acks           atomic.Uint64
	tradesUpdated  atomic.Uint64
	fillsScanned   atomic.Uint64
	envelopeErrors atomic.Uint64
	decodeErrors   atomic.Uint64
	lostEvents     atomic.Uint64
	closes         atomic.Uint64
	alerts         atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	lastSeqNum        atomic.Uint64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordNotification records a processed notification with its handling latency.
func (m *Metrics) RecordNotification(latencyNs int64) {
	m.notifications.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordAck records an acknowledgement message.
func (m *Metrics) RecordAck() {
	m.acks.Add(1)
}

// RecordScan records the fills seen and the events lost in one scan window.
func (m *Metrics) RecordScan(fills int, lost uint64, seqNum uint64) {
	m.fillsScanned.Add(uint64(fills))
	m.lostEvents.Add(lost)
	m.lastSeqNum.Store(seqNum)
}

// RecordTradeUpdate records a change of the latest trade.
func (m *Metrics) RecordTradeUpdate() {
	m.tradesUpdated.Add(1)
}

// RecordEnvelopeError records a malformed envelope.
func (m *Metrics) RecordEnvelopeError() {
	m.envelopeErrors.Add(1)
}

// RecordDecodeError records a payload that failed to decode.
func (m *Metrics) RecordDecodeError() {
	m.decodeErrors.Add(1)
}

// RecordClose records a subscription close.
func (m *Metrics) RecordClose() {
	m.closes.Add(1)
}

// RecordAlert records a fired price alert.
func (m *Metrics) RecordAlert() {
	m.alerts.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Notifications     uint64
	Acks              uint64
	TradesUpdated     uint64
	FillsScanned      uint64
	EnvelopeErrors    uint64
	DecodeErrors      uint64
	LostEvents        uint64
	Closes            uint64
	Alerts            uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	LastSeqNum        uint64
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		Notifications:     m.notifications.Load(),
		Acks:              m.acks.Load(),
		TradesUpdated:     m.tradesUpdated.Load(),
		FillsScanned:      m.fillsScanned.Load(),
		EnvelopeErrors:    m.envelopeErrors.Load(),
		DecodeErrors:      m.decodeErrors.Load(),
		LostEvents:        m.lostEvents.Load(),
		Closes:            m.closes.Load(),
		Alerts:            m.alerts.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		LastSeqNum:        m.lastSeqNum.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.notifications.Store(0)
	m.acks.Store(0)
	m.tradesUpdated.Store(0)
	m.fillsScanned.Store(0)
	m.envelopeErrors.Store(0)
	m.decodeErrors.Store(0)
	m.lostEvents.Store(0)
	m.closes.Store(0)
	m.alerts.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.lastSeqNum.Store(0)
}

var (
	descNotifications  = prometheus.NewDesc("mango_trades_notifications_total", "Account notifications processed.", nil, nil)
	descAcks           = prometheus.NewDesc("mango_trades_acks_total", "Subscription acknowledgements received.", nil, nil)
	descTradesUpdated  = prometheus.NewDesc("mango_trades_updates_total", "Latest trade replacements.", nil, nil)
	descFillsScanned   = prometheus.NewDesc("mango_trades_fills_scanned_total", "Fill events found in scan windows.", nil, nil)
	descEnvelopeErrors = prometheus.NewDesc("mango_trades_envelope_errors_total", "Malformed envelopes.", nil, nil)
	descDecodeErrors   = prometheus.NewDesc("mango_trades_decode_errors_total", "Payloads that failed to decode.", nil, nil)
	descLostEvents     = prometheus.NewDesc("mango_trades_lost_events_total", "Events overwritten before they were observed.", nil, nil)
	descCloses         = prometheus.NewDesc("mango_trades_closes_total", "Subscription closes.", nil, nil)
	descAlerts         = prometheus.NewDesc("mango_trades_alerts_total", "Price alerts fired.", nil, nil)
	descAvgLatency     = prometheus.NewDesc("mango_trades_avg_latency_seconds", "Average notification handling latency.", nil, nil)
	descConnections    = prometheus.NewDesc("mango_trades_active_connections", "Open websocket connections.", nil, nil)
	descLastSeqNum     = prometheus.NewDesc("mango_trades_last_seq_num", "Last observed event queue sequence number.", nil, nil)
)

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- descNotifications
	ch <- descAcks
	ch <- descTradesUpdated
	ch <- descFillsScanned
	ch <- descEnvelopeErrors
	ch <- descDecodeErrors
	ch <- descLostEvents
	ch <- descCloses
	ch <- descAlerts
	ch <- descAvgLatency
	ch <- descConnections
	ch <- descLastSeqNum
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.Snapshot()
	ch <- prometheus.MustNewConstMetric(descNotifications, prometheus.CounterValue, float64(s.Notifications))
	ch <- prometheus.MustNewConstMetric(descAcks, prometheus.CounterValue, float64(s.Acks))
	ch <- prometheus.MustNewConstMetric(descTradesUpdated, prometheus.CounterValue, float64(s.TradesUpdated))
	ch <- prometheus.MustNewConstMetric(descFillsScanned, prometheus.CounterValue, float64(s.FillsScanned))
	ch <- prometheus.MustNewConstMetric(descEnvelopeErrors, prometheus.CounterValue, float64(s.EnvelopeErrors))
	ch <- prometheus.MustNewConstMetric(descDecodeErrors, prometheus.CounterValue, float64(s.DecodeErrors))
	ch <- prometheus.MustNewConstMetric(descLostEvents, prometheus.CounterValue, float64(s.LostEvents))
	ch <- prometheus.MustNewConstMetric(descCloses, prometheus.CounterValue, float64(s.Closes))
	ch <- prometheus.MustNewConstMetric(descAlerts, prometheus.CounterValue, float64(s.Alerts))
	ch <- prometheus.MustNewConstMetric(descAvgLatency, prometheus.GaugeValue, float64(s.AvgLatencyNs)/1e9)
	ch <- prometheus.MustNewConstMetric(descConnections, prometheus.GaugeValue, float64(s.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(descLastSeqNum, prometheus.GaugeValue, float64(s.LastSeqNum))
}

// NewMetricsHandler serves m together with the Go runtime and process
// collectors on a private registry.
func NewMetricsHandler(m *Metrics) (http.Handler, error) {
	if m == nil {
		m = GlobalMetrics
	}
	registry := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		m,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
