package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sources supplies live engine values sampled at scrape time. Nil fields are
// not exported.
type Sources struct {
	Sessions         func() int
	EventLog         func() int
	ActiveAlerts     func() int
	BotDetectionRate func() float64
	ResponseTime     func() time.Duration
	StreamClients    func() int
	Shipper          func() (shipped, dropped, failed int64)
}

// RuntimeCollector exports engine state as gauges and counters.
type RuntimeCollector struct {
	src Sources

	sessions      *prometheus.Desc
	eventLog      *prometheus.Desc
	activeAlerts  *prometheus.Desc
	detectionRate *prometheus.Desc
	responseTime  *prometheus.Desc
	streamClients *prometheus.Desc
	shipped       *prometheus.Desc
}

// NewRuntimeCollector builds a collector over src. Register it with
// prometheus.MustRegister.
func NewRuntimeCollector(src Sources) *RuntimeCollector {
	return &RuntimeCollector{
		src:           src,
		sessions:      prometheus.NewDesc(namespace+"_tracked_sessions", "Sessions with behavior data in memory.", nil, nil),
		eventLog:      prometheus.NewDesc(namespace+"_event_log_size", "Security events held in the in-memory log.", nil, nil),
		activeAlerts:  prometheus.NewDesc(namespace+"_active_alerts", "Alerts that are neither resolved nor auto-resolved.", nil, nil),
		detectionRate: prometheus.NewDesc(namespace+"_bot_detection_rate_percent", "Share of classifications flagged as bots.", nil, nil),
		responseTime:  prometheus.NewDesc(namespace+"_event_processing_seconds", "Average time to log a security event.", nil, nil),
		streamClients: prometheus.NewDesc(namespace+"_stream_clients", "Connected live stream clients.", nil, nil),
		shipped:       prometheus.NewDesc(namespace+"_shipper_messages_total", "Broker messages by result.", []string{"result"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *RuntimeCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *RuntimeCollector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, fn func() int) {
		if fn != nil {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(fn()))
		}
	}
	gauge(c.sessions, c.src.Sessions)
	gauge(c.eventLog, c.src.EventLog)
	gauge(c.activeAlerts, c.src.ActiveAlerts)
	gauge(c.streamClients, c.src.StreamClients)

	if c.src.BotDetectionRate != nil {
		ch <- prometheus.MustNewConstMetric(c.detectionRate, prometheus.GaugeValue, c.src.BotDetectionRate())
	}
	if c.src.ResponseTime != nil {
		ch <- prometheus.MustNewConstMetric(c.responseTime, prometheus.GaugeValue, c.src.ResponseTime().Seconds())
	}
	if c.src.Shipper != nil {
		shipped, dropped, failed := c.src.Shipper()
		ch <- prometheus.MustNewConstMetric(c.shipped, prometheus.CounterValue, float64(shipped), "shipped")
		ch <- prometheus.MustNewConstMetric(c.shipped, prometheus.CounterValue, float64(dropped), "dropped")
		ch <- prometheus.MustNewConstMetric(c.shipped, prometheus.CounterValue, float64(failed), "failed")
	}
}
