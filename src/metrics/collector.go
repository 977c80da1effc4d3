// Package metrics exports connection statistics to Prometheus.
package metrics

import (
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "realtime"

// Collector reads a connection's Stats and State on every scrape.
type Collector struct {
	conn types.Connection

	up               *prometheus.Desc
	uptime           *prometheus.Desc
	messagesSent     *prometheus.Desc
	messagesReceived *prometheus.Desc
	bytesSent        *prometheus.Desc
	bytesReceived    *prometheus.Desc
	errors           *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector labelled connection=name.
func NewCollector(name string, conn types.Connection) *Collector {
	labels := prometheus.Labels{"connection": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "connection", metric), help, nil, labels)
	}
	return &Collector{
		conn:             conn,
		up:               desc("up", "Whether the connection is connected (1) or not (0)."),
		uptime:           desc("uptime_seconds", "Seconds since the current session connected."),
		messagesSent:     desc("messages_sent_total", "Frames written to the connection."),
		messagesReceived: desc("messages_received_total", "Frames read from the connection."),
		bytesSent:        desc("bytes_sent_total", "Payload bytes written to the connection."),
		bytesReceived:    desc("bytes_received_total", "Payload bytes read from the connection."),
		errors:           desc("errors_total", "Transport errors observed on the connection."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.uptime
	ch <- c.messagesSent
	ch <- c.messagesReceived
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.errors
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.conn.Stats()
	up := 0.0
	if c.conn.State().Connected() {
		up = 1
	}

	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, stats.Uptime.Seconds())
	ch <- prometheus.MustNewConstMetric(c.messagesSent, prometheus.CounterValue, float64(stats.MessagesSent))
	ch <- prometheus.MustNewConstMetric(c.messagesReceived, prometheus.CounterValue, float64(stats.MessagesReceived))
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(stats.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(stats.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(stats.Errors))
}
