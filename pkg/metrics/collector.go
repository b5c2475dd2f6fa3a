// Package metrics exposes counters for the raw TCP engine as Prometheus
// metrics, mirroring the tally of {send, recv, erecv, retry, cksumfail}
// events the engine keeps internally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "rawget"

// Collector holds the registered Prometheus counters for one rawconn
// flow. There are no labels: this stack only ever drives one connection
// at a time, so a label set would just be overhead.
type Collector struct {
	// Send counts segments handed to the raw socket (excluding retries).
	Send prometheus.Counter

	// Recv counts receive attempts made by the receive primitive, one per
	// frame read or read timeout.
	Recv prometheus.Counter

	// ERecv counts segments that passed every ingress filter and
	// checksum check — "effective" receives, as opposed to Recv's tally
	// of every receive attempt (including ones that time out, get
	// filtered, or fail a checksum).
	ERecv prometheus.Counter

	// Retry counts retransmissions of last_sent_frame, regardless of
	// trigger (idle timeout, IPv4 checksum failure, TCP checksum failure).
	Retry prometheus.Counter

	// CksumFail counts inbound segments dropped for a bad TCP checksum.
	// A bad IPv4 header checksum triggers a retry but is not counted here.
	CksumFail prometheus.Counter
}

// NewCollector creates a Collector with all counters registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newCounters()

	reg.MustRegister(c.Send, c.Recv, c.ERecv, c.Retry, c.CksumFail)

	return c
}

func newCounters() *Collector {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	return &Collector{
		Send:      counter("send_total", "Segments transmitted, excluding retries."),
		Recv:      counter("recv_total", "Receive attempts made by the receive primitive."),
		ERecv:     counter("erecv_total", "Segments that passed every ingress filter and checksum check."),
		Retry:     counter("retry_total", "Retransmissions of the last sent frame."),
		CksumFail: counter("cksumfail_total", "Inbound segments dropped for a bad checksum."),
	}
}

// Snapshot is a point-in-time read of every counter, used to render the
// dump_metrics() summary without re-querying Prometheus internals on
// every field access.
type Snapshot struct {
	Send      float64
	Recv      float64
	ERecv     float64
	Retry     float64
	CksumFail float64
}

// Snapshot reads the current value of every counter.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Send:      readCounter(c.Send),
		Recv:      readCounter(c.Recv),
		ERecv:     readCounter(c.ERecv),
		Retry:     readCounter(c.Retry),
		CksumFail: readCounter(c.CksumFail),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
