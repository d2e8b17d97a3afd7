// SPDX-License-Identifier: GPL-2.0-or-later

package rowcache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arnegray/rowcache/internal/rdb"
)

// Metrics is a prometheus.Collector exposing identity-map size alongside
// the statement-cache hit/miss counters and live gauge rdb.Collector
// already tracks,
// in the same Describe/Collect shape used throughout the dependency
// graph for a hand-rolled counter set.
type Metrics struct {
	conn     *Connection
	inner    *rdb.Collector
	cacheLen *prometheus.Desc
}

// NewMetrics builds a Metrics collector bound to conn.
func NewMetrics(conn *Connection) *Metrics {
	return &Metrics{
		conn:  conn,
		inner: rdb.NewCollector(conn.Connection),
		cacheLen: prometheus.NewDesc(
			"rowcache_identity_map_objects",
			"Total number of objects currently cached across all identity maps on this connection",
			nil, nil,
		),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.inner.Describe(ch)
	ch <- m.cacheLen
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.inner.Collect(ch)

	var total int
	for _, im := range m.conn.maps {
		total += im.Len()
	}
	ch <- prometheus.MustNewConstMetric(m.cacheLen, prometheus.GaugeValue, float64(total))
}
