// SPDX-License-Identifier: GPL-2.0-or-later

package rdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Connection's statement-cache hit/miss counters as
// a prometheus.Collector, in the same Describe/Collect shape used
// elsewhere in the dependency graph for a single hand-rolled counter.
type Collector struct {
	conn *Connection

	hitDesc  *prometheus.Desc
	missDesc *prometheus.Desc
	liveDesc *prometheus.Desc
}

// NewCollector builds a Collector bound to conn.
func NewCollector(conn *Connection) *Collector {
	return &Collector{
		conn: conn,
		hitDesc: prometheus.NewDesc(
			"rowcache_statement_cache_hits_total",
			"Number of Lease calls that reused an already-prepared Statement",
			nil, nil,
		),
		missDesc: prometheus.NewDesc(
			"rowcache_statement_cache_misses_total",
			"Number of Lease calls that had to prepare a new Statement",
			nil, nil,
		),
		liveDesc: prometheus.NewDesc(
			"rowcache_statement_cache_live",
			"Number of Statement instances currently held by the cache",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hitDesc
	ch <- c.missDesc
	ch <- c.liveDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	hits, misses := c.conn.stmts.Stats()
	ch <- prometheus.MustNewConstMetric(c.hitDesc, prometheus.CounterValue, float64(hits))
	ch <- prometheus.MustNewConstMetric(c.missDesc, prometheus.CounterValue, float64(misses))
	ch <- prometheus.MustNewConstMetric(c.liveDesc, prometheus.GaugeValue, float64(c.conn.stmts.Len()))
}
