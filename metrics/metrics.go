// Package metrics defines the prometheus collectors published by larder.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors for the connection core, schema resolver, change reporter and
// result cache.
var (
	StatementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "larder_statements_total",
		Help: "Cumulative number of SQL statements executed.",
	})
	TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "larder_transactions_total",
		Help: "Cumulative number of transactions by outcome.",
	}, []string{"outcome"})
	MigrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "larder_migrations_total",
		Help: "Cumulative number of schema migrations performed.",
	})
	ChangeEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "larder_change_events_total",
		Help: "Cumulative number of coalesced change events flushed.",
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "larder_cache_hits_total",
		Help: "Cumulative number of result cache hits.",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "larder_cache_misses_total",
		Help: "Cumulative number of result cache misses.",
	})
	CacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "larder_cache_evictions_total",
		Help: "Cumulative number of result cache entries evicted or invalidated.",
	})
)

// MustRegister registers every larder collector with the given registerer.
func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		StatementsTotal,
		TransactionsTotal,
		MigrationsTotal,
		ChangeEventsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
	)
}
