package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricNamespace = "couchup"

// Counters.
var (
	//nolint:gochecknoglobals
	pollTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "poll_ticks_total",
		Help:      "Total number of replication monitor poll ticks.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	databasesReplicatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "databases_replicated_total",
		Help:      "Total number of databases replicated successfully.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	databasesFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "databases_failed_total",
		Help:      "Total number of databases whose replication failed or stalled.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	viewRebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "view_rebuilds_total",
		Help:      "Total number of view rebuilds triggered.",
		Namespace: metricNamespace,
	})
)

// Gauges.
var (
	//nolint:gochecknoglobals
	observedDocCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "observed_doc_count",
		Help:      "Document count observed on the target for the database in flight.",
		Namespace: metricNamespace,
	}, []string{"db"})

	//nolint:gochecknoglobals
	stallStreak = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "stall_streak",
		Help:      "Consecutive polls without doc-count progress for the database in flight.",
		Namespace: metricNamespace,
	}, []string{"db"})
)

// Init initializes and registers the metrics.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: metricNamespace,
	}))

	reg.MustRegister(
		pollTicksTotal,
		databasesReplicatedTotal,
		databasesFailedTotal,
		viewRebuildsTotal,

		observedDocCount,
		stallStreak,
	)
}

// IncPollTick increments the poll tick counter.
func IncPollTick() {
	pollTicksTotal.Inc()
}

// IncDatabasesReplicated increments the replicated databases counter.
func IncDatabasesReplicated() {
	databasesReplicatedTotal.Inc()
}

// IncDatabasesFailed increments the failed databases counter.
func IncDatabasesFailed() {
	databasesFailedTotal.Inc()
}

// IncViewRebuilds increments the triggered view rebuilds counter.
func IncViewRebuilds() {
	viewRebuildsTotal.Inc()
}

// SetObservedDocCount sets the observed target doc count gauge for a database.
func SetObservedDocCount(db string, v int64) {
	observedDocCount.WithLabelValues(db).Set(float64(v))
}

// SetStallStreak sets the stall streak gauge for a database.
func SetStallStreak(db string, v int) {
	stallStreak.WithLabelValues(db).Set(float64(v))
}
