package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamdb_store_reads_total",
		Help: "Record point reads served, by bucket.",
	}, []string{"bucket"})

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamdb_store_writes_total",
		Help: "Record writes (including index maintenance), by bucket.",
	}, []string{"bucket"})

	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamdb_store_deletes_total",
		Help: "Record deletions, by bucket.",
	}, []string{"bucket"})

	fetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamdb_store_batch_keys_total",
		Help: "Keys requested through the batch fetch facility, by bucket.",
	}, []string{"bucket"})
)
