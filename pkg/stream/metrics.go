package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activitiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamdb_activities_created_total",
		Help: "Activities created through the gateway.",
	})

	objectsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamdb_objects_created_total",
		Help: "Objects created directly through the gateway.",
	})

	reactionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamdb_reactions_created_total",
		Help: "Replies and likes created, by verb.",
	}, []string{"verb"})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamdb_save_rollbacks_total",
		Help: "Nested-object save sequences that were compensated after a failure.",
	})
)
