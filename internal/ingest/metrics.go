package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodian_records_ingested_total",
		Help: "Total standardized records accepted into custody, by agent.",
	}, []string{"agent_id"})

	blocksAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custodian_blocks_appended_total",
		Help: "Total custody chain blocks appended.",
	})

	platoonEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custodian_platoon_events_total",
		Help: "Total live platoon_detected events emitted by the tracker.",
	})

	anomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custodian_anomalies_total",
		Help: "Total records flagged anomalous by the external classifier.",
	})

	ingestFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodian_ingest_failures_total",
		Help: "Total failed ingest calls by stage.",
	}, []string{"stage"})
)
