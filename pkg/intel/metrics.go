package intel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threatmesh_ingest_total",
		Help: "Total threat reports submitted for ingestion",
	})
	duplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatmesh_duplicates_total",
		Help: "Reports rejected as duplicates, by detection path",
	}, []string{"kind"})
	correlationEdgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threatmesh_correlation_edges_total",
		Help: "Correlation edges accepted across analysis passes",
	})
	patternFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatmesh_pattern_fires_total",
		Help: "Pattern matches that reached their threshold",
	}, []string{"pattern"})
)
