package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bootmedia_ingests_started_total",
		Help: "Ingestion jobs accepted, by transfer mode.",
	}, []string{"mode"})

	ingestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bootmedia_ingests_completed_total",
		Help: "Ingestion jobs that reached a verified artifact, by transfer mode.",
	}, []string{"mode"})

	ingestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bootmedia_ingests_failed_total",
		Help: "Ingestion jobs that ended in error, by transfer mode.",
	}, []string{"mode"})

	bytesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bootmedia_ingest_bytes_total",
		Help: "Bytes written to final asset storage.",
	})
)

const (
	modeUpload   = "upload"
	modeDownload = "download"
)
