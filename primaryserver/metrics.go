package primaryserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzleminer_server_jobs_submitted_total",
		Help: "Extraction jobs accepted into the queue",
	})

	resultsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzleminer_server_results_received_total",
		Help: "Results reported by workers",
	})

	puzzlesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzleminer_server_puzzles_stored_total",
		Help: "Puzzles persisted from worker results",
	})

	jobsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzleminer_server_jobs_requeued_total",
		Help: "Jobs queued again after their worker lease expired",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "puzzleminer_server_queue_depth",
		Help: "Jobs waiting for a worker",
	})
)
