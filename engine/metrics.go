package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzleminer_engine_jobs_started_total",
		Help: "Engine searches started by the scheduler",
	})

	// jobsFinished counts jobs by outcome: done, force_cleared, cancelled, failed
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "puzzleminer_engine_jobs_finished_total",
		Help: "Scheduler jobs finished by outcome",
	}, []string{"outcome"})

	staleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzleminer_engine_stale_events_total",
		Help: "Engine events discarded because their job is no longer active",
	})

	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "puzzleminer_engine_cache_requests_total",
		Help: "Evaluation cache lookups by result",
	}, []string{"result"})
)
