package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// solveRequests counts solve calls by outcome: "ok", "rejected"
	// (bad input), or "error".
	solveRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "room_matcher_solve_requests_total",
		Help: "Solve requests by outcome",
	}, []string{"status"})

	// solveDuration records wall time spent sampling and selecting
	// per solve request.
	solveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "room_matcher_solve_duration_seconds",
		Help:    "Time spent sampling and selecting per solve request",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// samplesGenerated counts candidate pairings generated across all
	// solve requests.
	samplesGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "room_matcher_samples_generated_total",
		Help: "Candidate pairings generated",
	})

	// roomsAssigned counts rooms returned to clients.
	roomsAssigned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "room_matcher_rooms_assigned_total",
		Help: "Rooms returned to clients",
	})
)

func init() {
	prometheus.MustRegister(
		solveRequests,
		solveDuration,
		samplesGenerated,
		roomsAssigned,
	)
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
