package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DeliveriesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxrelay_deliveries_total",
		Help: "Webhook deliveries received, labelled by source and outcome.",
	}, []string{"source", "outcome"})

	SignatureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxrelay_signature_failures_total",
		Help: "Deliveries rejected by signature verification, labelled by source and reason.",
	}, []string{"source", "reason"})

	DuplicatesSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxrelay_duplicates_suppressed_total",
		Help: "Deliveries acknowledged without processing because the dedup key was already seen.",
	}, []string{"source"})

	RetriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxrelay_retries_scheduled_total",
		Help: "Failed attempts handed back to the retry scheduler.",
	})

	RetriesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxrelay_retries_pending",
		Help: "Processing attempts currently waiting for their next retry.",
	})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxrelay_dead_letters_total",
		Help: "Events dead-lettered, labelled by error kind.",
	}, []string{"kind"})

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxrelay_classifications_total",
		Help: "Classification results, labelled by producing path and category.",
	}, []string{"source", "category"})

	InvoiceLinesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxrelay_invoice_lines_written_total",
		Help: "Normalized invoice lines accepted by the sink.",
	})

	DedupEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxrelay_dedup_evictions_total",
		Help: "Live dedup keys dropped from the in-memory store because of its capacity bound.",
	})

	RulesetReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxrelay_ruleset_reloads_total",
		Help: "Successful ruleset reloads since startup.",
	})

	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taxrelay_pipeline_duration_ms",
		Help:    "Route-to-sink latency in milliseconds, labelled by event type.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"event_type"})
)

// Handler exposes the default registry for gin.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
