package services

import "github.com/prometheus/client_golang/prometheus"

var (
	recordsIngestedCounter    prometheus.Counter
	recordsSkippedCounter     prometheus.Counter
	batchesCommittedCounter   prometheus.Counter
	batchesFailedCounter      prometheus.Counter
	newAuthorsCounter         prometheus.Counter
	institutionsSeededCounter prometheus.Counter
	flushDuration             prometheus.Histogram
)

func init() {
	recordsIngestedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_records_total",
		Help: "Total number of work records handed to a batch.",
	})
	recordsSkippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_records_skipped_total",
		Help: "Total number of malformed work records skipped before normalization.",
	})
	batchesCommittedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_batches_committed_total",
		Help: "Total number of committed ingest batches.",
	})
	batchesFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_batches_failed_total",
		Help: "Total number of ingest batches that were rolled back.",
	})
	newAuthorsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_new_authors_total",
		Help: "Total number of authors that were not catalogued before their batch.",
	})
	institutionsSeededCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "institutions_seeded_total",
		Help: "Total number of institutions written by the seeding job.",
	})
	flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_batch_duration_seconds",
		Help:    "Duration of one batch transaction (resolve, normalize, flush).",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	prometheus.MustRegister(
		recordsIngestedCounter,
		recordsSkippedCounter,
		batchesCommittedCounter,
		batchesFailedCounter,
		newAuthorsCounter,
		institutionsSeededCounter,
		flushDuration,
	)
}
