package block

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "committer"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of L2 blocks received by the block committer.
	BlocksReceived metrics.Counter
	// Number of block commitments handed over to L1.
	BlockSubmissions metrics.Counter
	// Number of block commitments that could not be handed over to L1.
	BlockSubmissionFailures metrics.Counter
	// Number of failed storage writes.
	StorageFailures metrics.Counter
	// Height of the last L2 block submitted to L1.
	LastSubmittedHeight metrics.Gauge `metrics_name:"last_submitted_height"`
	// Height of the last L2 block whose commitment was confirmed on L1.
	LastCommittedHeight metrics.Gauge `metrics_name:"last_committed_height"`
	// Number of times the commit event stream was re-established.
	StreamReconnects metrics.Counter

	// Number of state submissions stored.
	StateSubmissions metrics.Counter
	// Number of state transactions sent.
	StateTxsSubmitted metrics.Counter
	// Number of state transactions confirmed successful.
	StateTxsConfirmed metrics.Counter
	// Number of state transactions that failed or timed out.
	StateTxsReleased metrics.Counter
	// Number of fragments carried per state transaction.
	FragmentsPerTx metrics.Histogram
	// Number of outstanding state transactions.
	PendingStateTxs metrics.Gauge

	// Balance of the committer wallet in gwei.
	WalletBalance metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	counter := func(name, help string) metrics.Counter {
		return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels).With(labelsAndValues...)
	}
	gauge := func(name, help string) metrics.Gauge {
		return prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels).With(labelsAndValues...)
	}
	return &Metrics{
		BlocksReceived:          counter("blocks_received_total", "Number of L2 blocks received by the block committer."),
		BlockSubmissions:        counter("block_submissions_total", "Number of block commitments handed over to L1."),
		BlockSubmissionFailures: counter("block_submission_failures_total", "Number of block commitments that could not be handed over to L1."),
		StorageFailures:         counter("storage_failures_total", "Number of failed storage writes."),
		LastSubmittedHeight:     gauge("last_submitted_height", "Height of the last L2 block submitted to L1."),
		LastCommittedHeight:     gauge("last_committed_height", "Height of the last L2 block confirmed on L1."),
		StreamReconnects:        counter("stream_reconnects_total", "Number of times the commit event stream was re-established."),
		StateSubmissions:        counter("state_submissions_total", "Number of state submissions stored."),
		StateTxsSubmitted:       counter("state_txs_submitted_total", "Number of state transactions sent."),
		StateTxsConfirmed:       counter("state_txs_confirmed_total", "Number of state transactions confirmed successful."),
		StateTxsReleased:        counter("state_txs_released_total", "Number of state transactions that failed or timed out."),
		FragmentsPerTx: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "fragments_per_tx",
			Help:      "Number of fragments carried per state transaction.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6},
		}, labels).With(labelsAndValues...),
		PendingStateTxs: gauge("pending_state_txs", "Number of outstanding state transactions."),
		WalletBalance:   gauge("wallet_balance_gwei", "Balance of the committer wallet in gwei."),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		BlocksReceived:          discard.NewCounter(),
		BlockSubmissions:        discard.NewCounter(),
		BlockSubmissionFailures: discard.NewCounter(),
		StorageFailures:         discard.NewCounter(),
		LastSubmittedHeight:     discard.NewGauge(),
		LastCommittedHeight:     discard.NewGauge(),
		StreamReconnects:        discard.NewCounter(),
		StateSubmissions:        discard.NewCounter(),
		StateTxsSubmitted:       discard.NewCounter(),
		StateTxsConfirmed:       discard.NewCounter(),
		StateTxsReleased:        discard.NewCounter(),
		FragmentsPerTx:          discard.NewHistogram(),
		PendingStateTxs:         discard.NewGauge(),
		WalletBalance:           discard.NewGauge(),
	}
}
