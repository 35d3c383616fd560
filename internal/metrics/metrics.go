package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels forward passes that returned usable scores.
	OutcomeSuccess = "success"
	// OutcomeError labels forward passes lost to classifier failures.
	OutcomeError = "error"
)

var (
	forwardPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delcert",
			Name:      "forward_passes_total",
			Help:      "Total classifier forward batches, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	droppedRepeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "delcert",
			Name:      "dropped_repeats_total",
			Help:      "Noise repeats discarded because their forward batch failed.",
		},
	)

	certificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delcert",
			Name:      "certifications_total",
			Help:      "Certification decisions issued, partitioned by decision.",
		},
		[]string{"decision"},
	)

	estimationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "delcert",
			Name:      "estimation_seconds",
			Help:      "Wall-clock time to estimate one input's score vector.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	calibrationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "delcert",
			Name:      "calibration_seconds",
			Help:      "Wall-clock time of a full threshold calibration run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)

// Register attaches delcert collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		forwardPassesTotal,
		droppedRepeatsTotal,
		certificationsTotal,
		estimationDurationSeconds,
		calibrationDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveForwardPass records one classifier batch outcome.
func ObserveForwardPass(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	forwardPassesTotal.WithLabelValues(label).Inc()
}

// AddDroppedRepeats records repeats lost to a failed forward batch.
func AddDroppedRepeats(n int) {
	if n > 0 {
		droppedRepeatsTotal.Add(float64(n))
	}
}

// ObserveCertification records a decision label.
func ObserveCertification(decision string) {
	certificationsTotal.WithLabelValues(decision).Inc()
}

// ObserveEstimation records the time spent estimating one input.
func ObserveEstimation(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	estimationDurationSeconds.Observe(duration.Seconds())
}

// ObserveCalibration records the time spent on a calibration run.
func ObserveCalibration(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	calibrationDurationSeconds.Observe(duration.Seconds())
}
