package observability

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
)

const namespace = "stafftools"

var (
	punishmentsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punishments_issued_total",
			Help:      "Punishments written to the store",
		},
		[]string{"type"},
	)

	punishmentsRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punishments_removed_total",
			Help:      "Punishments deactivated, by cause",
		},
		[]string{"type", "cause"},
	)

	duplicateIssuances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punishments_duplicate_total",
			Help:      "Issue requests rejected because the account already had an active punishment of the type",
		},
		[]string{"type"},
	)

	activePunishments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "punishments_active",
			Help:      "Punishments currently held in the active-state cache",
		},
		[]string{"type"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent in engine operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	sideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Failed calls to external enforcement collaborators",
		},
		[]string{"collaborator"},
	)

	registerOnce sync.Once
	registerErr  error
)

// Register adds the collectors to reg once. Later calls return the first result.
func Register(reg prometheus.Registerer) error {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			punishmentsIssued,
			punishmentsRemoved,
			duplicateIssuances,
			activePunishments,
			operationDuration,
			sideEffectFailures,
		} {
			if err := reg.Register(c); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

// InitTracing installs an SDK tracer provider and returns its shutdown func.
func InitTracing() func(ctx context.Context) error {
	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

func RecordIssued(punishmentType string) {
	punishmentsIssued.WithLabelValues(punishmentType).Inc()
}

func RecordRemoved(punishmentType, cause string) {
	punishmentsRemoved.WithLabelValues(punishmentType, cause).Inc()
}

func RecordDuplicate(punishmentType string) {
	duplicateIssuances.WithLabelValues(punishmentType).Inc()
}

func SetActive(punishmentType string, n int) {
	activePunishments.WithLabelValues(punishmentType).Set(float64(n))
}

func RecordSideEffectFailure(collaborator string) {
	sideEffectFailures.WithLabelValues(collaborator).Inc()
}

// StartOperation returns a function that records the operation duration with its final status.
func StartOperation(operation string) func(status string) {
	start := time.Now()
	return func(status string) {
		operationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	}
}
