package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the deal scraper.
type Metrics struct {
	Registry *prometheus.Registry

	FetchTotal       *prometheus.CounterVec
	FetchDuration    prometheus.Histogram
	RetriesTotal     prometheus.Counter
	BlockedTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	IdentityFailures prometheus.Counter
	PoolSize         prometheus.Gauge
	PoolRefreshes    *prometheus.CounterVec

	AdapterRuns     *prometheus.CounterVec
	AdapterListings *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	CycleUnique     prometheus.Gauge

	PersistedTotal *prometheus.CounterVec
	NotifiedTotal  *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscraper_fetch_requests_total",
			Help: "Total fetch attempts by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dealscraper_fetch_duration_seconds",
			Help:    "Latency of individual fetch attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealscraper_fetch_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	blocked := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealscraper_fetch_blocked_total",
			Help: "Responses classified as blocking or anti-bot signals.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscraper_fetch_errors_total",
			Help: "Fetch errors by type.",
		},
		[]string{"error_type"},
	)
	identityFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealscraper_identity_failures_total",
			Help: "Identities marked failed.",
		},
	)
	poolSize := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealscraper_identity_pool_size",
			Help: "Identities currently loaded in the pool.",
		},
	)
	poolRefreshes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscraper_identity_pool_refreshes_total",
			Help: "Pool loads by origin of the resulting identities.",
		},
		[]string{"origin"},
	)
	adapterRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscraper_adapter_runs_total",
			Help: "Adapter invocations by source and result.",
		},
		[]string{"source", "result"},
	)
	adapterListings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscraper_adapter_listings_total",
			Help: "Listings returned by each adapter.",
		},
		[]string{"source"},
	)
	cycleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealscraper_cycle_duration_seconds",
			Help:    "Wall time of orchestration cycles.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"mode"},
	)
	cycleUnique := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealscraper_cycle_unique_listings",
			Help: "Unique listings produced by the last cycle.",
		},
	)
	persisted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscraper_persisted_total",
			Help: "Listings handed to the store by result.",
		},
		[]string{"result"},
	)
	notified := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscraper_notifications_total",
			Help: "Notification deliveries by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		fetchTotal, fetchDuration, retries, blocked, errorsTotal,
		identityFailures, poolSize, poolRefreshes,
		adapterRuns, adapterListings, cycleDuration, cycleUnique,
		persisted, notified,
	)

	return &Metrics{
		Registry:         registry,
		FetchTotal:       fetchTotal,
		FetchDuration:    fetchDuration,
		RetriesTotal:     retries,
		BlockedTotal:     blocked,
		ErrorsTotal:      errorsTotal,
		IdentityFailures: identityFailures,
		PoolSize:         poolSize,
		PoolRefreshes:    poolRefreshes,
		AdapterRuns:      adapterRuns,
		AdapterListings:  adapterListings,
		CycleDuration:    cycleDuration,
		CycleUnique:      cycleUnique,
		PersistedTotal:   persisted,
		NotifiedTotal:    notified,
	}
}

// IncFetch counts one fetch attempt by outcome.
func (m *Metrics) IncFetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the latency of a fetch attempt.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncBlocked increments the blocked responses counter.
func (m *Metrics) IncBlocked() {
	if m == nil {
		return
	}
	m.BlockedTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncIdentityFailure counts an identity marked failed.
func (m *Metrics) IncIdentityFailure() {
	if m == nil {
		return
	}
	m.IdentityFailures.Inc()
}

// SetPoolSize records the current pool size.
func (m *Metrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.PoolSize.Set(float64(n))
}

// IncPoolRefresh counts a pool load labelled by where identities came from.
func (m *Metrics) IncPoolRefresh(origin string) {
	if m == nil {
		return
	}
	m.PoolRefreshes.WithLabelValues(origin).Inc()
}

// ObserveAdapter records one adapter run.
func (m *Metrics) ObserveAdapter(source string, success bool, listings int) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.AdapterRuns.WithLabelValues(source, result).Inc()
	m.AdapterListings.WithLabelValues(source).Add(float64(listings))
}

// ObserveCycle records the duration and unique yield of an orchestration cycle.
func (m *Metrics) ObserveCycle(mode string, d time.Duration, unique int) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.CycleUnique.Set(float64(unique))
}

// IncPersisted counts a store hand-off by result (saved, known, error).
func (m *Metrics) IncPersisted(result string) {
	if m == nil {
		return
	}
	m.PersistedTotal.WithLabelValues(result).Inc()
}

// IncNotified counts a notification delivery by result.
func (m *Metrics) IncNotified(result string) {
	if m == nil {
		return
	}
	m.NotifiedTotal.WithLabelValues(result).Inc()
}
