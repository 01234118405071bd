package scraper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the exporter's own scrape metrics.
type Metrics struct {
	// Retries counts transport-level retries issued by the session.
	Retries prometheus.Counter

	// Errors counts fetches that failed after retries, including non-2xx.
	Errors prometheus.Counter

	FetchDuration prometheus.Summary

	// PoolSize is the number of scrapes waiting for a slot or running.
	PoolSize prometheus.Gauge
}

// NewMetrics creates the scrape metrics and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "scrape_retries_count",
			Help: "Retries count when scraping",
		}),
		Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "scrape_errors_count",
			Help: "Errors count when scraping",
		}),
		FetchDuration: f.NewSummary(prometheus.SummaryOpts{
			Name: "scrape_fetch_seconds",
			Help: "Time spent fetching UVEs from the analytics API",
		}),
		PoolSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "scrape_pool_size",
			Help: "Scrapes to be run or running",
		}),
	}
}
