package collector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/binding"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/config"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/registry"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/scraper"
)

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// WithFetcher replaces the HTTP session built from the config.
func WithFetcher(f scraper.Fetcher) Option {
	return func(c *Collector) { c.fetcher = f }
}

// WithClock sets the clock tasks sleep on.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Collector) { c.clock = clock }
}

// Collector runs one Reconciler per configured UVE type over a shared
// pool, session and metric registry.
type Collector struct {
	logger  *slog.Logger
	fetcher scraper.Fetcher
	clock   clockwork.Clock

	metrics     *scraper.Metrics
	pool        *scraper.Pool
	registry    *registry.Registry
	reconcilers []*Reconciler
}

// New builds a Collector for cfg. Exported and self metrics are registered
// on reg.
func New(cfg *config.Config, reg prometheus.Registerer, opts ...Option) (*Collector, error) {
	c := &Collector{
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.metrics = scraper.NewMetrics(reg)
	if c.fetcher == nil {
		session, err := scraper.NewSession(cfg, c.metrics)
		if err != nil {
			return nil, fmt.Errorf("collector: %w", err)
		}
		c.fetcher = session
	}
	c.pool = scraper.NewPool(cfg.Scraper.PoolSize, c.metrics)
	c.registry = registry.New(reg)

	env := scraper.Env{
		Pool:    c.pool,
		Fetcher: c.fetcher,
		Clock:   c.clock,
		Logger:  c.logger,
	}
	target := binding.TargetFromConfig(cfg)

	var types []string
	byType := make(map[string][]config.Metric)
	for _, def := range cfg.Metrics {
		if _, ok := byType[def.UVEType]; !ok {
			types = append(types, def.UVEType)
		}
		byType[def.UVEType] = append(byType[def.UVEType], def)
	}
	for _, t := range types {
		c.reconcilers = append(c.reconcilers,
			NewReconciler(t, byType[t], target, cfg.Scraper.Interval.Std(), c.registry, env))
	}
	return c, nil
}

// Registry returns the registry of exported metrics.
func (c *Collector) Registry() *registry.Registry { return c.registry }

// Reconcilers returns one Reconciler per UVE type, in configuration order.
func (c *Collector) Reconcilers() []*Reconciler { return c.reconcilers }

// Run starts discovery for every type and blocks until ctx is cancelled or
// a task fails fatally. On return the pool is closed and every task has
// exited. Run returns nil on cancellation. It must be called once.
func (c *Collector) Run(ctx context.Context) error {
	defer c.pool.Close()
	if len(c.reconcilers) == 0 {
		c.logger.Warn("collector: no metrics configured, nothing to scrape")
		return nil
	}

	g := scraper.NewGroup(ctx)
	stop := context.AfterFunc(g.Context(), c.pool.Close)
	defer stop()

	for _, r := range c.reconcilers {
		r.Start(g)
	}
	c.logger.Info("collector: started", "types", len(c.reconcilers))

	if err := g.Wait(); err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	c.logger.Info("collector: stopped")
	return nil
}
