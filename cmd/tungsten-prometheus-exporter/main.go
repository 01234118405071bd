package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/collector"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/config"
)

func main() {
	app := kingpin.New("tungsten-prometheus-exporter", "Exports Tungsten Fabric analytics UVEs as Prometheus metrics.")
	configPath := app.Flag("config", "Path to the config file.").
		Envar("TUNGSTEN_PROMETHEUS_EXPORTER_CONFIG").
		Default("config.yaml").
		String()
	listenAddr := app.Flag("web.listen-address", "Address to expose metrics on. Overrides prometheus.port.").
		String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("tungsten-prometheus-exporter starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Logging.SlogLevel())
	slog.Info("config loaded",
		"analytics", cfg.Analytics.Host+cfg.Analytics.BaseURL,
		"metrics", len(cfg.Metrics),
		"interval", cfg.Scraper.Interval,
		"pool_size", cfg.Scraper.PoolSize,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := collector.New(cfg, reg, collector.WithLogger(logger))
	if err != nil {
		slog.Error("failed to build collector", "err", err)
		os.Exit(1)
	}

	addr := *listenAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Prometheus.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	{
		cctx, ccancel := context.WithCancel(ctx)
		g.Add(func() error {
			if err := c.Run(cctx); err != nil {
				return err
			}
			// With no metrics configured the exporter idles and keeps
			// serving its own metrics.
			<-cctx.Done()
			return nil
		}, func(error) {
			ccancel()
		})
	}
	{
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Add(func() error {
			slog.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		})
	}
	{
		// Hot-reload applies the logging level only; scrape settings and
		// metric definitions are read once at startup.
		wctx, wcancel := context.WithCancel(ctx)
		g.Add(func() error {
			err := config.Watch(wctx, *configPath, func(updated *config.Config) {
				level.Set(updated.Logging.SlogLevel())
				slog.Info("config hot-reloaded, restart to apply changes other than logging.level",
					"level", updated.Logging.SlogLevel())
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
			<-wctx.Done()
			return nil
		}, func(error) {
			wcancel()
		})
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		slog.Info("tungsten-prometheus-exporter shutting down", "signal", sig.Signal)
		return
	}
	if err != nil {
		slog.Error("tungsten-prometheus-exporter stopped", "err", err)
		os.Exit(1)
	}
}
