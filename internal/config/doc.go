// Package config loads and watches the exporter configuration file.
//
// Top-level types:
//   - Config{Analytics, Prometheus, Scraper, Logging, Metrics}
//   - AnalyticsConfig: host, base_url, auth (none|token|basic), tls
//   - ScraperConfig: max_retry, timeout, pool_size, interval
//   - Metric: one metric definition: name, type (Gauge|Enum), desc, kwargs,
//     uve_type, uve_module, uve_instances, json_path, append_field_name,
//     labels_from_path
//
// Load(path) reads the YAML file, applies defaults (/analytics/uves, port
// 8080, prefix "tungsten", 3 retries, 1s timeout, pool of 10, 60s interval,
// INFO), then validates every field and reports all problems at once.
// Durations accept integer seconds or duration strings. Validation also
// resolves each metric's Type into the closed Kind variant and compiles its
// json_path, so nothing is looked up by name at scrape time.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config.
package config
