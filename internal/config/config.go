package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"

	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/pathexpr"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBaseURL          = "/analytics/uves"
	DefaultPort             = 8080
	DefaultMetricNamePrefix = "tungsten"
	DefaultMaxRetry         = 3
	DefaultTimeout          = 1 * time.Second
	DefaultPoolSize         = 10
	DefaultInterval         = 60 * time.Second
	DefaultLogLevel         = "INFO"
	DefaultAuthHeader       = "X-Auth-Token"
)

var (
	hostPattern    = regexp.MustCompile(`^https?://`)
	baseURLPattern = regexp.MustCompile(`^/`)
)

// Config is the top-level exporter configuration.
type Config struct {
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    []Metric         `yaml:"metrics"`
}

// AnalyticsConfig locates the analytics API.
type AnalyticsConfig struct {
	// Host is scheme://host[:port] of the analytics API, without path.
	Host string `yaml:"host"`

	// BaseURL is the path of the UVE tree, e.g. /analytics/uves.
	BaseURL string `yaml:"base_url"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies how requests to the analytics API authenticate.
type AuthConfig struct {
	// Mode is one of: none | token | basic.
	Mode string `yaml:"mode"`

	// Token fields: used when Mode == "token".
	// Header is the HTTP header carrying the token (X-Auth-Token by default).
	Header string `yaml:"header"`
	// TokenEnv is the name of the environment variable that holds the token.
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields: used when Mode == "basic".
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Token returns the token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options for an https analytics host.
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file"`
}

// PrometheusConfig controls the exposition side.
type PrometheusConfig struct {
	Port             int    `yaml:"port"`
	MetricNamePrefix string `yaml:"metric_name_prefix"`
}

// ScraperConfig controls polling.
type ScraperConfig struct {
	// MaxRetry is the number of transport-level retries per fetch.
	MaxRetry int `yaml:"max_retry"`

	// Timeout bounds each fetch attempt.
	Timeout Duration `yaml:"timeout"`

	// PoolSize is the maximum number of in-flight requests.
	PoolSize int `yaml:"pool_size"`

	// Interval is the delay between two polls of the same URL.
	Interval Duration `yaml:"interval"`
}

// LoggingConfig controls the process log level.
type LoggingConfig struct {
	// Level is one of: DEBUG | INFO | WARNING | ERROR.
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level. Unknown levels map to Info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToUpper(l.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Kind is the metric kind a definition produces, resolved from Metric.Type
// during validation.
type Kind int

const (
	KindGauge Kind = iota
	KindEnum
)

func (k Kind) String() string {
	if k == KindEnum {
		return "Enum"
	}
	return "Gauge"
}

// Metric is one metric definition.
type Metric struct {
	Name string `yaml:"name"`

	// Type is Gauge or Enum.
	Type string `yaml:"type"`

	// Kind is resolved from Type by Load.
	Kind Kind `yaml:"-"`

	Desc    string  `yaml:"desc"`
	Options Options `yaml:"kwargs"`

	UVEType   string `yaml:"uve_type"`
	UVEModule string `yaml:"uve_module"`

	// UVEInstances restricts scraping to these instances. Empty means all.
	UVEInstances []string `yaml:"uve_instances"`

	JSONPath string `yaml:"json_path"`

	// AppendFieldName suffixes the metric name with the matched path, so a
	// single expression can yield one metric per matched leaf. Defaults to true.
	AppendFieldName bool `yaml:"append_field_name"`

	// LabelsFromPath maps a label name to the index of the matched path
	// segment that provides its value. Negative indexes count from the end.
	LabelsFromPath map[string]int `yaml:"labels_from_path"`
}

// UnmarshalYAML applies per-item defaults, which yaml.v3 cannot do for
// slice elements on its own.
func (m *Metric) UnmarshalYAML(value *yaml.Node) error {
	type plain Metric
	p := plain{AppendFieldName: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = Metric(p)
	return nil
}

// Options are the kind-specific construction options of a metric.
type Options struct {
	// States lists the allowed values of an Enum.
	States []string `yaml:"states"`

	// ConstLabels are attached to every series of the metric.
	ConstLabels map[string]string `yaml:"const_labels"`
}

// PathLabel is one entry of Metric.LabelsFromPath.
type PathLabel struct {
	Name  string
	Index int
}

// TypeLabel is the label carrying the instance name: the UVE type with
// dashes replaced, e.g. analytics-node -> analytics_node.
func (m Metric) TypeLabel() string {
	return strings.ReplaceAll(m.UVEType, "-", "_")
}

// PathLabels returns LabelsFromPath sorted by label name.
func (m Metric) PathLabels() []PathLabel {
	out := make([]PathLabel, 0, len(m.LabelsFromPath))
	for name, idx := range m.LabelsFromPath {
		out = append(out, PathLabel{Name: name, Index: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Analytics: AnalyticsConfig{
			BaseURL: DefaultBaseURL,
			Auth:    AuthConfig{Mode: "none", Header: DefaultAuthHeader},
		},
		Prometheus: PrometheusConfig{
			Port:             DefaultPort,
			MetricNamePrefix: DefaultMetricNamePrefix,
		},
		Scraper: ScraperConfig{
			MaxRetry: DefaultMaxRetry,
			Timeout:  Duration(DefaultTimeout),
			PoolSize: DefaultPoolSize,
			Interval: Duration(DefaultInterval),
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
	}
}

// validate checks required fields and structural constraints, resolves
// metric kinds and reports every problem found.
func validate(cfg *Config) error {
	var errs *multierror.Error
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if !hostPattern.MatchString(cfg.Analytics.Host) {
		fail("analytics.host %q must start with http:// or https://", cfg.Analytics.Host)
	}
	if !baseURLPattern.MatchString(cfg.Analytics.BaseURL) {
		fail("analytics.base_url %q must start with /", cfg.Analytics.BaseURL)
	}
	cfg.Analytics.BaseURL = strings.TrimRight(cfg.Analytics.BaseURL, "/")
	switch cfg.Analytics.Auth.Mode {
	case "none", "", "token", "basic":
	default:
		fail("analytics.auth.mode: unknown mode %q", cfg.Analytics.Auth.Mode)
	}

	if cfg.Prometheus.Port <= 0 || cfg.Prometheus.Port > 65535 {
		fail("prometheus.port %d out of range", cfg.Prometheus.Port)
	}
	if p := cfg.Prometheus.MetricNamePrefix; p != "" && !model.IsValidMetricName(model.LabelValue(p)) {
		fail("prometheus.metric_name_prefix %q is not a valid metric name", p)
	}

	if cfg.Scraper.MaxRetry < 0 {
		fail("scraper.max_retry must not be negative")
	}
	if cfg.Scraper.Timeout <= 0 {
		fail("scraper.timeout must be positive")
	}
	if cfg.Scraper.PoolSize <= 0 {
		fail("scraper.pool_size must be positive")
	}
	if cfg.Scraper.Interval <= 0 {
		fail("scraper.interval must be positive")
	}

	switch strings.ToUpper(cfg.Logging.Level) {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		fail("logging.level: unknown level %q", cfg.Logging.Level)
	}

	for i := range cfg.Metrics {
		for _, err := range validateMetric(&cfg.Metrics[i]) {
			errs = multierror.Append(errs, fmt.Errorf("metrics[%d] %q: %w", i, cfg.Metrics[i].Name, err))
		}
	}
	return errs.ErrorOrNil()
}

func validateMetric(m *Metric) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if m.Name == "" {
		fail("name is required")
	}
	if m.UVEType == "" {
		fail("uve_type is required")
	}
	if m.UVEModule == "" {
		fail("uve_module is required")
	}
	if _, err := pathexpr.Compile(m.JSONPath); err != nil {
		fail("json_path: %w", err)
	}

	switch m.Type {
	case "Gauge":
		m.Kind = KindGauge
		if len(m.Options.States) > 0 {
			fail("kwargs.states is only valid for Enum")
		}
	case "Enum":
		m.Kind = KindEnum
		if len(m.Options.States) == 0 {
			fail("Enum requires kwargs.states")
		}
		seen := make(map[string]bool, len(m.Options.States))
		for _, s := range m.Options.States {
			if seen[s] {
				fail("kwargs.states: duplicate state %q", s)
			}
			seen[s] = true
		}
	default:
		fail("unknown type %q, want Gauge or Enum", m.Type)
	}

	if m.UVEType != "" && !model.LabelName(m.TypeLabel()).IsValid() {
		fail("uve_type %q does not make a valid label name", m.UVEType)
	}
	for name := range m.LabelsFromPath {
		if !model.LabelName(name).IsValid() || strings.HasPrefix(name, "__") {
			fail("labels_from_path: invalid label name %q", name)
		}
		if name == m.TypeLabel() {
			fail("labels_from_path: label %q collides with the instance label", name)
		}
	}
	for name := range m.Options.ConstLabels {
		if !model.LabelName(name).IsValid() {
			fail("kwargs.const_labels: invalid label name %q", name)
		}
		if name == m.TypeLabel() || slices.ContainsFunc(m.PathLabels(), func(l PathLabel) bool { return l.Name == name }) {
			fail("kwargs.const_labels: label %q is already used", name)
		}
	}
	return errs
}
