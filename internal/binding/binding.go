package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/config"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/pathexpr"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/registry"
)

// ErrLabelIndex means a labels_from_path index points outside the matched path.
var ErrLabelIndex = errors.New("label index out of range")

// Target locates the analytics API and names the exported metrics.
type Target struct {
	Host    string
	BaseURL string
	Prefix  string
}

// TargetFromConfig returns the Target described by cfg.
func TargetFromConfig(cfg *config.Config) Target {
	return Target{
		Host:    strings.TrimRight(cfg.Analytics.Host, "/"),
		BaseURL: cfg.Analytics.BaseURL,
		Prefix:  cfg.Prometheus.MetricNamePrefix,
	}
}

// Binding is one metric definition bound to one instance.
type Binding struct {
	def      config.Metric
	instance string
	target   Target
	expr     *pathexpr.Expr
	reg      *registry.Registry
	kind     registry.Kind
	logger   *slog.Logger

	typeLabel  string
	pathLabels []config.PathLabel
	labelNames []string

	mu      sync.Mutex
	closed  bool
	written []*registry.Metric
}

// New binds def to instance. def must have passed config validation.
func New(def config.Metric, instance string, target Target, reg *registry.Registry, logger *slog.Logger) (*Binding, error) {
	expr, err := pathexpr.Compile(def.JSONPath)
	if err != nil {
		return nil, fmt.Errorf("binding: %s: %w", def.Name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Binding{
		def:        def,
		instance:   instance,
		target:     target,
		expr:       expr,
		reg:        reg,
		kind:       kindOf(def.Kind),
		typeLabel:  def.TypeLabel(),
		pathLabels: def.PathLabels(),
		logger:     logger.With("type", def.UVEType, "instance", instance, "metric", def.Name),
	}
	b.labelNames = append(b.labelNames, b.typeLabel)
	for _, pl := range b.pathLabels {
		b.labelNames = append(b.labelNames, pl.Name)
	}
	return b, nil
}

func kindOf(k config.Kind) registry.Kind {
	if k == config.KindEnum {
		return registry.Enumeration
	}
	return registry.Gauge
}

// Instance returns the bound instance name.
func (b *Binding) Instance() string { return b.instance }

// Definition returns the bound metric definition.
func (b *Binding) Definition() config.Metric { return b.def }

// Filters returns the cfilt items this binding needs: module:field for each
// field the expression starts with, or the bare module when the expression
// does not start with fixed fields.
func (b *Binding) Filters() []string {
	fields := b.expr.TopLevelFields()
	if len(fields) == 0 {
		return []string{b.def.UVEModule}
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, b.def.UVEModule+":"+f)
	}
	return out
}

// URL returns the instance URL filtered down to this binding's fields.
func (b *Binding) URL() string {
	return InstanceURL(b.target, b.def.UVEType, b.instance, []*Binding{b})
}

// BaseLabels returns the type label set to the instance name plus an empty
// placeholder for every labels_from_path rule.
func (b *Binding) BaseLabels() prometheus.Labels {
	labels := make(prometheus.Labels, len(b.labelNames))
	labels[b.typeLabel] = b.instance
	for _, pl := range b.pathLabels {
		labels[pl.Name] = ""
	}
	return labels
}

// MetricName returns the name written for a match at path.
func (b *Binding) MetricName(path []string) string {
	name := b.def.Name
	if b.target.Prefix != "" {
		name = b.target.Prefix + "_" + name
	}
	if b.def.AppendFieldName && len(path) > 0 {
		name += "_" + strings.Join(path, ".")
	}
	return name
}

// Update evaluates the binding against one fetched instance document.
func (b *Binding) Update(doc []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	module, typ, _, err := jsonparser.Get(doc, b.def.UVEModule)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) || typ == jsonparser.Null {
		b.logger.Warn("binding: module not found in document", "module", b.def.UVEModule)
		return nil
	}
	if err != nil {
		b.logger.Warn("binding: malformed document", "err", err)
		return nil
	}

	matches, err := b.expr.Find(module)
	if err != nil {
		b.logger.Warn("binding: evaluate path", "path", b.expr.String(), "err", err)
		return nil
	}
	if len(matches) == 0 {
		b.logger.Debug("binding: no match", "path", b.expr.String())
	}

	for _, m := range matches {
		if err := b.write(m); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binding) write(m pathexpr.Match) error {
	labels := b.BaseLabels()
	for _, pl := range b.pathLabels {
		idx := pl.Index
		if idx < 0 {
			idx += len(m.Path)
		}
		if idx < 0 || idx >= len(m.Path) {
			return fmt.Errorf("binding: %s: label %q index %d on path %q: %w",
				b.def.Name, pl.Name, pl.Index, m.FullPath(), ErrLabelIndex)
		}
		labels[pl.Name] = m.Path[idx]
	}

	metric, err := b.reg.GetOrCreate(registry.Spec{
		Name:        b.MetricName(m.Path),
		Help:        b.def.Desc,
		Kind:        b.kind,
		LabelNames:  b.labelNames,
		States:      b.def.Options.States,
		ConstLabels: prometheus.Labels(b.def.Options.ConstLabels),
	})
	if err != nil {
		return fmt.Errorf("binding: %s: %w", b.def.Name, err)
	}
	b.remember(metric)

	switch b.kind {
	case registry.Enumeration:
		if err := metric.SetState(labels, m.String()); err != nil {
			return fmt.Errorf("binding: %s: %w", b.def.Name, err)
		}
	default:
		v, err := m.Float()
		if err != nil {
			b.logger.Warn("binding: skipping value", "path", m.FullPath(), "err", err)
			return nil
		}
		if err := metric.Set(labels, v); err != nil {
			return fmt.Errorf("binding: %s: %w", b.def.Name, err)
		}
	}
	return nil
}

func (b *Binding) remember(m *registry.Metric) {
	if !slices.Contains(b.written, m) {
		b.written = append(b.written, m)
	}
}

// Close stops the binding and removes the series it wrote for its instance.
// Metrics stay registered. Update is a no-op after Close.
func (b *Binding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	match := prometheus.Labels{b.typeLabel: b.instance}
	removed := 0
	for _, m := range b.written {
		removed += m.DeleteMatching(match)
	}
	b.written = nil
	b.logger.Debug("binding: closed", "series_removed", removed)
}

// InstanceURL returns the fetch URL of instance with the union of the
// bindings' filters as cfilt. A bare module filter covers every module:field
// filter of the same module.
func InstanceURL(target Target, uveType, instance string, bindings []*Binding) string {
	whole := make(map[string]bool)
	var filters []string
	for _, b := range bindings {
		for _, f := range b.Filters() {
			if !strings.Contains(f, ":") {
				whole[f] = true
			}
			filters = append(filters, f)
		}
	}

	sort.Strings(filters)
	filters = slices.Compact(filters)
	filters = slices.DeleteFunc(filters, func(f string) bool {
		module, _, ok := strings.Cut(f, ":")
		return ok && whole[module]
	})

	u := fmt.Sprintf("%s%s/%s/%s", target.Host, target.BaseURL, uveType, url.PathEscape(instance))
	if len(filters) == 0 {
		return u
	}
	return u + "?flat&cfilt=" + strings.Join(filters, ",")
}
