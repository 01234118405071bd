package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	// ErrLabelConflict means a metric name was requested with a label-name
	// set different from the one it was created with.
	ErrLabelConflict = errors.New("label names conflict with existing metric")

	// ErrKindConflict means a metric name was requested with another kind.
	ErrKindConflict = errors.New("kind conflicts with existing metric")

	// ErrInvalidState means an Enumeration was given a value outside its states.
	ErrInvalidState = errors.New("value is not a declared state")
)

// Kind is the closed set of metric kinds a definition can produce.
type Kind int

const (
	Gauge Kind = iota
	Enumeration
)

func (k Kind) String() string {
	switch k {
	case Gauge:
		return "Gauge"
	case Enumeration:
		return "Enum"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Spec describes a metric to look up or create.
type Spec struct {
	Name        string
	Help        string
	Kind        Kind
	LabelNames  []string
	States      []string // Enumeration only
	ConstLabels prometheus.Labels
}

// Registry maps metric names to metrics. It is safe for concurrent use.
type Registry struct {
	reg prometheus.Registerer

	mu      sync.Mutex
	metrics map[string]*Metric
}

// New returns an empty Registry that registers the metrics it creates on reg.
func New(reg prometheus.Registerer) *Registry {
	return &Registry{
		reg:     reg,
		metrics: make(map[string]*Metric),
	}
}

// GetOrCreate returns the metric named spec.Name, creating and registering
// it on first use.
func (r *Registry) GetOrCreate(spec Spec) (*Metric, error) {
	labels := sortedCopy(spec.LabelNames)

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[spec.Name]; ok {
		if !slices.Equal(m.labelNames, labels) {
			return nil, fmt.Errorf("registry: %q with labels %v, created with %v: %w",
				spec.Name, labels, m.labelNames, ErrLabelConflict)
		}
		if m.kind != spec.Kind {
			return nil, fmt.Errorf("registry: %q as %s, created as %s: %w",
				spec.Name, spec.Kind, m.kind, ErrKindConflict)
		}
		return m, nil
	}

	m, err := newMetric(spec, labels)
	if err != nil {
		return nil, err
	}
	if err := r.reg.Register(m.vec); err != nil {
		return nil, fmt.Errorf("registry: register %q: %w", spec.Name, err)
	}
	r.metrics[spec.Name] = m
	return m, nil
}

// Get returns the metric named name, if it has been created.
func (r *Registry) Get(name string) (*Metric, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[name]
	return m, ok
}

// Len returns the number of metrics created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.metrics)
}

// Names returns the created metric names in lexical order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Metric is one registered metric family.
type Metric struct {
	name       string
	kind       Kind
	labelNames []string // sorted
	states     []string
	vec        *prometheus.GaugeVec
}

func newMetric(spec Spec, labels []string) (*Metric, error) {
	help := spec.Help
	if help == "" {
		help = spec.Name
	}
	opts := prometheus.GaugeOpts{Name: spec.Name, Help: help, ConstLabels: spec.ConstLabels}

	m := &Metric{name: spec.Name, kind: spec.Kind, labelNames: labels}
	switch spec.Kind {
	case Gauge:
		m.vec = prometheus.NewGaugeVec(opts, labels)
	case Enumeration:
		if len(spec.States) == 0 {
			return nil, fmt.Errorf("registry: enumeration %q has no states", spec.Name)
		}
		if slices.Contains(labels, spec.Name) {
			return nil, fmt.Errorf("registry: enumeration %q cannot use its own name as a label", spec.Name)
		}
		m.states = slices.Clone(spec.States)
		m.vec = prometheus.NewGaugeVec(opts, append(slices.Clone(labels), spec.Name))
	default:
		return nil, fmt.Errorf("registry: %q: unknown kind %s", spec.Name, spec.Kind)
	}
	return m, nil
}

// Name returns the exposition name of the metric.
func (m *Metric) Name() string { return m.name }

// Kind returns the metric kind.
func (m *Metric) Kind() Kind { return m.kind }

// LabelNames returns the label names of the metric, sorted.
func (m *Metric) LabelNames() []string { return slices.Clone(m.labelNames) }

// States returns the declared states of an Enumeration.
func (m *Metric) States() []string { return slices.Clone(m.states) }

// Set writes a Gauge value for the given labels.
func (m *Metric) Set(labels prometheus.Labels, v float64) error {
	if m.kind != Gauge {
		return fmt.Errorf("registry: %q is an %s, not a Gauge: %w", m.name, m.kind, ErrKindConflict)
	}
	g, err := m.vec.GetMetricWith(labels)
	if err != nil {
		return fmt.Errorf("registry: %q: %w", m.name, err)
	}
	g.Set(v)
	return nil
}

// SetState moves an Enumeration to state for the given labels.
func (m *Metric) SetState(labels prometheus.Labels, state string) error {
	if m.kind != Enumeration {
		return fmt.Errorf("registry: %q is a %s, not an Enum: %w", m.name, m.kind, ErrKindConflict)
	}
	if !slices.Contains(m.states, state) {
		return fmt.Errorf("registry: %q: %q not in %v: %w", m.name, state, m.states, ErrInvalidState)
	}
	for _, s := range m.states {
		g, err := m.vec.GetMetricWith(withLabel(labels, m.name, s))
		if err != nil {
			return fmt.Errorf("registry: %q: %w", m.name, err)
		}
		if s == state {
			g.Set(1)
		} else {
			g.Set(0)
		}
	}
	return nil
}

// Value reads back the Gauge value for labels. Like every vec lookup it
// creates the series at 0 if it does not exist yet.
func (m *Metric) Value(labels prometheus.Labels) (float64, error) {
	if m.kind != Gauge {
		return 0, fmt.Errorf("registry: %q is an %s, not a Gauge: %w", m.name, m.kind, ErrKindConflict)
	}
	g, err := m.vec.GetMetricWith(labels)
	if err != nil {
		return 0, fmt.Errorf("registry: %q: %w", m.name, err)
	}
	var pb dto.Metric
	if err := g.Write(&pb); err != nil {
		return 0, err
	}
	return pb.GetGauge().GetValue(), nil
}

// State reads back the current state of an Enumeration for labels. It
// returns "" if no state has been set, creating the series at 0.
func (m *Metric) State(labels prometheus.Labels) (string, error) {
	if m.kind != Enumeration {
		return "", fmt.Errorf("registry: %q is a %s, not an Enum: %w", m.name, m.kind, ErrKindConflict)
	}
	for _, s := range m.states {
		g, err := m.vec.GetMetricWith(withLabel(labels, m.name, s))
		if err != nil {
			return "", fmt.Errorf("registry: %q: %w", m.name, err)
		}
		var pb dto.Metric
		if err := g.Write(&pb); err != nil {
			return "", err
		}
		if pb.GetGauge().GetValue() == 1 {
			return s, nil
		}
	}
	return "", nil
}

// DeleteMatching removes every series whose labels contain match and
// returns how many were removed.
func (m *Metric) DeleteMatching(match prometheus.Labels) int {
	return m.vec.DeletePartialMatch(match)
}

func withLabel(labels prometheus.Labels, name, value string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[name] = value
	return out
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	sort.Strings(out)
	return out
}
