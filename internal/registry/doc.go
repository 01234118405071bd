// Package registry is the process-wide cache of exported metric objects,
// keyed by metric name.
//
// GetOrCreate is the only mutator. The first call for a name builds the
// Prometheus collector and registers it; later calls return the same
// Metric. A name is bound for the life of the process to one kind and one
// label-name set: asking for it with another set (or kind) is a
// configuration conflict reported as ErrLabelConflict (ErrKindConflict).
//
// Two kinds exist. Gauge holds any float. Enumeration is a gauge family
// with one extra label, named after the metric, that carries the state:
// the current state reads 1 and every other declared state reads 0. Writing a state outside the declared set is
// ErrInvalidState.
//
// Entries are never removed. Series of an instance that disappears can be
// dropped with Metric.DeleteMatching.
package registry
