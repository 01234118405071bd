// Package binding pairs one metric definition with one discovered UVE
// instance.
//
// A Binding knows which part of the instance document it needs (its cfilt
// items, so the analytics API only returns those fields), the labels every
// series it writes carries (the instance under the type label, plus one
// label per labels_from_path rule) and how to turn a fetched document into
// metric writes:
//
//	doc[uve_module] -> json_path matches -> name, labels -> registry write
//
// With append_field_name the full dotted path of each match is appended to
// the metric name, so one expression fans out into one metric per leaf.
//
// Update errors are fatal configuration defects: a label index outside the
// matched path (ErrLabelIndex), a label-set or kind conflict in the
// registry, or an Enum value outside its declared states. Everything that
// depends on the remote document alone (missing module, malformed JSON,
// non-numeric gauge value) is logged and skipped.
package binding
