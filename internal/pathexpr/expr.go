package pathexpr

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// ErrNotNumeric is returned by Match.Float for values that have no numeric
// reading (objects, arrays, null, non-numeric strings).
var ErrNotNumeric = errors.New("value is not numeric")

// Expr is a compiled path expression. It is immutable and safe for
// concurrent use.
type Expr struct {
	src   string
	steps []step
}

// Match is one value selected by an expression.
type Match struct {
	// Path holds the member names and "[n]" array indexes leading from the
	// evaluated document to Value.
	Path []string

	// Value is the raw JSON of the match. Strings are unquoted but still
	// escaped, as returned by jsonparser.
	Value []byte

	Type jsonparser.ValueType
}

// Compile parses expr.
func Compile(expr string) (*Expr, error) {
	p := parser{src: strings.TrimSpace(expr)}
	steps, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("pathexpr: %q: %w", expr, err)
	}
	return &Expr{src: expr, steps: steps}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Expr {
	e, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text of the expression.
func (e *Expr) String() string { return e.src }

// TopLevelFields returns the member names selected by the first step, i.e.
// the fields of the evaluated document the expression can ever touch. It
// returns nil when the first step is a wildcard, an index or a descent, in
// which case the whole document is needed.
func (e *Expr) TopLevelFields() []string {
	if len(e.steps) == 0 {
		return nil
	}
	first := e.steps[0]
	if first.kind != stepField || first.descend {
		return nil
	}
	out := make([]string, len(first.names))
	copy(out, first.names)
	return out
}

// Find evaluates the expression against doc. Matches are returned in
// document order. A path that does not exist yields no match and no error.
func (e *Expr) Find(doc []byte) ([]Match, error) {
	value, typ, _, err := jsonparser.Get(doc)
	if err != nil {
		return nil, fmt.Errorf("pathexpr: %w", err)
	}

	nodes := []node{{value: value, typ: typ}}
	for _, st := range e.steps {
		var next []node
		for _, n := range nodes {
			if st.descend {
				next, err = descend(n, st, next)
			} else {
				next, err = apply(n, st, next)
			}
			if err != nil {
				return nil, fmt.Errorf("pathexpr: %s: %w", e.src, err)
			}
		}
		nodes = next
		if len(nodes) == 0 {
			return nil, nil
		}
	}

	out := make([]Match, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Match{Path: n.path, Value: n.value, Type: n.typ})
	}
	return out, nil
}

// FullPath joins the match path with dots, e.g. "CpuLoadInfo.cpu_share" or
// "queues.[0].depth".
func (m Match) FullPath() string { return strings.Join(m.Path, ".") }

// Float returns the numeric reading of the value. Booleans read as 1 and 0
// and numeric strings are parsed.
func (m Match) Float() (float64, error) {
	switch m.Type {
	case jsonparser.Number:
		return jsonparser.ParseFloat(m.Value)
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(m.Value)
		if err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(m.Value)
		if err != nil {
			return 0, err
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %v at %q", ErrNotNumeric, m.Type, m.FullPath())
}

// String returns the unescaped text of a string value, or the raw JSON of
// any other value.
func (m Match) String() string {
	if m.Type == jsonparser.String {
		if s, err := jsonparser.ParseString(m.Value); err == nil {
			return s
		}
	}
	return string(m.Value)
}

type node struct {
	path  []string
	value []byte
	typ   jsonparser.ValueType
}

func apply(n node, st step, out []node) ([]node, error) {
	switch st.kind {
	case stepField:
		if n.typ != jsonparser.Object {
			return out, nil
		}
		err := jsonparser.ObjectEach(n.value, func(key, value []byte, typ jsonparser.ValueType, _ int) error {
			k, err := objectKey(key)
			if err != nil {
				return err
			}
			for _, name := range st.names {
				if k == name {
					out = append(out, node{path: childPath(n.path, k), value: value, typ: typ})
					break
				}
			}
			return nil
		})
		return out, err

	case stepWildcard:
		children, err := childrenOf(n)
		return append(out, children...), err

	case stepIndex:
		if n.typ != jsonparser.Array {
			return out, nil
		}
		items, err := childrenOf(n)
		if err != nil {
			return out, err
		}
		i := st.index
		if i < 0 {
			i += len(items)
		}
		if i >= 0 && i < len(items) {
			out = append(out, items[i])
		}
		return out, nil
	}
	return out, fmt.Errorf("unknown step kind %d", st.kind)
}

// descend applies st to n and, recursively, to every node below n.
func descend(n node, st step, out []node) ([]node, error) {
	out, err := apply(n, st, out)
	if err != nil {
		return out, err
	}
	children, err := childrenOf(n)
	if err != nil {
		return out, err
	}
	for _, c := range children {
		if out, err = descend(c, st, out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// childrenOf lists object members and array items of n. Scalars have none.
func childrenOf(n node) ([]node, error) {
	var out []node
	switch n.typ {
	case jsonparser.Object:
		err := jsonparser.ObjectEach(n.value, func(key, value []byte, typ jsonparser.ValueType, _ int) error {
			k, err := objectKey(key)
			if err != nil {
				return err
			}
			out = append(out, node{path: childPath(n.path, k), value: value, typ: typ})
			return nil
		})
		return out, err

	case jsonparser.Array:
		var (
			i       int
			itemErr error
		)
		_, err := jsonparser.ArrayEach(n.value, func(value []byte, typ jsonparser.ValueType, _ int, err error) {
			if err != nil {
				itemErr = err
				return
			}
			out = append(out, node{path: childPath(n.path, "["+strconv.Itoa(i)+"]"), value: value, typ: typ})
			i++
		})
		if err == nil {
			err = itemErr
		}
		return out, err
	}
	return nil, nil
}

// objectKey returns key with its JSON escapes resolved.
func objectKey(key []byte) (string, error) {
	if bytes.IndexByte(key, '\\') < 0 {
		return string(key), nil
	}
	return jsonparser.ParseString(key)
}

func childPath(path []string, seg string) []string {
	p := make([]string, len(path), len(path)+1)
	copy(p, path)
	return append(p, seg)
}
