package pathexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type stepKind int

const (
	stepField stepKind = iota
	stepWildcard
	stepIndex
)

// step is one segment of a compiled expression.
type step struct {
	kind    stepKind
	names   []string // stepField
	index   int      // stepIndex
	descend bool     // apply at the current node and every node below it
}

type parser struct {
	src string
	pos int
}

func (p *parser) parse() ([]step, error) {
	if p.src == "" {
		return nil, errors.New("empty expression")
	}

	var steps []step
	if p.src[0] == '$' {
		p.pos++
	} else if p.src[0] != '[' {
		// jsonpath-style configs sometimes omit the root: "Foo.bar".
		st, err := p.member(false)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}

	for p.pos < len(p.src) {
		var (
			st  step
			err error
		)
		switch {
		case strings.HasPrefix(p.src[p.pos:], ".."):
			p.pos += 2
			if p.pos < len(p.src) && p.src[p.pos] == '[' {
				st, err = p.bracket(true)
			} else {
				st, err = p.member(true)
			}
		case p.src[p.pos] == '.':
			p.pos++
			if p.pos < len(p.src) && p.src[p.pos] == '[' {
				// "a.[0]", as printed for matched array items.
				st, err = p.bracket(false)
			} else {
				st, err = p.member(false)
			}
		case p.src[p.pos] == '[':
			st, err = p.bracket(false)
		default:
			err = fmt.Errorf("unexpected %q at offset %d", p.src[p.pos], p.pos)
		}
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

// member parses a wildcard or a comma separated list of field names.
func (p *parser) member(descend bool) (step, error) {
	if p.pos < len(p.src) && p.src[p.pos] == '*' {
		p.pos++
		return step{kind: stepWildcard, descend: descend}, nil
	}

	var names []string
	for {
		name, err := p.field()
		if err != nil {
			return step{}, err
		}
		names = append(names, name)
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		return step{kind: stepField, names: names, descend: descend}, nil
	}
}

func (p *parser) field() (string, error) {
	if p.pos >= len(p.src) {
		return "", fmt.Errorf("missing field name at offset %d", p.pos)
	}

	if q := p.src[p.pos]; q == '\'' || q == '"' {
		end := strings.IndexByte(p.src[p.pos+1:], q)
		if end < 0 {
			return "", fmt.Errorf("unterminated quote at offset %d", p.pos)
		}
		name := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return name, nil
	}

	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune(".[,*", rune(p.src[p.pos])) {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("missing field name at offset %d", start)
	}
	return p.src[start:p.pos], nil
}

// bracket parses [*], [n], ['name'] and ["name"].
func (p *parser) bracket(descend bool) (step, error) {
	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return step{}, fmt.Errorf("unterminated bracket at offset %d", p.pos)
	}
	inner := strings.TrimSpace(p.src[p.pos+1 : p.pos+end])
	at := p.pos
	p.pos += end + 1

	switch {
	case inner == "*":
		return step{kind: stepWildcard, descend: descend}, nil
	case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0]:
		return step{kind: stepField, names: []string{inner[1 : len(inner)-1]}, descend: descend}, nil
	}

	i, err := strconv.Atoi(inner)
	if err != nil {
		return step{}, fmt.Errorf("invalid index %q at offset %d", inner, at)
	}
	return step{kind: stepIndex, index: i, descend: descend}, nil
}
