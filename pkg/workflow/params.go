package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

// Param walks nested parameter maps along path.
func (n Node) Param(path ...string) (any, bool) {
	var cur any = n.Parameters
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// StringParam returns the parameter at path if it is a string.
func (n Node) StringParam(path ...string) (string, bool) {
	v, ok := n.Param(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolParam returns the parameter at path if it is a bool.
func (n Node) BoolParam(path ...string) (bool, bool) {
	v, ok := n.Param(path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// IntParam returns the parameter at path as an int. JSON-decoded numbers
// arrive as float64.
func (n Node) IntParam(path ...string) (int, bool) {
	v, ok := n.Param(path...)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	}
	return 0, false
}

// IsExpression reports whether a parameter value is evaluated at run time.
func IsExpression(v string) bool {
	return strings.HasPrefix(v, "=")
}

var (
	expressionBlock = regexp.MustCompile(`\{\{(.*?)\}\}`)
	nodeItemRef     = regexp.MustCompile(`\$\('([^']+)'\)\.item\.json\.([A-Za-z0-9_]+)`)
)

// Lookup resolves a field of a node's output item.
type Lookup func(nodeName, field string) (any, bool)

// Evaluate resolves a parameter value. Plain values are returned as-is;
// expressions support the form ={{ $('Node').item.json.field }}.
func Evaluate(value string, lookup Lookup) (string, error) {
	if !IsExpression(value) {
		return value, nil
	}
	expr := strings.TrimPrefix(value, "=")

	var evalErr error
	out := expressionBlock.ReplaceAllStringFunc(expr, func(block string) string {
		inner := strings.TrimSpace(block[2 : len(block)-2])
		m := nodeItemRef.FindStringSubmatch(inner)
		if m == nil || m[0] != inner {
			evalErr = fmt.Errorf("unsupported expression %q", inner)
			return ""
		}
		v, ok := lookup(m[1], m[2])
		if !ok {
			evalErr = fmt.Errorf("node %q has no output field %q", m[1], m[2])
			return ""
		}
		return fmt.Sprint(v)
	})
	if evalErr != nil {
		return "", evalErr
	}
	return out, nil
}
