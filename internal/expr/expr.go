// Package expr evaluates compound filter expressions such as
//
//	($.request.path = "pki/revoke") && ($.auth.entity_id != "")
//
// against decoded JSON documents. Evaluation never fails: a malformed
// expression or an incomparable operand is a non-match.
package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrSyntax = errors.New("expression syntax error")

// operators are tried in this order; the two-character forms must come first.
var operators = []string{"!=", ">=", "<=", "=", ">", "<"}

// Evaluate reports whether doc satisfies expression. An empty expression
// matches everything.
func Evaluate(expression string, doc map[string]any) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	n, err := parse(expression)
	if err != nil {
		return false
	}
	return n.eval(doc)
}

// Validate checks expression syntax without evaluating it.
func Validate(expression string) error {
	_, err := parse(expression)
	return err
}

// ExtractPath resolves a dotted path ("$.a.b", "a.b" or "$") in doc. Missing
// keys and non-object intermediates yield nil.
func ExtractPath(path string, doc map[string]any) any {
	segments, err := splitPath(path)
	if err != nil {
		return nil
	}
	return lookup(segments, doc)
}

// ParseLiteral converts the right-hand side of a comparison: quoted string,
// integer, float, boolean, else the bare text.
func ParseLiteral(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

type node interface {
	eval(doc map[string]any) bool
}

type matchAll struct{}

func (matchAll) eval(map[string]any) bool { return true }

type orNode struct{ left, right node }

func (n orNode) eval(doc map[string]any) bool { return n.left.eval(doc) || n.right.eval(doc) }

type andNode struct{ left, right node }

func (n andNode) eval(doc map[string]any) bool { return n.left.eval(doc) && n.right.eval(doc) }

type comparison struct {
	path    []string
	op      string
	literal any
}

func (c comparison) eval(doc map[string]any) bool {
	return compare(lookup(c.path, doc), c.op, c.literal)
}

func parse(expression string) (node, error) {
	e := strings.TrimSpace(expression)
	if e == "" {
		return matchAll{}, nil
	}
	return parseNode(e)
}

func parseNode(e string) (node, error) {
	e = stripOuterParens(strings.TrimSpace(e))
	if e == "" {
		return nil, fmt.Errorf("%w: empty operand", ErrSyntax)
	}

	if i := indexTopLevel(e, "||"); i >= 0 {
		left, right, err := parsePair(e[:i], e[i+2:])
		if err != nil {
			return nil, err
		}
		return orNode{left, right}, nil
	}
	if i := indexTopLevel(e, "&&"); i >= 0 {
		left, right, err := parsePair(e[:i], e[i+2:])
		if err != nil {
			return nil, err
		}
		return andNode{left, right}, nil
	}
	return parseComparison(e)
}

func parsePair(l, r string) (node, node, error) {
	left, err := parseNode(l)
	if err != nil {
		return nil, nil, err
	}
	right, err := parseNode(r)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func parseComparison(e string) (node, error) {
	if strings.ContainsAny(e, "()") && indexTopLevel(e, ")") >= 0 {
		return nil, fmt.Errorf("%w: unbalanced parentheses in %q", ErrSyntax, e)
	}
	for _, op := range operators {
		i := indexTopLevel(e, op)
		if i < 0 {
			continue
		}
		lhs := strings.TrimSpace(e[:i])
		rhs := strings.TrimSpace(e[i+len(op):])
		if lhs == "" || rhs == "" {
			return nil, fmt.Errorf("%w: incomplete comparison %q", ErrSyntax, e)
		}
		path, err := splitPath(lhs)
		if err != nil {
			return nil, err
		}
		return comparison{path: path, op: op, literal: ParseLiteral(rhs)}, nil
	}
	return nil, fmt.Errorf("%w: no comparison operator in %q", ErrSyntax, e)
}

// stripOuterParens removes parentheses that enclose the whole of e.
func stripOuterParens(e string) string {
	for len(e) >= 2 && e[0] == '(' && e[len(e)-1] == ')' && closingParen(e) == len(e)-1 {
		e = strings.TrimSpace(e[1 : len(e)-1])
	}
	return e
}

// closingParen returns the index of the parenthesis matching e[0], or -1.
func closingParen(e string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(e); i++ {
		c := e[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// indexTopLevel finds the first occurrence of tok outside quotes and
// parentheses.
func indexTopLevel(e, tok string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(e); i++ {
		c := e[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if depth == 0 && strings.HasPrefix(e[i:], tok) {
			return i
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return -1
}

func splitPath(p string) ([]string, error) {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return nil, nil
	}
	segments := strings.Split(p, ".")
	for _, s := range segments {
		if s == "" || strings.ContainsAny(s, " \t\"'()") {
			return nil, fmt.Errorf("%w: invalid path %q", ErrSyntax, p)
		}
	}
	return segments, nil
}

func lookup(segments []string, doc map[string]any) any {
	var cur any = doc
	for _, s := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[s]
		if !ok {
			return nil
		}
	}
	return cur
}

func compare(value any, op string, literal any) bool {
	switch op {
	case "=":
		return equal(value, literal)
	case "!=":
		return !equal(value, literal)
	}

	if a, ok := toFloat(value); ok {
		b, ok := toFloat(literal)
		if !ok {
			return false
		}
		return ordered(a < b, a > b, op)
	}
	if a, ok := value.(string); ok {
		b, ok := literal.(string)
		if !ok {
			return false
		}
		return ordered(a < b, a > b, op)
	}
	return false
}

func ordered(less, greater bool, op string) bool {
	switch op {
	case "<":
		return less
	case ">":
		return greater
	case "<=":
		return !greater
	case ">=":
		return !less
	}
	return false
}

func equal(value, literal any) bool {
	if a, ok := toFloat(value); ok {
		b, ok := toFloat(literal)
		return ok && a == b
	}
	switch v := value.(type) {
	case string:
		s, ok := literal.(string)
		return ok && v == s
	case bool:
		b, ok := literal.(bool)
		return ok && v == b
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
