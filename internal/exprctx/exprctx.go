// Package exprctx implements the G-code line sentinels shared by the Feeder
// and the Sender: comment stripping, "%" assignment expressions, and
// "[expr]" inline substitution, against an immutable per-call context
// snapshot. translate has no I/O and is safe to unit test in isolation.
package exprctx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Context is an immutable snapshot of identifiers visible to expression
// substitution: axis positions, modal words, bounding box, user globals.
type Context map[string]any

// Clone returns a shallow copy of c.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

var bracketExpr = regexp.MustCompile(`\[([^\[\]]+)\]`)

// Result is the outcome of translating a single feeder/sender line.
type Result struct {
	// Line is the line to transmit. Empty means nothing should be emitted.
	Line string
	// NewContext is the context after any "%" assignment, to be used for
	// subsequent lines.
	NewContext Context
	// IsAssignment is true when the input line was a pure "%name=expr"
	// assignment: no data is emitted, but the poll is still consumed.
	IsAssignment bool
	// IsWait is true when the line was the "%wait" sentinel.
	IsWait bool
}

// Translate strips comments, evaluates "%" assignments, and substitutes
// "[expr]" references against ctx. It never mutates ctx; it returns the
// context to use afterward.
func Translate(line string, ctx Context) (Result, error) {
	trimmed := strings.TrimSpace(line)

	if trimmed == "" {
		return Result{NewContext: ctx}, nil
	}
	if strings.HasPrefix(trimmed, ";") {
		return Result{NewContext: ctx}, nil
	}
	if trimmed == "%wait" {
		return Result{Line: "G4 P0.5", NewContext: ctx, IsWait: true}, nil
	}
	if strings.HasPrefix(trimmed, "%") {
		name, expr, ok := strings.Cut(trimmed[1:], "=")
		if !ok {
			return Result{NewContext: ctx}, nil
		}
		val, err := evalExpr(strings.TrimSpace(expr), ctx)
		if err != nil {
			return Result{}, fmt.Errorf("exprctx: assignment %q: %w", trimmed, err)
		}
		next := ctx.Clone()
		next[strings.TrimSpace(name)] = val
		return Result{NewContext: next, IsAssignment: true}, nil
	}

	// Strip inline "; ..." comments.
	if i := strings.Index(trimmed, ";"); i >= 0 {
		trimmed = strings.TrimSpace(trimmed[:i])
	}
	if trimmed == "" {
		return Result{NewContext: ctx}, nil
	}

	out, err := substituteBrackets(trimmed, ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Line: out, NewContext: ctx}, nil
}

func substituteBrackets(line string, ctx Context) (string, error) {
	var outerErr error
	out := bracketExpr.ReplaceAllStringFunc(line, func(m string) string {
		inner := m[1 : len(m)-1]
		v, err := evalExpr(inner, ctx)
		if err != nil {
			outerErr = err
			return m
		}
		return formatValue(v)
	})
	if outerErr != nil {
		return "", fmt.Errorf("exprctx: substitute %q: %w", line, outerErr)
	}
	return out, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// evalExpr evaluates a tiny expression grammar: a bare identifier lookup, a
// numeric literal, or "a op b" with +, -, *, / over identifiers/literals.
// This is intentionally not a full G-code interpreter — only enough to
// resolve the substitutions the Feeder/Sender sentinels require.
func evalExpr(expr string, ctx Context) (any, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range []string{"+", "-", "*", "/"} {
		if i := strings.Index(expr[1:], op); i >= 0 { // skip leading sign
			left, right := expr[:i+1], expr[i+2:]
			lv, err := evalOperand(left, ctx)
			if err != nil {
				return nil, err
			}
			rv, err := evalOperand(right, ctx)
			if err != nil {
				return nil, err
			}
			switch op {
			case "+":
				return lv + rv, nil
			case "-":
				return lv - rv, nil
			case "*":
				return lv * rv, nil
			case "/":
				if rv == 0 {
					return nil, fmt.Errorf("division by zero in %q", expr)
				}
				return lv / rv, nil
			}
		}
	}
	return evalOperand(expr, ctx)
}

func evalOperand(s string, ctx Context) (float64, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	v, ok := ctx[s]
	if !ok {
		return 0, fmt.Errorf("undefined identifier %q", s)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("identifier %q is not numeric", s)
	}
}
