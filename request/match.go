// File: request/match.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Declarative matching of query string and cookie values against fields with
// constraints and defaults.

package request

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/aahoughton/cowboy/api"
)

// Constraint converts or validates one value. The first constraint of a
// field receives the raw string.
type Constraint func(v any) (any, error)

// Field describes one key to extract.
type Field struct {
	Name        string
	Constraints []Constraint
	def         any
	hasDef      bool
}

// Key declares a field with optional constraints.
func Key(name string, cs ...Constraint) Field {
	return Field{Name: name, Constraints: cs}
}

// Or gives the field a default used when the key is absent. Defaults are
// returned as is and not run through the constraints.
func (f Field) Or(def any) Field {
	f.def = def
	f.hasDef = true
	return f
}

// Int converts the value to an int.
func Int() Constraint {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("int: got %T", v)
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("int: %w", err)
		}
		return n, nil
	}
}

// NonEmpty rejects the empty string.
func NonEmpty() Constraint {
	return func(v any) (any, error) {
		if s, ok := v.(string); ok && s == "" {
			return nil, errors.New("nonempty: empty value")
		}
		return v, nil
	}
}

// OneOf accepts only the listed strings.
func OneOf(allowed ...string) Constraint {
	return func(v any) (any, error) {
		s, _ := v.(string)
		if !slices.Contains(allowed, s) {
			return nil, fmt.Errorf("oneof: %q not allowed", s)
		}
		return v, nil
	}
}

// Func adapts an arbitrary check.
func Func(fn func(v any) (any, error)) Constraint { return fn }

// MatchQS extracts fields from the query string.
func (r Req) MatchQS(fields ...Field) (map[string]any, error) {
	return match(r.ParseQS(), fields)
}

// MatchCookies extracts fields from the request cookies.
func (r Req) MatchCookies(fields ...Field) (map[string]any, error) {
	return match(r.c.cookies, fields)
}

func match(pairs []KV, fields []Field) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		var raw []string
		for _, kv := range pairs {
			if kv.Key == f.Name {
				raw = append(raw, kv.Value)
			}
		}
		if len(raw) == 0 {
			if !f.hasDef {
				return nil, api.WrapError(api.ErrCodeMissing, "match", api.ErrMissingValue).
					WithContext("field", f.Name)
			}
			out[f.Name] = f.def
			continue
		}
		vals := make([]any, 0, len(raw))
		for _, s := range raw {
			v, err := apply(s, f.Constraints)
			if err != nil {
				return nil, api.WrapError(api.ErrCodeConstraint, "match", fmt.Errorf("%w: %v", api.ErrConstraint, err)).
					WithContext("field", f.Name)
			}
			vals = append(vals, v)
		}
		if len(vals) == 1 {
			out[f.Name] = vals[0]
		} else {
			out[f.Name] = vals
		}
	}
	return out, nil
}

func apply(s string, cs []Constraint) (any, error) {
	var v any = s
	for _, c := range cs {
		var err error
		if v, err = c(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}
