package cases

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// boundParams is a parameter set checked against a definition: required
// parameters are present, defaults are applied and every value has its
// declared Go type (string or int).
type boundParams struct {
	values map[string]any
	// supplied records which parameters came from the caller rather than
	// from a default.
	supplied map[string]bool
	// unknown lists caller parameters the definition does not declare.
	unknown []string
}

func (b boundParams) str(name string) string {
	s, _ := b.values[name].(string)
	return s
}

func (b boundParams) integer(name string) int {
	n, _ := b.values[name].(int)
	return n
}

// bindParams validates raw caller parameters against def. A nil value is
// treated as absent.
func bindParams(def Definition, raw map[string]any) (boundParams, error) {
	b := boundParams{
		values:   make(map[string]any, len(def.Params)),
		supplied: make(map[string]bool, len(raw)),
	}

	for _, p := range def.Params {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				return b, validationError(fmt.Sprintf("missing required parameter %q", p.Name), p.Name)
			}
			if p.Default != nil {
				b.values[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerce(p, v)
		if err != nil {
			return b, err
		}
		if s, isStr := coerced.(string); isStr && p.Required && strings.TrimSpace(s) == "" {
			return b, validationError(fmt.Sprintf("parameter %q must not be blank", p.Name), p.Name)
		}
		b.values[p.Name] = coerced
		b.supplied[p.Name] = true
	}

	for name := range raw {
		if _, ok := def.Param(name); !ok {
			b.unknown = append(b.unknown, name)
		}
	}
	return b, nil
}

func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case ParamString:
		switch t := v.(type) {
		case string:
			return t, nil
		case json.Number:
			return t.String(), nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(t), nil
		case int64:
			return strconv.FormatInt(t, 10), nil
		}
		return nil, validationError(fmt.Sprintf("parameter %q must be a string, got %T", p.Name, v), p.Name)

	case ParamInteger:
		switch t := v.(type) {
		case int:
			return t, nil
		case int64:
			return int(t), nil
		case float64:
			if t == math.Trunc(t) && !math.IsInf(t, 0) {
				return int(t), nil
			}
		case json.Number:
			if n, err := strconv.Atoi(t.String()); err == nil {
				return n, nil
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return n, nil
			}
		}
		return nil, validationError(fmt.Sprintf("parameter %q must be an integer, got %v", p.Name, v), p.Name)
	}
	return nil, validationError(fmt.Sprintf("parameter %q has unsupported type %q", p.Name, p.Type), p.Name)
}
