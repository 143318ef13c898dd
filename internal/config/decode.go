package config

import (
	"fmt"

	"github.com/roach88/fxq/internal/ir"
)

func checkKeys(kind string, d map[string]any, allowed ...string) error {
	ok := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		ok[k] = true
	}
	for k := range d {
		if !ok[k] {
			return keyError(kind, k, "unknown key")
		}
	}
	return nil
}

func stringList(kind, key string, v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, keyError(kind, key, "item %d: expected string, got %T", i, item)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, keyError(kind, key, "expected a list of strings, got %T", v)
	}
}

func typeList(kind, key string, v any) ([]ir.ModuleType, error) {
	names, err := stringList(kind, key, v)
	if err != nil || names == nil {
		return nil, err
	}
	out := make([]ir.ModuleType, len(names))
	for i, n := range names {
		out[i] = ir.ModuleType(n)
	}
	return out, nil
}

func intList(kind, key string, v any) ([]int, error) {
	if v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []int:
		return append([]int(nil), list...), nil
	case []any:
		out := make([]int, len(list))
		for i, item := range list {
			n, err := toInt(item)
			if err != nil {
				return nil, keyError(kind, key, "item %d: %v", i, err)
			}
			if n < 0 {
				return nil, keyError(kind, key, "item %d: negative index %d", i, n)
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, keyError(kind, key, "expected a list of integers, got %T", v)
	}
}

// typeMap decodes {from: to} or the nested {"static": {from: to}} form.
func typeMap(kind, key string, v any) (map[ir.ModuleType]ir.ModuleType, error) {
	if v == nil {
		return nil, nil
	}
	switch m := v.(type) {
	case map[ir.ModuleType]ir.ModuleType:
		return copyTypeMap(m), nil
	case map[string]any:
		if inner, ok := m["static"]; ok && len(m) == 1 {
			return typeMap(kind, key, inner)
		}
		out := make(map[ir.ModuleType]ir.ModuleType, len(m))
		for from, raw := range m {
			to, ok := raw.(string)
			if !ok {
				return nil, keyError(kind, key, "%q: expected a type name, got %T", from, raw)
			}
			out[ir.ModuleType(from)] = ir.ModuleType(to)
		}
		return out, nil
	default:
		return nil, keyError(kind, key, "expected a type mapping, got %T", v)
	}
}

func asMap(kind, key string, v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, keyError(kind, key, "expected a mapping, got %T", v)
	}
	return m, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func copyTypeMap(m map[ir.ModuleType]ir.ModuleType) map[ir.ModuleType]ir.ModuleType {
	if m == nil {
		return nil
	}
	out := make(map[ir.ModuleType]ir.ModuleType, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
