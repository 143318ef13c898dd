package qconfig

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Keys of the legacy dictionary form of a policy mapping.
const (
	KeyGlobal                    = ""
	KeyObjectType                = "object_type"
	KeyModuleName                = "module_name"
	KeyModuleNameRegex           = "module_name_regex"
	KeyModuleNameObjectTypeOrder = "module_name_object_type_order"
)

var deprecationOnce sync.Once

// Normalize turns any accepted policy-mapping argument into a *Mapping.
//
// Accepted: nil (empty mapping), *Mapping (returned as is), Mapping, and
// the legacy map[string]any form. The legacy form logs a deprecation
// warning the first time it is seen in the process.
func Normalize(v any, logger *slog.Logger) (*Mapping, error) {
	switch val := v.(type) {
	case nil:
		return NewMapping(), nil
	case *Mapping:
		if val == nil {
			return NewMapping(), nil
		}
		return val, nil
	case Mapping:
		return val.Clone(), nil
	case map[string]any:
		if logger == nil {
			logger = slog.Default()
		}
		deprecationOnce.Do(func() {
			logger.Warn("passing a policy mapping as a map is deprecated; build a qconfig.Mapping instead",
				"keys", sortedKeys(val))
		})
		return FromMap(val)
	default:
		return nil, fmt.Errorf("unsupported policy mapping type %T", v)
	}
}

// FromMap builds a Mapping from the legacy dictionary form:
//
//	"":                            policy
//	object_type:                   [[type, policy], ...]
//	module_name:                   [[name, policy], ...]
//	module_name_regex:             [[pattern, policy], ...]
//	module_name_object_type_order: [[name, type, index, policy], ...]
//
// A policy is null, a preset name, or a map with name, activation, weight
// and dynamic keys.
func FromMap(d map[string]any) (*Mapping, error) {
	m := NewMapping()
	for key := range d {
		switch key {
		case KeyGlobal, KeyObjectType, KeyModuleName, KeyModuleNameRegex, KeyModuleNameObjectTypeOrder:
		default:
			return nil, fmt.Errorf("unknown policy mapping key %q", key)
		}
	}

	if raw, ok := d[KeyGlobal]; ok {
		p, err := PolicyFromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("global: %w", err)
		}
		m.SetGlobal(p)
	}

	pairs := []struct {
		key string
		set func(string, *Policy)
	}{
		{KeyObjectType, func(k string, p *Policy) { m.SetObjectType(k, p) }},
		{KeyModuleNameRegex, func(k string, p *Policy) { m.SetModuleNameRegex(k, p) }},
		{KeyModuleName, func(k string, p *Policy) { m.SetModuleName(k, p) }},
	}
	for _, pair := range pairs {
		entries, err := tuples(d, pair.key, 2)
		if err != nil {
			return nil, err
		}
		for i, e := range entries {
			k, ok := e[0].(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: expected string key, got %T", pair.key, i, e[0])
			}
			p, err := PolicyFromAny(e[1])
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", pair.key, i, err)
			}
			pair.set(k, p)
		}
	}

	entries, err := tuples(d, KeyModuleNameObjectTypeOrder, 4)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		name, ok1 := e[0].(string)
		typ, ok2 := e[1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%s[%d]: name and type must be strings", KeyModuleNameObjectTypeOrder, i)
		}
		idx, err := toInt(e[2])
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", KeyModuleNameObjectTypeOrder, i, err)
		}
		p, err := PolicyFromAny(e[3])
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", KeyModuleNameObjectTypeOrder, i, err)
		}
		m.SetModuleNameObjectTypeOrder(name, typ, idx, p)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ToMap renders m in the legacy dictionary form. FromMap(m.ToMap())
// resolves every query exactly as m does.
func (m *Mapping) ToMap() map[string]any {
	d := map[string]any{}
	if m == nil {
		return d
	}
	if m.hasGlobal {
		d[KeyGlobal] = policyToAny(m.global)
	}
	if len(m.objectType) > 0 {
		list := make([]any, len(m.objectType))
		for i, e := range m.objectType {
			list[i] = []any{e.typ, policyToAny(e.policy)}
		}
		d[KeyObjectType] = list
	}
	if len(m.names) > 0 {
		list := make([]any, len(m.names))
		for i, e := range m.names {
			list[i] = []any{e.name, policyToAny(e.policy)}
		}
		d[KeyModuleName] = list
	}
	if len(m.regexes) > 0 {
		list := make([]any, len(m.regexes))
		for i, e := range m.regexes {
			list[i] = []any{e.pattern, policyToAny(e.policy)}
		}
		d[KeyModuleNameRegex] = list
	}
	if len(m.order) > 0 {
		list := make([]any, len(m.order))
		for i, e := range m.order {
			list[i] = []any{e.name, e.typ, e.index, policyToAny(e.policy)}
		}
		d[KeyModuleNameObjectTypeOrder] = list
	}
	return d
}

// PolicyFromAny decodes a policy from null, a preset name, or a map.
func PolicyFromAny(v any) (*Policy, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *Policy:
		return val, nil
	case string:
		p, ok := Preset(val)
		if !ok {
			return nil, fmt.Errorf("unknown policy preset %q (known: %v)", val, PresetNames())
		}
		return p, nil
	case map[string]any:
		p := &Policy{Activation: QUInt8, Weight: QInt8}
		for k, raw := range val {
			switch k {
			case "name":
				s, ok := raw.(string)
				if !ok {
					return nil, fmt.Errorf("policy name: expected string, got %T", raw)
				}
				p.Name = s
			case "activation", "weight":
				s, ok := raw.(string)
				if !ok {
					return nil, fmt.Errorf("policy %s: expected string, got %T", k, raw)
				}
				if k == "activation" {
					p.Activation = DType(s)
				} else {
					p.Weight = DType(s)
				}
			case "dynamic":
				b, ok := raw.(bool)
				if !ok {
					return nil, fmt.Errorf("policy dynamic: expected bool, got %T", raw)
				}
				p.Dynamic = b
			default:
				return nil, fmt.Errorf("unknown policy field %q", k)
			}
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported policy value %T", v)
	}
}

func policyToAny(p *Policy) any {
	if p == nil {
		return nil
	}
	if preset, ok := Preset(p.Name); ok && *preset == *p {
		return p.Name
	}
	out := map[string]any{
		"activation": string(p.Activation),
		"weight":     string(p.Weight),
	}
	if p.Name != "" {
		out["name"] = p.Name
	}
	if p.Dynamic {
		out["dynamic"] = true
	}
	return out
}

// tuples reads d[key] as a list of fixed-length lists.
func tuples(d map[string]any, key string, width int) ([][]any, error) {
	raw, ok := d[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list, got %T", key, raw)
	}
	out := make([][]any, len(list))
	for i, item := range list {
		tuple, ok := item.([]any)
		if !ok || len(tuple) != width {
			return nil, fmt.Errorf("%s[%d]: expected a list of %d items", key, i, width)
		}
		out[i] = tuple
	}
	return out, nil
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

func sortedKeys(d map[string]any) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
