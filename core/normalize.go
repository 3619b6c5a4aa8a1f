// Package core provides the fundamental building blocks of the offshore ORM.
// This file implements the criteria normalizer, which turns every accepted
// query shorthand into a canonical *Criteria.
package core

import (
	"sort"
	"strings"
)

// reservedKeys are the top-level keys that make a map a structured criteria
// rather than a bare where clause.
var reservedKeys = map[string]bool{
	"where":   true,
	"sort":    true,
	"limit":   true,
	"skip":    true,
	"select":  true,
	"sum":     true,
	"average": true,
	"min":     true,
	"max":     true,
	"groupBy": true,
}

// Normalize converts raw query input into a canonical *Criteria.
//
// Accepted shapes:
//   - nil: match everything
//   - a scalar: primary key equality
//   - a slice of scalars: primary key IN
//   - a slice of maps: an "or" of where clauses
//   - a map holding reserved keys (where, sort, limit, ...): structured
//     criteria; any other key is moved into the where clause
//   - any other map: a where clause
//   - *Criteria or Criteria: a deep copy
//
// Normalize never mutates its input and is idempotent.
//
// Example:
//
//	crit, err := core.Normalize(map[string]any{
//	    "where": map[string]any{"age": map[string]any{">": 18}},
//	    "sort":  "name desc",
//	    "limit": 10,
//	}, "id")
func Normalize(raw any, primaryKey string) (*Criteria, error) {
	switch t := raw.(type) {
	case nil:
		return &Criteria{Where: Where{}}, nil
	case *Criteria:
		if t == nil {
			return &Criteria{Where: Where{}}, nil
		}
		return normalizeCriteria(t.Clone()), nil
	case Criteria:
		return normalizeCriteria(t.Clone()), nil
	case Where:
		return &Criteria{Where: cloneWhere(t)}, nil
	case bool:
		if !t {
			return &Criteria{MatchNone: true}, nil
		}
		return &Criteria{Where: Where{}}, nil
	}

	crit := &Criteria{}
	if m, ok := asMap(raw); ok {
		if !hasReservedKey(m) {
			crit.Where = cloneWhere(Where(m))
			return crit, nil
		}
		if err := applyStructured(crit, m, primaryKey); err != nil {
			return nil, err
		}
		return crit, nil
	}

	where, none, err := normalizeWhere(raw, primaryKey)
	if err != nil {
		return nil, err
	}
	crit.Where, crit.MatchNone = where, none
	return crit, nil
}

func normalizeCriteria(c *Criteria) *Criteria {
	if c.MatchNone {
		c.Where = nil
	} else if c.Where == nil {
		c.Where = Where{}
	}
	return c
}

func hasReservedKey(m map[string]any) bool {
	for k := range m {
		if reservedKeys[k] {
			return true
		}
	}
	return false
}

// normalizeWhere converts the value of a where clause. The second result is
// true when the value is the literal false.
func normalizeWhere(raw any, primaryKey string) (Where, bool, error) {
	if raw == nil {
		return Where{}, false, nil
	}
	if b, ok := raw.(bool); ok {
		if b {
			return Where{}, false, nil
		}
		return nil, true, nil
	}
	if m, ok := asMap(raw); ok {
		return cloneWhere(Where(m)), false, nil
	}
	if isScalar(raw) {
		return Where{primaryKey: raw}, false, nil
	}
	items, ok := asSlice(raw)
	if !ok {
		return nil, false, usageErrorf("normalize", "unsupported where clause of type %T", raw)
	}
	if len(items) > 0 {
		if _, isMap := asMap(items[0]); isMap {
			or := make([]any, 0, len(items))
			for _, item := range items {
				m, ok := asMap(item)
				if !ok {
					return nil, false, usageErrorf("normalize", "cannot mix where clauses and values in %v", raw)
				}
				or = append(or, cloneValue(m))
			}
			return Where{"or": or}, false, nil
		}
	}
	return Where{primaryKey: cloneValue(items)}, false, nil
}

func applyStructured(crit *Criteria, m map[string]any, primaryKey string) error {
	where, none, err := normalizeWhere(m["where"], primaryKey)
	if err != nil {
		return err
	}
	crit.Where, crit.MatchNone = where, none

	for _, key := range sortedKeys(m) {
		value := m[key]
		switch key {
		case "where":
		case "sort":
			if crit.Sort, err = normalizeSort(value); err != nil {
				return err
			}
		case "limit":
			if crit.Limit, err = normalizeCount("limit", value); err != nil {
				return err
			}
		case "skip":
			if crit.Skip, err = normalizeCount("skip", value); err != nil {
				return err
			}
		case "select":
			if crit.Select, err = normalizeAttributeList("select", value); err != nil {
				return err
			}
		case "sum":
			if crit.Sum, err = normalizeAttributeList(key, value); err != nil {
				return err
			}
		case "average":
			if crit.Average, err = normalizeAttributeList(key, value); err != nil {
				return err
			}
		case "min":
			if crit.Min, err = normalizeAttributeList(key, value); err != nil {
				return err
			}
		case "max":
			if crit.Max, err = normalizeAttributeList(key, value); err != nil {
				return err
			}
		case "groupBy":
			if crit.GroupBy, err = normalizeAttributeList(key, value); err != nil {
				return err
			}
		default:
			if crit.MatchNone {
				continue
			}
			crit.Where[key] = cloneValue(value)
		}
	}
	return nil
}

func normalizeCount(name string, value any) (int, error) {
	if value == nil {
		return 0, nil
	}
	n, ok := toInt(value)
	if !ok || n < 0 {
		return 0, usageErrorf("normalize", "%s must be a non-negative integer, got %v", name, value)
	}
	return n, nil
}

func normalizeAttributeList(name string, value any) ([]string, error) {
	switch t := value.(type) {
	case nil:
		return nil, nil
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	case []string:
		return cloneSlice(t), nil
	}
	items, ok := asSlice(value)
	if !ok {
		return nil, usageErrorf("normalize", "%s must be a list of attribute names, got %T", name, value)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, usageErrorf("normalize", "%s must be a list of attribute names, got %v", name, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// normalizeSort parses every accepted sort shape into ordered keys.
//
// Example:
//
//	normalizeSort("name desc, age")               // name:-1, age:1
//	normalizeSort(map[string]any{"age": "desc"})  // age:-1
func normalizeSort(value any) ([]SortKey, error) {
	var keys []SortKey
	add := func(attr string, dir int) error {
		for _, k := range keys {
			if k.Attribute != attr {
				continue
			}
			if k.Direction != dir {
				return usageErrorf("normalize", "conflicting sort directions for %q", attr)
			}
			return nil
		}
		keys = append(keys, SortKey{Attribute: attr, Direction: dir})
		return nil
	}

	var walk func(v any) error
	walk = func(v any) error {
		switch t := v.(type) {
		case nil:
			return nil
		case SortKey:
			dir, err := sortDirection(t.Direction)
			if err != nil {
				return err
			}
			return add(t.Attribute, dir)
		case []SortKey:
			for _, k := range t {
				if err := walk(k); err != nil {
					return err
				}
			}
			return nil
		case string:
			for _, part := range strings.Split(t, ",") {
				fields := strings.Fields(part)
				switch len(fields) {
				case 0:
					continue
				case 1:
					if err := add(fields[0], 1); err != nil {
						return err
					}
				case 2:
					dir, err := sortDirection(fields[1])
					if err != nil {
						return err
					}
					if err := add(fields[0], dir); err != nil {
						return err
					}
				default:
					return usageErrorf("normalize", "invalid sort clause %q", part)
				}
			}
			return nil
		}
		if m, ok := sortMap(v); ok {
			attrs := make([]string, 0, len(m))
			for k := range m {
				attrs = append(attrs, k)
			}
			sort.Strings(attrs)
			for _, attr := range attrs {
				dir, err := sortDirection(m[attr])
				if err != nil {
					return err
				}
				if err := add(attr, dir); err != nil {
					return err
				}
			}
			return nil
		}
		if items, ok := asSlice(v); ok {
			for _, item := range items {
				if err := walk(item); err != nil {
					return err
				}
			}
			return nil
		}
		return usageErrorf("normalize", "unsupported sort clause of type %T", v)
	}

	if err := walk(value); err != nil {
		return nil, err
	}
	return keys, nil
}

func sortMap(v any) (map[string]any, bool) {
	if m, ok := asMap(v); ok {
		return m, true
	}
	switch t := v.(type) {
	case map[string]int:
		out := make(map[string]any, len(t))
		for k, d := range t {
			out[k] = d
		}
		return out, true
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, d := range t {
			out[k] = d
		}
		return out, true
	}
	return nil, false
}

func sortDirection(v any) (int, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "asc", "1":
			return 1, nil
		case "desc", "-1":
			return -1, nil
		}
		return 0, usageErrorf("normalize", "invalid sort direction %q", s)
	}
	if n, ok := toInt(v); ok && (n == 1 || n == -1) {
		return n, nil
	}
	return 0, usageErrorf("normalize", "invalid sort direction %v", v)
}
