// Package core provides the fundamental building blocks of the offshore ORM.
// This file implements the canonical criteria serialization used for cache
// keys and the criteria merge used by population.
package core

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

type undefined struct{}

// Undefined marks an absent value. It serializes as "undefined", distinct
// from nil ("null").
var Undefined = undefined{}

// Serialize renders v as a deterministic string.
//
// Slices render their elements sorted, so sets compare equal regardless of
// order; maps render their keys sorted as 'key':value pairs. Two deep-equal
// values always serialize identically.
//
// Example:
//
//	core.Serialize(map[string]any{"b": []any{2, 1}, "a": "x"})
//	// {'a':x,'b':[1,2]}
func Serialize(v any) string {
	switch t := v.(type) {
	case undefined:
		return "undefined"
	case nil:
		return "null"
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *Criteria:
		if t == nil {
			return "null"
		}
		return Serialize(t.toMap())
	case *Join:
		if t == nil {
			return "null"
		}
		return Serialize(t.toMap())
	}
	if n, ok := formatNumber(v); ok {
		return n
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return "null"
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}

	switch rv.Kind() {
	case reflect.Func:
		return "fct()"
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
		return Serialize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = Serialize(rv.Index(i).Interface())
		}
		sort.Strings(parts)
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.Map:
		if rv.Len() == 0 {
			return "{}"
		}
		entries := make(map[string]string, rv.Len())
		keys := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := Serialize(iter.Key().Interface())
			entries[k] = Serialize(iter.Value().Interface())
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for _, k := range keys {
			b.WriteString("'" + k + "':" + entries[k] + ",")
		}
		out := b.String()
		return out[:len(out)-1] + "}"
	}
	return fmt.Sprint(v)
}

// Merge combines source into a copy of destination.
//
// When both carry a non-empty where clause the result is
// {and: [destination, source]}; otherwise whichever exists is kept. A
// MatchNone on either side wins. Sort keys of destination come first,
// followed by source keys it does not already define. Scalar options of
// destination take precedence over those of source.
func Merge(destination, source *Criteria) *Criteria {
	switch {
	case destination == nil && source == nil:
		return &Criteria{Where: Where{}}
	case destination == nil:
		return normalizeCriteria(source.Clone())
	case source == nil:
		return normalizeCriteria(destination.Clone())
	}

	out := destination.Clone()
	switch {
	case destination.MatchNone || source.MatchNone:
		out.MatchNone = true
		out.Where = nil
	case len(destination.Where) > 0 && len(source.Where) > 0:
		out.Where = Where{"and": []any{
			map[string]any(cloneWhere(destination.Where)),
			map[string]any(cloneWhere(source.Where)),
		}}
	case len(source.Where) > 0:
		out.Where = cloneWhere(source.Where)
	default:
		out.Where = cloneWhere(destination.Where)
	}

	out.Sort = mergeSort(destination.Sort, source.Sort)
	if out.Limit == 0 {
		out.Limit = source.Limit
	}
	if out.Skip == 0 {
		out.Skip = source.Skip
	}
	if out.Select == nil {
		out.Select = cloneSlice(source.Select)
	}
	for _, j := range source.Joins {
		out.Joins = append(out.Joins, j.Clone())
	}
	return out
}
