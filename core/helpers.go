// Package core provides the fundamental building blocks of the offshore ORM.
// This file contains helper functions for value comparison, cloning, shape
// coercion, and record decoding.
package core

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// valueKey returns a comparable identity for a scalar so that keys read back
// from different adapters (int64 vs float64, etc.) index the same way.
func valueKey(v any) string {
	if v == nil {
		return "nil"
	}
	if n, ok := formatNumber(v); ok {
		return "n:" + n
	}
	switch t := v.(type) {
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return "v:" + t.String()
	}
	return "v:" + fmt.Sprint(v)
}

// formatNumber renders a numeric kind without loss. Integers keep every
// digit; an integral float renders like the integer it holds, so 1 and 1.0
// share a key.
func formatNumber(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			return strconv.FormatInt(int64(f), 10), true
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// toFloat converts any numeric kind to float64.
func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// toInt converts integers, integral floats and numeric strings.
func toInt(v any) (int, bool) {
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil
	}
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// isScalar reports whether v is a primary-key shorthand value.
func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, time.Time, fmt.Stringer:
		return true
	}
	_, ok := toFloat(v)
	return ok
}

// asMap returns v as a plain map when it is any string-keyed map shape.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Where:
		return map[string]any(t), true
	case Record:
		return map[string]any(t), true
	}
	return nil, false
}

// asSlice returns v as []any when it is a slice (other than []byte).
func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// asRecord returns v as a Record sharing the same underlying map.
func asRecord(v any) (Record, bool) {
	switch t := v.(type) {
	case Record:
		return t, true
	case map[string]any:
		return Record(t), true
	}
	return nil, false
}

// asRecords flattens a populated alias slot into the records it holds. The
// returned records share their maps with v.
func asRecords(v any) []Record {
	switch t := v.(type) {
	case nil:
		return nil
	case []Record:
		return t
	case Record:
		return []Record{t}
	case map[string]any:
		return []Record{t}
	}
	items, ok := asSlice(v)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		if r, ok := asRecord(item); ok {
			out = append(out, r)
		}
	}
	return out
}

// cloneWhere deep-copies a predicate tree into canonical shapes: nested maps
// become map[string]any and slices become []any.
func cloneWhere(w Where) Where {
	out := make(Where, len(w))
	for k, v := range w {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[k] = cloneValue(e)
		}
		return out
	}
	if isScalar(v) || v == nil {
		return v
	}
	if s, ok := asSlice(v); ok {
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// cloneData deep-copies result data keeping Record and []Record shapes.
func cloneData(v any) any {
	switch t := v.(type) {
	case Record:
		return cloneRecord(t)
	case []Record:
		out := make([]Record, len(t))
		for i, r := range t {
			out[i] = cloneRecord(r)
		}
		return out
	case map[string]any:
		return map[string]any(cloneRecord(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneData(e)
		}
		return out
	}
	return v
}

func cloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneData(v)
	}
	return out
}

// pluck returns the distinct non-nil values of key across rows, in order.
func pluck(rows []Record, key string) []any {
	values := make([]any, 0, len(rows))
	for _, r := range rows {
		values = append(values, r[key])
	}
	return distinctValues(values)
}

// distinctValues drops nils and duplicates, keeping first-seen order.
func distinctValues(values []any) []any {
	seen := map[string]bool{}
	out := []any{}
	for _, v := range values {
		if v == nil {
			continue
		}
		k := valueKey(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// Decode maps a record into a struct instance of type T.
//
// Keys are matched against field names case-insensitively, or against a
// `json` tag when one is present. Assignment supports:
//  1. Exact type matching
//  2. Value → pointer conversions (e.g. time.Time → *time.Time)
//  3. Pointer → value conversions
//  4. Convertible types (e.g. float64 → int)
//
// Example:
//
//	var user User
//	err := core.Decode(record, &user)
func Decode[T any](record Record, out *T) error {
	value := reflect.ValueOf(out).Elem()
	if value.Kind() != reflect.Struct {
		return usageErrorf("decode", "target must be a struct, got %s", value.Kind())
	}
	typ := value.Type()
	for key, raw := range record {
		field := value.FieldByNameFunc(func(name string) bool {
			sf, _ := typ.FieldByName(name)
			if tag, _, _ := strings.Cut(sf.Tag.Get("json"), ","); tag != "" {
				return tag == key
			}
			return strings.EqualFold(name, key)
		})
		if !field.IsValid() || !field.CanSet() {
			continue
		}
		if err := assignField(field, raw); err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
	}
	return nil
}

func assignField(field reflect.Value, raw any) error {
	if raw == nil {
		if field.Kind() == reflect.Pointer {
			field.Set(reflect.Zero(field.Type()))
		}
		return nil
	}
	rv := reflect.ValueOf(raw)

	// 1) exact type match
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}

	// 2) value → pointer
	if field.Kind() == reflect.Pointer && rv.Type().AssignableTo(field.Type().Elem()) {
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(rv)
		field.Set(ptr)
		return nil
	}

	// 3) pointer → value
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Type().Elem().AssignableTo(field.Type()) {
		field.Set(rv.Elem())
		return nil
	}

	// 4) convertible types; strings only convert from strings
	if rv.Type().ConvertibleTo(field.Type()) && (field.Kind() != reflect.String || rv.Kind() == reflect.String) {
		field.Set(rv.Convert(field.Type()))
		return nil
	}
	if field.Kind() == reflect.Pointer && rv.Type().ConvertibleTo(field.Type().Elem()) {
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(rv.Convert(field.Type().Elem()))
		field.Set(ptr)
		return nil
	}
	return errors.Errorf("cannot assign %T to %s", raw, field.Type())
}
