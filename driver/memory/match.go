package memory

import (
	"cmp"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pmkwilliams/offshore/core"
)

// match reports whether row satisfies cond. A nil condition matches every
// row, an AND with no children matches every row and an OR with no children
// matches none.
func match(cond *core.Condition, row core.Record) bool {
	if cond == nil || cond.Operator == nil {
		return true
	}
	switch *cond.Operator {
	case core.OpAnd:
		for _, child := range cond.Children {
			if !match(child, row) {
				return false
			}
		}
		return true
	case core.OpOr:
		for _, child := range cond.Children {
			if match(child, row) {
				return true
			}
		}
		return false
	case core.OpNot:
		for _, child := range cond.Children {
			if !match(child, row) {
				return true
			}
		}
		return false
	}

	value := row[cond.FieldName]
	switch *cond.Operator {
	case core.OpNil:
		return value == nil
	case core.OpEq:
		return equal(value, cond.Value)
	case core.OpGt:
		c, ok := compare(value, cond.Value)
		return ok && c > 0
	case core.OpGte:
		c, ok := compare(value, cond.Value)
		return ok && c >= 0
	case core.OpLt:
		c, ok := compare(value, cond.Value)
		return ok && c < 0
	case core.OpLte:
		c, ok := compare(value, cond.Value)
		return ok && c <= 0
	case core.OpLike:
		if value == nil {
			return false
		}
		return likePattern(fmt.Sprint(cond.Value)).MatchString(fmt.Sprint(value))
	case core.OpIn:
		list, ok := cond.Value.([]any)
		if !ok {
			return equal(value, cond.Value)
		}
		for _, candidate := range list {
			if equal(value, candidate) {
				return true
			}
		}
		return false
	}
	return false
}

var (
	likeMu    sync.Mutex
	likeCache = map[string]*regexp.Regexp{}
)

// likePattern compiles a LIKE pattern into a case-insensitive anchored
// regular expression. `%` matches any run of characters, `_` one character.
func likePattern(pattern string) *regexp.Regexp {
	likeMu.Lock()
	defer likeMu.Unlock()
	if re, ok := likeCache[pattern]; ok {
		return re
	}
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re := regexp.MustCompile(b.String())
	likeCache[pattern] = re
	return re
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// toInt64 returns v as an int64 when it holds an integer exactly: any
// integer kind in range, or an integral float.
func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u), true
		}
	case reflect.Float32, reflect.Float64:
		if f := rv.Float(); f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			return int64(f), true
		}
	}
	return 0, false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	if sa, ok := a.(fmt.Stringer); ok {
		if sb, ok := b.(fmt.Stringer); ok {
			return sa.String() == sb.String()
		}
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values of the same family: numbers, strings, times or
// booleans. ok is false when they are not comparable.
func compare(a, b any) (int, bool) {
	if ia, ok := toInt64(a); ok {
		if ib, ok := toInt64(b); ok {
			return cmp.Compare(ia, ib), true
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(ta, tb), true
	case time.Time:
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	case bool:
		tb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ta == tb:
			return 0, true
		case !ta:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// sortValues orders two column values; nil sorts before everything and
// incomparable values keep their order.
func sortValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := compare(a, b)
	return c
}
