// Package core provides the fundamental building blocks of the offshore ORM.
// This file converts query results to and from their cached JSON form.
package core

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// recordShape lists the populated aliases of a record, by alias.
type recordShape map[string]aliasPlan

type aliasPlan struct {
	model  bool
	nested recordShape
}

// resultShape describes where populated aliases sit in the records the
// deferred returns, following flat joins and populated paths.
func (d *Deferred[R]) resultShape() recordShape {
	joins := d.criteria.Joins
	if !d.criteria.Deep() {
		return shapeOf(joins, nil, "")
	}
	root := d.collection.Identity()
	if node := d.criteria.Paths[root]; node != nil {
		joins = append(append([]*Join(nil), joins...), node.Joins...)
	}
	return shapeOf(joins, d.criteria.Paths, root)
}

func shapeOf(joins []*Join, paths map[string]*PathNode, path string) recordShape {
	shapes := aliasShapes(joins)
	if len(shapes) == 0 {
		return nil
	}
	out := make(recordShape, len(shapes))
	for _, s := range shapes {
		plan := aliasPlan{model: s.model}
		if node := paths[path+"."+s.alias]; node != nil {
			plan.nested = shapeOf(node.Joins, paths, path+"."+s.alias)
		}
		out[s.alias] = plan
	}
	return out
}

// encodeCached renders a result as a cache payload. Nil results give a nil
// payload.
func encodeCached(value any) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "encoding cached result")
	}
	if bytes.Equal(payload, []byte("null")) {
		return nil, nil
	}
	return payload, nil
}

// decodeCached rebuilds a result from its payload: records and populated
// aliases come back as Record and []Record, integral numbers as int64 and
// other numbers as float64.
func decodeCached[R any](payload []byte, shape recordShape) (R, error) {
	var zero R
	if payload == nil {
		return zero, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return zero, errors.Wrap(err, "decoding cached result")
	}

	var value any
	switch t := raw.(type) {
	case map[string]any:
		value = restoreRecord(t, shape)
	case []any:
		list := make([]Record, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return zero, errors.Errorf("cached result holds %T, not a record", item)
			}
			list = append(list, restoreRecord(m, shape))
		}
		value = list
	default:
		value = restoreValue(raw)
	}
	out, ok := value.(R)
	if !ok {
		return zero, errors.Errorf("cached result of type %T does not fit %T", value, zero)
	}
	return out, nil
}

func restoreRecord(m map[string]any, shape recordShape) Record {
	out := make(Record, len(m))
	for k, v := range m {
		plan, populated := shape[k]
		if !populated {
			out[k] = restoreValue(v)
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			out[k] = restoreRecord(t, plan.nested)
		case []any:
			list := make([]Record, 0, len(t))
			for _, item := range t {
				if r, ok := item.(map[string]any); ok {
					list = append(list, restoreRecord(r, plan.nested))
				}
			}
			out[k] = list
		default:
			out[k] = restoreValue(v)
		}
	}
	return out
}

func restoreValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = restoreValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = restoreValue(x)
		}
		return out
	}
	return v
}
