package memory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/pmkwilliams/offshore/core"
)

// JoinAdapter is an Adapter that also resolves joins natively, so the
// engine hands it whole join plans instead of integrating children itself.
type JoinAdapter struct {
	*Adapter
}

var _ core.Joiner = (*JoinAdapter)(nil)

// NewJoiner returns an empty adapter implementing core.Joiner.
func NewJoiner() *JoinAdapter {
	return &JoinAdapter{Adapter: New()}
}

// Join returns the rows matching criteria with every join alias populated.
func (a *JoinAdapter) Join(_ context.Context, connection, collection string, criteria *core.Criteria) ([]core.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, err := a.table(connection, collection)
	if err != nil {
		return nil, err
	}
	if criteria == nil {
		criteria = &core.Criteria{}
	}
	base := criteria.Clone()
	base.Joins = nil
	rows, err := find(t, base)
	if err != nil {
		return nil, err
	}

	var aliases []string
	hops := map[string][]*core.Join{}
	for _, j := range criteria.Joins {
		if _, ok := hops[j.Alias]; !ok {
			aliases = append(aliases, j.Alias)
		}
		hops[j.Alias] = append(hops[j.Alias], j)
	}
	for _, alias := range aliases {
		switch list := hops[alias]; len(list) {
		case 1:
			err = a.joinDirect(connection, rows, list[0])
		case 2:
			err = a.joinJunction(connection, rows, list[0], list[1])
		default:
			err = errors.Errorf("memory: alias %q has %d join hops", alias, len(list))
		}
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// candidates returns the rows of the join target matching its criteria,
// sorted by it.
func (a *JoinAdapter) candidates(connection string, j *core.Join) ([]core.Record, error) {
	t, err := a.table(connection, j.Child)
	if err != nil {
		return nil, err
	}
	rows, err := filter(t, j.Criteria)
	if err != nil {
		return nil, err
	}
	if j.Criteria != nil {
		sortRows(rows, j.Criteria.Sort)
	}
	return rows, nil
}

func finish(children []core.Record, j *core.Join) []core.Record {
	if j.Criteria != nil {
		children = page(children, j.Criteria.Skip, j.Criteria.Limit)
	}
	out := make([]core.Record, 0, len(children))
	for _, c := range children {
		out = append(out, project(c, j.Select))
	}
	return out
}

func key(v any) string {
	if n, ok := toInt64(v); ok {
		return "n:" + strconv.FormatInt(n, 10)
	}
	if f, ok := toFloat(v); ok {
		return fmt.Sprintf("n:%v", f)
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func (a *JoinAdapter) joinDirect(connection string, rows []core.Record, j *core.Join) error {
	children, err := a.candidates(connection, j)
	if err != nil {
		return err
	}
	groups := map[string][]core.Record{}
	for _, c := range children {
		if v := c[j.ChildKey]; v != nil {
			groups[key(v)] = append(groups[key(v)], c)
		}
	}
	for _, row := range rows {
		var list []core.Record
		if v := row[j.ParentKey]; v != nil {
			list = finish(groups[key(v)], j)
		} else {
			list = []core.Record{}
		}
		if j.Model && !j.Collection {
			if len(list) == 0 {
				row[j.Alias] = nil
			} else {
				row[j.Alias] = list[0]
			}
			continue
		}
		row[j.Alias] = list
	}
	return nil
}

func (a *JoinAdapter) joinJunction(connection string, rows []core.Record, first, second *core.Join) error {
	junction, err := a.table(connection, first.Child)
	if err != nil {
		return err
	}
	children, err := a.candidates(connection, second)
	if err != nil {
		return err
	}
	for _, row := range rows {
		linked := map[string]bool{}
		if pv := row[first.ParentKey]; pv != nil {
			for _, link := range junction.rows {
				if equal(link[first.ChildKey], pv) {
					linked[key(link[second.ParentKey])] = true
				}
			}
		}
		var list []core.Record
		for _, c := range children {
			if linked[key(c[second.ChildKey])] {
				list = append(list, c)
			}
		}
		row[second.Alias] = finish(list, second)
	}
	return nil
}
