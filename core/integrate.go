// Package core provides the fundamental building blocks of the offshore ORM.
// This file performs joins in the engine for adapters that do not implement
// Joiner: children are fetched with one query per hop and spliced into the
// parent rows under the join alias.
package core

import (
	"context"

	"github.com/pkg/errors"
)

// integrate populates every join alias of rows in place. rows and joins are
// in column space.
func (c *Collection) integrate(ctx context.Context, rows []Record, joins []*Join) error {
	type plan struct {
		alias string
		hops  []*Join
	}
	var plans []*plan
	byAlias := map[string]*plan{}
	for _, j := range joins {
		p, ok := byAlias[j.Alias]
		if !ok {
			p = &plan{alias: j.Alias}
			byAlias[j.Alias] = p
			plans = append(plans, p)
		}
		p.hops = append(p.hops, j)
	}

	for _, p := range plans {
		var err error
		switch len(p.hops) {
		case 1:
			err = c.integrateDirect(ctx, rows, p.hops[0])
		case 2:
			err = c.integrateJunction(ctx, rows, p.hops[0], p.hops[1])
		default:
			err = errors.Errorf("alias %q has %d join hops", p.alias, len(p.hops))
		}
		if err != nil {
			return errors.Wrapf(err, "populating %s.%s", c.Identity(), p.alias)
		}
	}
	return nil
}

// childCriteria builds the column-space criteria fetching the children of a
// hop whose key is in keys.
func childCriteria(j *Join, keys []any) *Criteria {
	crit := &Criteria{Where: Where{j.ChildKey: keys}}
	if j.Criteria == nil {
		return crit
	}
	if len(j.Criteria.Where) > 0 {
		crit.Where = Where{"and": []any{
			map[string]any(cloneWhere(j.Criteria.Where)),
			map[string]any{j.ChildKey: keys},
		}}
	}
	crit.Sort = cloneSlice(j.Criteria.Sort)
	return crit
}

// pageAndProject applies per-parent skip and limit, then the join select,
// copying every record so parents never share maps.
func pageAndProject(children []Record, j *Join) []Record {
	if j.Criteria != nil {
		if skip := j.Criteria.Skip; skip > 0 {
			if skip >= len(children) {
				children = nil
			} else {
				children = children[skip:]
			}
		}
		if limit := j.Criteria.Limit; limit > 0 && limit < len(children) {
			children = children[:limit]
		}
	}
	out := make([]Record, 0, len(children))
	for _, child := range children {
		if j.Select == nil {
			out = append(out, cloneRecord(child))
			continue
		}
		projected := make(Record, len(j.Select))
		for _, col := range j.Select {
			if v, ok := child[col]; ok {
				projected[col] = cloneData(v)
			}
		}
		out = append(out, projected)
	}
	return out
}

func (c *Collection) integrateDirect(ctx context.Context, rows []Record, j *Join) error {
	keys := make([]any, len(rows))
	for i, row := range rows {
		keys[i] = row[j.ParentKey]
	}
	assign := func(groups map[string][]Record) {
		for i, row := range rows {
			list := pageAndProject(groups[valueKey(keys[i])], j)
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
	}

	distinct := distinctValues(keys)
	if len(distinct) == 0 || (j.Criteria != nil && j.Criteria.MatchNone) {
		assign(nil)
		return nil
	}
	child, err := c.sibling(j.Child)
	if err != nil {
		return err
	}
	children, err := child.adapterFind(ctx, childCriteria(j, distinct))
	if err != nil {
		return err
	}
	groups := map[string][]Record{}
	for _, r := range children {
		k := valueKey(r[j.ChildKey])
		groups[k] = append(groups[k], r)
	}
	assign(groups)
	return nil
}

func (c *Collection) integrateJunction(ctx context.Context, rows []Record, first, second *Join) error {
	empty := func() {
		for _, row := range rows {
			row[second.Alias] = []Record{}
		}
	}
	parentKeys := pluck(rows, first.ParentKey)
	if len(parentKeys) == 0 || (second.Criteria != nil && second.Criteria.MatchNone) {
		empty()
		return nil
	}

	junction, err := c.sibling(first.Child)
	if err != nil {
		return err
	}
	links, err := junction.adapterFind(ctx, &Criteria{Where: Where{first.ChildKey: parentKeys}})
	if err != nil {
		return err
	}
	childKeys := pluck(links, second.ParentKey)
	if len(childKeys) == 0 {
		empty()
		return nil
	}

	child, err := c.sibling(second.Child)
	if err != nil {
		return err
	}
	children, err := child.adapterFind(ctx, childCriteria(second, childKeys))
	if err != nil {
		return err
	}

	linked := map[string]map[string]bool{}
	for _, l := range links {
		pk := valueKey(l[first.ChildKey])
		if linked[pk] == nil {
			linked[pk] = map[string]bool{}
		}
		linked[pk][valueKey(l[second.ParentKey])] = true
	}
	for _, row := range rows {
		set := linked[valueKey(row[first.ParentKey])]
		var list []Record
		for _, ch := range children {
			if set[valueKey(ch[second.ChildKey])] {
				list = append(list, ch)
			}
		}
		row[second.Alias] = pageAndProject(list, second)
	}
	return nil
}
