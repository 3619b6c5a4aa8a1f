// Package core provides the fundamental building blocks of the offshore ORM.
// This file translates criteria and records between attribute space, used by
// application code, and column space, used by adapters.
package core

// columnOf returns the column of an attribute name, or name itself.
func (c *Collection) columnOf(name string) string {
	if attr := c.schema.Attributes[name]; attr != nil && attr.Collection == "" {
		return attr.column()
	}
	return name
}

// toColumns returns a copy of crit in column space. Join criteria are
// translated with the collection each join targets.
func (c *Collection) toColumns(crit *Criteria) (*Criteria, error) {
	out := crit.Clone()
	out.Paths = nil
	if out.Where != nil {
		out.Where = c.whereToColumns(out.Where)
	}
	for i := range out.Sort {
		out.Sort[i].Attribute = c.columnOf(out.Sort[i].Attribute)
	}
	if len(out.Select) > 0 {
		out.Select = c.selectColumns(out.Select, out.Joins)
	}
	for _, list := range [][]string{out.Sum, out.Average, out.Min, out.Max, out.GroupBy} {
		for i := range list {
			list[i] = c.columnOf(list[i])
		}
	}
	for _, j := range out.Joins {
		if j.Criteria == nil {
			continue
		}
		child, err := c.sibling(j.Child)
		if err != nil {
			return nil, err
		}
		translated, err := child.toColumns(j.Criteria)
		if err != nil {
			return nil, err
		}
		translated.Joins = nil
		j.Criteria = translated
	}
	return out, nil
}

// selectColumns maps selected attributes to columns, always keeping the
// primary key and the keys joins start from.
func (c *Collection) selectColumns(attrs []string, joins []*Join) []string {
	seen := map[string]bool{}
	var out []string
	add := func(col string) {
		if !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
	}
	add(c.schema.primaryKeyColumn())
	for _, a := range attrs {
		add(c.columnOf(a))
	}
	for _, j := range joins {
		if j.Parent == c.Identity() {
			add(j.ParentKey)
		}
	}
	return out
}

func (c *Collection) whereToColumns(w Where) Where {
	out := make(Where, len(w))
	for k, v := range w {
		if k == "or" || k == "and" {
			branches, ok := asSlice(v)
			if !ok {
				out[k] = v
				continue
			}
			translated := make([]any, len(branches))
			for i, b := range branches {
				if m, ok := asMap(b); ok {
					translated[i] = map[string]any(c.whereToColumns(Where(m)))
				} else {
					translated[i] = b
				}
			}
			out[k] = translated
			continue
		}
		out[c.columnOf(k)] = v
	}
	return out
}

// recordToColumns renames attribute keys to their columns.
func (c *Collection) recordToColumns(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[c.columnOf(k)] = v
	}
	return out
}

// fromColumns converts an adapter row to attribute space. Join aliases are
// applied last so a to-one alias replaces the foreign key it was built from.
func (c *Collection) fromColumns(row Record, joins []*Join) (Record, error) {
	out := make(Record, len(row))
	aliases := map[string]string{}
	for _, j := range joins {
		// the last hop of an alias names the collection its records belong to
		aliases[j.Alias] = j.Child
	}
	for k, v := range row {
		if _, isAlias := aliases[k]; isAlias {
			continue
		}
		if attr := c.schema.byColumn[k]; attr != nil {
			out[attr.Name] = v
		} else {
			out[k] = v
		}
	}
	for _, s := range aliasShapes(joins) {
		v, present := row[s.alias]
		if !present {
			continue
		}
		child, err := c.sibling(aliases[s.alias])
		if err != nil {
			return nil, err
		}
		converted, err := child.aliasFromColumns(v, s)
		if err != nil {
			return nil, err
		}
		out[s.alias] = converted
	}
	return out, nil
}

func (c *Collection) aliasFromColumns(v any, s aliasShape) (any, error) {
	if v == nil {
		return s.empty(), nil
	}
	if r, ok := asRecord(v); ok {
		converted, err := c.fromColumns(r, nil)
		if err != nil {
			return nil, err
		}
		if s.model {
			return converted, nil
		}
		return []Record{converted}, nil
	}
	list := asRecords(v)
	if s.model {
		if len(list) == 0 {
			return nil, nil
		}
		return c.fromColumns(list[0], nil)
	}
	out := make([]Record, 0, len(list))
	for _, r := range list {
		converted, err := c.fromColumns(r, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}
