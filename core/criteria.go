// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the canonical query shape (Criteria) and the join plan
// types the association resolver attaches to it.
package core

import "sort"

// Record is a single row exchanged between the engine and adapters.
//
// Adapters produce and consume records in column space; collections hand
// application code records in attribute space.
type Record map[string]any

// Where is a nested predicate tree.
//
// Keys are attribute names mapped to a scalar (equality), a slice (IN) or a
// map of operators, plus the logical keys "or" and "and" holding slices of
// sub-trees.
//
// Example:
//
//	core.Where{
//	    "age": map[string]any{">=": 18},
//	    "or":  []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
//	}
type Where map[string]any

// SortKey is one ordering rule. Direction is 1 for ascending, -1 for
// descending.
type SortKey struct {
	Attribute string
	Direction int
}

// Criteria is the canonical query shape every operation is dispatched with.
//
// Joins holds flat population instructions; Paths holds the deep population
// tree. A criteria carrying Paths is executed level by level.
type Criteria struct {
	Where     Where
	MatchNone bool
	Sort      []SortKey
	Limit     int
	Skip      int
	Select    []string
	Joins     []*Join
	Paths     map[string]*PathNode

	Sum     []string
	Average []string
	Min     []string
	Max     []string
	GroupBy []string
}

// Join is one hop of a population plan, from Parent.ParentKey to
// Child.ChildKey. Keys are column names.
//
// A many-to-many association produces two joins sharing the same Alias: the
// first targets the junction (or through) table with a nil Select, the
// second has JunctionTable set and targets the associated collection.
type Join struct {
	Parent          string
	ParentKey       string
	Child           string
	ChildKey        string
	Select          []string
	Alias           string
	JunctionTable   bool
	RemoveParentKey bool
	Model           bool
	Collection      bool
	Criteria        *Criteria
}

// PathChild memoizes the collection an alias resolves to at a path.
type PathChild struct {
	CollectionName string
	PrimaryKey     string
}

// PathNode holds, for one dotted path, the joins to apply when querying the
// collection living at that path and the aliases reachable below it.
type PathNode struct {
	Joins    []*Join
	Children map[string]PathChild
}

func newPathNode() *PathNode {
	return &PathNode{Children: make(map[string]PathChild)}
}

// Clone returns a deep copy of the criteria.
func (c *Criteria) Clone() *Criteria {
	if c == nil {
		return nil
	}
	out := &Criteria{
		MatchNone: c.MatchNone,
		Limit:     c.Limit,
		Skip:      c.Skip,
		Sort:      cloneSlice(c.Sort),
		Select:    cloneSlice(c.Select),
		Sum:       cloneSlice(c.Sum),
		Average:   cloneSlice(c.Average),
		Min:       cloneSlice(c.Min),
		Max:       cloneSlice(c.Max),
		GroupBy:   cloneSlice(c.GroupBy),
	}
	if c.Where != nil {
		out.Where = cloneWhere(c.Where)
	}
	if c.Joins != nil {
		out.Joins = make([]*Join, len(c.Joins))
		for i, j := range c.Joins {
			out.Joins[i] = j.Clone()
		}
	}
	if c.Paths != nil {
		out.Paths = make(map[string]*PathNode, len(c.Paths))
		for k, p := range c.Paths {
			out.Paths[k] = p.Clone()
		}
	}
	return out
}

// Deep reports whether the criteria requests path population.
func (c *Criteria) Deep() bool {
	return c != nil && len(c.Paths) > 0
}

// hasAggregates reports whether any aggregate attribute list is set.
func (c *Criteria) hasAggregates() bool {
	return len(c.Sum)+len(c.Average)+len(c.Min)+len(c.Max)+len(c.GroupBy) > 0
}

// toMap returns the serializable form of the criteria. Joins and Paths are
// rendered separately by the deferred.
func (c *Criteria) toMap() map[string]any {
	m := map[string]any{}
	if c.MatchNone {
		m["where"] = false
	} else if len(c.Where) > 0 {
		m["where"] = map[string]any(c.Where)
	}
	if len(c.Sort) > 0 {
		s := make(map[string]any, len(c.Sort))
		for _, k := range c.Sort {
			s[k.Attribute] = k.Direction
		}
		m["sort"] = s
	}
	if c.Limit > 0 {
		m["limit"] = c.Limit
	}
	if c.Skip > 0 {
		m["skip"] = c.Skip
	}
	if len(c.Select) > 0 {
		m["select"] = c.Select
	}
	for key, list := range map[string][]string{
		"sum": c.Sum, "average": c.Average, "min": c.Min, "max": c.Max, "groupBy": c.GroupBy,
	} {
		if len(list) > 0 {
			m[key] = list
		}
	}
	return m
}

// Clone returns a deep copy of the join.
func (j *Join) Clone() *Join {
	if j == nil {
		return nil
	}
	out := *j
	out.Select = cloneSlice(j.Select)
	out.Criteria = j.Criteria.Clone()
	return &out
}

func (j *Join) toMap() map[string]any {
	m := map[string]any{
		"parent":          j.Parent,
		"parentKey":       j.ParentKey,
		"child":           j.Child,
		"childKey":        j.ChildKey,
		"alias":           j.Alias,
		"junctionTable":   j.JunctionTable,
		"removeParentKey": j.RemoveParentKey,
		"model":           j.Model,
		"collection":      j.Collection,
	}
	if j.Select != nil {
		m["select"] = j.Select
	} else {
		m["select"] = false
	}
	if j.Criteria != nil {
		m["criteria"] = j.Criteria.toMap()
	}
	return m
}

// Clone returns a deep copy of the path node.
func (p *PathNode) Clone() *PathNode {
	if p == nil {
		return nil
	}
	out := newPathNode()
	for _, j := range p.Joins {
		out.Joins = append(out.Joins, j.Clone())
	}
	for k, v := range p.Children {
		out.Children[k] = v
	}
	return out
}

// aliasShapes returns the distinct join aliases in first-seen order, each with
// whether it resolves to a single record.
func aliasShapes(joins []*Join) []aliasShape {
	seen := map[string]int{}
	var out []aliasShape
	for _, j := range joins {
		if i, ok := seen[j.Alias]; ok {
			if j.JunctionTable {
				out[i].model = false
			}
			continue
		}
		seen[j.Alias] = len(out)
		out = append(out, aliasShape{alias: j.Alias, model: j.Model && !j.Collection})
	}
	return out
}

type aliasShape struct {
	alias string
	model bool
}

// empty returns the value an alias slot holds when nothing matched.
func (s aliasShape) empty() any {
	if s.model {
		return nil
	}
	return []Record{}
}

// mergeSort appends the keys of source not already present in dest.
func mergeSort(dest, source []SortKey) []SortKey {
	out := cloneSlice(dest)
	for _, k := range source {
		found := false
		for _, d := range out {
			if d.Attribute == k.Attribute {
				found = true
				break
			}
		}
		if !found {
			out = append(out, k)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
