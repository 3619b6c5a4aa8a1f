package memory

import (
	"github.com/pmkwilliams/offshore/core"
)

func aggregated(c *core.Criteria) bool {
	return len(c.GroupBy)+len(c.Sum)+len(c.Average)+len(c.Min)+len(c.Max) > 0
}

// aggregate groups rows by the groupBy columns, in order of first
// appearance, and computes one result row per group. Each result row holds
// the group columns and one entry per aggregated column.
func aggregate(rows []core.Record, c *core.Criteria) []core.Record {
	type group struct {
		key  core.Record
		rows []core.Record
	}
	var groups []*group
	index := map[string]*group{}
	for _, r := range rows {
		id := ""
		key := core.Record{}
		for _, col := range c.GroupBy {
			key[col] = r[col]
			id += core.Serialize(r[col]) + "\x00"
		}
		g, ok := index[id]
		if !ok {
			g = &group{key: key}
			index[id] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}
	if len(groups) == 0 && len(c.GroupBy) == 0 {
		groups = append(groups, &group{key: core.Record{}})
	}

	out := make([]core.Record, 0, len(groups))
	for _, g := range groups {
		res := g.key
		for _, col := range c.Sum {
			res[col] = sum(g.rows, col)
		}
		for _, col := range c.Average {
			n := count(g.rows, col)
			if n == 0 {
				res[col] = float64(0)
				continue
			}
			res[col] = sum(g.rows, col) / float64(n)
		}
		for _, col := range c.Min {
			res[col] = extreme(g.rows, col, -1)
		}
		for _, col := range c.Max {
			res[col] = extreme(g.rows, col, 1)
		}
		out = append(out, res)
	}
	return out
}

func sum(rows []core.Record, col string) float64 {
	total := 0.0
	for _, r := range rows {
		if f, ok := toFloat(r[col]); ok {
			total += f
		}
	}
	return total
}

func count(rows []core.Record, col string) int {
	n := 0
	for _, r := range rows {
		if _, ok := toFloat(r[col]); ok {
			n++
		}
	}
	return n
}

// extreme returns the smallest (sign -1) or largest (sign 1) non-nil value.
func extreme(rows []core.Record, col string, sign int) any {
	var best any
	for _, r := range rows {
		v := r[col]
		if v == nil {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		if c, ok := compare(v, best); ok && c*sign > 0 {
			best = v
		}
	}
	return best
}
