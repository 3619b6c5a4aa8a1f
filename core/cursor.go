// Package core provides the fundamental building blocks of the offshore ORM.
// This file implements the deep cursor: an arena of result levels addressed
// by dotted path, used to splice child query results back into the tree.
package core

import (
	"strings"
	"sync"
)

// Cursor addresses one level of a deep population result.
//
// All cursors created from the same root share one arena. Records at a level
// are the very maps held by their parents, so zipping into a level updates
// the tree returned by Root.
type Cursor struct {
	path  string
	arena *arena
}

type arena struct {
	mu       sync.Mutex
	rootPath string
	root     []Record
	paths    map[string]*PathNode
	levels   map[string]*level
}

type level struct {
	primaryKey string
	nodes      []Record
	index      map[string][]Record
}

func newLevel(primaryKey string, nodes []Record) *level {
	l := &level{primaryKey: primaryKey, nodes: nodes, index: make(map[string][]Record)}
	if primaryKey == "" {
		return l
	}
	for _, n := range nodes {
		k := valueKey(n[primaryKey])
		l.index[k] = append(l.index[k], n)
	}
	return l
}

// NewCursor returns a cursor over the root rows of a deep population.
// rootPath is the identity of the root collection and paths the plan built
// by the deferred.
func NewCursor(rootPath, primaryKey string, rows []Record, paths map[string]*PathNode) *Cursor {
	a := &arena{
		rootPath: rootPath,
		root:     rows,
		paths:    paths,
		levels:   map[string]*level{rootPath: newLevel(primaryKey, rows)},
	}
	return &Cursor{path: rootPath, arena: a}
}

// Path returns the dotted path the cursor addresses.
func (c *Cursor) Path() string {
	return c.path
}

// ChildPath returns a cursor on a deeper path, collecting the records held
// under the last alias of path by every record of its parent level.
func (c *Cursor) ChildPath(path string) *Cursor {
	c.arena.mu.Lock()
	defer c.arena.mu.Unlock()
	c.arena.ensure(path)
	return &Cursor{path: path, arena: c.arena}
}

func (a *arena) ensure(path string) *level {
	if l, ok := a.levels[path]; ok {
		return l
	}
	cut := strings.LastIndex(path, ".")
	if cut < 0 {
		l := newLevel("", nil)
		a.levels[path] = l
		return l
	}
	parentPath, alias := path[:cut], path[cut+1:]
	parent := a.ensure(parentPath)

	primaryKey := ""
	if node := a.paths[parentPath]; node != nil {
		primaryKey = node.Children[alias].PrimaryKey
	}
	var nodes []Record
	for _, p := range parent.nodes {
		nodes = append(nodes, asRecords(p[alias])...)
	}
	l := newLevel(primaryKey, nodes)
	a.levels[path] = l
	return l
}

// Parents returns the distinct primary key values of the records at the
// cursor path, in first-seen order.
func (c *Cursor) Parents() []any {
	c.arena.mu.Lock()
	defer c.arena.mu.Unlock()
	l := c.arena.ensure(c.path)
	return pluck(l.nodes, l.primaryKey)
}

// Zip copies, from each row, the alias slots populated by the path joins
// into every record at the cursor path sharing the row's primary key. Each
// record receives its own deep copy. Records without a matching row get an
// empty list for to-many aliases and nil for to-one aliases.
func (c *Cursor) Zip(rows []Record) {
	c.arena.mu.Lock()
	defer c.arena.mu.Unlock()
	l := c.arena.ensure(c.path)

	var shapes []aliasShape
	if node := c.arena.paths[c.path]; node != nil {
		shapes = aliasShapes(node.Joins)
	}
	byKey := make(map[string]Record, len(rows))
	for _, row := range rows {
		k := valueKey(row[l.primaryKey])
		if _, seen := byKey[k]; !seen {
			byKey[k] = row
		}
	}
	for _, n := range l.nodes {
		row := byKey[valueKey(n[l.primaryKey])]
		for _, s := range shapes {
			if row == nil {
				n[s.alias] = s.empty()
				continue
			}
			v, ok := row[s.alias]
			if !ok {
				n[s.alias] = s.empty()
				continue
			}
			n[s.alias] = cloneData(v)
		}
	}
}

// Root returns the root rows, populated with everything zipped so far.
func (c *Cursor) Root() []Record {
	c.arena.mu.Lock()
	defer c.arena.mu.Unlock()
	return c.arena.root
}
