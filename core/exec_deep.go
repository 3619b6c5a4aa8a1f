// Package core provides the fundamental building blocks of the offshore ORM.
// This file implements deep population: the root query runs with its flat
// joins, then every populated path is queried level by level and zipped back
// into the result tree.
package core

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

func (d *Deferred[R]) execDeep(ctx context.Context) (R, error) {
	var zero R
	d.registerRootJoins()

	result, err := d.exec(ctx)
	if err != nil {
		return zero, err
	}
	rows := d.op.rows(result)
	if len(rows) == 0 {
		return result, nil
	}

	c := d.collection
	cursor := NewCursor(c.Identity(), c.schema.PrimaryKey, rows, d.criteria.Paths)
	if err := c.descend(ctx, cursor, d.criteria.Paths); err != nil {
		return zero, err
	}
	return d.op.fromRows(cursor.Root()), nil
}

// descend populates every alias below the cursor path that has deeper joins.
// Sibling aliases are queried concurrently; the first failure aborts the
// whole population.
func (c *Collection) descend(ctx context.Context, cursor *Cursor, paths map[string]*PathNode) error {
	node := paths[cursor.Path()]
	if node == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, alias := range sortedKeys(node.Children) {
		child := node.Children[alias]
		childPath := cursor.Path() + "." + alias
		next := paths[childPath]
		if next == nil || len(next.Joins) == 0 {
			continue
		}
		g.Go(func() error {
			pathCursor := cursor.ChildPath(childPath)
			parents := pathCursor.Parents()
			if len(parents) == 0 {
				return nil
			}
			coll, err := c.sibling(child.CollectionName)
			if err != nil {
				return err
			}
			crit := &Criteria{
				Where: Where{child.PrimaryKey: parents},
				Joins: next.Joins,
			}
			rows, err := coll.Find(crit).Exec(gctx)
			if err != nil {
				return errors.Wrapf(err, "populating %s", childPath)
			}
			pathCursor.Zip(rows)
			return coll.descend(gctx, pathCursor, paths)
		})
	}
	return g.Wait()
}
