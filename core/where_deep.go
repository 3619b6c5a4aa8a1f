// Package core provides the fundamental building blocks of the offshore ORM.
// This file implements association predicates: where clauses that filter a
// collection by the attributes of its associated records are rewritten into
// key lookups the adapter can evaluate.
package core

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// whereDeep rewrites every association predicate of w.
//
// For a to-many association the associated records matching the nested
// criteria are fetched and the predicate becomes "primary key IN the keys
// pointing at them" (through the junction or through table for
// many-to-many). For a to-one association it becomes "foreign key IN the
// matching keys". "or" and "and" branches are resolved concurrently and keep
// their order. When two rewrites produce the same key they are combined
// under "and".
//
// Example:
//
//	// companies having a driver with a taxi built by "constructor 1"
//	core.Where{"drivers": map[string]any{
//	    "taxis": map[string]any{"constructor": map[string]any{"name": "constructor 1"}},
//	}}
func (c *Collection) whereDeep(ctx context.Context, w Where) (Where, error) {
	if len(w) == 0 {
		return w, nil
	}
	keys := sortedKeys(w)
	type resolved struct {
		key   string
		value any
	}
	results := make([]resolved, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		value := w[key]
		g.Go(func() error {
			k, v, err := c.resolvePredicate(gctx, key, value)
			if err != nil {
				return err
			}
			results[i] = resolved{key: k, value: v}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := Where{}
	var collisions []any
	for _, r := range results {
		if _, taken := out[r.key]; taken {
			collisions = append(collisions, map[string]any{r.key: r.value})
			continue
		}
		out[r.key] = r.value
	}
	if len(collisions) > 0 {
		and, _ := asSlice(out["and"])
		out["and"] = append(append([]any{}, and...), collisions...)
	}
	return out, nil
}

func (c *Collection) resolvePredicate(ctx context.Context, key string, value any) (string, any, error) {
	if key == "or" || key == "and" {
		branches, ok := asSlice(value)
		if !ok {
			return key, value, nil
		}
		out := make([]any, len(branches))
		g, gctx := errgroup.WithContext(ctx)
		for i, branch := range branches {
			m, ok := asMap(branch)
			if !ok {
				out[i] = branch
				continue
			}
			g.Go(func() error {
				w, err := c.whereDeep(gctx, Where(m))
				if err != nil {
					return err
				}
				out[i] = map[string]any(w)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", nil, err
		}
		return key, out, nil
	}

	attr := c.schema.Attributes[key]
	sub, isMap := asMap(value)
	if attr == nil || !attr.IsAssociation() || !isMap || isOperatorMap(sub) {
		return key, value, nil
	}

	child, err := c.sibling(attr.target())
	if err != nil {
		return "", nil, err
	}
	rows, err := child.Find(sub).Exec(ctx)
	if err != nil {
		return "", nil, errors.Wrapf(err, "resolving %s.%s", c.Identity(), key)
	}
	matched := pluck(rows, child.schema.PrimaryKey)

	if attr.Model != "" {
		return key, matched, nil
	}

	via := child.schema.Attributes[attr.Via]
	if attr.Through == "" && via != nil && via.Model == c.Identity() {
		return c.schema.PrimaryKey, pluck(rows, attr.Via), nil
	}

	// many-to-many: look the keys up in the junction or through table
	link, err := c.sibling(attr.References)
	if err != nil {
		return "", nil, err
	}
	childSide := ""
	if attr.Through != "" {
		childSide = link.schema.ThroughTable[c.Identity()+"."+attr.Name]
	} else if via != nil {
		childSide = via.On
	}
	if childSide == "" {
		return "", nil, &ConfigurationError{Msg: "cannot resolve many-to-many predicate on " + c.Identity() + "." + key}
	}
	links, err := link.Find(Where{childSide: matched}).Exec(ctx)
	if err != nil {
		return "", nil, errors.Wrapf(err, "resolving %s.%s", c.Identity(), key)
	}
	parentSide := attr.Via
	if attr.Through == "" {
		parentSide = attr.On
	}
	return c.schema.PrimaryKey, pluck(links, parentSide), nil
}
