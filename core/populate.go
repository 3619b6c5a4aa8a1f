// Package core provides the fundamental building blocks of the offshore ORM.
// This file implements the association resolver: it turns populate requests
// into join plans, flat for single aliases and per-path for dotted ones.
package core

import (
	"strings"

	"github.com/pkg/errors"
)

// Populate requests that the named association be loaded into every
// returned record. names is an alias, a dotted path ("drivers.taxis") or a
// []string of either. An optional sub-criteria filters, sorts and pages the
// associated records; for a dotted path it applies to the last segment.
//
// Example:
//
//	companies.Find().
//	    Populate("drivers", map[string]any{"where": map[string]any{"active": true}, "limit": 5}).
//	    Populate("drivers.taxis")
func (d *Deferred[R]) Populate(names any, sub ...any) *Deferred[R] {
	if d.err != nil {
		return d
	}
	switch t := names.(type) {
	case []string:
		for _, name := range t {
			d.Populate(name, sub...)
		}
		return d
	case string:
		return d.populate(t, firstArg(sub))
	}
	return d.fail(usageErrorf("populate", "expected an alias or a list of aliases, got %T", names))
}

// PopulateAll populates every association of the collection.
func (d *Deferred[R]) PopulateAll(sub ...any) *Deferred[R] {
	schema := d.collection.schema
	for _, name := range schema.attributeOrder {
		if schema.Attributes[name].IsAssociation() {
			d.populate(name, firstArg(sub))
		}
	}
	return d
}

func (d *Deferred[R]) populate(name string, raw any) *Deferred[R] {
	if d.err != nil {
		return d
	}
	c := d.collection
	crit, err := Normalize(raw, c.targetPrimaryKey(name))
	if err != nil {
		return d.fail(errors.Wrapf(err, "populate(%q)", name))
	}
	if strings.Contains(name, ".") {
		if err := d.populatePath(name, crit); err != nil {
			return d.fail(err)
		}
		return d
	}

	joins, err := c.joinsFor(name, crit)
	if err != nil {
		return d.fail(err)
	}
	// populating an alias again replaces its previous plan
	kept := d.criteria.Joins[:0:0]
	for _, j := range d.criteria.Joins {
		if j.Alias != name {
			kept = append(kept, j)
		}
	}
	d.criteria.Joins = append(kept, joins...)
	if d.criteria.Deep() {
		if node := d.criteria.Paths[c.Identity()]; node != nil {
			delete(node.Children, name)
			rootJoins := node.Joins[:0:0]
			for _, j := range node.Joins {
				if j.Alias != name {
					rootJoins = append(rootJoins, j)
				}
			}
			node.Joins = rootJoins
		}
		d.registerRootJoins()
	}
	return d
}

// populatePath walks a dotted path, building one PathNode per prefix and
// memoizing the collection each alias resolves to. Only the last segment
// receives crit. The deferred then executes deep.
func (d *Deferred[R]) populatePath(path string, crit *Criteria) error {
	c := d.collection
	root := c.Identity()
	if d.criteria.Paths == nil {
		d.criteria.Paths = map[string]*PathNode{root: newPathNode()}
	}
	d.registerRootJoins()

	segments := strings.Split(path, ".")
	parent := c
	current := root
	for i, alias := range segments {
		attr := parent.schema.Attributes[alias]
		if attr == nil || !attr.IsAssociation() {
			return &ResolutionError{Path: path, Msg: "attempting to populate an attribute that doesn't exist"}
		}
		node := d.criteria.Paths[current]
		if node == nil {
			node = newPathNode()
			d.criteria.Paths[current] = node
		}
		child, err := parent.sibling(attr.target())
		if err != nil {
			return &ResolutionError{Path: path, Msg: "association target is not registered", Err: err}
		}
		if _, seen := node.Children[alias]; !seen {
			var sub *Criteria
			if i == len(segments)-1 {
				sub = crit
			}
			joins, err := parent.joinsFor(alias, sub)
			if err != nil {
				return err
			}
			if i == 0 {
				d.criteria.Joins = append(d.criteria.Joins, joins...)
			}
			node.Joins = append(node.Joins, joins...)
			node.Children[alias] = PathChild{CollectionName: child.Identity(), PrimaryKey: child.schema.PrimaryKey}
		}
		parent = child
		current += "." + alias
	}
	return nil
}

// registerRootJoins records the flat joins of the root in the root PathNode
// so the deep loop descends through them.
func (d *Deferred[R]) registerRootJoins() {
	c := d.collection
	node := d.criteria.Paths[c.Identity()]
	if node == nil {
		node = newPathNode()
		d.criteria.Paths[c.Identity()] = node
	}
	for _, j := range d.criteria.Joins {
		if _, ok := node.Children[j.Alias]; ok {
			continue
		}
		attr := c.schema.Attributes[j.Alias]
		if attr == nil {
			continue
		}
		child, err := c.sibling(attr.target())
		if err != nil {
			continue
		}
		node.Joins = append(node.Joins, j)
		node.Children[j.Alias] = PathChild{CollectionName: child.Identity(), PrimaryKey: child.schema.PrimaryKey}
	}
}

// targetPrimaryKey returns the primary key of the collection at the end of a
// dotted association path, falling back to "id" when it cannot be resolved.
func (c *Collection) targetPrimaryKey(path string) string {
	current := c
	for _, alias := range strings.Split(path, ".") {
		attr := current.schema.Attributes[alias]
		if attr == nil || !attr.IsAssociation() {
			return "id"
		}
		next, err := current.sibling(attr.target())
		if err != nil {
			return "id"
		}
		current = next
	}
	return current.schema.PrimaryKey
}

// joinsFor builds the join instructions for populating alias. The
// association's default criteria is merged with sub and attached to the
// last join.
func (c *Collection) joinsFor(alias string, sub *Criteria) ([]*Join, error) {
	attr := c.schema.Attributes[alias]
	if attr == nil || !attr.IsAssociation() {
		return nil, &ResolutionError{Path: alias, Msg: "attempting to populate an attribute that doesn't exist"}
	}
	joins, err := c.buildJoins(attr)
	if err != nil {
		return nil, &ResolutionError{Path: alias, Msg: "could not build join instructions", Err: err}
	}
	joins[len(joins)-1].Criteria = Merge(sub, attr.defaultCriteria)
	return joins, nil
}

func (c *Collection) buildJoins(attr *Attribute) ([]*Join, error) {
	reg := c.registry
	childSchema, ok := reg.schemas[attr.References]
	if !ok {
		return nil, errors.Errorf("collection %q is not registered", attr.References)
	}

	parentKey := c.schema.primaryKeyColumn()
	if attr.Model != "" {
		parentKey = attr.column()
	}
	join := &Join{
		Parent:          c.Identity(),
		ParentKey:       parentKey,
		Child:           attr.References,
		ChildKey:        attr.On,
		Select:          childSchema.Columns(),
		Alias:           attr.Name,
		RemoveParentKey: attr.Model != "",
		Model:           attr.Model != "",
		Collection:      attr.Collection != "",
	}

	var reference *Attribute
	if childSchema.JunctionTable {
		join.Select = nil
		for _, name := range childSchema.attributeOrder {
			candidate := childSchema.Attributes[name]
			if candidate.References != "" && candidate.column() != attr.On {
				reference = candidate
				break
			}
		}
		if reference == nil {
			return nil, errors.Errorf("junction %q has no reference to %q", childSchema.Identity, attr.Collection)
		}
	} else if name, ok := childSchema.ThroughTable[c.Identity()+"."+attr.Name]; ok {
		join.Select = nil
		reference = childSchema.Attributes[name]
	}

	joins := []*Join{join}
	if reference != nil {
		target, ok := reg.schemas[reference.References]
		if !ok {
			return nil, errors.Errorf("collection %q is not registered", reference.References)
		}
		joins = append(joins, &Join{
			Parent:        childSchema.Identity,
			ParentKey:     reference.column(),
			Child:         reference.References,
			ChildKey:      reference.On,
			Select:        target.Columns(),
			Alias:         attr.Name,
			JunctionTable: true,
			Collection:    true,
		})
	}
	return joins, nil
}
