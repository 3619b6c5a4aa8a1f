// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines Collection, the entry point for working with one schema.
// A Collection binds operations to deferreds and runs them against its
// adapter, handling hooks, validation, timestamps and event emission.
package core

import (
	"context"
	"time"
)

// Collection represents a repository-like handle on a registered schema.
//
// Collections are obtained from an initialized Registry, or from a
// transaction scope, in which case every query targets the transaction.
type Collection struct {
	registry *Registry
	schema   *Schema
	adapter  Adapter
	scope    *TxScope
}

// Identity returns the collection identity.
func (c *Collection) Identity() string {
	return c.schema.Identity
}

// Schema returns the collection schema.
func (c *Collection) Schema() *Schema {
	return c.schema
}

// connection returns what the adapter receives as connection: the
// transaction handle inside a scope, the connection name otherwise.
func (c *Collection) connection() string {
	if c.scope != nil {
		if handle, ok := c.scope.handles[c.schema.Connection]; ok {
			return handle
		}
	}
	return c.schema.Connection
}

// sibling returns another collection of the same registry. Inside a
// transaction scope, collections of the scope are preferred.
func (c *Collection) sibling(identity string) (*Collection, error) {
	if c.scope != nil {
		if sc, ok := c.scope.collections[identity]; ok {
			return sc, nil
		}
	}
	return c.registry.Collection(identity)
}

func (c *Collection) payload(crit *Criteria, values any) *OperationPayload {
	return &OperationPayload{
		Collection: c.Identity(),
		Connection: c.connection(),
		Criteria:   crit,
		Values:     values,
	}
}

// Find returns a deferred listing the records matching criteria.
//
// Example:
//
//	drivers, err := driverCollection.Find(map[string]any{"company": 1}).Sort("name").Exec(ctx)
func (c *Collection) Find(criteria ...any) *Deferred[[]Record] {
	return newDeferred(c, operation[[]Record]{
		name: "find",
		run: func(ctx context.Context, d *Deferred[[]Record]) ([]Record, error) {
			return d.collection.find(ctx, d.criteria)
		},
		rows:     func(rows []Record) []Record { return rows },
		fromRows: func(rows []Record) []Record { return rows },
	}, firstArg(criteria))
}

// FindOne returns a deferred resolving to the first matching record, or nil.
func (c *Collection) FindOne(criteria ...any) *Deferred[Record] {
	return newDeferred(c, operation[Record]{
		name: "findOne",
		run: func(ctx context.Context, d *Deferred[Record]) (Record, error) {
			return d.collection.findOne(ctx, d.criteria)
		},
		rows: func(r Record) []Record {
			if r == nil {
				return nil
			}
			return []Record{r}
		},
		fromRows: func(rows []Record) Record {
			if len(rows) == 0 {
				return nil
			}
			return rows[0]
		},
	}, firstArg(criteria))
}

// Count returns a deferred counting the matching records.
func (c *Collection) Count(criteria ...any) *Deferred[int64] {
	return newDeferred(c, operation[int64]{
		name: "count",
		run: func(ctx context.Context, d *Deferred[int64]) (int64, error) {
			return d.collection.count(ctx, d.criteria)
		},
	}, firstArg(criteria))
}

// Create returns a deferred creating one record.
func (c *Collection) Create(values Record) *Deferred[Record] {
	d := newDeferred(c, operation[Record]{
		name: "create",
		run: func(ctx context.Context, d *Deferred[Record]) (Record, error) {
			values, ok := asRecord(d.values)
			if !ok {
				return nil, usageErrorf("create", "values must be a record, got %T", d.values)
			}
			return d.collection.create(ctx, values)
		},
	}, nil)
	d.values = values
	return d
}

// CreateEach returns a deferred creating every record in order.
func (c *Collection) CreateEach(values []Record) *Deferred[[]Record] {
	d := newDeferred(c, operation[[]Record]{
		name: "createEach",
		run: func(ctx context.Context, d *Deferred[[]Record]) ([]Record, error) {
			list := asRecords(d.values)
			out := make([]Record, 0, len(list))
			for _, values := range list {
				created, err := d.collection.create(ctx, values)
				if err != nil {
					return nil, err
				}
				out = append(out, created)
			}
			return out, nil
		},
	}, nil)
	d.values = values
	return d
}

// Update returns a deferred applying values to every matching record.
func (c *Collection) Update(criteria any, values Record) *Deferred[[]Record] {
	d := newDeferred(c, operation[[]Record]{
		name: "update",
		run: func(ctx context.Context, d *Deferred[[]Record]) ([]Record, error) {
			values, ok := asRecord(d.values)
			if !ok {
				return nil, usageErrorf("update", "values must be a record, got %T", d.values)
			}
			return d.collection.update(ctx, d.criteria, values)
		},
	}, criteria)
	d.values = values
	return d
}

// Destroy returns a deferred removing every matching record.
func (c *Collection) Destroy(criteria ...any) *Deferred[struct{}] {
	return newDeferred(c, operation[struct{}]{
		name: "destroy",
		run: func(ctx context.Context, d *Deferred[struct{}]) (struct{}, error) {
			return struct{}{}, d.collection.destroy(ctx, d.criteria)
		},
	}, firstArg(criteria))
}

// FindOrCreate returns a deferred resolving to the first matching record,
// creating it from values when none matches. Without values, the equality
// predicates of the criteria are used.
func (c *Collection) FindOrCreate(criteria any, values Record) *Deferred[Record] {
	d := newDeferred(c, operation[Record]{
		name: "findOrCreate",
		run: func(ctx context.Context, d *Deferred[Record]) (Record, error) {
			found, err := d.collection.findOne(ctx, d.criteria.Clone())
			if err != nil || found != nil {
				return found, err
			}
			values, _ := asRecord(d.values)
			if values == nil {
				values = Record{}
				for k, v := range d.criteria.Where {
					if isScalar(v) {
						values[k] = v
					}
				}
			}
			return d.collection.create(ctx, values)
		},
	}, criteria)
	d.values = values
	return d
}

// find runs a find with its joins and returns records in attribute space.
func (c *Collection) find(ctx context.Context, crit *Criteria) ([]Record, error) {
	if crit.MatchNone {
		return []Record{}, nil
	}
	adapterCrit, err := c.toColumns(crit)
	if err != nil {
		return nil, err
	}

	var rows []Record
	switch joiner, native := c.adapter.(Joiner); {
	case len(adapterCrit.Joins) == 0:
		rows, err = c.adapterFind(ctx, adapterCrit)
	case native:
		err = c.registry.dispatchOperation(ctx, OperationJoin, c.payload(adapterCrit, nil), func(ctx context.Context) error {
			var err error
			rows, err = joiner.Join(ctx, c.connection(), c.Identity(), adapterCrit)
			return err
		})
	default:
		base := adapterCrit.Clone()
		base.Joins = nil
		if rows, err = c.adapterFind(ctx, base); err == nil {
			err = c.integrate(ctx, rows, adapterCrit.Joins)
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := c.fromColumns(row, adapterCrit.Joins)
		if err != nil {
			return nil, err
		}
		if err := c.schema.runHook(ctx, AfterFind, record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	c.registry.Emit(EventFind, FindPayload{Collection: c.Identity(), Criteria: crit, Records: out})
	return out, nil
}

// adapterFind runs a column-space find through the middleware chain.
func (c *Collection) adapterFind(ctx context.Context, crit *Criteria) ([]Record, error) {
	var rows []Record
	err := c.registry.dispatchOperation(ctx, OperationFind, c.payload(crit, nil), func(ctx context.Context) error {
		var err error
		rows, err = c.adapter.Find(ctx, c.connection(), c.Identity(), crit)
		return err
	})
	if rows == nil && err == nil {
		rows = []Record{}
	}
	return rows, err
}

func (c *Collection) findOne(ctx context.Context, crit *Criteria) (Record, error) {
	crit.Limit = 1
	rows, err := c.find(ctx, crit)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (c *Collection) count(ctx context.Context, crit *Criteria) (int64, error) {
	if crit.MatchNone {
		return 0, nil
	}
	adapterCrit, err := c.toColumns(crit)
	if err != nil {
		return 0, err
	}
	adapterCrit.Joins = nil
	var n int64
	err = c.registry.dispatchOperation(ctx, OperationCount, c.payload(adapterCrit, nil), func(ctx context.Context) error {
		var err error
		n, err = c.adapter.Count(ctx, c.connection(), c.Identity(), adapterCrit)
		return err
	})
	return n, err
}

// prepareValues copies values, replacing populated to-one associations by
// their key and dropping to-many associations.
func (c *Collection) prepareValues(values Record) Record {
	out := make(Record, len(values))
	for k, v := range values {
		attr := c.schema.Attributes[k]
		switch {
		case attr == nil:
			out[k] = cloneData(v)
		case attr.Collection != "":
			continue
		case attr.Model != "":
			if nested, ok := asRecord(v); ok {
				target, err := c.sibling(attr.Model)
				if err == nil {
					v = nested[target.schema.PrimaryKey]
				}
			}
			out[k] = v
		default:
			out[k] = cloneData(v)
		}
	}
	return out
}

func (c *Collection) validate(values Record, presentOnly bool) error {
	if !presentOnly {
		for _, name := range c.schema.attributeOrder {
			attr := c.schema.Attributes[name]
			if attr.Required && !attr.AutoIncrement && values[name] == nil {
				return &ValidationError{Collection: c.Identity(), Attribute: name, Msg: "is required"}
			}
		}
	}
	if c.schema.validator != nil {
		return c.schema.validator(values, presentOnly)
	}
	return nil
}

func (c *Collection) create(ctx context.Context, values Record) (Record, error) {
	record := c.prepareValues(values)
	for _, name := range c.schema.attributeOrder {
		attr := c.schema.Attributes[name]
		if _, set := record[name]; !set && attr.DefaultValue != nil {
			record[name] = cloneData(attr.DefaultValue)
		}
	}
	now := time.Now()
	if attr := c.schema.createdAtAttr; attr != nil && record[attr.Name] == nil {
		record[attr.Name] = now
	}
	if attr := c.schema.updatedAtAttr; attr != nil && record[attr.Name] == nil {
		record[attr.Name] = now
	}

	if err := c.schema.runHook(ctx, BeforeCreate, record); err != nil {
		return nil, err
	}
	if err := c.validate(record, false); err != nil {
		return nil, err
	}

	columns := c.recordToColumns(record)
	var created Record
	err := c.registry.dispatchOperation(ctx, OperationCreate, c.payload(nil, columns), func(ctx context.Context) error {
		var err error
		created, err = c.adapter.Create(ctx, c.connection(), c.Identity(), columns)
		return err
	})
	if err != nil {
		return nil, err
	}
	out, err := c.fromColumns(created, nil)
	if err != nil {
		return nil, err
	}
	if err := c.schema.runHook(ctx, AfterCreate, out); err != nil {
		return nil, err
	}
	c.registry.Emit(EventCreate, CreatePayload{Collection: c.Identity(), Record: out})
	return out, nil
}

func (c *Collection) update(ctx context.Context, crit *Criteria, values Record) ([]Record, error) {
	if crit.MatchNone {
		return []Record{}, nil
	}
	changes := c.prepareValues(values)
	if attr := c.schema.updatedAtAttr; attr != nil {
		changes[attr.Name] = time.Now()
	}
	if err := c.schema.runHook(ctx, BeforeUpdate, changes); err != nil {
		return nil, err
	}
	if err := c.validate(changes, true); err != nil {
		return nil, err
	}

	adapterCrit, err := c.toColumns(crit)
	if err != nil {
		return nil, err
	}
	adapterCrit.Joins = nil
	columns := c.recordToColumns(changes)
	var rows []Record
	err = c.registry.dispatchOperation(ctx, OperationUpdate, c.payload(adapterCrit, columns), func(ctx context.Context) error {
		var err error
		rows, err = c.adapter.Update(ctx, c.connection(), c.Identity(), adapterCrit, columns)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := c.fromColumns(row, nil)
		if err != nil {
			return nil, err
		}
		if err := c.schema.runHook(ctx, AfterUpdate, record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	c.registry.Emit(EventUpdate, UpdatePayload{Collection: c.Identity(), Criteria: crit, Values: changes, Records: out})
	return out, nil
}

func (c *Collection) destroy(ctx context.Context, crit *Criteria) error {
	if crit.MatchNone {
		return nil
	}
	if err := c.schema.runHook(ctx, BeforeDestroy, Record(crit.Where)); err != nil {
		return err
	}
	adapterCrit, err := c.toColumns(crit)
	if err != nil {
		return err
	}
	adapterCrit.Joins = nil
	err = c.registry.dispatchOperation(ctx, OperationDestroy, c.payload(adapterCrit, nil), func(ctx context.Context) error {
		return c.adapter.Destroy(ctx, c.connection(), c.Identity(), adapterCrit)
	})
	if err != nil {
		return err
	}
	if err := c.schema.runHook(ctx, AfterDestroy, Record(crit.Where)); err != nil {
		return err
	}
	c.registry.Emit(EventDestroy, DestroyPayload{Collection: c.Identity(), Criteria: crit})
	return nil
}
