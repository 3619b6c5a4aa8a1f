// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines lifecycle hooks that allow custom logic to be executed
// before or after persistence operations such as create, update, destroy, and find.
package core

import "context"

// Hook identifies a lifecycle point of a collection.
//
// Hooks are identified by string tokens (e.g., "before:create") and are
// registered per schema. They allow validation, transformation, or side
// effects to be applied around an operation.
type Hook string

const (
	// BeforeCreate runs on the values of each record before it is created.
	BeforeCreate Hook = "before:create"
	// AfterCreate runs on each created record.
	AfterCreate Hook = "after:create"
	// BeforeUpdate runs on the update values before they are applied.
	BeforeUpdate Hook = "before:update"
	// AfterUpdate runs on each updated record.
	AfterUpdate Hook = "after:update"
	// BeforeDestroy runs on the where clause of a destroy.
	BeforeDestroy Hook = "before:destroy"
	// AfterDestroy runs on the where clause once a destroy has completed.
	AfterDestroy Hook = "after:destroy"
	// AfterFind runs on each record returned by a find.
	AfterFind Hook = "after:find"
)

// HookFunc receives the record (attribute space) the hook applies to. It may
// mutate it in place; a returned error aborts the operation.
type HookFunc func(ctx context.Context, record Record) error

// Validator checks values before they are handed to an adapter. On update
// presentOnly is true and only the keys present in values should be checked.
type Validator func(values Record, presentOnly bool) error

// RegisterHook registers a hook for the schema.
func (s *Schema) RegisterHook(hook Hook, fn HookFunc) {
	s.hookList[hook] = append(s.hookList[hook], fn)
}

// runHook executes all registered functions for the given hook on record.
func (s *Schema) runHook(ctx context.Context, hook Hook, record Record) error {
	if fnList, ok := s.hookList[hook]; ok {
		for _, fn := range fnList {
			if err := fn(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}
