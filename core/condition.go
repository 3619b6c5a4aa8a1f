// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines Condition, the operator tree adapters evaluate, together
// with its conversions from and to where clauses.
package core

import (
	"fmt"
	"sort"
	"strings"
)

// Condition represents a single clause in a query filter.
//
// A condition can target a specific field (FieldName) with a given operator
// (Eq, Gt, Like, In, etc.) and a comparison value. Conditions can also
// be nested using Children, enabling composition of complex logical
// expressions with AND, OR, and NOT.
//
// Adapters receive criteria as Where trees and call ParseWhere to obtain a
// Condition, which only uses the operators declared in operator.go.
//
// Example:
//
//	cond := core.Cond("age").Gt(18).
//		And(core.Cond("status").Eq("active"))
//
// The above creates a condition equivalent to:
//
//	(age > 18) AND (status = "active")
type Condition struct {
	FieldName string       // The field/column name this condition applies to
	Operator  *Operator    // The comparison operator (Eq, Gt, Like, etc.)
	Value     any          // The comparison value
	Children  []*Condition // Nested conditions (for AND, OR, NOT expressions)
}

// Cond starts a condition on the given field.
func Cond(field string) *Condition {
	return &Condition{FieldName: field}
}

// And combines this condition with additional conditions using the logical AND operator.
func (c *Condition) And(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: &OpAnd,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Or combines this condition with additional conditions using the logical OR operator.
func (c *Condition) Or(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: &OpOr,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Not negates this condition using the logical NOT operator.
func (c *Condition) Not() *Condition {
	return &Condition{
		Operator: &OpNot,
		Children: []*Condition{c},
	}
}

// Nil sets this condition to check for NULL values (IS NULL).
func (c *Condition) Nil() *Condition {
	c.Operator = &OpNil
	c.Value = nil
	return c
}

// Eq sets this condition to check for equality (=).
func (c *Condition) Eq(v any) *Condition {
	c.Operator = &OpEq
	c.Value = v
	return c
}

// Gt sets this condition to check for "greater than" (>).
func (c *Condition) Gt(v any) *Condition {
	c.Operator = &OpGt
	c.Value = v
	return c
}

// Gte sets this condition to check for "greater than or equal" (>=).
func (c *Condition) Gte(v any) *Condition {
	c.Operator = &OpGte
	c.Value = v
	return c
}

// Lt sets this condition to check for "less than" (<).
func (c *Condition) Lt(v any) *Condition {
	c.Operator = &OpLt
	c.Value = v
	return c
}

// Lte sets this condition to check for "less than or equal" (<=).
func (c *Condition) Lte(v any) *Condition {
	c.Operator = &OpLte
	c.Value = v
	return c
}

// Like sets this condition to perform a pattern match (SQL LIKE semantics,
// `%` matches any run of characters and `_` a single one).
func (c *Condition) Like(v any) *Condition {
	c.Operator = &OpLike
	c.Value = v
	return c
}

// In sets this condition to check whether the field value is contained in the provided list.
func (c *Condition) In(values ...any) *Condition {
	c.Operator = &OpIn
	c.Value = values
	return c
}

// Where renders the condition back into a where clause, so that built
// conditions can be passed anywhere criteria are accepted.
//
// Example:
//
//	users.Find(core.Cond("age").Gte(18).Where())
func (c *Condition) Where() Where {
	if c == nil || c.Operator == nil {
		return Where{}
	}
	switch *c.Operator {
	case opAnd, opOr:
		children := make([]any, 0, len(c.Children))
		for _, child := range c.Children {
			children = append(children, map[string]any(child.Where()))
		}
		return Where{strings.ToLower(string(*c.Operator)): children}
	case opNot:
		if len(c.Children) != 1 || c.Children[0].Operator == nil {
			return Where{}
		}
		child := c.Children[0]
		switch *child.Operator {
		case opEq, opNil:
			return Where{child.FieldName: map[string]any{"!": child.Value}}
		case opIn:
			return Where{child.FieldName: map[string]any{"nin": child.Value}}
		}
		// a negation with no where spelling matches nothing
		return Where{"or": []any{}}
	case opNil:
		return Where{c.FieldName: nil}
	case opEq:
		return Where{c.FieldName: c.Value}
	case opIn:
		return Where{c.FieldName: c.Value}
	case opGt:
		return Where{c.FieldName: map[string]any{">": c.Value}}
	case opGte:
		return Where{c.FieldName: map[string]any{">=": c.Value}}
	case opLt:
		return Where{c.FieldName: map[string]any{"<": c.Value}}
	case opLte:
		return Where{c.FieldName: map[string]any{"<=": c.Value}}
	case opLike:
		return Where{c.FieldName: map[string]any{"like": c.Value}}
	}
	return Where{}
}

// ParseWhere converts a where clause into a Condition tree. A nil result
// means the clause matches every record.
//
// Keys are visited in lexicographic order so the resulting tree is stable.
// "contains", "startsWith" and "endsWith" become LIKE patterns; "!" and
// "nin" become NOT nodes.
func ParseWhere(w Where) (*Condition, error) {
	if len(w) == 0 {
		return nil, nil
	}
	var conds []*Condition
	for _, key := range sortedKeys(w) {
		cond, err := parseKey(key, w[key])
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return foldConditionsAnd(conds...), nil
}

func parseKey(key string, value any) (*Condition, error) {
	if key == "or" || key == "and" {
		items, ok := asSlice(value)
		if !ok {
			return nil, usageErrorf("where", "%q expects a list of clauses, got %T", key, value)
		}
		op := &OpOr
		if key == "and" {
			op = &OpAnd
		}
		node := &Condition{Operator: op}
		for _, item := range items {
			m, ok := asMap(item)
			if !ok {
				return nil, usageErrorf("where", "%q expects a list of clauses, got %T", key, item)
			}
			child, err := ParseWhere(Where(m))
			if err != nil {
				return nil, err
			}
			if child == nil {
				// an empty clause matches everything
				child = &Condition{Operator: &OpAnd}
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	if value == nil {
		return Cond(key).Nil(), nil
	}
	if m, ok := asMap(value); ok {
		return parseOperators(key, m)
	}
	if items, ok := asSlice(value); ok {
		return Cond(key).In(items...), nil
	}
	return Cond(key).Eq(value), nil
}

func parseOperators(field string, ops map[string]any) (*Condition, error) {
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []*Condition
	for _, k := range keys {
		canonical, ok := whereOperators[k]
		if !ok {
			return nil, usageErrorf("where", "unknown operator %q on %q", k, field)
		}
		v := ops[k]
		var cond *Condition
		switch canonical {
		case "<":
			cond = Cond(field).Lt(v)
		case "<=":
			cond = Cond(field).Lte(v)
		case ">":
			cond = Cond(field).Gt(v)
		case ">=":
			cond = Cond(field).Gte(v)
		case "like":
			cond = Cond(field).Like(v)
		case "contains":
			cond = Cond(field).Like("%" + fmt.Sprint(v) + "%")
		case "startsWith":
			cond = Cond(field).Like(fmt.Sprint(v) + "%")
		case "endsWith":
			cond = Cond(field).Like("%" + fmt.Sprint(v))
		case "in", "nin":
			items, ok := asSlice(v)
			if !ok {
				items = []any{v}
			}
			cond = Cond(field).In(items...)
			if canonical == "nin" {
				cond = cond.Not()
			}
		case "!":
			switch {
			case v == nil:
				cond = Cond(field).Nil().Not()
			default:
				if items, ok := asSlice(v); ok {
					cond = Cond(field).In(items...).Not()
				} else {
					cond = Cond(field).Eq(v).Not()
				}
			}
		}
		conds = append(conds, cond)
	}
	return foldConditionsAnd(conds...), nil
}

// foldConditionsAnd combines multiple conditions into a single condition
// using logical AND. If zero conditions are provided, it returns nil.
// If one condition is provided, it returns that condition.
func foldConditionsAnd(conds ...*Condition) *Condition {
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return &Condition{Operator: &OpAnd, Children: conds}
	}
}
