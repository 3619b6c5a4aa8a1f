// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the set of supported operators used in query conditions
// and the where-clause spellings that map onto them.
package core

// Operator represents a comparison or logical operator used in a query condition.
//
// Operators can be logical (AND, OR, NOT) or value-based (EQ, GT, IN, etc.).
type Operator string

const (
	// Logical operators
	opAnd Operator = "AND"
	opOr  Operator = "OR"
	opNot Operator = "NOT"

	// Value-based operators
	opNil  Operator = "NIL"  // field IS NULL
	opEq   Operator = "EQ"   // field = value
	opGt   Operator = "GT"   // field > value
	opGte  Operator = "GTE"  // field >= value
	opLt   Operator = "LT"   // field < value
	opLte  Operator = "LTE"  // field <= value
	opLike Operator = "LIKE" // field LIKE pattern (SQL) or regex (NoSQL)
	opIn   Operator = "IN"   // field IN (value list)
)

// Public operator aliases exposed to users of the ORM and to adapters.
//
// Example:
//
//	cond := &core.Condition{FieldName: "age", Operator: &core.OpGt, Value: 18}
var (
	OpAnd  = opAnd
	OpOr   = opOr
	OpNot  = opNot
	OpNil  = opNil
	OpEq   = opEq
	OpGt   = opGt
	OpGte  = opGte
	OpLt   = opLt
	OpLte  = opLte
	OpLike = opLike
	OpIn   = opIn
)

// whereOperators maps every operator key accepted inside a where clause to
// its canonical spelling.
var whereOperators = map[string]string{
	"<":                  "<",
	"lessThan":           "<",
	"<=":                 "<=",
	"lessThanOrEqual":    "<=",
	">":                  ">",
	"greaterThan":        ">",
	">=":                 ">=",
	"greaterThanOrEqual": ">=",
	"!":                  "!",
	"not":                "!",
	"like":               "like",
	"contains":           "contains",
	"startsWith":         "startsWith",
	"endsWith":           "endsWith",
	"in":                 "in",
	"nin":                "nin",
}

// IsOperator reports whether key is an operator usable in a where clause.
func IsOperator(key string) bool {
	_, ok := whereOperators[key]
	return ok
}

// isOperatorMap reports whether every key of m is an operator, meaning m is
// a comparison and not a nested criteria.
func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !IsOperator(k) {
			return false
		}
	}
	return true
}
