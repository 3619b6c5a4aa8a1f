package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWhere(t *testing.T) {
	cond, err := ParseWhere(nil)
	require.NoError(t, err)
	assert.Nil(t, cond)

	cond, err = ParseWhere(Where{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, Cond("name").Eq("a"), cond)

	cond, err = ParseWhere(Where{"age": map[string]any{">=": 18, "<": 65}, "name": nil})
	require.NoError(t, err)
	assert.Equal(t, &Condition{Operator: &OpAnd, Children: []*Condition{
		{Operator: &OpAnd, Children: []*Condition{Cond("age").Lt(65), Cond("age").Gte(18)}},
		Cond("name").Nil(),
	}}, cond)

	cond, err = ParseWhere(Where{"name": map[string]any{"startsWith": "ab"}})
	require.NoError(t, err)
	assert.Equal(t, Cond("name").Like("ab%"), cond)

	cond, err = ParseWhere(Where{"id": map[string]any{"nin": []any{1, 2}}})
	require.NoError(t, err)
	assert.Equal(t, Cond("id").In(1, 2).Not(), cond)

	cond, err = ParseWhere(Where{"or": []any{}})
	require.NoError(t, err)
	assert.Equal(t, &Condition{Operator: &OpOr}, cond)

	cond, err = ParseWhere(Where{"or": []any{map[string]any{}}})
	require.NoError(t, err)
	assert.Equal(t, &Condition{Operator: &OpOr, Children: []*Condition{{Operator: &OpAnd}}}, cond)
}

func TestParseWhereErrors(t *testing.T) {
	_, err := ParseWhere(Where{"age": map[string]any{"around": 3}})
	assert.Error(t, err)

	_, err = ParseWhere(Where{"or": "x"})
	assert.Error(t, err)
}

func TestConditionWhereRoundTrip(t *testing.T) {
	tests := []*Condition{
		Cond("age").Gt(3),
		Cond("name").Like("a%"),
		Cond("id").In(1, 2),
		Cond("id").In(1, 2).Not(),
		Cond("name").Eq("a").Not(),
		Cond("age").Gte(1).Or(Cond("age").Lte(0)),
		Cond("deleted").Nil(),
	}
	for _, cond := range tests {
		parsed, err := ParseWhere(cond.Where())
		require.NoError(t, err)
		assert.Equal(t, cond, parsed)
	}
	assert.Equal(t, Where{}, (*Condition)(nil).Where())
}

func TestIsOperator(t *testing.T) {
	assert.True(t, IsOperator("contains"))
	assert.True(t, IsOperator("greaterThanOrEqual"))
	assert.False(t, IsOperator("name"))
	assert.True(t, isOperatorMap(map[string]any{">": 1, "<": 4}))
	assert.False(t, isOperatorMap(map[string]any{">": 1, "name": "a"}))
	assert.False(t, isOperatorMap(map[string]any{}))
}
