package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkwilliams/offshore/core"
)

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New()
	require.NoError(t, a.RegisterConnection(context.Background(), "default", []core.CollectionDescriptor{
		{Identity: "user", TableName: "user", PrimaryKey: "id", AutoIncrement: true, Columns: []string{"id", "name", "age", "team"}},
	}))
	for _, r := range []core.Record{
		{"name": "Ana", "age": 31, "team": "red"},
		{"name": "bob", "age": 25, "team": "blue"},
		{"name": "Carla", "age": 42, "team": "red"},
		{"name": "dan", "age": nil, "team": "blue"},
	} {
		_, err := a.Create(context.Background(), "default", "user", r)
		require.NoError(t, err)
	}
	return a
}

func names(rows []core.Record) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["name"]
	}
	return out
}

func TestFindWhere(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)

	tests := []struct {
		name  string
		where core.Where
		want  []any
	}{
		{"all", nil, []any{"Ana", "bob", "Carla", "dan"}},
		{"equality", core.Where{"team": "red"}, []any{"Ana", "Carla"}},
		{"in", core.Where{"id": []any{2, 4}}, []any{"bob", "dan"}},
		{"range", core.Where{"age": map[string]any{">": 25, "<=": 42}}, []any{"Ana", "Carla"}},
		{"null", core.Where{"age": nil}, []any{"dan"}},
		{"not null", core.Where{"age": map[string]any{"!": nil}}, []any{"Ana", "bob", "Carla"}},
		{"nin", core.Where{"id": map[string]any{"nin": []any{1, 2}}}, []any{"Carla", "dan"}},
		{"contains is case insensitive", core.Where{"name": map[string]any{"contains": "AR"}}, []any{"Carla"}},
		{"startsWith", core.Where{"name": map[string]any{"startsWith": "b"}}, []any{"bob"}},
		{"like underscore", core.Where{"name": map[string]any{"like": "_an"}}, []any{"dan"}},
		{"or", core.Where{"or": []any{map[string]any{"name": "Ana"}, map[string]any{"age": 25}}}, []any{"Ana", "bob"}},
		{"empty or", core.Where{"or": []any{}}, []any{}},
		{"empty and", core.Where{"and": []any{}}, []any{"Ana", "bob", "Carla", "dan"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := a.Find(ctx, "default", "user", &core.Criteria{Where: tt.where})
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(rows))
		})
	}
}

func TestFindSortPageSelect(t *testing.T) {
	a := newAdapter(t)
	rows, err := a.Find(context.Background(), "default", "user", &core.Criteria{
		Sort:   []core.SortKey{{Attribute: "team", Direction: 1}, {Attribute: "age", Direction: -1}},
		Skip:   1,
		Limit:  2,
		Select: []string{"id", "name"},
	})
	require.NoError(t, err)
	assert.Equal(t, []core.Record{
		{"id": int64(4), "name": "dan"},
		{"id": int64(3), "name": "Carla"},
	}, rows)
}

func TestFindMatchNone(t *testing.T) {
	a := newAdapter(t)
	rows, err := a.Find(context.Background(), "default", "user", &core.Criteria{MatchNone: true})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFindReturnsCopies(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	rows, err := a.Find(ctx, "default", "user", &core.Criteria{Where: core.Where{"id": 1}})
	require.NoError(t, err)
	rows[0]["name"] = "mutated"

	again, err := a.Find(ctx, "default", "user", &core.Criteria{Where: core.Where{"id": 1}})
	require.NoError(t, err)
	assert.Equal(t, "Ana", again[0]["name"])
}

func TestAggregates(t *testing.T) {
	a := newAdapter(t)
	rows, err := a.Find(context.Background(), "default", "user", &core.Criteria{
		GroupBy: []string{"team"},
		Sum:     []string{"age"},
		Max:     []string{"name"},
	})
	require.NoError(t, err)
	assert.Equal(t, []core.Record{
		{"team": "red", "age": float64(73), "name": "Carla"},
		{"team": "blue", "age": float64(25), "name": "dan"},
	}, rows)

	rows, err = a.Find(context.Background(), "default", "user", &core.Criteria{Average: []string{"age"}, Min: []string{"id"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 32.666, rows[0]["age"], 0.001)
	assert.Equal(t, int64(1), rows[0]["id"])
}

func TestCreateAutoIncrementAndDuplicates(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)

	created, err := a.Create(ctx, "default", "user", core.Record{"id": 10, "name": "eve"})
	require.NoError(t, err)
	assert.Equal(t, 10, created["id"])

	next, err := a.Create(ctx, "default", "user", core.Record{"name": "fay"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), next["id"])

	_, err = a.Create(ctx, "default", "user", core.Record{"id": 10})
	assert.Error(t, err)
}

func TestLargeIntegerKeys(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	const big = int64(1) << 53

	_, err := a.Create(ctx, "default", "user", core.Record{"id": big, "name": "big"})
	require.NoError(t, err)
	_, err = a.Create(ctx, "default", "user", core.Record{"id": big + 1, "name": "bigger"})
	require.NoError(t, err)

	rows, err := a.Find(ctx, "default", "user", &core.Criteria{Where: core.Where{"id": big + 1}})
	require.NoError(t, err)
	assert.Equal(t, []any{"bigger"}, names(rows))

	c, ok := compare(big, big+1)
	assert.True(t, ok)
	assert.Equal(t, -1, c)
	assert.NotEqual(t, key(big), key(big+1))
	assert.Equal(t, key(2), key(2.0))
}

func TestUpdateDestroyCount(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)

	updated, err := a.Update(ctx, "default", "user", &core.Criteria{Where: core.Where{"team": "blue"}}, core.Record{"team": "green"})
	require.NoError(t, err)
	assert.Len(t, updated, 2)

	n, err := a.Count(ctx, "default", "user", &core.Criteria{Where: core.Where{"team": "green"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, a.Destroy(ctx, "default", "user", &core.Criteria{Where: core.Where{"team": "green"}}))
	n, err = a.Count(ctx, "default", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUnknownConnection(t *testing.T) {
	a := New()
	_, err := a.Find(context.Background(), "nope", "user", nil)
	assert.Error(t, err)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)

	handle, err := a.RegisterTransaction(ctx, "default", []string{"user"})
	require.NoError(t, err)
	_, err = a.Create(ctx, handle, "user", core.Record{"name": "tx"})
	require.NoError(t, err)

	n, err := a.Count(ctx, "default", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "uncommitted rows are invisible outside the transaction")

	require.NoError(t, a.Commit(ctx, handle, []string{"user"}))
	n, err = a.Count(ctx, "default", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	handle, err = a.RegisterTransaction(ctx, "default", []string{"user"})
	require.NoError(t, err)
	require.NoError(t, a.Destroy(ctx, handle, "user", nil))
	require.NoError(t, a.Rollback(ctx, handle, []string{"user"}))
	n, err = a.Count(ctx, "default", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	assert.Error(t, a.Commit(ctx, handle, []string{"user"}))
}

func TestCompare(t *testing.T) {
	now := time.Now()
	c, ok := compare(int64(3), 3.0)
	assert.True(t, ok)
	assert.Zero(t, c)

	c, ok = compare(now, now.Add(time.Second))
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	_, ok = compare("a", 1)
	assert.False(t, ok)

	assert.True(t, equal(uint8(7), 7))
	assert.False(t, equal(nil, 0))
}
