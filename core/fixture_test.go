package core_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pmkwilliams/offshore/cache"
	"github.com/pmkwilliams/offshore/core"
	"github.com/pmkwilliams/offshore/driver/memory"
	"github.com/pmkwilliams/offshore/logger"
)

func taxiSchemas() []*core.Schema {
	return []*core.Schema{
		core.NewSchema("company",
			core.Attr("id", core.PrimaryKey(), core.AutoIncrement(), core.Type("integer")),
			core.Attr("name", core.Type("string")),
			core.Attr("drivers", core.HasMany("driver", "company")),
			core.Attr("taxis", core.HasMany("taxi", "company")),
		),
		core.NewSchema("driver",
			core.Attr("id", core.PrimaryKey(), core.AutoIncrement(), core.Type("integer")),
			core.Attr("name", core.Type("string")),
			core.Attr("company", core.BelongsTo("company")),
			core.Attr("taxis", core.HasMany("taxi", "driver"), core.Through("ride")),
		),
		core.NewSchema("taxi",
			core.Attr("id", core.PrimaryKey(), core.AutoIncrement(), core.Type("integer")),
			core.Attr("matricule", core.Type("string")),
			core.Attr("company", core.BelongsTo("company")),
			core.Attr("constructor", core.BelongsTo("constructor")),
			core.Attr("breakdowns", core.HasMany("breakdown", "taxi")),
		),
		core.NewSchema("ride",
			core.Attr("id", core.PrimaryKey(), core.AutoIncrement(), core.Type("integer")),
			core.Attr("taxi", core.BelongsTo("taxi")),
			core.Attr("driver", core.BelongsTo("driver")),
		),
		core.NewSchema("constructor",
			core.Attr("id", core.PrimaryKey(), core.AutoIncrement(), core.Type("integer")),
			core.Attr("name", core.Type("string")),
			core.Attr("taxis", core.HasMany("taxi", "constructor")),
		),
		core.NewSchema("breakdown",
			core.Attr("id", core.PrimaryKey(), core.AutoIncrement(), core.Type("integer")),
			core.Attr("level", core.Type("integer")),
			core.Attr("taxi", core.BelongsTo("taxi")),
		),
	}
}

var taxiSeed = []struct {
	collection string
	records    []core.Record
}{
	{"company", []core.Record{
		{"id": 1, "name": "company 1"},
		{"id": 2, "name": "company 2"},
	}},
	{"driver", []core.Record{
		{"id": 1, "name": "driver 1", "company": 1},
		{"id": 2, "name": "driver 2", "company": 1},
		{"id": 3, "name": "driver 3", "company": 2},
	}},
	{"constructor", []core.Record{
		{"id": 1, "name": "constructor 1"},
		{"id": 2, "name": "constructor 2"},
	}},
	{"taxi", []core.Record{
		{"id": 1, "matricule": "taxi_1", "company": 1, "constructor": 1},
		{"id": 2, "matricule": "taxi_2", "company": 1, "constructor": 2},
		{"id": 3, "matricule": "taxi_3", "company": 2, "constructor": 1},
	}},
	{"ride", []core.Record{
		{"driver": 1, "taxi": 1},
		{"driver": 1, "taxi": 2},
		{"driver": 2, "taxi": 2},
		{"driver": 3, "taxi": 3},
	}},
	{"breakdown", []core.Record{
		{"level": 5, "taxi": 1},
		{"level": 7, "taxi": 1},
		{"level": 2, "taxi": 3},
	}},
}

// counter counts the adapter calls of each operation.
type counter struct {
	calls map[core.Operation]*atomic.Int64
}

func newCounter() *counter {
	c := &counter{calls: map[core.Operation]*atomic.Int64{}}
	for _, op := range []core.Operation{
		core.OperationFind, core.OperationJoin, core.OperationCount,
		core.OperationCreate, core.OperationUpdate, core.OperationDestroy,
	} {
		c.calls[op] = &atomic.Int64{}
	}
	return c
}

func (c *counter) middleware(next core.Handler) core.Handler {
	return func(ctx context.Context, op core.Operation, payload *core.OperationPayload) error {
		c.calls[op].Add(1)
		return next(ctx, op, payload)
	}
}

func (c *counter) reads() int64 {
	return c.calls[core.OperationFind].Load() + c.calls[core.OperationJoin].Load()
}

func testCacheConfig(t *testing.T) cache.Config {
	return cache.Config{Dir: t.TempDir(), Prefix: "TEST_", DefaultTTL: time.Minute}
}

// newTaxiRegistry builds a seeded registry on adapter, with a memory cache.
func newTaxiRegistry(t *testing.T, adapter core.Adapter) (*core.Registry, *counter) {
	t.Helper()
	ctx := context.Background()
	backend, err := cache.NewMemoryBackend(64)
	require.NoError(t, err)

	r := core.New(
		core.WithConnection("default", adapter),
		core.WithLogger(logger.Discard()),
		core.WithCacheAdapter(backend),
	)
	r.Register(taxiSchemas()...)
	require.NoError(t, r.Initialize(ctx))

	for _, seed := range taxiSeed {
		_, err := r.MustCollection(seed.collection).CreateEach(seed.records).Exec(ctx)
		require.NoError(t, err)
	}
	calls := newCounter()
	r.Use(calls.middleware)
	return r, calls
}

// adapters lists the adapters engine tests run against: one the engine
// integrates joins for, and one joining natively.
func adapters() map[string]func() core.Adapter {
	return map[string]func() core.Adapter{
		"integrated": func() core.Adapter { return memory.New() },
		"native":     func() core.Adapter { return memory.NewJoiner() },
	}
}

func pick(rows []core.Record, key string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[key]
	}
	return out
}

func records(t *testing.T, v any) []core.Record {
	t.Helper()
	list, ok := v.([]core.Record)
	require.True(t, ok, "expected []core.Record, got %T", v)
	return list
}
