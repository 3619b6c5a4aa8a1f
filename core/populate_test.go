package core_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkwilliams/offshore/core"
	"github.com/pmkwilliams/offshore/driver/memory"
	"github.com/pmkwilliams/offshore/logger"
)

func TestDeepPopulation(t *testing.T) {
	for name, newAdapter := range adapters() {
		t.Run(name, func(t *testing.T) {
			r, _ := newTaxiRegistry(t, newAdapter())
			ctx := context.Background()

			companies, err := r.MustCollection("company").Find().
				Sort("id").
				Populate("drivers.taxis", map[string]any{"sort": "matricule desc"}).
				Exec(ctx)
			require.NoError(t, err)
			require.Len(t, companies, 2)

			first := records(t, companies[0]["drivers"])
			assert.Equal(t, []any{"driver 1", "driver 2"}, pick(first, "name"))
			assert.Equal(t, []any{"taxi_2", "taxi_1"}, pick(records(t, first[0]["taxis"]), "matricule"))
			assert.Equal(t, []any{"taxi_2"}, pick(records(t, first[1]["taxis"]), "matricule"))

			second := records(t, companies[1]["drivers"])
			assert.Equal(t, []any{"driver 3"}, pick(second, "name"))
			assert.Equal(t, []any{"taxi_3"}, pick(records(t, second[0]["taxis"]), "matricule"))
		})
	}
}

func TestDeepPopulationThreeLevels(t *testing.T) {
	for name, newAdapter := range adapters() {
		t.Run(name, func(t *testing.T) {
			r, _ := newTaxiRegistry(t, newAdapter())

			companies, err := r.MustCollection("company").Find(1).
				Populate("drivers").
				Populate("drivers.taxis").
				Populate("drivers.taxis.breakdowns", map[string]any{"sort": "level desc"}).
				Exec(context.Background())
			require.NoError(t, err)
			require.Len(t, companies, 1)

			drivers := records(t, companies[0]["drivers"])
			require.Len(t, drivers, 2)
			taxis := records(t, drivers[0]["taxis"])
			require.Equal(t, []any{"taxi_1", "taxi_2"}, pick(taxis, "matricule"))
			assert.Len(t, records(t, taxis[0]["breakdowns"]), 2)
			assert.EqualValues(t, 7, records(t, taxis[0]["breakdowns"])[0]["level"])
			assert.Empty(t, records(t, taxis[1]["breakdowns"]))
		})
	}
}

func TestPopulateFlat(t *testing.T) {
	for name, newAdapter := range adapters() {
		t.Run(name, func(t *testing.T) {
			r, _ := newTaxiRegistry(t, newAdapter())

			taxis, err := r.MustCollection("taxi").Find().
				Sort("id").
				Populate([]string{"constructor", "company"}).
				Populate("breakdowns").
				Exec(context.Background())
			require.NoError(t, err)
			require.Len(t, taxis, 3)

			constructor, ok := taxis[1]["constructor"].(core.Record)
			require.True(t, ok, "to-one alias holds a record, got %T", taxis[1]["constructor"])
			assert.Equal(t, "constructor 2", constructor["name"])
			assert.Equal(t, "company 2", taxis[2]["company"].(core.Record)["name"])
			assert.Len(t, records(t, taxis[0]["breakdowns"]), 2)
			assert.Empty(t, records(t, taxis[1]["breakdowns"]))
		})
	}
}

func TestPopulateManyToManyThrough(t *testing.T) {
	for name, newAdapter := range adapters() {
		t.Run(name, func(t *testing.T) {
			r, _ := newTaxiRegistry(t, newAdapter())

			drivers, err := r.MustCollection("driver").Find().
				Sort("id").
				Populate("taxis", map[string]any{"where": map[string]any{"matricule": map[string]any{"!": "taxi_1"}}}).
				Exec(context.Background())
			require.NoError(t, err)
			require.Len(t, drivers, 3)
			assert.Equal(t, []any{"taxi_2"}, pick(records(t, drivers[0]["taxis"]), "matricule"))
			assert.Equal(t, []any{"taxi_2"}, pick(records(t, drivers[1]["taxis"]), "matricule"))
			assert.Equal(t, []any{"taxi_3"}, pick(records(t, drivers[2]["taxis"]), "matricule"))
		})
	}
}

func TestPopulateLimitsPerParent(t *testing.T) {
	for name, newAdapter := range adapters() {
		t.Run(name, func(t *testing.T) {
			r, _ := newTaxiRegistry(t, newAdapter())

			companies, err := r.MustCollection("company").Find().
				Sort("id").
				Populate("drivers", map[string]any{"sort": "name desc", "limit": 1}).
				Exec(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []any{"driver 2"}, pick(records(t, companies[0]["drivers"]), "name"))
			assert.Equal(t, []any{"driver 3"}, pick(records(t, companies[1]["drivers"]), "name"))
		})
	}
}

func TestWhereAcrossAssociations(t *testing.T) {
	for name, newAdapter := range adapters() {
		t.Run(name, func(t *testing.T) {
			r, _ := newTaxiRegistry(t, newAdapter())
			ctx := context.Background()

			companies, err := r.MustCollection("company").Find(map[string]any{
				"drivers": map[string]any{
					"taxis": map[string]any{"constructor": map[string]any{"name": "constructor 2"}},
				},
			}).Exec(ctx)
			require.NoError(t, err)
			assert.Equal(t, []any{"company 1"}, pick(companies, "name"))

			taxis, err := r.MustCollection("taxi").Find(map[string]any{
				"breakdowns": map[string]any{"level": map[string]any{">": 4}},
			}).Exec(ctx)
			require.NoError(t, err)
			assert.Equal(t, []any{"taxi_1"}, pick(taxis, "matricule"))

			drivers, err := r.MustCollection("driver").Find(map[string]any{
				"or": []any{
					map[string]any{"company": map[string]any{"name": "company 2"}},
					map[string]any{"name": "driver 1"},
				},
			}).Sort("id").Exec(ctx)
			require.NoError(t, err)
			assert.Equal(t, []any{"driver 1", "driver 3"}, pick(drivers, "name"))

			count, err := r.MustCollection("taxi").Count(map[string]any{
				"constructor": map[string]any{"name": "constructor 1"},
			}).Exec(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)
		})
	}
}

// failingAdapter fails every find on one collection.
type failingAdapter struct {
	*memory.Adapter
	collection string
	err        error
}

func (a *failingAdapter) Find(ctx context.Context, connection, collection string, criteria *core.Criteria) ([]core.Record, error) {
	if collection == a.collection {
		return nil, a.err
	}
	return a.Adapter.Find(ctx, connection, collection, criteria)
}

func TestDeepPopulationFailureAborts(t *testing.T) {
	down := errors.New("adapter down")
	r, _ := newTaxiRegistry(t, &failingAdapter{Adapter: memory.New(), collection: "taxi", err: down})

	companies, err := r.MustCollection("company").Find().
		Populate("drivers.taxis").
		Exec(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "populating company.drivers")
	assert.Nil(t, companies)
}

func TestPopulateLargeIntegerKeys(t *testing.T) {
	const big = int64(1) << 53
	for name, newAdapter := range adapters() {
		t.Run(name, func(t *testing.T) {
			r, _ := newTaxiRegistry(t, newAdapter())
			ctx := context.Background()

			_, err := r.MustCollection("company").CreateEach([]core.Record{
				{"id": big, "name": "company big"},
				{"id": big + 1, "name": "company bigger"},
			}).Exec(ctx)
			require.NoError(t, err)
			_, err = r.MustCollection("driver").CreateEach([]core.Record{
				{"name": "driver big", "company": big},
				{"name": "driver bigger", "company": big + 1},
			}).Exec(ctx)
			require.NoError(t, err)

			companies, err := r.MustCollection("company").Find(map[string]any{"id": map[string]any{">=": big}}).
				Sort("id").
				Populate("drivers").
				Exec(ctx)
			require.NoError(t, err)
			require.Len(t, companies, 2)
			assert.Equal(t, []any{"driver big"}, pick(records(t, companies[0]["drivers"]), "name"))
			assert.Equal(t, []any{"driver bigger"}, pick(records(t, companies[1]["drivers"]), "name"))

			drivers, err := r.MustCollection("driver").Find(map[string]any{
				"company": map[string]any{"name": "company bigger"},
			}).Exec(ctx)
			require.NoError(t, err)
			assert.Equal(t, []any{"driver bigger"}, pick(drivers, "name"))
		})
	}
}

// newJunctionRegistry seeds drivers and taxis linked through a synthesized
// junction table.
func newJunctionRegistry(t *testing.T, adapter core.Adapter) *core.Registry {
	t.Helper()
	ctx := context.Background()
	r := core.New(
		core.WithConnection("default", adapter),
		core.WithLogger(logger.Discard()),
		core.WithCacheConfig(testCacheConfig(t)),
	)
	r.Register(
		core.NewSchema("driver",
			core.Attr("id", core.PrimaryKey(), core.AutoIncrement()),
			core.Attr("name"),
			core.Attr("taxis", core.HasMany("taxi", "drivers")),
		),
		core.NewSchema("taxi",
			core.Attr("id", core.PrimaryKey(), core.AutoIncrement()),
			core.Attr("matricule"),
			core.Attr("drivers", core.HasMany("driver", "taxis")),
		),
	)
	require.NoError(t, r.Initialize(ctx))

	seed := []struct {
		collection string
		records    []core.Record
	}{
		{"driver", []core.Record{{"name": "driver 1"}, {"name": "driver 2"}}},
		{"taxi", []core.Record{{"matricule": "taxi_1"}, {"matricule": "taxi_2"}, {"matricule": "taxi_3"}}},
		{"driver_taxis__taxi_drivers", []core.Record{
			{"driver_taxis": 1, "taxi_drivers": 1},
			{"driver_taxis": 1, "taxi_drivers": 2},
			{"driver_taxis": 2, "taxi_drivers": 2},
		}},
	}
	for _, s := range seed {
		_, err := r.MustCollection(s.collection).CreateEach(s.records).Exec(ctx)
		require.NoError(t, err)
	}
	return r
}

func TestJunctionTableEndToEnd(t *testing.T) {
	for name, newAdapter := range adapters() {
		t.Run(name, func(t *testing.T) {
			r := newJunctionRegistry(t, newAdapter())
			ctx := context.Background()

			drivers, err := r.MustCollection("driver").Find().
				Sort("id").
				Populate("taxis", map[string]any{"sort": "matricule desc"}).
				Exec(ctx)
			require.NoError(t, err)
			require.Len(t, drivers, 2)
			assert.Equal(t, []any{"taxi_2", "taxi_1"}, pick(records(t, drivers[0]["taxis"]), "matricule"))
			assert.Equal(t, []any{"taxi_2"}, pick(records(t, drivers[1]["taxis"]), "matricule"))

			taxis, err := r.MustCollection("taxi").Find().Sort("id").Populate("drivers").Exec(ctx)
			require.NoError(t, err)
			require.Len(t, taxis, 3)
			assert.Equal(t, []any{"driver 1", "driver 2"}, pick(records(t, taxis[1]["drivers"]), "name"))
			assert.Empty(t, records(t, taxis[2]["drivers"]))

			shared, err := r.MustCollection("taxi").Find(map[string]any{
				"drivers": map[string]any{"name": "driver 2"},
			}).Exec(ctx)
			require.NoError(t, err)
			assert.Equal(t, []any{"taxi_2"}, pick(shared, "matricule"))
		})
	}
}
