package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkwilliams/offshore/core"
	"github.com/pmkwilliams/offshore/driver/memory"
)

func TestDeferredRunsOnce(t *testing.T) {
	r, calls := newTaxiRegistry(t, memory.New())
	ctx := context.Background()

	d := r.MustCollection("driver").Find().Sort("id")
	assert.Same(t, d.Promise(ctx), d.Promise(ctx))

	first, err := d.Exec(ctx)
	require.NoError(t, err)
	second, err := d.Exec(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.reads())
}

func TestDeferredLatchesBuilderErrors(t *testing.T) {
	r, calls := newTaxiRegistry(t, memory.New())

	d := r.MustCollection("driver").Find().Sort("name sideways").Limit(2)
	require.Error(t, d.Err())
	_, err := d.Exec(context.Background())

	var usage *core.UsageError
	assert.ErrorAs(t, err, &usage)
	assert.Zero(t, calls.reads())
}

func TestDeferredMatchNone(t *testing.T) {
	r, calls := newTaxiRegistry(t, memory.New())

	rows, err := r.MustCollection("driver").Find(false).Exec(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, calls.reads())
}

func TestDeferredThenCatchSpread(t *testing.T) {
	r, _ := newTaxiRegistry(t, memory.New())
	ctx := context.Background()
	drivers := r.MustCollection("driver")

	var seen int
	require.NoError(t, drivers.Find().Then(ctx, func(rows []core.Record) error {
		seen = len(rows)
		return nil
	}))
	assert.Equal(t, 3, seen)

	boom := errors.New("boom")
	_, err := drivers.Find().Sort(42).Catch(ctx, func(err error) error {
		return errors.Wrap(boom, err.Error())
	})
	assert.ErrorIs(t, err, boom)

	err = core.Spread(ctx, drivers.Find().Sort("id").Limit(2), func(records ...core.Record) error {
		require.Len(t, records, 2)
		assert.Equal(t, "driver 1", records[0]["name"])
		return nil
	})
	assert.NoError(t, err)
}

func TestDeferredBuilders(t *testing.T) {
	r, _ := newTaxiRegistry(t, memory.New())
	ctx := context.Background()
	drivers := r.MustCollection("driver")

	rows, err := drivers.Find().Where(map[string]any{"company": 1}).Sort("name desc").Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"driver 2", "driver 1"}, pick(rows, "name"))

	rows, err = drivers.Find().Sort("id").Paginate(2, 2).Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"driver 3"}, pick(rows, "name"))

	rows, err = drivers.Find().Sort("id").Skip(1).Limit(1).Select("name").Exec(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "driver 2", rows[0]["name"])
	assert.NotContains(t, rows[0], "company")

	one, err := drivers.FindOne(map[string]any{"name": map[string]any{"endsWith": "3"}}).Exec(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, one["id"])

	missing, err := drivers.FindOne(99).Exec(ctx)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeferredString(t *testing.T) {
	r, _ := newTaxiRegistry(t, memory.New())
	companies := r.MustCollection("company")

	a := companies.Find(map[string]any{"name": "company 1", "id": []any{2, 1}}).Populate("drivers")
	b := companies.Find(map[string]any{"id": []any{1, 2}}).Where(map[string]any{"name": "company 1"}).Populate("drivers")
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, a.CacheKeyString(), b.CacheKeyString())

	c := companies.Find(map[string]any{"name": "company 1"}).Populate("drivers", map[string]any{"limit": 1})
	assert.NotEqual(t, a.CacheKeyString(), c.CacheKeyString())
	assert.Equal(t, "custom", companies.Find().Cache(core.CacheKey("custom")).CacheKeyString())
}

func TestCacheServesRepeatedQueries(t *testing.T) {
	r, calls := newTaxiRegistry(t, memory.New())
	ctx := context.Background()
	companies := r.MustCollection("company")

	query := func() ([]core.Record, error) {
		return companies.Find().Sort("id").Populate("drivers").Cache(core.CacheTTL(time.Minute)).Exec(ctx)
	}
	fresh, err := query()
	require.NoError(t, err)
	readsAfterMiss := calls.reads()
	require.Equal(t, int64(2), readsAfterMiss)

	cached, err := query()
	require.NoError(t, err)
	assert.Equal(t, readsAfterMiss, calls.reads(), "a hit does not reach the adapter")
	assert.Equal(t, pick(fresh, "name"), pick(cached, "name"))
	assert.Len(t, cached[0]["drivers"], 2)

	_, err = companies.Find(1).Cache().Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, readsAfterMiss+1, calls.reads(), "other criteria miss")
}

func TestCacheStoresMissingRecord(t *testing.T) {
	r, calls := newTaxiRegistry(t, memory.New())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		record, err := r.MustCollection("driver").FindOne(99).Cache(core.CacheForever()).Exec(ctx)
		require.NoError(t, err)
		assert.Nil(t, record)
	}
	assert.Equal(t, int64(1), calls.reads())
}

func TestCacheOnlyForReads(t *testing.T) {
	r, _ := newTaxiRegistry(t, memory.New())
	_, err := r.MustCollection("driver").Count().Cache().Exec(context.Background())

	var usage *core.UsageError
	assert.ErrorAs(t, err, &usage)
}

func TestDeferredAggregatesReplace(t *testing.T) {
	r, _ := newTaxiRegistry(t, memory.New())

	d := r.MustCollection("breakdown").Find().
		Sum("id").Sum("level").
		GroupBy("id").GroupBy("taxi")
	assert.Equal(t, []string{"level"}, d.Criteria().Sum)
	assert.Equal(t, []string{"taxi"}, d.Criteria().GroupBy)

	rows, err := d.Exec(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0]["taxi"])
	assert.EqualValues(t, 12, rows[0]["level"])
	assert.EqualValues(t, 3, rows[1]["taxi"])
	assert.EqualValues(t, 2, rows[1]["level"])
	assert.NotContains(t, rows[0], "id")
}

func TestCacheHitMatchesMiss(t *testing.T) {
	r, calls := newTaxiRegistry(t, memory.New())
	ctx := context.Background()

	deep := func() ([]core.Record, error) {
		return r.MustCollection("company").Find().
			Sort("id").
			Populate("drivers.taxis", map[string]any{"sort": "matricule"}).
			Cache().
			Exec(ctx)
	}
	first, err := deep()
	require.NoError(t, err)
	reads := calls.reads()
	second, err := deep()
	require.NoError(t, err)
	assert.Equal(t, reads, calls.reads())
	assert.Equal(t, first, second)
	assert.IsType(t, int64(0), second[0]["id"])
	drivers := records(t, second[0]["drivers"])
	assert.Equal(t, []any{"taxi_1", "taxi_2"}, pick(records(t, drivers[0]["taxis"]), "matricule"))

	flat := func() ([]core.Record, error) {
		return r.MustCollection("taxi").Find().Sort("id").Populate("company").Cache().Exec(ctx)
	}
	first, err = flat()
	require.NoError(t, err)
	second, err = flat()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	company, ok := second[0]["company"].(core.Record)
	require.True(t, ok, "to-one alias holds a record, got %T", second[0]["company"])
	assert.Equal(t, "company 1", company["name"])

	one := func() (core.Record, error) {
		return r.MustCollection("company").FindOne(2).Populate("drivers").Cache().Exec(ctx)
	}
	firstOne, err := one()
	require.NoError(t, err)
	secondOne, err := one()
	require.NoError(t, err)
	assert.Equal(t, firstOne, secondOne)
	assert.Equal(t, []any{"driver 3"}, pick(records(t, secondOne["drivers"]), "name"))
}
