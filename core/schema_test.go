package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkwilliams/offshore/cache"
	"github.com/pmkwilliams/offshore/logger"
)

// nopAdapter accepts every call and stores nothing.
type nopAdapter struct {
	registered map[string][]CollectionDescriptor
}

func (a *nopAdapter) RegisterConnection(_ context.Context, connection string, collections []CollectionDescriptor) error {
	if a.registered == nil {
		a.registered = map[string][]CollectionDescriptor{}
	}
	a.registered[connection] = collections
	return nil
}

func (a *nopAdapter) Find(context.Context, string, string, *Criteria) ([]Record, error) {
	return nil, nil
}

func (a *nopAdapter) Create(_ context.Context, _, _ string, values Record) (Record, error) {
	return values, nil
}

func (a *nopAdapter) Update(context.Context, string, string, *Criteria, Record) ([]Record, error) {
	return nil, nil
}

func (a *nopAdapter) Destroy(context.Context, string, string, *Criteria) error { return nil }

func (a *nopAdapter) Count(context.Context, string, string, *Criteria) (int64, error) {
	return 0, nil
}

func newTestRegistry(t *testing.T, schemas ...*Schema) (*Registry, *nopAdapter) {
	t.Helper()
	adapter := &nopAdapter{}
	r := New(
		WithConnection("default", adapter),
		WithLogger(logger.Discard()),
		WithCacheConfig(cache.Config{Dir: t.TempDir(), Prefix: "TEST_", DefaultTTL: time.Minute}),
	)
	r.Register(schemas...)
	require.NoError(t, r.Initialize(context.Background()))
	return r, adapter
}

func TestBelongsToJoin(t *testing.T) {
	r, _ := newTestRegistry(t,
		NewSchema("user", Attr("uuid", PrimaryKey(), Type("string")), Attr("name")),
		NewSchema("car", Attr("id", PrimaryKey()), Attr("driver", BelongsTo("user"))),
	)
	car := r.MustCollection("car")

	joins, err := car.buildJoins(car.schema.Attributes["driver"])
	require.NoError(t, err)
	require.Len(t, joins, 1)
	assert.Equal(t, &Join{
		Parent:          "car",
		ParentKey:       "driver",
		Child:           "user",
		ChildKey:        "uuid",
		Select:          []string{"uuid", "name"},
		Alias:           "driver",
		RemoveParentKey: true,
		Model:           true,
	}, joins[0])
}

func TestHasManyJoin(t *testing.T) {
	r, _ := newTestRegistry(t,
		NewSchema("company", Attr("id", PrimaryKey()), Attr("name"), Attr("drivers", HasMany("driver", "company"))),
		NewSchema("driver", Attr("id", PrimaryKey()), Attr("name"), Attr("company", BelongsTo("company"), Column("company_id"))),
	)
	company := r.MustCollection("company")

	joins, err := company.buildJoins(company.schema.Attributes["drivers"])
	require.NoError(t, err)
	require.Len(t, joins, 1)
	assert.Equal(t, &Join{
		Parent:     "company",
		ParentKey:  "id",
		Child:      "driver",
		ChildKey:   "company_id",
		Select:     []string{"id", "name", "company_id"},
		Alias:      "drivers",
		Collection: true,
	}, joins[0])
}

func TestJunctionSynthesis(t *testing.T) {
	r, adapter := newTestRegistry(t,
		NewSchema("driver", Attr("id", PrimaryKey()), Attr("taxis", HasMany("taxi", "drivers"))),
		NewSchema("taxi", Attr("id", PrimaryKey()), Attr("drivers", HasMany("driver", "taxis"))),
	)
	assert.Equal(t, []string{"driver", "driver_taxis__taxi_drivers", "taxi"}, r.Identities())

	junction := r.MustCollection("driver_taxis__taxi_drivers").Schema()
	assert.True(t, junction.JunctionTable)
	assert.Equal(t, []string{"id", "driver_taxis", "taxi_drivers"}, junction.Columns())
	assert.Len(t, adapter.registered["default"], 3)

	driver := r.MustCollection("driver")
	joins, err := driver.buildJoins(driver.schema.Attributes["taxis"])
	require.NoError(t, err)
	require.Len(t, joins, 2)
	assert.Equal(t, &Join{
		Parent:     "driver",
		ParentKey:  "id",
		Child:      "driver_taxis__taxi_drivers",
		ChildKey:   "driver_taxis",
		Alias:      "taxis",
		Collection: true,
	}, joins[0])
	assert.Equal(t, &Join{
		Parent:        "driver_taxis__taxi_drivers",
		ParentKey:     "taxi_drivers",
		Child:         "taxi",
		ChildKey:      "id",
		Select:        []string{"id"},
		Alias:         "taxis",
		JunctionTable: true,
		Collection:    true,
	}, joins[1])

	// both ends resolve to the same junction
	taxi := r.MustCollection("taxi")
	back, err := taxi.buildJoins(taxi.schema.Attributes["drivers"])
	require.NoError(t, err)
	assert.Equal(t, "driver_taxis__taxi_drivers", back[0].Child)
	assert.Equal(t, "taxi_drivers", back[0].ChildKey)
	assert.Equal(t, "driver_taxis", back[1].ParentKey)
}

func TestJunctionIsSharedByBothEnds(t *testing.T) {
	driver := NewSchema("driver", Attr("id", PrimaryKey()), Attr("taxis", HasMany("taxi", "drivers")))
	taxi := NewSchema("taxi", Attr("id", PrimaryKey()), Attr("drivers", HasMany("driver", "taxis")))
	require.NoError(t, driver.prepare())
	require.NoError(t, taxi.prepare())
	schemas := map[string]*Schema{"driver": driver, "taxi": taxi}

	a, err := junctionFor(schemas, driver, driver.Attributes["taxis"], taxi, taxi.Attributes["drivers"])
	require.NoError(t, err)
	b, err := junctionFor(schemas, taxi, taxi.Attributes["drivers"], driver, driver.Attributes["taxis"])
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, a, schemas["driver_taxis__taxi_drivers"])
	assert.Equal(t, "id", a.PrimaryKey)
	assert.Equal(t, "driver", a.Attributes["driver_taxis"].References)
}

func TestThroughJoin(t *testing.T) {
	r, _ := newTestRegistry(t,
		NewSchema("driver", Attr("id", PrimaryKey()), Attr("taxis", HasMany("taxi", "driver"), Through("ride"))),
		NewSchema("taxi", Attr("id", PrimaryKey()), Attr("matricule")),
		NewSchema("ride", Attr("id", PrimaryKey()), Attr("taxi", BelongsTo("taxi")), Attr("driver", BelongsTo("driver"))),
	)
	assert.Equal(t, map[string]string{"driver.taxis": "taxi"}, r.MustCollection("ride").Schema().ThroughTable)

	driver := r.MustCollection("driver")
	joins, err := driver.buildJoins(driver.schema.Attributes["taxis"])
	require.NoError(t, err)
	require.Len(t, joins, 2)
	assert.Equal(t, &Join{
		Parent:     "driver",
		ParentKey:  "id",
		Child:      "ride",
		ChildKey:   "driver",
		Alias:      "taxis",
		Collection: true,
	}, joins[0])
	assert.Equal(t, &Join{
		Parent:        "ride",
		ParentKey:     "taxi",
		Child:         "taxi",
		ChildKey:      "id",
		Select:        []string{"id", "matricule"},
		Alias:         "taxis",
		JunctionTable: true,
		Collection:    true,
	}, joins[1])
}

func TestSchemaDefaults(t *testing.T) {
	r, adapter := newTestRegistry(t, NewSchema("Pet", Table("pets"), Attr("name", Column("pet_name"))))
	pet := r.MustCollection("pet")

	assert.Equal(t, "id", pet.Schema().PrimaryKey)
	assert.Equal(t, []string{"id", "name"}, pet.Schema().AttributeNames())
	assert.Equal(t, []CollectionDescriptor{{
		Identity:      "pet",
		TableName:     "pets",
		PrimaryKey:    "id",
		AutoIncrement: true,
		Columns:       []string{"id", "pet_name"},
	}}, adapter.registered["default"])
}

func TestSchemaConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		schemas []*Schema
	}{
		{"unknown model", []*Schema{NewSchema("car", Attr("owner", BelongsTo("user")))}},
		{"unknown via", []*Schema{
			NewSchema("company", Attr("drivers", HasMany("driver", "employer"))),
			NewSchema("driver", Attr("company", BelongsTo("company"))),
		}},
		{"two primary keys", []*Schema{NewSchema("car", Attr("a", PrimaryKey()), Attr("b", PrimaryKey()))}},
		{"unknown connection", []*Schema{NewSchema("car", Connection("elsewhere"))}},
		{"duplicate identity", []*Schema{NewSchema("car"), NewSchema("CAR")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(WithConnection("default", &nopAdapter{}), WithLogger(logger.Discard()))
			r.Register(tt.schemas...)
			err := r.Initialize(context.Background())
			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestPopulateUnknownAlias(t *testing.T) {
	r, _ := newTestRegistry(t, NewSchema("car", Attr("id", PrimaryKey()), Attr("name")))
	_, err := r.MustCollection("car").Find().Populate("name").Exec(context.Background())

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "name", resErr.Path)
}
