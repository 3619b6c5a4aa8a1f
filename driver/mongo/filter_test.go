package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pmkwilliams/offshore/core"
)

func filterOf(t *testing.T, w core.Where) bson.M {
	t.Helper()
	f, err := criteriaFilter(&core.Criteria{Where: w})
	require.NoError(t, err)
	return f
}

func TestBuildFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, filterOf(t, nil))
	assert.Equal(t, bson.M{"name": bson.M{"$eq": "a"}}, filterOf(t, core.Where{"name": "a"}))
	assert.Equal(t, bson.M{"id": bson.M{"$in": bson.A{1, 2}}}, filterOf(t, core.Where{"id": []any{1, 2}}))
	assert.Equal(t, bson.M{"$and": bson.A{
		bson.M{"age": bson.M{"$lt": 65}},
		bson.M{"age": bson.M{"$gte": 18}},
	}}, filterOf(t, core.Where{"age": map[string]any{">=": 18, "<": 65}}))
	assert.Equal(t, bson.M{"$nor": bson.A{bson.M{"$and": bson.A{bson.M{"id": bson.M{"$in": bson.A{3}}}}}}},
		filterOf(t, core.Where{"id": map[string]any{"nin": []any{3}}}))
	assert.Equal(t, matchNothing, filterOf(t, core.Where{"or": []any{}}))
	assert.Equal(t, bson.M{"name": primitive.Regex{Pattern: "^.*a\\.b.*$", Options: "is"}},
		filterOf(t, core.Where{"name": map[string]any{"contains": "a.b"}}))
}

func TestCriteriaFilterMatchNone(t *testing.T) {
	f, err := criteriaFilter(&core.Criteria{MatchNone: true})
	require.NoError(t, err)
	assert.Equal(t, matchNothing, f)
}

func TestToMongoLikePattern(t *testing.T) {
	assert.Equal(t, ".*admin.", toMongoLikePattern("%admin_"))
	assert.Equal(t, `a\+b`, toMongoLikePattern("a+b"))
}

func TestFindOptions(t *testing.T) {
	opts := findOptions(&core.Criteria{
		Sort:   []core.SortKey{{Attribute: "name", Direction: -1}},
		Limit:  5,
		Skip:   10,
		Select: []string{"id", "name"},
	})
	assert.Equal(t, bson.D{{Key: "name", Value: -1}}, opts.Sort)
	assert.Equal(t, int64(5), *opts.Limit)
	assert.Equal(t, int64(10), *opts.Skip)
	assert.Equal(t, bson.D{{Key: "id", Value: 1}, {Key: "name", Value: 1}, {Key: "_id", Value: 0}}, opts.Projection)
}

func TestAggregatePipeline(t *testing.T) {
	pipeline := aggregatePipeline(bson.M{}, &core.Criteria{GroupBy: []string{"team"}, Sum: []string{"age"}, Limit: 2})
	require.Len(t, pipeline, 4)
	assert.Equal(t, bson.D{{Key: "$group", Value: bson.M{
		"_id": bson.M{"team": "$team"},
		"age": bson.M{"$sum": "$age"},
	}}}, pipeline[1])
	assert.Equal(t, bson.D{{Key: "$project", Value: bson.M{"_id": 0, "team": "$_id.team", "age": 1}}}, pipeline[2])
	assert.Equal(t, bson.D{{Key: "$limit", Value: int64(2)}}, pipeline[3])
}
