// Package mongo provides a MongoDB adapter for the offshore ORM.
// This file translates criteria into filters, find options and aggregation
// pipelines.
package mongo

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mopt "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pmkwilliams/offshore/core"
)

// matchNothing is a filter no document satisfies.
var matchNothing = bson.M{"$nor": bson.A{bson.M{}}}

// buildFilter converts a condition tree into a MongoDB filter document.
func buildFilter(condition *core.Condition) bson.M {
	if condition == nil || condition.Operator == nil {
		return bson.M{}
	}
	switch *condition.Operator {
	case core.OpAnd, core.OpOr, core.OpNot:
		childFilterList := make(bson.A, 0, len(condition.Children))
		for _, child := range condition.Children {
			childFilterList = append(childFilterList, buildFilter(child))
		}
		switch *condition.Operator {
		case core.OpAnd:
			if len(childFilterList) == 0 {
				return bson.M{}
			}
			return bson.M{"$and": childFilterList}
		case core.OpOr:
			if len(childFilterList) == 0 {
				return matchNothing
			}
			return bson.M{"$or": childFilterList}
		default:
			if len(childFilterList) == 0 {
				return matchNothing
			}
			return bson.M{"$nor": bson.A{bson.M{"$and": childFilterList}}}
		}
	}

	fieldName := condition.FieldName
	switch *condition.Operator {
	case core.OpNil:
		return bson.M{fieldName: bson.M{"$eq": nil}}
	case core.OpEq:
		return bson.M{fieldName: bson.M{"$eq": condition.Value}}
	case core.OpGt:
		return bson.M{fieldName: bson.M{"$gt": condition.Value}}
	case core.OpGte:
		return bson.M{fieldName: bson.M{"$gte": condition.Value}}
	case core.OpLt:
		return bson.M{fieldName: bson.M{"$lt": condition.Value}}
	case core.OpLte:
		return bson.M{fieldName: bson.M{"$lte": condition.Value}}
	case core.OpLike:
		pattern := "^" + toMongoLikePattern(fmt.Sprintf("%v", condition.Value)) + "$"
		return bson.M{fieldName: primitive.Regex{Pattern: pattern, Options: "is"}}
	case core.OpIn:
		array, ok := condition.Value.([]any)
		if !ok {
			array = []any{condition.Value}
		}
		return bson.M{fieldName: bson.M{"$in": bson.A(array)}}
	}
	return bson.M{}
}

// toMongoLikePattern converts a SQL-like pattern into a MongoDB regex pattern.
//
// It replaces % with .* (wildcard for multiple characters) and
// _ with . (wildcard for a single character).
//
// Example:
//
//	input := "%admin_"
//	regex := toMongoLikePattern(input)
//	// regex == ".*admin."
func toMongoLikePattern(input string) string {
	var b strings.Builder
	for _, r := range input {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// criteriaFilter returns the filter of criteria.
func criteriaFilter(criteria *core.Criteria) (bson.M, error) {
	if criteria == nil {
		return bson.M{}, nil
	}
	if criteria.MatchNone {
		return matchNothing, nil
	}
	condition, err := core.ParseWhere(criteria.Where)
	if err != nil {
		return nil, err
	}
	return buildFilter(condition), nil
}

func sortDocument(keys []core.SortKey) bson.D {
	sortDoc := bson.D{}
	for _, sortItem := range keys {
		direction := 1
		if sortItem.Direction < 0 {
			direction = -1
		}
		sortDoc = append(sortDoc, bson.E{Key: sortItem.Attribute, Value: direction})
	}
	return sortDoc
}

// findOptions converts sort, skip, limit and select.
func findOptions(criteria *core.Criteria) *mopt.FindOptions {
	findOpts := mopt.Find()
	if criteria == nil {
		return findOpts
	}
	if len(criteria.Sort) > 0 {
		findOpts.SetSort(sortDocument(criteria.Sort))
	}
	if criteria.Limit > 0 {
		findOpts.SetLimit(int64(criteria.Limit))
	}
	if criteria.Skip > 0 {
		findOpts.SetSkip(int64(criteria.Skip))
	}
	if len(criteria.Select) > 0 {
		projection := bson.D{}
		hasID := false
		for _, col := range criteria.Select {
			projection = append(projection, bson.E{Key: col, Value: 1})
			hasID = hasID || col == "_id"
		}
		if !hasID {
			projection = append(projection, bson.E{Key: "_id", Value: 0})
		}
		findOpts.SetProjection(projection)
	}
	return findOpts
}

func aggregated(c *core.Criteria) bool {
	return c != nil && len(c.GroupBy)+len(c.Sum)+len(c.Average)+len(c.Min)+len(c.Max) > 0
}

// aggregatePipeline builds a $match/$group/$project pipeline producing one
// document per group with the group columns and the aggregated columns.
func aggregatePipeline(filter bson.M, criteria *core.Criteria) mongoPipeline {
	groupID := bson.M{}
	for _, col := range criteria.GroupBy {
		groupID[col] = "$" + col
	}
	group := bson.M{"_id": groupID}
	project := bson.M{"_id": 0}
	for _, col := range criteria.GroupBy {
		project[col] = "$_id." + col
	}
	for _, agg := range []struct {
		op   string
		cols []string
	}{{"$sum", criteria.Sum}, {"$avg", criteria.Average}, {"$min", criteria.Min}, {"$max", criteria.Max}} {
		for _, col := range agg.cols {
			group[col] = bson.M{agg.op: "$" + col}
			project[col] = 1
		}
	}
	pipeline := mongoPipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: group}},
		{{Key: "$project", Value: project}},
	}
	if criteria.Skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: int64(criteria.Skip)}})
	}
	if criteria.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(criteria.Limit)}})
	}
	return pipeline
}

type mongoPipeline = []bson.D
