// Package postgres provides a PostgreSQL adapter for the offshore ORM.
// This file translates criteria into SQL statements with positional
// arguments.
package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pmkwilliams/offshore/core"
)

func quote(name string) string {
	return fmt.Sprintf("%q", name)
}

// formatTable returns the quoted table name, schema-qualified when the
// table name contains a dot.
func formatTable(desc core.CollectionDescriptor) string {
	name := desc.TableName
	if name == "" {
		name = desc.Identity
	}
	if schema, table, ok := strings.Cut(name, "."); ok {
		return quote(schema) + "." + quote(table)
	}
	return quote(name)
}

// buildCondition renders condition as a SQL boolean expression, appending
// its arguments to argList.
func buildCondition(condition *core.Condition, argList *[]any) string {
	if condition == nil || condition.Operator == nil {
		return "TRUE"
	}
	switch *condition.Operator {
	case core.OpAnd, core.OpOr, core.OpNot:
		partList := []string{}
		for _, child := range condition.Children {
			partList = append(partList, buildCondition(child, argList))
		}
		switch *condition.Operator {
		case core.OpAnd:
			if len(partList) == 0 {
				return "TRUE"
			}
			return "(" + strings.Join(partList, " AND ") + ")"
		case core.OpOr:
			if len(partList) == 0 {
				return "FALSE"
			}
			return "(" + strings.Join(partList, " OR ") + ")"
		default:
			if len(partList) == 0 {
				return "FALSE"
			}
			return "NOT (" + strings.Join(partList, " AND ") + ")"
		}
	}

	column := quote(condition.FieldName)
	placeholder := func(v any) string {
		*argList = append(*argList, v)
		return fmt.Sprintf("$%d", len(*argList))
	}
	switch *condition.Operator {
	case core.OpNil:
		return column + " IS NULL"
	case core.OpEq:
		return column + " = " + placeholder(condition.Value)
	case core.OpGt:
		return column + " > " + placeholder(condition.Value)
	case core.OpGte:
		return column + " >= " + placeholder(condition.Value)
	case core.OpLt:
		return column + " < " + placeholder(condition.Value)
	case core.OpLte:
		return column + " <= " + placeholder(condition.Value)
	case core.OpLike:
		return column + "::text ILIKE " + placeholder(fmt.Sprint(condition.Value))
	case core.OpIn:
		valueList, ok := condition.Value.([]any)
		if !ok {
			valueList = []any{condition.Value}
		}
		if len(valueList) == 0 {
			return "FALSE"
		}
		placeholderList := make([]string, 0, len(valueList))
		hasNil := false
		for _, v := range valueList {
			if v == nil {
				hasNil = true
				continue
			}
			placeholderList = append(placeholderList, placeholder(v))
		}
		in := column + " IN (" + strings.Join(placeholderList, ", ") + ")"
		switch {
		case hasNil && len(placeholderList) == 0:
			return column + " IS NULL"
		case hasNil:
			return "(" + in + " OR " + column + " IS NULL)"
		}
		return in
	}
	return "TRUE"
}

func whereClause(criteria *core.Criteria, argList *[]any) (string, error) {
	if criteria == nil {
		return "TRUE", nil
	}
	if criteria.MatchNone {
		return "FALSE", nil
	}
	condition, err := core.ParseWhere(criteria.Where)
	if err != nil {
		return "", err
	}
	return buildCondition(condition, argList), nil
}

// buildSelect renders a find. Aggregate criteria produce a grouped select
// whose result columns are named after the aggregated columns.
func buildSelect(desc core.CollectionDescriptor, criteria *core.Criteria) (string, []any, error) {
	if criteria == nil {
		criteria = &core.Criteria{}
	}
	argList := []any{}
	where, err := whereClause(criteria, &argList)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	aggregated := len(criteria.GroupBy)+len(criteria.Sum)+len(criteria.Average)+len(criteria.Min)+len(criteria.Max) > 0
	if aggregated {
		var columnList []string
		for _, col := range criteria.GroupBy {
			columnList = append(columnList, quote(col))
		}
		for _, agg := range []struct {
			fn   string
			cols []string
		}{{"SUM", criteria.Sum}, {"AVG", criteria.Average}, {"MIN", criteria.Min}, {"MAX", criteria.Max}} {
			for _, col := range agg.cols {
				columnList = append(columnList, fmt.Sprintf("%s(%s) AS %s", agg.fn, quote(col), quote(col)))
			}
		}
		sb.WriteString(strings.Join(columnList, ", "))
	} else {
		sb.WriteString(selectList(desc, criteria.Select))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(formatTable(desc))
	sb.WriteString(" WHERE ")
	sb.WriteString(where)

	if aggregated && len(criteria.GroupBy) > 0 {
		groupList := make([]string, len(criteria.GroupBy))
		for i, col := range criteria.GroupBy {
			groupList[i] = quote(col)
		}
		sb.WriteString(" GROUP BY " + strings.Join(groupList, ", "))
	}
	if len(criteria.Sort) > 0 && !aggregated {
		orderPartList := []string{}
		for _, sortItem := range criteria.Sort {
			direction := "ASC"
			if sortItem.Direction < 0 {
				direction = "DESC"
			}
			orderPartList = append(orderPartList, quote(sortItem.Attribute)+" "+direction)
		}
		sb.WriteString(" ORDER BY " + strings.Join(orderPartList, ", "))
	}
	if criteria.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", criteria.Limit))
	}
	if criteria.Skip > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", criteria.Skip))
	}
	return sb.String(), argList, nil
}

func selectList(desc core.CollectionDescriptor, columns []string) string {
	if len(columns) == 0 {
		columns = desc.Columns
	}
	if len(columns) == 0 {
		return "*"
	}
	columnNameList := make([]string, len(columns))
	for i, col := range columns {
		columnNameList[i] = quote(col)
	}
	return strings.Join(columnNameList, ", ")
}

// buildInsert renders an insert returning the stored row. A nil
// auto-increment primary key is left to the column default.
func buildInsert(desc core.CollectionDescriptor, values core.Record) (string, []any) {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if k == desc.PrimaryKey && v == nil && desc.AutoIncrement {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", formatTable(desc), selectList(desc, nil)), nil
	}
	columnList := make([]string, len(keys))
	placeholderList := make([]string, len(keys))
	argList := make([]any, len(keys))
	for i, k := range keys {
		columnList[i] = quote(k)
		placeholderList[i] = fmt.Sprintf("$%d", i+1)
		argList[i] = values[k]
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		formatTable(desc), strings.Join(columnList, ", "), strings.Join(placeholderList, ", "), selectList(desc, nil)), argList
}

// buildUpdate renders an update returning the updated rows.
func buildUpdate(desc core.CollectionDescriptor, criteria *core.Criteria, values core.Record) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, errors.New("postgres: update without values")
	}
	argList := []any{}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	setPartList := make([]string, len(keys))
	for i, k := range keys {
		argList = append(argList, values[k])
		setPartList[i] = fmt.Sprintf("%s = $%d", quote(k), len(argList))
	}
	where, err := whereClause(criteria, &argList)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING %s",
		formatTable(desc), strings.Join(setPartList, ", "), where, selectList(desc, nil)), argList, nil
}

func buildDelete(desc core.CollectionDescriptor, criteria *core.Criteria) (string, []any, error) {
	argList := []any{}
	where, err := whereClause(criteria, &argList)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", formatTable(desc), where), argList, nil
}

func buildCount(desc core.CollectionDescriptor, criteria *core.Criteria) (string, []any, error) {
	argList := []any{}
	where, err := whereClause(criteria, &argList)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", formatTable(desc), where), argList, nil
}
