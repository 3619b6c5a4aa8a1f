package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func companyPaths() map[string]*PathNode {
	return map[string]*PathNode{
		"company": {
			Joins:    []*Join{{Alias: "drivers", Collection: true}},
			Children: map[string]PathChild{"drivers": {CollectionName: "driver", PrimaryKey: "id"}},
		},
		"company.drivers": {
			Joins: []*Join{
				{Alias: "taxis", Collection: true},
				{Alias: "taxis", JunctionTable: true, Collection: true},
				{Alias: "car", Model: true},
			},
			Children: map[string]PathChild{"taxis": {CollectionName: "taxi", PrimaryKey: "id"}},
		},
	}
}

func TestCursorParentsAndZip(t *testing.T) {
	shared := Record{"id": 2, "name": "d2"}
	rows := []Record{
		{"id": 1, "drivers": []Record{{"id": 1, "name": "d1"}, shared}},
		{"id": 2, "drivers": []Record{{"id": 2, "name": "d2"}}},
		{"id": 3, "drivers": []Record{}},
	}
	cursor := NewCursor("company", "id", rows, companyPaths())
	assert.Equal(t, "company", cursor.Path())
	assert.Equal(t, []any{1, 2, 3}, cursor.Parents())

	drivers := cursor.ChildPath("company.drivers")
	assert.Equal(t, "company.drivers", drivers.Path())
	assert.Equal(t, []any{1, 2}, drivers.Parents())

	drivers.Zip([]Record{
		{"id": int64(2), "taxis": []Record{{"id": 7}}, "car": Record{"id": 9}},
	})

	root := cursor.Root()
	d1 := root[0]["drivers"].([]Record)[0]
	assert.Equal(t, []Record{}, d1["taxis"])
	assert.Nil(t, d1["car"])

	d2a := root[0]["drivers"].([]Record)[1]
	d2b := root[1]["drivers"].([]Record)[0]
	assert.Equal(t, []Record{{"id": 7}}, d2a["taxis"])
	assert.Equal(t, Record{"id": 9}, d2a["car"])
	assert.Equal(t, []Record{{"id": 7}}, d2b["taxis"])

	// every record receives its own copy
	d2a["taxis"].([]Record)[0]["id"] = 8
	assert.Equal(t, 7, d2b["taxis"].([]Record)[0]["id"])
}

func TestCursorChildPathIsMemoized(t *testing.T) {
	rows := []Record{{"id": 1, "drivers": []Record{{"id": 4}}}}
	cursor := NewCursor("company", "id", rows, companyPaths())
	first := cursor.ChildPath("company.drivers")
	rows[0]["drivers"] = []Record{{"id": 5}}

	assert.Equal(t, []any{4}, cursor.ChildPath("company.drivers").Parents())
	assert.Equal(t, []any{4}, first.Parents())
}

func TestCursorEmptyLevels(t *testing.T) {
	cursor := NewCursor("company", "id", []Record{{"id": 1}}, companyPaths())
	assert.Empty(t, cursor.ChildPath("company.drivers").Parents())
	assert.Empty(t, cursor.ChildPath("company.drivers.taxis").Parents())
}

func TestCursorZipLargeIntegerKeys(t *testing.T) {
	const big = int64(1) << 53
	rows := []Record{
		{"id": 1, "drivers": []Record{{"id": big}, {"id": big + 1}}},
	}
	cursor := NewCursor("company", "id", rows, companyPaths())
	drivers := cursor.ChildPath("company.drivers")
	assert.Equal(t, []any{big, big + 1}, drivers.Parents())

	drivers.Zip([]Record{
		{"id": big + 1, "taxis": []Record{{"id": 7}}},
		{"id": big, "taxis": []Record{}},
	})
	list := cursor.Root()[0]["drivers"].([]Record)
	assert.Equal(t, []Record{}, list[0]["taxis"])
	assert.Equal(t, []Record{{"id": 7}}, list[1]["taxis"])
}
