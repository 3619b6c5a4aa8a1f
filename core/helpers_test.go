package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type driverRow struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Company   *int
	CreatedAt time.Time `json:"createdAt"`
	Ignored   string    `json:"-"`
}

func TestDecode(t *testing.T) {
	now := time.Now()
	var out driverRow
	err := Decode(Record{
		"id":        float64(3),
		"name":      "Ana",
		"company":   2,
		"createdAt": now,
		"unknown":   true,
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, int64(3), out.ID)
	assert.Equal(t, "Ana", out.Name)
	require.NotNil(t, out.Company)
	assert.Equal(t, 2, *out.Company)
	assert.Equal(t, now, out.CreatedAt)
}

func TestDecodeRejectsMismatchedTypes(t *testing.T) {
	var out driverRow
	assert.Error(t, Decode(Record{"name": 12}, &out))

	var notStruct int
	assert.Error(t, Decode(Record{}, &notStruct))
}

func TestDistinctValues(t *testing.T) {
	assert.Equal(t, []any{1, "a", int64(2)}, distinctValues([]any{1, nil, "a", 1.0, int64(2), 2}))
	assert.Equal(t, []any{}, distinctValues(nil))
}

func TestLargeIntegerKeysStayDistinct(t *testing.T) {
	const big = int64(1) << 53
	rows := []Record{{"id": big}, {"id": big + 1}, {"id": float64(big)}}
	assert.Equal(t, []any{big, big + 1}, pluck(rows, "id"))
	assert.NotEqual(t, valueKey(big), valueKey(big+1))
	assert.Equal(t, valueKey(3), valueKey(3.0))
}

func TestCloneDataIsDeep(t *testing.T) {
	original := Record{"list": []Record{{"id": 1}}, "nested": map[string]any{"a": []any{1}}}
	copied := cloneRecord(original)
	copied["list"].([]Record)[0]["id"] = 2
	copied["nested"].(map[string]any)["a"].([]any)[0] = 2

	assert.Equal(t, 1, original["list"].([]Record)[0]["id"])
	assert.Equal(t, 1, original["nested"].(map[string]any)["a"].([]any)[0])
}

func TestAsRecords(t *testing.T) {
	r := Record{"id": 1}
	assert.Equal(t, []Record{r}, asRecords(r))
	assert.Equal(t, []Record{r}, asRecords([]any{map[string]any{"id": 1}, "skip"}))
	assert.Nil(t, asRecords(nil))
	assert.Nil(t, asRecords(3))
}
