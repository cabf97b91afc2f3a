package relsync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIDsRejectsNonArrays(t *testing.T) {
	var nilSlice []any
	for _, value := range []any{nil, 7, "7", map[string]any{"id": 7}, true, 3.0, []byte("[1,2]"), nilSlice} {
		assert.Equal(t, []int64{}, NormalizeIDs(value), "%#v", value)
	}
}

func TestNormalizeIDsMixedPayload(t *testing.T) {
	input := []any{1, "2", map[string]any{"id": 3}, map[string]any{"id": "4"}, "not-a-number", nil}
	assert.Equal(t, []int64{1, 2, 3, 4}, NormalizeIDs(input))
}

func TestNormalizeIDsDecodedJSON(t *testing.T) {
	var payload any
	err := json.Unmarshal([]byte(`[5, " 6 ", {"id": 7.0}, {"id": {"id": 8}}, {"name": "x"}, 9.5, false, [10]]`), &payload)
	assert.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 7}, NormalizeIDs(payload))
}

func TestNormalizeIDsTypedSlices(t *testing.T) {
	assert.Equal(t, []int64{3, 1, 3}, NormalizeIDs([]int64{3, 1, 3}))
	assert.Equal(t, []int64{4, 5}, NormalizeIDs([]string{"4", "x", "5"}))
	assert.Equal(t, []int64{6}, NormalizeIDs([]map[string]any{{"id": 6}, {"id": nil}}))
	assert.Equal(t, []int64{2}, NormalizeIDs([]json.Number{"2", "2.5"}))
}
