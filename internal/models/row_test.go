package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRow_MarshalJSONKeepsColumnOrder(t *testing.T) {
	rows := RowsFromMaps([]string{"protocol", "chain", "tvl_usd"}, [][]any{
		{"Aave", "Ethereum", 12.5e9},
		{"Morpho", nil},
	})
	require.Len(t, rows, 2)

	b, err := json.Marshal(rows)
	require.NoError(t, err)
	assert.Equal(t, `[{"protocol":"Aave","chain":"Ethereum","tvl_usd":12500000000},{"protocol":"Morpho","chain":null,"tvl_usd":null}]`, string(b))
}

func TestRow_Get(t *testing.T) {
	row := Row{{Column: "a", Value: 1}, {Column: "b", Value: "x"}}

	v, ok := row.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = row.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, row.Columns())
}

func TestRow_UnmarshalJSONKeepsKeyOrder(t *testing.T) {
	var rows []Row
	require.NoError(t, json.Unmarshal([]byte(`[{"z":1,"a":{"nested":true},"m":null}, null]`), &rows))
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"z", "a", "m"}, rows[0].Columns())
	v, _ := rows[0].Get("a")
	assert.Equal(t, map[string]any{"nested": true}, v)
	assert.Nil(t, rows[1])

	var row Row
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &row))
}
