package tradier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexFloat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"plain number", `3.14`, 3.14},
		{"string number", `"3.14"`, 3.14},
		{"json null", `null`, 0},
		{"string null", `"null"`, 0},
		{"uppercase string null", `"NULL"`, 0},
		{"empty string", `""`, 0},
		{"negative", `-240.5`, -240.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f flexFloat
			require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
			assert.Equal(t, tt.want, float64(f))
		})
	}

	t.Run("garbage string fails", func(t *testing.T) {
		var f flexFloat
		assert.Error(t, json.Unmarshal([]byte(`"abc"`), &f))
	})
}

func TestStringList(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		var l stringList
		require.NoError(t, json.Unmarshal([]byte(`["2025-07-03","2025-07-18"]`), &l))
		assert.Equal(t, stringList{"2025-07-03", "2025-07-18"}, l)
	})

	t.Run("bare scalar", func(t *testing.T) {
		var l stringList
		require.NoError(t, json.Unmarshal([]byte(`"2025-07-03"`), &l))
		assert.Equal(t, stringList{"2025-07-03"}, l)
	})

	t.Run("null", func(t *testing.T) {
		var l stringList
		require.NoError(t, json.Unmarshal([]byte(`null`), &l))
		assert.Nil(t, l)
	})
}

func TestQuoteList_ScalarOrArray(t *testing.T) {
	t.Run("single object", func(t *testing.T) {
		var l quoteList
		data := `{"symbol":"SPY","last":"500.25","bid":500.20,"ask":500.30}`
		require.NoError(t, json.Unmarshal([]byte(data), &l))
		require.Len(t, l, 1)
		assert.Equal(t, "SPY", l[0].Symbol)
		assert.Equal(t, 500.25, float64(l[0].Last))
	})

	t.Run("array", func(t *testing.T) {
		var l quoteList
		data := `[{"symbol":"SPY"},{"symbol":"QQQ"}]`
		require.NoError(t, json.Unmarshal([]byte(data), &l))
		assert.Len(t, l, 2)
	})
}

func TestPositionsEnvelope(t *testing.T) {
	t.Run("empty account is the string null", func(t *testing.T) {
		var e positionsEnvelope
		require.NoError(t, json.Unmarshal([]byte(`{"positions":"null"}`), &e))
		assert.Empty(t, e.Positions)
	})

	t.Run("single position arrives bare", func(t *testing.T) {
		var e positionsEnvelope
		data := `{"positions":{"position":{"symbol":"SPY250718P00490000","quantity":-2,"cost_basis":-240.0,"date_acquired":"2025-06-02T14:30:00Z"}}}`
		require.NoError(t, json.Unmarshal([]byte(data), &e))
		require.Len(t, e.Positions, 1)
		assert.Equal(t, -2.0, float64(e.Positions[0].Quantity))
		assert.Equal(t, -240.0, float64(e.Positions[0].CostBasis))
	})

	t.Run("multiple positions arrive as array", func(t *testing.T) {
		var e positionsEnvelope
		data := `{"positions":{"position":[{"symbol":"A"},{"symbol":"B"}]}}`
		require.NoError(t, json.Unmarshal([]byte(data), &e))
		assert.Len(t, e.Positions, 2)
	})
}
