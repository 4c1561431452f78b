package crm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_IgnoresObjectKeyOrder(t *testing.T) {
	a, err := cacheKey("crm.lead.list", json.RawMessage(`{"select":["*"],"filter":{"b":1,"a":{"y":2,"x":1}}}`))
	require.NoError(t, err)

	b, err := cacheKey("crm.lead.list", json.RawMessage(`{"filter":{"a":{"x":1,"y":2},"b":1},"select":["*"]}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, `crm.lead.list:{"filter":{"a":{"x":1,"y":2},"b":1},"select":["*"]}`, a)
}

func TestCacheKey_Distinguishes(t *testing.T) {
	tests := []struct {
		name string
		a, b any
	}{
		{"values", Filter{"ID": 1}, Filter{"ID": 2}},
		{"array order", map[string]any{"select": []string{"A", "B"}}, map[string]any{"select": []string{"B", "A"}}},
		{"types", Filter{"ID": 1}, Filter{"ID": "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := cacheKey("m", tt.a)
			require.NoError(t, err)
			b, err := cacheKey("m", tt.b)
			require.NoError(t, err)

			assert.NotEqual(t, a, b)
		})
	}
}

func TestCacheKey_MethodIsPartOfKey(t *testing.T) {
	a, err := cacheKey("crm.lead.get", map[string]any{"id": "1"})
	require.NoError(t, err)
	b, err := cacheKey("crm.deal.get", map[string]any{"id": "1"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestCacheKey_PreservesLargeNumbers(t *testing.T) {
	key, err := cacheKey("m", json.RawMessage(`{"id":12345678901234567890}`))
	require.NoError(t, err)

	assert.Equal(t, `m:{"id":12345678901234567890}`, key)
}

func TestCacheKey_UnencodableParams(t *testing.T) {
	_, err := cacheKey("m", map[string]any{"fn": func() {}})
	assert.ErrorContains(t, err, "could not encode parameters for cache key")
}
