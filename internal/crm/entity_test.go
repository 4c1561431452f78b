package crm

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	for _, s := range []string{"lead", "DEAL", " Contact ", "company"} {
		_, err := ParseEntityType(s)
		assert.NoError(t, err, s)
	}

	_, err := ParseEntityType("invoice")

	var unsupported *UnsupportedEntityTypeError
	require.ErrorAs(t, err, &unsupported)

	status, message := unsupported.Status()
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, `unsupported entity type "invoice"`, message)
}

func TestEntityType_Method(t *testing.T) {
	assert.Equal(t, "crm.lead.list", Lead.method("list"))
	assert.Equal(t, "crm.company.fields", Company.method("fields"))
}

func TestEntity_ID(t *testing.T) {
	tests := []struct {
		name   string
		entity Entity
		want   string
	}{
		{"string", Entity{"ID": "12"}, "12"},
		{"number", Entity{"ID": json.Number("12")}, "12"},
		{"float", Entity{"ID": float64(12)}, "12"},
		{"missing", Entity{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entity.ID())
		})
	}
}

func TestIsEmptyResult(t *testing.T) {
	for _, raw := range []string{"", "null", " [] ", "{}", `""`} {
		assert.True(t, isEmptyResult(json.RawMessage(raw)), raw)
	}
	for _, raw := range []string{"0", "false", `[{"ID":"1"}]`, `{"ID":"1"}`, `"x"`} {
		assert.False(t, isEmptyResult(json.RawMessage(raw)), raw)
	}
}

func TestListIndex(t *testing.T) {
	keys := listIndex("deal")(json.RawMessage(`[{"ID":"1"},{"ID":2},{"TITLE":"no id"}]`))
	assert.Equal(t, []string{"deal:*", "deal:1", "deal:2"}, keys)

	assert.Equal(t, []string{"deal:*"}, listIndex("deal")(json.RawMessage(`{"unexpected":true}`)))
}

func TestFirstValue(t *testing.T) {
	assert.Equal(t, "a@example.com", firstValue([]any{map[string]any{"VALUE": "a@example.com"}}))
	assert.Equal(t, "plain", firstValue("plain"))
	assert.Equal(t, []any{"x", "y"}, firstValue([]any{"x", "y"}))
	assert.Nil(t, firstValue(nil))
}

func TestCanonicalField(t *testing.T) {
	assert.Equal(t, "UF_CRM_SOURCE", canonicalField(" uf_crm_source "))
}
