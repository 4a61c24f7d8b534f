package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalizedText_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		preferred []string
		expected  string
		wantErr   bool
	}{
		{name: "plain string", input: `"Stadt Berlin"`, expected: "Stadt Berlin"},
		{name: "null", input: `null`, expected: ""},
		{name: "locale map prefers en", input: `{"de": "Stadt Berlin", "en": "City of Berlin"}`, expected: "City of Berlin"},
		{name: "locale map honors preference", input: `{"de": "Stadt Berlin", "en": "City of Berlin"}`, preferred: []string{"de"}, expected: "Stadt Berlin"},
		{name: "locale map without en uses sorted keys", input: `{"pl": "Miasto", "fr": "Ville"}`, expected: "Ville"},
		{name: "blank locale values are skipped", input: `{"en": "  ", "it": "Comune"}`, expected: "Comune"},
		{name: "number is rejected", input: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var text LocalizedText
			err := json.Unmarshal([]byte(tt.input), &text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, text.Resolve(tt.preferred...))
		})
	}
}

func TestLocalizedText_InStruct(t *testing.T) {
	var payload struct {
		Buyer LocalizedText `json:"buyer"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"buyer": {"en": "Ministry"}}`), &payload))
	require.NotNil(t, payload.Buyer.Ptr())
	assert.Equal(t, "Ministry", *payload.Buyer.Ptr())

	require.NoError(t, json.Unmarshal([]byte(`{}`), &payload))
	assert.Nil(t, LocalizedText{}.Ptr())
	assert.True(t, LocalizedText{}.IsEmpty())
}

func TestRankingWeights_Normalized(t *testing.T) {
	assert.Equal(t, DefaultRankingWeights(), RankingWeights{}.Normalized())

	w := RankingWeights{ValueFit: 2, Geography: 2}.Normalized()
	assert.InDelta(t, 0.5, w.ValueFit, 1e-9)
	assert.InDelta(t, 0.5, w.Geography, 1e-9)
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
}

func TestProfile_HasValueBand(t *testing.T) {
	lo, hi := 100.0, 10.0
	assert.False(t, Profile{}.HasValueBand())
	assert.True(t, Profile{MinValue: &hi}.HasValueBand())
	assert.False(t, Profile{MinValue: &lo, MaxValue: &hi}.HasValueBand())
	assert.True(t, Profile{MinValue: &hi, MaxValue: &lo}.HasValueBand())
}

func TestRecord_CloneIsDeep(t *testing.T) {
	value := 10.0
	r := Record{ID: "a", CategoryCodes: []string{"72000000"}, NumericValue: &value}
	c := r.Clone()
	c.CategoryCodes[0] = "x"
	*c.NumericValue = 99
	canonical := "b"
	c.CanonicalOf = &canonical

	assert.Equal(t, "72000000", r.CategoryCodes[0])
	assert.Equal(t, 10.0, *r.NumericValue)
	assert.True(t, r.IsCanonical())
	assert.False(t, c.IsCanonical())
}
