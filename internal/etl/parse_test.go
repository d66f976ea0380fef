package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransformationVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want Transformation
	}{
		{"filter", map[string]any{"kind": "filter", "field": "type", "value": "series_a"}, Filter{Field: "type", Value: "series_a"}},
		{"map", map[string]any{"kind": "map", "fields": map[string]any{"companyName": "name"}}, Map{Fields: map[string]string{"companyName": "name"}}},
		{"normalize", map[string]any{"kind": "normalize", "dateFields": []any{"date"}}, Normalize{DateFields: []string{"date"}}},
		{"deduplicate", map[string]any{"kind": "deduplicate", "key": "id"}, Deduplicate{Key: "id"}},
		{"enrich", map[string]any{"kind": "enrich", "classifyField": "headline", "categories": map[string]any{"funding": []any{"raised"}}}, Enrich{ClassifyField: "headline", Categories: map[string][]string{"funding": {"raised"}}}},
		{"merge", map[string]any{"kind": "merge"}, Merge{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTransformation(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTransformationRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"missing kind", map[string]any{"field": "x"}},
		{"unknown kind", map[string]any{"kind": "explode"}},
		{"unused key", map[string]any{"kind": "filter", "field": "x", "colour": "red"}},
		{"dedupe without key", map[string]any{"kind": "deduplicate"}},
		{"empty map", map[string]any{"kind": "map"}},
		{"empty normalize", map[string]any{"kind": "normalize"}},
		{"categories without field", map[string]any{"kind": "enrich", "categories": map[string]any{"x": []any{"y"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransformation(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestParseTransformationsReportsIndex(t *testing.T) {
	_, err := ParseTransformations([]map[string]any{
		{"kind": "merge"},
		{"kind": "bogus"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transformations[1]")
}
