package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten_FullRecord(t *testing.T) {
	rec, err := Flatten(testEnriched("A"))
	require.NoError(t, err)

	assert.Equal(t, []string{"deal_id", "deal_name", "source", "ssp_name", "format", "publishers", "floor_price"}, rec.Keys[:7])
	assert.Equal(t, "A", rec.Values["deal_id"])
	assert.Equal(t, `["CBS Sports","ESPN"]`, rec.Values["publishers"])
	assert.Equal(t, "12.5", rec.Values["floor_price"])
	assert.Equal(t, `{"vendor_id":"v-A"}`, rec.Values["raw_deal_data"])
	assert.Equal(t, "Sports", rec.Values["taxonomy_tier1"])
	assert.Equal(t, "Football", rec.Values["taxonomy_tier2"])
	assert.Equal(t, "", rec.Values["taxonomy_tier3"])
	assert.Equal(t, "Low", rec.Values["safety_garm_risk_rating"])
	assert.Equal(t, "true", rec.Values["safety_family_safe"])
	assert.Equal(t, `["Finance"]`, rec.Values["safety_safe_for_verticals"])
	assert.Equal(t, "Premium", rec.Values["commercial_quality_tier"])
	assert.Equal(t, `["CTV","Sports","Premium"]`, rec.Values["concepts"])
	assert.Equal(t, "unified", rec.Values["enrichment_method"])
	assert.Equal(t, "2025-03-01T12:00:00Z", rec.Values["enrichment_timestamp"])
	assert.NotContains(t, rec.Values, "inventory_type", "omitted optional fields add no column")
	assert.Len(t, rec.Keys, len(rec.Values))
}

func TestFlatten_AbsentSubResultsAddNoColumns(t *testing.T) {
	ed := testEnriched("B")
	ed.Safety = nil
	ed.Audience = nil

	rec, err := Flatten(ed)
	require.NoError(t, err)
	for _, k := range rec.Keys {
		assert.NotEqual(t, "safety", k)
		assert.NotContains(t, k, "audience_")
	}
	assert.Contains(t, rec.Values, "taxonomy_tier1")
}
