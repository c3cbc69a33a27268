package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"video", FormatVideo, false},
		{"Banner", FormatDisplay, false},
		{" DISPLAY ", FormatDisplay, false},
		{"native", FormatNative, false},
		{"audio", FormatAudio, false},
		{"hologram", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeSSPName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Google Authorized Buyers", NormalizeSSPName("google ads"))
	assert.Equal(t, "BidSwitch", NormalizeSSPName(" Bid Switch "))
	assert.Equal(t, "Magnite", NormalizeSSPName("Magnite"))
}

func TestParseFloorPrice(t *testing.T) {
	t.Parallel()

	got, err := ParseFloorPrice("$1,250.50")
	require.NoError(t, err)
	assert.InDelta(t, 1250.50, got, 0.0001)

	got, err = ParseFloorPrice(" 3 ")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got, 0.0001)

	_, err = ParseFloorPrice("free")
	assert.Error(t, err)
}

func TestDeal_Validate(t *testing.T) {
	t.Parallel()

	valid := Deal{
		DealID:     "D-1",
		DealName:   "Premium CTV",
		SSPName:    "BidSwitch",
		Format:     FormatVideo,
		FloorPrice: 12.5,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(d *Deal)
	}{
		{"empty id", func(d *Deal) { d.DealID = "  " }},
		{"empty name", func(d *Deal) { d.DealName = "" }},
		{"empty ssp", func(d *Deal) { d.SSPName = "" }},
		{"bad format", func(d *Deal) { d.Format = "carousel" }},
		{"negative floor", func(d *Deal) { d.FloorPrice = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := valid
			tt.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestDeal_Normalize(t *testing.T) {
	t.Parallel()

	d := Deal{
		DealID:     " D-9 ",
		DealName:   " Sports ",
		SSPName:    "bidswitch",
		Format:     "Banner",
		Publishers: []string{" espn.com ", "", "  "},
	}
	d.Normalize()

	assert.Equal(t, "D-9", d.DealID)
	assert.Equal(t, "Sports", d.DealName)
	assert.Equal(t, "BidSwitch", d.SSPName)
	assert.Equal(t, FormatDisplay, d.Format)
	assert.Equal(t, []string{"espn.com"}, d.Publishers)
	assert.NotNil(t, d.RawDealData)
	assert.Equal(t, SchemaVersion, d.SchemaVersion)
}

func TestEnrichedDeal_JSONFlattensEmbedded(t *testing.T) {
	t.Parallel()

	ed := EnrichedDeal{
		Deal: Deal{DealID: "D-1", DealName: "News", Format: FormatDisplay},
		EnrichmentResult: EnrichmentResult{
			Taxonomy: &Taxonomy{Tier1: "News & Information"},
			Safety:   &Safety{GARMRiskRating: GARMLow, FamilySafe: Ptr(true)},
			Method:   MethodUnified,
		},
	}

	b, err := json.Marshal(ed)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "D-1", m["deal_id"])
	assert.Equal(t, "unified", m["enrichment_method"])
	safety := m["safety"].(map[string]any)
	assert.Equal(t, "Low", safety["garm_risk_rating"])
	assert.Nil(t, m["audience"])
}
