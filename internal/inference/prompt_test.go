package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-enrich/internal/model"
)

func TestNewPromptData(t *testing.T) {
	deal := testDeal()
	deal.FloorPrice = 1250.5
	deal.VolumeMetrics = &model.VolumeMetrics{
		BidRequests: model.Ptr(int64(1234567)),
		Impressions: model.Ptr(int64(0)),
	}
	tax := &model.Taxonomy{Tier1: "Sports", Tier2: model.Ptr("Football")}

	pd := NewPromptData(deal, tax)
	assert.Equal(t, "CBS Sports", pd.Publishers)
	assert.Equal(t, "N/A", pd.Description)
	assert.Equal(t, "1250.50", pd.FloorPrice)
	assert.Equal(t, "Bid Requests: 1,234,567", pd.VolumeMetrics)
	assert.Equal(t, "Sports > Football", pd.Taxonomy)

	pd = NewPromptData(&model.Deal{DealID: "x"}, nil)
	assert.Equal(t, "Unknown", pd.Publishers)
	assert.Equal(t, "N/A", pd.VolumeMetrics)
	assert.Equal(t, "N/A", pd.Taxonomy)
}

func TestDefaultTemplates_Render(t *testing.T) {
	tmpl := DefaultTemplates()
	pd := NewPromptData(testDeal(), nil)

	for _, name := range []string{"unified", "taxonomy", "safety", "audience", "commercial"} {
		out, err := tmpl.Render(name, pd)
		require.NoError(t, err, name)
		assert.Contains(t, out, "Premium NFL Sunday CTV", name)
	}

	out, err := tmpl.Render("unified", pd)
	require.NoError(t, err)
	assert.Contains(t, out, `"floor_price": 12.50`)

	_, err = tmpl.Render("bogus", pd)
	assert.Error(t, err)
}

func TestLoadTemplates_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
system: "Answer in JSON."
taxonomy: |
  Classify {{.DealName}} from {{.SSPName}}.
`), 0o644))

	tmpl, err := LoadTemplates(path)
	require.NoError(t, err)
	assert.Equal(t, "Answer in JSON.", tmpl.System)

	out, err := tmpl.Render("taxonomy", NewPromptData(testDeal(), nil))
	require.NoError(t, err)
	assert.Equal(t, "Classify Premium NFL Sunday CTV from Magnite.\n", out)

	out, err = tmpl.Render("safety", NewPromptData(testDeal(), nil))
	require.NoError(t, err)
	assert.Contains(t, out, "garm_risk_rating", "unset keys keep defaults")
}

func TestLoadTemplates_Errors(t *testing.T) {
	_, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("unified: \"{{.Nope\"\n"), 0o644))
	_, err = LoadTemplates(bad)
	assert.Error(t, err)

	tmpl, err := LoadTemplates("")
	require.NoError(t, err)
	assert.NotEmpty(t, tmpl.Unified)
}
