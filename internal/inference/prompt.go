package inference

import (
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/deal-enrich/internal/model"
)

const defaultSystemPrompt = `You are an expert in programmatic advertising deal analysis and semantic enrichment. You classify advertising inventory deals and respond with JSON only, no prose and no markdown.`

const dealBlock = `## Deal Information

Deal Name: {{.DealName}}
SSP: {{.SSPName}}
Format: {{.Format}}
Publishers: {{.Publishers}}
Description: {{.Description}}
Inventory Type: {{.InventoryType}}
Floor Price: ${{.FloorPrice}}
Volume Metrics: {{.VolumeMetrics}}
`

const defaultUnifiedPrompt = `Analyze the deal below and provide all semantic metadata in a single response:
1. IAB Content Taxonomy classification (Tier 1, Tier 2, Tier 3)
2. Brand safety assessment (GARM risk rating, family-safe status)
3. Audience profile inference (segments, demographics)
4. Commercial profile assessment (quality tier, volume tier)
5. Semantic concepts (3-8 short keywords)

` + dealBlock + `
## Instructions

- Taxonomy: use IAB Content Taxonomy 2.2. Tier 1 is required. Use null for tier3 when the deal is not specific enough.
- Safety: garm_risk_rating is one of Floor, Low, Medium, High. Mainstream news publishers covering politics are family safe unless the content is extremist, violent or explicit.
- Audience: 2-5 audience segments and an optional demographic hint.
- Commercial: quality_tier is one of Premium, Mid-tier, RON. volume_tier is one of High, Medium, Low.
- Concepts: single words or short phrases. Do not include generic terms like "Advertising" or "Deal".

## Output Format

Respond with JSON containing all enrichment fields:

{
  "taxonomy": {
    "tier1": "Category name",
    "tier2": "Subcategory name",
    "tier3": "Topic name or null"
  },
  "safety": {
    "garm_risk_rating": "Floor|Low|Medium|High",
    "family_safe": true,
    "safe_for_verticals": ["Vertical1", "Vertical2"]
  },
  "audience": {
    "inferred_audience": ["Segment1", "Segment2"],
    "demographic_hint": "Age range, income level, interests or null"
  },
  "commercial": {
    "quality_tier": "Premium|Mid-tier|RON",
    "volume_tier": "High|Medium|Low",
    "floor_price": {{.FloorPrice}}
  },
  "concepts": ["Concept1", "Concept2", "Concept3"]
}`

const defaultTaxonomyPrompt = `Classify the deal below into the IAB Content Taxonomy 2.2.

` + dealBlock + `
Tier 1 is a high-level category (e.g. "Automotive", "News & Information"), tier 2 a subcategory, tier 3 a specific topic. Use null for tiers you cannot determine.

Respond with JSON: {"tier1": "...", "tier2": "...", "tier3": "..."}`

const defaultSafetyPrompt = `Assess the brand safety of the deal below.

` + dealBlock + `
garm_risk_rating is one of Floor (highest safety), Low, Medium, High (highest risk). family_safe is true when the inventory suits all audiences. safe_for_verticals lists advertiser verticals that can safely buy this deal.

Respond with JSON: {"garm_risk_rating": "...", "family_safe": true, "safe_for_verticals": ["..."]}`

const defaultAudiencePrompt = `Infer the audience profile of the deal below.

` + dealBlock + `Content Taxonomy: {{.Taxonomy}}

List 2-5 audience segments and, when inferable, a demographic hint (age range, income level, interests).

Respond with JSON: {"inferred_audience": ["..."], "demographic_hint": "..."}`

const defaultCommercialPrompt = `Assess the commercial profile of the deal below.

` + dealBlock + `
quality_tier is one of Premium, Mid-tier, RON. volume_tier is one of High, Medium, Low; infer it from publisher size and inventory type when volume metrics are missing.

Respond with JSON: {"quality_tier": "...", "volume_tier": "...", "floor_price": {{.FloorPrice}}}`

// Templates holds the prompt templates used for enrichment. Each template is
// rendered with PromptData.
type Templates struct {
	System     string `yaml:"system"`
	Unified    string `yaml:"unified"`
	Taxonomy   string `yaml:"taxonomy"`
	Safety     string `yaml:"safety"`
	Audience   string `yaml:"audience"`
	Commercial string `yaml:"commercial"`

	compiled map[string]*template.Template
}

// DefaultTemplates returns the built-in prompt templates.
func DefaultTemplates() *Templates {
	t := &Templates{
		System:     defaultSystemPrompt,
		Unified:    defaultUnifiedPrompt,
		Taxonomy:   defaultTaxonomyPrompt,
		Safety:     defaultSafetyPrompt,
		Audience:   defaultAudiencePrompt,
		Commercial: defaultCommercialPrompt,
	}
	// Built-in templates are constants; a parse failure is a programming error.
	if err := t.compile(); err != nil {
		panic(err)
	}
	return t
}

// LoadTemplates reads prompt overrides from a YAML file. Keys left empty
// keep the built-in template. An empty path returns the defaults.
func LoadTemplates(path string) (*Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "inference: read prompt file %s", path)
	}

	var override Templates
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, eris.Wrapf(err, "inference: parse prompt file %s", path)
	}

	for _, f := range []struct {
		dst *string
		src string
	}{
		{&t.System, override.System},
		{&t.Unified, override.Unified},
		{&t.Taxonomy, override.Taxonomy},
		{&t.Safety, override.Safety},
		{&t.Audience, override.Audience},
		{&t.Commercial, override.Commercial},
	} {
		if strings.TrimSpace(f.src) != "" {
			*f.dst = f.src
		}
	}

	if err := t.compile(); err != nil {
		return nil, eris.Wrapf(err, "inference: prompt file %s", path)
	}
	return t, nil
}

const unifiedName = "unified"

func (t *Templates) compile() error {
	sources := map[string]string{
		unifiedName:                     t.Unified,
		string(model.SubtaskTaxonomy):   t.Taxonomy,
		string(model.SubtaskSafety):     t.Safety,
		string(model.SubtaskAudience):   t.Audience,
		string(model.SubtaskCommercial): t.Commercial,
	}
	t.compiled = make(map[string]*template.Template, len(sources))
	for name, src := range sources {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(src)
		if err != nil {
			return eris.Wrapf(err, "inference: parse %s template", name)
		}
		t.compiled[name] = tmpl
	}
	return nil
}

// Render executes the named template ("unified" or a subtask name).
func (t *Templates) Render(name string, data PromptData) (string, error) {
	tmpl, ok := t.compiled[name]
	if !ok {
		return "", eris.Errorf("inference: unknown template %q", name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", eris.Wrapf(err, "inference: render %s template", name)
	}
	return b.String(), nil
}

// PromptData is the deal as presented to the model. Every field is already
// formatted for display; missing values read "N/A".
type PromptData struct {
	DealID        string
	DealName      string
	SSPName       string
	Format        string
	Publishers    string
	Description   string
	InventoryType string
	FloorPrice    string
	VolumeMetrics string
	Taxonomy      string
}

var numbers = message.NewPrinter(language.English)

// NewPromptData formats a deal for prompt substitution. tax may be nil.
func NewPromptData(d *model.Deal, tax *model.Taxonomy) PromptData {
	pd := PromptData{
		DealID:        d.DealID,
		DealName:      d.DealName,
		SSPName:       d.SSPName,
		Format:        string(d.Format),
		Publishers:    "Unknown",
		Description:   orNA(d.Description),
		InventoryType: orNA(d.InventoryType),
		FloorPrice:    numbers.Sprintf("%.2f", d.FloorPrice),
		VolumeMetrics: formatVolume(d.VolumeMetrics),
		Taxonomy:      formatTaxonomy(tax),
	}
	if len(d.Publishers) > 0 {
		pd.Publishers = strings.Join(d.Publishers, ", ")
	}
	// The JSON example in the prompts needs a bare number.
	pd.FloorPrice = strings.ReplaceAll(pd.FloorPrice, ",", "")
	return pd
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func formatVolume(v *model.VolumeMetrics) string {
	if v == nil {
		return "N/A"
	}
	var parts []string
	if v.BidRequests != nil && *v.BidRequests > 0 {
		parts = append(parts, numbers.Sprintf("Bid Requests: %d", *v.BidRequests))
	}
	if v.Impressions != nil && *v.Impressions > 0 {
		parts = append(parts, numbers.Sprintf("Impressions: %d", *v.Impressions))
	}
	if v.Uniques != nil && *v.Uniques > 0 {
		parts = append(parts, numbers.Sprintf("Uniques: %d", *v.Uniques))
	}
	if v.BidRequestsRatio != nil && *v.BidRequestsRatio > 0 {
		parts = append(parts, numbers.Sprintf("Bid Requests Ratio: %.2f", *v.BidRequestsRatio))
	}
	if len(parts) == 0 {
		return "N/A"
	}
	return strings.Join(parts, ", ")
}

func formatTaxonomy(t *model.Taxonomy) string {
	if t == nil {
		return "N/A"
	}
	parts := []string{t.Tier1}
	if t.Tier2 != nil {
		parts = append(parts, *t.Tier2)
		if t.Tier3 != nil {
			parts = append(parts, *t.Tier3)
		}
	}
	return strings.Join(parts, " > ")
}
