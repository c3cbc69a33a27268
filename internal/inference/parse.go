package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/deal-enrich/internal/model"
)

var (
	qualityTiers = []string{"Premium", "Mid-tier", "RON"}
	volumeTiers  = []string{"High", "Medium", "Low"}
)

// folded returns the case-folded form of s. Casers are stateful, so each
// call builds its own.
func folded(s string) string {
	return cases.Fold().String(s)
}

// sections is the set of sub-results parsed from one or more responses.
type sections struct {
	taxonomy   *model.Taxonomy
	safety     *model.Safety
	audience   *model.Audience
	commercial *model.Commercial
	concepts   []string
}

func (s *sections) has(st model.Subtask) bool {
	switch st {
	case model.SubtaskTaxonomy:
		return s.taxonomy != nil
	case model.SubtaskSafety:
		return s.safety != nil
	case model.SubtaskAudience:
		return s.audience != nil
	case model.SubtaskCommercial:
		return s.commercial != nil
	}
	return false
}

func (s *sections) missing() []model.Subtask {
	var out []model.Subtask
	for _, st := range model.Subtasks {
		if !s.has(st) {
			out = append(out, st)
		}
	}
	return out
}

// cleanJSON strips markdown fences and surrounding prose from a model reply.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func decodeObject(text string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleanJSON(text)), &obj); err != nil {
		return nil, eris.Wrap(err, "inference: response is not a JSON object")
	}
	if obj == nil {
		return nil, eris.New("inference: response is null")
	}
	return obj, nil
}

// parseUnified decodes a unified response. Sections that are missing or
// invalid are left nil; the returned error is non-nil only when the
// response is not a JSON object at all.
func parseUnified(text string, deal *model.Deal) (*sections, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return nil, err
	}

	out := &sections{}
	for _, st := range model.Subtasks {
		raw, ok := obj[string(st)]
		if !ok {
			continue
		}
		// Errors leave the section nil so the fallback can retry it.
		_ = parseSection(st, raw, deal, out)
	}
	if raw, ok := obj["concepts"]; ok {
		out.concepts = parseConcepts(raw)
	}
	return out, nil
}

// parseSubtask decodes the response to a single-subtask request. The model
// sometimes wraps the object under the subtask name; both shapes are
// accepted.
func parseSubtask(st model.Subtask, text string, deal *model.Deal, dst *sections) error {
	obj, err := decodeObject(text)
	if err != nil {
		return err
	}
	raw := json.RawMessage(cleanJSON(text))
	if inner, ok := obj[string(st)]; ok && len(obj) == 1 {
		raw = inner
	}
	return parseSection(st, raw, deal, dst)
}

func parseSection(st model.Subtask, raw json.RawMessage, deal *model.Deal, dst *sections) error {
	switch st {
	case model.SubtaskTaxonomy:
		t, err := parseTaxonomy(raw)
		if err != nil {
			return err
		}
		dst.taxonomy = t
	case model.SubtaskSafety:
		s, err := parseSafety(raw)
		if err != nil {
			return err
		}
		dst.safety = s
	case model.SubtaskAudience:
		a, err := parseAudience(raw)
		if err != nil {
			return err
		}
		dst.audience = a
	case model.SubtaskCommercial:
		c, err := parseCommercial(raw, deal)
		if err != nil {
			return err
		}
		dst.commercial = c
	default:
		return eris.Errorf("inference: unknown subtask %q", st)
	}
	return nil
}

func parseTaxonomy(raw json.RawMessage) (*model.Taxonomy, error) {
	var w struct {
		Tier1 *string `json:"tier1"`
		Tier2 *string `json:"tier2"`
		Tier3 *string `json:"tier3"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, eris.Wrap(err, "inference: decode taxonomy")
	}
	tier1 := optString(w.Tier1)
	if tier1 == nil {
		return nil, eris.New("inference: taxonomy tier1 missing")
	}
	t := &model.Taxonomy{Tier1: *tier1, Tier2: optString(w.Tier2)}
	if t.Tier2 != nil {
		t.Tier3 = optString(w.Tier3)
	}
	return t, nil
}

func parseSafety(raw json.RawMessage) (*model.Safety, error) {
	var w struct {
		GARMRiskRating   string   `json:"garm_risk_rating"`
		FamilySafe       *bool    `json:"family_safe"`
		SafeForVerticals []string `json:"safe_for_verticals"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, eris.Wrap(err, "inference: decode safety")
	}
	rating, ok := model.ParseGARMRating(w.GARMRiskRating)
	if !ok {
		return nil, eris.Errorf("inference: unknown garm_risk_rating %q", w.GARMRiskRating)
	}
	s := &model.Safety{
		GARMRiskRating:   rating,
		FamilySafe:       w.FamilySafe,
		SafeForVerticals: cleanList(w.SafeForVerticals),
	}
	if w.SafeForVerticals == nil {
		s.SafeForVerticals = model.SafeVerticals(rating)
	}
	return s, nil
}

func parseAudience(raw json.RawMessage) (*model.Audience, error) {
	var w struct {
		InferredAudience []string `json:"inferred_audience"`
		DemographicHint  *string  `json:"demographic_hint"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, eris.Wrap(err, "inference: decode audience")
	}
	segments := cleanList(w.InferredAudience)
	if len(segments) == 0 {
		return nil, eris.New("inference: inferred_audience empty")
	}
	return &model.Audience{
		InferredAudience:   segments,
		DemographicHint:    optString(w.DemographicHint),
		AudienceProvenance: "Inferred",
	}, nil
}

func parseCommercial(raw json.RawMessage, deal *model.Deal) (*model.Commercial, error) {
	var w struct {
		QualityTier *string  `json:"quality_tier"`
		VolumeTier  *string  `json:"volume_tier"`
		FloorPrice  *float64 `json:"floor_price"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, eris.Wrap(err, "inference: decode commercial")
	}
	quality := canonicalLabel(w.QualityTier, qualityTiers)
	if quality == nil {
		return nil, eris.Errorf("inference: invalid quality_tier %s", describe(w.QualityTier))
	}
	c := &model.Commercial{
		QualityTier: quality,
		VolumeTier:  canonicalLabel(w.VolumeTier, volumeTiers),
		FloorPrice:  w.FloorPrice,
	}
	if c.FloorPrice == nil {
		c.FloorPrice = model.Ptr(deal.FloorPrice)
	}
	return c, nil
}

// parseConcepts tolerates non-string entries by formatting them.
func parseConcepts(raw json.RawMessage) []string {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		out = append(out, fmt.Sprint(it))
	}
	return dedupeConcepts(out)
}

// optString trims v and maps blank or null-like values to nil.
func optString(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	switch folded(s) {
	case "", "null", "none", "n/a", "unknown":
		return nil
	}
	return &s
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// canonicalLabel matches v case-insensitively against allowed and returns
// the canonical spelling, or nil when nothing matches.
func canonicalLabel(v *string, allowed []string) *string {
	if v == nil {
		return nil
	}
	key := folded(strings.TrimSpace(*v))
	for _, a := range allowed {
		if folded(a) == key {
			return model.Ptr(a)
		}
	}
	return nil
}

func describe(v *string) string {
	if v == nil {
		return "<missing>"
	}
	return fmt.Sprintf("%q", *v)
}
