package inference

import (
	"strings"
	"unicode"

	"github.com/sells-group/deal-enrich/internal/model"
)

const (
	minConcepts = 3
	maxConcepts = 8
)

var formatConcepts = map[model.Format]string{
	model.FormatVideo:   "Video",
	model.FormatDisplay: "Display",
	model.FormatNative:  "Native",
	model.FormatAudio:   "Audio",
}

// nameKeywords maps deal-name tokens to concepts. Multi-word keys match
// consecutive tokens.
var nameKeywords = []struct {
	key     string
	concept string
}{
	{"premium", "Premium"},
	{"curated", "Curated"},
	{"brand safe", "Brand-Safe"},
	{"verified", "Verified"},
	{"political", "Political"},
	{"us", "US Market"},
	{"international", "International"},
}

// heuristicConcepts derives concepts from deal metadata when the model did
// not provide them. tax and com may be nil.
func heuristicConcepts(d *model.Deal, tax *model.Taxonomy, com *model.Commercial) []string {
	var out []string

	if c, ok := formatConcepts[d.Format]; ok {
		out = append(out, c)
	}

	inv := folded(d.InventoryType)
	if strings.Contains(inv, "ctv") || strings.Contains(inv, "connected tv") {
		out = append(out, "CTV")
	}
	if strings.Contains(inv, "mobile") {
		out = append(out, "Mobile")
	}
	if strings.Contains(inv, "desktop") {
		out = append(out, "Desktop")
	}

	if com != nil && com.QualityTier != nil {
		switch *com.QualityTier {
		case "Premium":
			out = append(out, "Premium")
		case "RON":
			out = append(out, "RON")
		}
	}

	if tax != nil && tax.Tier2 != nil && len(*tax.Tier2) < 30 {
		out = append(out, *tax.Tier2)
	}

	name := " " + strings.Join(tokens(d.DealName), " ") + " "
	for _, kw := range nameKeywords {
		if strings.Contains(name, " "+kw.key+" ") {
			out = append(out, kw.concept)
		}
	}

	return dedupeConcepts(out)
}

// tokens splits s into case-folded alphanumeric words.
func tokens(s string) []string {
	return strings.FieldsFunc(folded(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// dedupeConcepts trims, drops blanks and case-insensitive duplicates, and
// caps the list at maxConcepts. Order is preserved.
func dedupeConcepts(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := folded(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == maxConcepts {
			break
		}
	}
	return out
}

// resolveConcepts returns the model's concepts, topped up from the
// heuristic when the model gave fewer than minConcepts. A list still short
// after that is padded with the tier-1 category, publishers and SSP name;
// it stays short only when the deal carries none of them.
func resolveConcepts(fromModel []string, d *model.Deal, s *sections) []string {
	if len(fromModel) >= minConcepts {
		return fromModel
	}
	out := dedupeConcepts(append(append([]string(nil), fromModel...), heuristicConcepts(d, s.taxonomy, s.commercial)...))
	if len(out) >= minConcepts {
		return out
	}
	for _, c := range fillerConcepts(d, s.taxonomy) {
		out = dedupeConcepts(append(out, c))
		if len(out) >= minConcepts {
			break
		}
	}
	return out
}

// fillerConcepts lists short descriptive labels taken verbatim from the
// deal, in padding order.
func fillerConcepts(d *model.Deal, tax *model.Taxonomy) []string {
	var out []string
	if tax != nil && tax.Tier1 != "" && tax.Tier1 != uncategorized {
		out = append(out, tax.Tier1)
	}
	for _, p := range d.Publishers {
		if len(p) < 30 {
			out = append(out, p)
		}
	}
	if d.SSPName != "" {
		out = append(out, d.SSPName)
	}
	return out
}
