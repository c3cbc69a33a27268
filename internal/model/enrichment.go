package model

import (
	"strings"
	"time"
)

// GARMRating is the brand-safety risk rating. Ratings are ordered from the
// safest (Floor) to the riskiest (High).
type GARMRating int

const (
	GARMUnknown GARMRating = iota
	GARMFloor
	GARMLow
	GARMMedium
	GARMHigh
)

var garmNames = map[GARMRating]string{
	GARMFloor:  "Floor",
	GARMLow:    "Low",
	GARMMedium: "Medium",
	GARMHigh:   "High",
}

func (r GARMRating) String() string {
	if n, ok := garmNames[r]; ok {
		return n
	}
	return ""
}

// ParseGARMRating maps a rating label case-insensitively. Unknown labels
// return GARMUnknown and false.
func ParseGARMRating(v string) (GARMRating, bool) {
	v = strings.TrimSpace(v)
	for r, n := range garmNames {
		if strings.EqualFold(n, v) {
			return r, true
		}
	}
	return GARMUnknown, false
}

// MarshalText implements encoding.TextMarshaler.
func (r GARMRating) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown labels decode
// to GARMUnknown rather than failing.
func (r *GARMRating) UnmarshalText(b []byte) error {
	*r, _ = ParseGARMRating(string(b))
	return nil
}

// MostRestrictive returns the riskiest of the given ratings, ignoring
// unknowns. Returns GARMLow when no rating is known.
func MostRestrictive(ratings ...GARMRating) GARMRating {
	out := GARMUnknown
	for _, r := range ratings {
		if r > out {
			out = r
		}
	}
	if out == GARMUnknown {
		return GARMLow
	}
	return out
}

var (
	allVerticals = []string{
		"Automotive", "Finance", "Retail", "Technology", "Travel",
		"CPG", "Health", "Education", "Entertainment", "Food & Drink",
		"Home & Garden", "Sports", "Style & Fashion",
	}
	limitedVerticals = []string{
		"Automotive", "Finance", "Retail", "Technology", "Travel",
		"Sports", "Entertainment",
	}
)

// SafeVerticals derives the advertiser verticals considered safe for a
// rating.
func SafeVerticals(r GARMRating) []string {
	switch r {
	case GARMFloor, GARMLow:
		return append([]string(nil), allVerticals...)
	case GARMMedium:
		return append([]string(nil), limitedVerticals...)
	default:
		return []string{}
	}
}

// Subtask names one semantic inference sub-task.
type Subtask string

const (
	SubtaskTaxonomy   Subtask = "taxonomy"
	SubtaskSafety     Subtask = "safety"
	SubtaskAudience   Subtask = "audience"
	SubtaskCommercial Subtask = "commercial"
)

// Subtasks lists the decomposable sub-tasks in request order. Taxonomy comes
// first so later sub-tasks can use it as context.
var Subtasks = []Subtask{SubtaskTaxonomy, SubtaskSafety, SubtaskAudience, SubtaskCommercial}

// Method records which inference path produced a result.
type Method string

const (
	MethodUnified    Method = "unified"
	MethodDecomposed Method = "decomposed"
)

// Taxonomy is a three-level IAB content classification. Tier1 is required.
type Taxonomy struct {
	Tier1 string  `json:"tier1"`
	Tier2 *string `json:"tier2"`
	Tier3 *string `json:"tier3"`
}

// Safety is the brand-safety assessment.
type Safety struct {
	GARMRiskRating   GARMRating `json:"garm_risk_rating"`
	FamilySafe       *bool      `json:"family_safe"`
	SafeForVerticals []string   `json:"safe_for_verticals"`
}

// Audience is the inferred audience profile.
type Audience struct {
	InferredAudience   []string `json:"inferred_audience"`
	DemographicHint    *string  `json:"demographic_hint"`
	AudienceProvenance string   `json:"audience_provenance"`
}

// Commercial is the commercial profile.
type Commercial struct {
	QualityTier *string  `json:"quality_tier"`
	VolumeTier  *string  `json:"volume_tier"`
	FloorPrice  *float64 `json:"floor_price"`
}

// EnrichmentResult is the semantic metadata produced for one deal. A nil
// sub-result means the sub-task could not be inferred, which is distinct
// from an inferred empty value.
type EnrichmentResult struct {
	Taxonomy   *Taxonomy   `json:"taxonomy"`
	Safety     *Safety     `json:"safety"`
	Audience   *Audience   `json:"audience"`
	Commercial *Commercial `json:"commercial"`
	Concepts   []string    `json:"concepts"`

	Method     Method    `json:"enrichment_method"`
	Unresolved []Subtask `json:"unresolved_subtasks,omitempty"`
	EnrichedAt time.Time `json:"enrichment_timestamp"`
}

// Complete reports whether every sub-task resolved.
func (r *EnrichmentResult) Complete() bool {
	return r.Taxonomy != nil && r.Safety != nil && r.Audience != nil && r.Commercial != nil
}

// EnrichedDeal pairs a deal with its enrichment result. It is the unit
// written to every sink.
type EnrichedDeal struct {
	Deal
	EnrichmentResult
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
