package sink

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/sells-group/deal-enrich/internal/model"
)

func testEnriched(id string) *model.EnrichedDeal {
	return &model.EnrichedDeal{
		Deal: model.Deal{
			DealID:        id,
			DealName:      "Deal " + id,
			Source:        "ttd",
			SSPName:       "Magnite",
			Format:        model.FormatVideo,
			Publishers:    []string{"CBS Sports", "ESPN"},
			FloorPrice:    12.5,
			RawDealData:   map[string]any{"vendor_id": "v-" + id},
			SchemaVersion: model.SchemaVersion,
		},
		EnrichmentResult: model.EnrichmentResult{
			Taxonomy: &model.Taxonomy{Tier1: "Sports", Tier2: model.Ptr("Football")},
			Safety: &model.Safety{
				GARMRiskRating:   model.GARMLow,
				FamilySafe:       model.Ptr(true),
				SafeForVerticals: []string{"Finance"},
			},
			Audience: &model.Audience{
				InferredAudience:   []string{"Sports Fans"},
				AudienceProvenance: "Inferred",
			},
			Commercial: &model.Commercial{
				QualityTier: model.Ptr("Premium"),
				VolumeTier:  model.Ptr("High"),
				FloorPrice:  model.Ptr(12.5),
			},
			Concepts:   []string{"CTV", "Sports", "Premium"},
			Method:     model.MethodUnified,
			EnrichedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

// fakeTable is an in-memory RemoteTable. Rows are stored by position so
// tests can assert on exact row shapes.
type fakeTable struct {
	header []string
	rows   [][]string

	failNext  int
	failErr   error
	lostAcks  int
	headerSet int
	calls     []string
}

func (f *fakeTable) fail() error {
	if f.failNext > 0 {
		f.failNext--
		return f.failErr
	}
	return nil
}

func (f *fakeTable) Header(context.Context) ([]string, error) {
	f.calls = append(f.calls, "header")
	if err := f.fail(); err != nil {
		return nil, err
	}
	return slices.Clone(f.header), nil
}

func (f *fakeTable) SetHeader(_ context.Context, header []string) error {
	f.calls = append(f.calls, "set_header")
	f.header = slices.Clone(header)
	f.headerSet++
	return nil
}

func (f *fakeTable) Index(_ context.Context, keyColumn string) (map[string]string, error) {
	f.calls = append(f.calls, "index")
	if err := f.fail(); err != nil {
		return nil, err
	}
	idx := map[string]string{}
	col := slices.Index(f.header, keyColumn)
	if col < 0 {
		return idx, nil
	}
	for i, r := range f.rows {
		if col < len(r) {
			idx[r[col]] = strconv.Itoa(i)
		}
	}
	return idx, nil
}

func (f *fakeTable) Update(_ context.Context, ref string, _, values []string) error {
	f.calls = append(f.calls, "update")
	if err := f.fail(); err != nil {
		return err
	}
	i, _ := strconv.Atoi(ref)
	f.rows[i] = slices.Clone(values)
	return nil
}

func (f *fakeTable) Append(_ context.Context, _, values []string) (string, error) {
	f.calls = append(f.calls, "append")
	if err := f.fail(); err != nil {
		return "", err
	}
	f.rows = append(f.rows, slices.Clone(values))
	if f.lostAcks > 0 {
		f.lostAcks--
		return "", f.failErr
	}
	return strconv.Itoa(len(f.rows) - 1), nil
}

// row returns the row for dealID as a column map.
func (f *fakeTable) row(dealID string) map[string]string {
	col := slices.Index(f.header, KeyColumn)
	for _, r := range f.rows {
		if col >= 0 && col < len(r) && r[col] == dealID {
			out := make(map[string]string, len(f.header))
			for i, h := range f.header {
				if i < len(r) {
					out[h] = r[i]
				}
			}
			return out
		}
	}
	return nil
}
