package input

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/model"
)

// normalizeKey folds a column or field name to snake case ("Deal ID" and
// "deal-id" both become "deal_id").
func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}

func normalizeKeys(m map[string]any) record {
	out := make(record, len(m))
	for k, v := range m {
		out[normalizeKey(k)] = v
	}
	return out
}

// text renders a scalar as a trimmed string. Spreadsheet placeholders for
// missing values read as "".
func text(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		s = string(b)
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "nan", "none", "null":
		return ""
	}
	return s
}

func firstText(rec record, keys ...string) string {
	for _, k := range keys {
		if s := text(rec[k]); s != "" {
			return s
		}
	}
	return ""
}

func floatOf(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	}
	s := strings.ReplaceAll(text(v), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func intOf(v any) *int64 {
	f, ok := floatOf(v)
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}

// publishersOf accepts a list, a JSON list in a string, or a comma
// separated string.
func publishersOf(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, p := range t {
			if s := text(p); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	s := text(v)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return list
		}
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// rawDataOf accepts an object or a JSON object in a string. Anything else
// yields an empty payload.
func rawDataOf(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if strings.TrimSpace(t) != "" && json.Unmarshal([]byte(t), &m) == nil && m != nil {
			return m
		}
	}
	return map[string]any{}
}

var volumeKeys = []string{"bid_requests", "impressions", "uniques", "bid_requests_ratio"}

// volumeOf reads volume metrics from a nested object, from flattened
// volume_metrics_* columns, or from bare columns.
func volumeOf(rec record) *model.VolumeMetrics {
	src := map[string]any{}
	if nested, ok := rec["volume_metrics"].(map[string]any); ok {
		for k, v := range nested {
			src[normalizeKey(k)] = v
		}
	}
	for _, k := range volumeKeys {
		if _, ok := src[k]; ok {
			continue
		}
		if v, ok := rec["volume_metrics_"+k]; ok {
			src[k] = v
		} else if v, ok := rec[k]; ok {
			src[k] = v
		}
	}

	vm := &model.VolumeMetrics{
		BidRequests: intOf(src["bid_requests"]),
		Impressions: intOf(src["impressions"]),
		Uniques:     intOf(src["uniques"]),
	}
	if f, ok := floatOf(src["bid_requests_ratio"]); ok {
		vm.BidRequestsRatio = &f
	}
	if vm.BidRequests == nil && vm.Impressions == nil && vm.Uniques == nil && vm.BidRequestsRatio == nil {
		return nil
	}
	return vm
}

// decodeDeal maps a feed record onto a normalized deal. Missing names fall
// back the way vendor exports are usually filled in: deal_name to deal_id,
// source and ssp_name to each other, format to display.
func decodeDeal(rec record, defaultSource string) (model.Deal, error) {
	d := model.Deal{DealID: firstText(rec, "deal_id", "id")}
	if d.DealID == "" {
		return d, eris.New("input: record has no deal_id")
	}

	d.DealName = firstText(rec, "deal_name", "name")
	if d.DealName == "" {
		d.DealName = d.DealID
	}
	d.Source = text(rec["source"])
	d.SSPName = text(rec["ssp_name"])
	if d.Source == "" {
		d.Source = defaultSource
	}
	if d.Source == "" {
		d.Source = d.SSPName
	}
	if d.SSPName == "" {
		d.SSPName = d.Source
	}
	d.Format = model.Format(text(rec["format"]))
	if d.Format == "" {
		d.Format = model.FormatDisplay
	}
	d.Publishers = publishersOf(rec["publishers"])

	if raw := text(rec["floor_price"]); raw != "" {
		if f, ok := floatOf(rec["floor_price"]); ok {
			d.FloorPrice = f
		} else if f, err := model.ParseFloorPrice(raw); err == nil {
			d.FloorPrice = f
		} else {
			zap.L().Warn("input: unparseable floor_price, using 0",
				zap.String("deal_id", d.DealID),
				zap.String("floor_price", raw),
			)
		}
	}

	d.InventoryType = text(rec["inventory_type"])
	d.StartTime = text(rec["start_time"])
	d.EndTime = text(rec["end_time"])
	d.Description = text(rec["description"])
	d.VolumeMetrics = volumeOf(rec)
	d.InventoryScale = intOf(rec["inventory_scale"])
	d.InventoryScaleType = text(rec["inventory_scale_type"])
	d.RawDealData = rawDataOf(rec["raw_deal_data"])
	d.SchemaVersion = text(rec["schema_version"])

	d.Normalize()
	return d, nil
}
