package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// SchemaVersion is stamped on every deal and enriched record.
const SchemaVersion = "1.0"

// Format is the creative format of a deal.
type Format string

const (
	FormatVideo   Format = "video"
	FormatDisplay Format = "display"
	FormatNative  Format = "native"
	FormatAudio   Format = "audio"
)

// formatAliases maps vendor-specific format values onto Format.
var formatAliases = map[string]Format{
	"banner":  FormatDisplay,
	"display": FormatDisplay,
	"video":   FormatVideo,
	"native":  FormatNative,
	"audio":   FormatAudio,
}

// ParseFormat normalizes a vendor format value. Returns an error for values
// that do not map onto a known format.
func ParseFormat(v string) (Format, error) {
	f, ok := formatAliases[strings.ToLower(strings.TrimSpace(v))]
	if !ok {
		return "", eris.Errorf("model: invalid format %q (want video, display, native or audio)", v)
	}
	return f, nil
}

// sspAliases canonicalizes common SSP name spellings.
var sspAliases = map[string]string{
	"google authorized buyers": "Google Authorized Buyers",
	"google ads":               "Google Authorized Buyers",
	"bidswitch":                "BidSwitch",
	"bid switch":               "BidSwitch",
}

// NormalizeSSPName returns the canonical SSP name, or the trimmed input when
// no alias is known.
func NormalizeSSPName(v string) string {
	v = strings.TrimSpace(v)
	if canon, ok := sspAliases[strings.ToLower(v)]; ok {
		return canon
	}
	return v
}

// ParseFloorPrice parses a floor price that may carry currency symbols or
// thousands separators ("$1,250.50").
func ParseFloorPrice(v string) (float64, error) {
	cleaned := strings.TrimSpace(v)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "model: invalid floor_price %q", v)
	}
	return f, nil
}

// VolumeMetrics holds optional traffic volume figures reported by the vendor.
type VolumeMetrics struct {
	BidRequests      *int64   `json:"bid_requests,omitempty"`
	Impressions      *int64   `json:"impressions,omitempty"`
	Uniques          *int64   `json:"uniques,omitempty"`
	BidRequestsRatio *float64 `json:"bid_requests_ratio,omitempty"`
}

// Deal is a normalized inventory record entering enrichment. It is produced
// by upstream normalization and treated as immutable afterwards.
type Deal struct {
	DealID     string   `json:"deal_id"`
	DealName   string   `json:"deal_name"`
	Source     string   `json:"source"`
	SSPName    string   `json:"ssp_name"`
	Format     Format   `json:"format"`
	Publishers []string `json:"publishers"`
	FloorPrice float64  `json:"floor_price"`

	InventoryType      string         `json:"inventory_type,omitempty"`
	StartTime          string         `json:"start_time,omitempty"`
	EndTime            string         `json:"end_time,omitempty"`
	Description        string         `json:"description,omitempty"`
	VolumeMetrics      *VolumeMetrics `json:"volume_metrics,omitempty"`
	InventoryScale     *int64         `json:"inventory_scale,omitempty"`
	InventoryScaleType string         `json:"inventory_scale_type,omitempty"`

	RawDealData   map[string]any `json:"raw_deal_data"`
	SchemaVersion string         `json:"schema_version"`
}

// Validate checks the required fields of a deal.
func (d *Deal) Validate() error {
	if strings.TrimSpace(d.DealID) == "" {
		return eris.New("model: deal_id cannot be empty")
	}
	if strings.TrimSpace(d.DealName) == "" {
		return eris.Errorf("model: deal %s: deal_name is required", d.DealID)
	}
	if strings.TrimSpace(d.SSPName) == "" {
		return eris.Errorf("model: deal %s: ssp_name is required", d.DealID)
	}
	if _, err := ParseFormat(string(d.Format)); err != nil {
		return eris.Wrapf(err, "model: deal %s", d.DealID)
	}
	if d.FloorPrice < 0 {
		return eris.Errorf("model: deal %s: floor_price must be >= 0, got %v", d.DealID, d.FloorPrice)
	}
	return nil
}

// Normalize trims and canonicalizes vendor-supplied values in place and fills
// defaults. It does not validate.
func (d *Deal) Normalize() {
	d.DealID = strings.TrimSpace(d.DealID)
	d.DealName = strings.TrimSpace(d.DealName)
	d.SSPName = NormalizeSSPName(d.SSPName)
	if f, err := ParseFormat(string(d.Format)); err == nil {
		d.Format = f
	}

	pubs := make([]string, 0, len(d.Publishers))
	for _, p := range d.Publishers {
		if p = strings.TrimSpace(p); p != "" {
			pubs = append(pubs, p)
		}
	}
	d.Publishers = pubs

	if d.RawDealData == nil {
		d.RawDealData = map[string]any{}
	}
	if d.SchemaVersion == "" {
		d.SchemaVersion = SchemaVersion
	}
}
