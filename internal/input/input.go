// Package input reads deal feeds into normalized, validated deals in stable
// file order.
package input

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/model"
)

// Format is an input feed file type.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
	FormatXLSX  Format = "xlsx"
)

// DetectFormat picks the feed format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".csv":
		return FormatCSV, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("input: unsupported feed type %q", filepath.Ext(path))
	}
}

// Options configures ReadFile.
type Options struct {
	// Source fills Deal.Source for records that carry none.
	Source string
	// Sheet selects an xlsx worksheet by name. Default: the first sheet.
	Sheet string
}

// RowError describes one rejected record. Row is 1-based within the feed's
// records, not counting a header.
type RowError struct {
	Row    int    `json:"row"`
	DealID string `json:"deal_id,omitempty"`
	Err    string `json:"error"`
}

// Report summarizes what ReadFile accepted and rejected.
type Report struct {
	Records    int        `json:"records"`
	Valid      int        `json:"valid"`
	Invalid    int        `json:"invalid"`
	Duplicates int        `json:"duplicates"`
	Errors     []RowError `json:"errors,omitempty"`
}

// ReadFile reads every record of the feed at path. Invalid records are
// reported and left out; a repeated deal_id keeps its first occurrence.
// Only an unreadable feed is an error.
func ReadFile(ctx context.Context, path string, opts Options) ([]model.Deal, Report, error) {
	var report Report

	format, err := DetectFormat(path)
	if err != nil {
		return nil, report, err
	}

	var records []record
	switch format {
	case FormatJSON:
		records, err = readJSONArray(ctx, path)
	case FormatJSONL:
		records, err = readJSONLines(ctx, path)
	case FormatCSV:
		records, err = readDelimited(ctx, path, ',')
	case FormatTSV:
		records, err = readDelimited(ctx, path, '\t')
	case FormatXLSX:
		records, err = readXLSX(ctx, path, opts.Sheet)
	}
	if err != nil {
		return nil, report, err
	}

	seen := make(map[string]struct{}, len(records))
	deals := make([]model.Deal, 0, len(records))
	for i, rec := range records {
		report.Records++
		deal, err := decodeDeal(rec, opts.Source)
		if err == nil {
			err = deal.Validate()
		}
		if err != nil {
			report.Invalid++
			report.Errors = append(report.Errors, RowError{Row: i + 1, DealID: deal.DealID, Err: err.Error()})
			zap.L().Warn("input: record rejected",
				zap.Int("row", i+1),
				zap.String("deal_id", deal.DealID),
				zap.Error(err),
			)
			continue
		}
		if _, dup := seen[deal.DealID]; dup {
			report.Duplicates++
			zap.L().Warn("input: duplicate deal_id ignored",
				zap.Int("row", i+1),
				zap.String("deal_id", deal.DealID),
			)
			continue
		}
		seen[deal.DealID] = struct{}{}
		deals = append(deals, deal)
	}
	report.Valid = len(deals)

	zap.L().Info("input: feed loaded",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("records", report.Records),
		zap.Int("valid", report.Valid),
		zap.Int("invalid", report.Invalid),
		zap.Int("duplicates", report.Duplicates),
	)
	return deals, report, nil
}
