package batch

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-enrich/internal/checkpoint"
	"github.com/sells-group/deal-enrich/internal/inference"
	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/resilience"
	"github.com/sells-group/deal-enrich/internal/sink"
	"github.com/sells-group/deal-enrich/internal/store"
	"github.com/sells-group/deal-enrich/pkg/anthropic"
)

func testDeals(ids ...string) []model.Deal {
	out := make([]model.Deal, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Deal{
			DealID:        id,
			DealName:      "Deal " + id,
			Source:        "ttd",
			SSPName:       "Magnite",
			Format:        model.FormatVideo,
			Publishers:    []string{"ESPN"},
			FloorPrice:    4.5,
			RawDealData:   map[string]any{},
			SchemaVersion: model.SchemaVersion,
		})
	}
	return out
}

// fakeEnricher returns a fixed result unless errs names the deal.
type fakeEnricher struct {
	errs   map[string]error
	calls  []string
	before func(dealID string)
}

func (f *fakeEnricher) Enrich(_ context.Context, deal *model.Deal) (*model.EnrichmentResult, error) {
	f.calls = append(f.calls, deal.DealID)
	if f.before != nil {
		f.before(deal.DealID)
	}
	if err := f.errs[deal.DealID]; err != nil {
		return nil, err
	}
	return &model.EnrichmentResult{
		Taxonomy:   &model.Taxonomy{Tier1: "Sports"},
		Concepts:   []string{"Sports", "Video", "Premium"},
		Method:     model.MethodUnified,
		EnrichedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

// scriptedAPI answers with the offline responses, except that deals named in
// resetOnce fail their first call with a connection reset and deals named in
// truncateUnified get a unified reply cut off mid-object. Deals are matched
// by name as rendered in the prompt.
type scriptedAPI struct {
	offline         inference.OfflineClient
	resetOnce       map[string]bool
	truncateUnified map[string]bool

	// calls counts requests per deal name and kind ("unified" or "sub").
	calls map[string]int
}

var _ anthropic.Client = (*scriptedAPI)(nil)

func (s *scriptedAPI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	var prompt string
	for _, m := range req.Messages {
		prompt += m.Content
	}
	name := ""
	for _, line := range strings.Split(prompt, "\n") {
		if v, ok := strings.CutPrefix(line, "Deal Name: "); ok {
			name = strings.TrimSpace(v)
			break
		}
	}
	kind := "sub"
	if strings.Contains(prompt, `"taxonomy"`) {
		kind = "unified"
	}
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[name+" "+kind]++

	if s.resetOnce[name] {
		delete(s.resetOnce, name)
		return nil, syscall.ECONNRESET
	}

	resp, err := s.offline.CreateMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	if kind == "unified" && s.truncateUnified[name] {
		text := resp.Content[0].Text
		resp.Content[0].Text = text[:len(text)/2]
	}
	return resp, nil
}

// memTable is an in-memory sink.RemoteTable.
type memTable struct {
	header []string
	rows   [][]string
	err    error
}

func (m *memTable) Header(context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.header), nil
}

func (m *memTable) SetHeader(_ context.Context, header []string) error {
	m.header = slices.Clone(header)
	return nil
}

func (m *memTable) Index(_ context.Context, key string) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	idx := map[string]string{}
	col := slices.Index(m.header, key)
	for i, r := range m.rows {
		if col >= 0 && col < len(r) {
			idx[r[col]] = strconv.Itoa(i)
		}
	}
	return idx, nil
}

func (m *memTable) Update(_ context.Context, ref string, _, values []string) error {
	i, _ := strconv.Atoi(ref)
	m.rows[i] = slices.Clone(values)
	return nil
}

func (m *memTable) Append(_ context.Context, _, values []string) (string, error) {
	m.rows = append(m.rows, slices.Clone(values))
	return strconv.Itoa(len(m.rows) - 1), nil
}

func (m *memTable) keys() []string {
	col := slices.Index(m.header, sink.KeyColumn)
	var out []string
	for _, r := range m.rows {
		out = append(out, r[col])
	}
	return out
}

func (m *memTable) cell(dealID, column string) string {
	key := slices.Index(m.header, sink.KeyColumn)
	col := slices.Index(m.header, column)
	for _, r := range m.rows {
		if r[key] == dealID && col >= 0 && col < len(r) {
			return r[col]
		}
	}
	return ""
}

// env is the persistent state a run works against. Reopening an env over
// the same dir simulates a process restart.
type env struct {
	dir    string
	store  *store.SQLiteStore
	cp     *checkpoint.Checkpoint
	writer *sink.Writer
	schema sink.SchemaState
}

func openEnv(t *testing.T, dir string, table *memTable) *env {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))

	cp, err := checkpoint.Load(ctx, st, "ttd")
	require.NoError(t, err)

	var remote sink.RemoteTable
	if table != nil {
		remote = table
	}
	w, schema, err := sink.Open(sink.Options{
		Dir:     dir,
		Source:  "ttd",
		Remote:  remote,
		Retry:   resilience.NoSleep(resilience.DefaultRetryConfig()),
		Breaker: resilience.DefaultCircuitBreakerConfig(),
	})
	require.NoError(t, err)

	e := &env{dir: dir, store: st, cp: cp, writer: w, schema: schema}
	t.Cleanup(e.close)
	return e
}

func (e *env) close() {
	e.writer.Close() //nolint:errcheck
	e.store.Close()  //nolint:errcheck
}

func (e *env) driver(enricher Enricher, cfg Config) *Driver {
	if cfg.Source == "" {
		cfg.Source = "ttd"
	}
	return New(cfg, enricher, e.writer, e.cp, e.store, e.schema)
}
