// Package checkpoint tracks which deals have been fully enriched and
// persisted for a source, so interrupted runs can resume without redoing or
// duplicating work.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/metrics"
	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/store"
)

// ErrCorrupt is returned by Load when the persisted checkpoint cannot be
// trusted. It is never recovered from by starting empty.
var ErrCorrupt = store.ErrCorrupt

// Store is the persistence the checkpoint needs.
type Store interface {
	CheckIntegrity(ctx context.Context) error
	LoadCheckpoints(ctx context.Context, source string) ([]model.CheckpointEntry, error)
	AppendCheckpoint(ctx context.Context, entry model.CheckpointEntry) error
	ResetCheckpoints(ctx context.Context, source string) (int64, error)
}

// Checkpoint is the in-memory view of the completed deal ids for one source.
// It has a single writer; callers that parallelize enrichment must serialize
// Record.
type Checkpoint struct {
	store   Store
	source  string
	ids     map[string]struct{}
	entries []model.CheckpointEntry
	nowFunc func() time.Time
}

// Load reads the persisted checkpoint for source. A source with no entries
// yields an empty checkpoint. Integrity failures and unreadable rows yield
// ErrCorrupt.
func Load(ctx context.Context, st Store, source string) (*Checkpoint, error) {
	if source == "" {
		return nil, eris.New("checkpoint: source is required")
	}
	if err := st.CheckIntegrity(ctx); err != nil {
		return nil, asCorrupt(err, "integrity check")
	}
	entries, err := st.LoadCheckpoints(ctx, source)
	if err != nil {
		return nil, asCorrupt(err, "load "+source)
	}

	c := &Checkpoint{
		store:   st,
		source:  source,
		ids:     make(map[string]struct{}, len(entries)),
		nowFunc: time.Now,
	}
	for _, e := range entries {
		if _, dup := c.ids[e.DealID]; dup {
			continue
		}
		c.ids[e.DealID] = struct{}{}
		c.entries = append(c.entries, e)
	}
	metrics.Checkpointed.Set(float64(len(c.ids)))

	zap.L().Info("checkpoint: loaded",
		zap.String("source", source),
		zap.Int("completed", len(c.ids)),
	)
	return c, nil
}

// asCorrupt preserves context cancellation and otherwise reports err as
// ErrCorrupt.
func asCorrupt(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrapf(err, "checkpoint: %s", op)
	}
	if errors.Is(err, ErrCorrupt) {
		return eris.Wrapf(err, "checkpoint: %s", op)
	}
	return eris.Wrapf(ErrCorrupt, "checkpoint: %s: %v", op, err)
}

// Source returns the source tag the checkpoint belongs to.
func (c *Checkpoint) Source() string { return c.source }

// Contains reports whether dealID has been recorded.
func (c *Checkpoint) Contains(dealID string) bool {
	_, ok := c.ids[dealID]
	return ok
}

// Count returns the number of recorded deal ids.
func (c *Checkpoint) Count() int { return len(c.ids) }

// Entries returns the recorded entries in completion order.
func (c *Checkpoint) Entries() []model.CheckpointEntry {
	out := make([]model.CheckpointEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Record durably appends dealID. Recording an id twice is a no-op. The
// in-memory set is only updated after the store write succeeds.
func (c *Checkpoint) Record(ctx context.Context, dealID string) error {
	if !model.ValidDealID(dealID) {
		return eris.New("checkpoint: deal_id cannot be blank")
	}
	if c.Contains(dealID) {
		return nil
	}

	e := model.CheckpointEntry{
		DealID:      dealID,
		Source:      c.source,
		CompletedAt: c.nowFunc().UTC(),
	}
	if err := c.store.AppendCheckpoint(ctx, e); err != nil {
		return eris.Wrapf(err, "checkpoint: record %s", dealID)
	}
	c.ids[dealID] = struct{}{}
	c.entries = append(c.entries, e)
	metrics.Checkpointed.Set(float64(len(c.ids)))
	return nil
}

// Reset removes every persisted entry for the source.
func (c *Checkpoint) Reset(ctx context.Context) error {
	n, err := c.store.ResetCheckpoints(ctx, c.source)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: reset %s", c.source)
	}
	c.ids = make(map[string]struct{})
	c.entries = nil
	metrics.Checkpointed.Set(0)

	zap.L().Info("checkpoint: reset",
		zap.String("source", c.source),
		zap.Int64("removed", n),
	)
	return nil
}
