package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/resilience"
)

// ErrCorrupt reports persisted state that cannot be trusted. Callers must
// treat it as fatal rather than starting from an empty checkpoint.
var ErrCorrupt = eris.New("store: persisted state is corrupt")

// ErrNotFound is returned when a run or queue entry does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Source string          `json:"source,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for checkpoints, run history and
// the dead letter queue.
type Store interface {
	// Checkpoints, ordered by completion.
	LoadCheckpoints(ctx context.Context, source string) ([]model.CheckpointEntry, error)
	AppendCheckpoint(ctx context.Context, entry model.CheckpointEntry) error
	ImportCheckpoints(ctx context.Context, entries []model.CheckpointEntry) (int64, error)
	ResetCheckpoints(ctx context.Context, source string) (int64, error)

	// Runs
	CreateRun(ctx context.Context, source, input string, fresh bool) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.Summary, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	RemoveDLQ(ctx context.Context, source, dealID string) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)

	// Lifecycle
	CheckIntegrity(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// validateEntry rejects checkpoint entries that would poison a later load.
func validateEntry(e model.CheckpointEntry) error {
	if e.Source == "" {
		return eris.New("store: checkpoint entry has empty source")
	}
	if !model.ValidDealID(e.DealID) {
		return eris.Errorf("store: checkpoint entry has blank deal_id for source %q", e.Source)
	}
	return nil
}

// checkLoaded wraps ErrCorrupt around loaded entries with blank ids.
func checkLoaded(entries []model.CheckpointEntry) error {
	for i, e := range entries {
		if !model.ValidDealID(e.DealID) {
			return eris.Wrapf(ErrCorrupt, "checkpoint row %d has blank deal_id", i)
		}
	}
	return nil
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
