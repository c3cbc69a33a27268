package monitoring

import (
	"context"

	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/resilience"
	"github.com/sells-group/deal-enrich/internal/store"
)

type fakeSource struct {
	runs    []model.Run
	dlq     []resilience.DLQEntry
	runsErr error
	dlqErr  error
}

func (f *fakeSource) ListRuns(context.Context, store.RunFilter) ([]model.Run, error) {
	return f.runs, f.runsErr
}

func (f *fakeSource) ListDLQ(context.Context, resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return f.dlq, f.dlqErr
}
