// Package batch drives sequential enrichment of a deal feed: skip what the
// checkpoint already holds, enrich, write to every sink, then checkpoint.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/inference"
	"github.com/sells-group/deal-enrich/internal/metrics"
	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/resilience"
	"github.com/sells-group/deal-enrich/internal/sink"
)

// Enricher produces the enrichment result for one deal.
type Enricher interface {
	Enrich(ctx context.Context, deal *model.Deal) (*model.EnrichmentResult, error)
}

// Writer persists one enriched deal and returns the grown schema.
type Writer interface {
	Write(ctx context.Context, ed *model.EnrichedDeal, schema sink.SchemaState) (sink.SchemaState, error)
}

// Checkpoint is the completed-id set for the run's source.
type Checkpoint interface {
	Contains(dealID string) bool
	Record(ctx context.Context, dealID string) error
	Reset(ctx context.Context) error
	Count() int
}

// RunStore records run history and the dead letter queue. Failures here are
// logged and never stop a run.
type RunStore interface {
	CreateRun(ctx context.Context, source, input string, fresh bool) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.Summary, runErr string) error
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	RemoveDLQ(ctx context.Context, source, dealID string) error
}

// Record statuses reported to Progress and metrics.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Progress is reported after every record.
type Progress struct {
	Index   int // 1-based position in the feed
	Total   int
	DealID  string
	Status  string
	Elapsed time.Duration
}

// Config configures a Driver.
type Config struct {
	Source string
	// Input is recorded on the run row.
	Input string
	// Limit caps the number of records enriched (skips don't count). Zero
	// means no limit.
	Limit int
	// OnProgress, if set, is called after every record.
	OnProgress func(Progress)
}

// Driver processes deals one at a time in feed order. A Driver has a single
// caller; the checkpoint and schema are not locked.
type Driver struct {
	cfg        Config
	enricher   Enricher
	writer     Writer
	checkpoint Checkpoint
	runs       RunStore
	schema     sink.SchemaState
}

// New creates a Driver. runs may be nil. schema is the state recovered when
// the sinks were opened.
func New(cfg Config, enricher Enricher, writer Writer, cp Checkpoint, runs RunStore, schema sink.SchemaState) *Driver {
	return &Driver{
		cfg:        cfg,
		enricher:   enricher,
		writer:     writer,
		checkpoint: cp,
		runs:       runs,
		schema:     schema,
	}
}

// Schema returns the current column schema.
func (d *Driver) Schema() sink.SchemaState { return d.schema }

// Run enriches deals in order. Record failures are collected in the summary
// and never stop the run. The returned error is non-nil when the run stopped
// early: cancellation, a sink past its failure threshold or a checkpoint
// write failure. The summary covers everything processed until then.
func (d *Driver) Run(ctx context.Context, deals []model.Deal, fresh bool) (model.Summary, error) {
	var summary model.Summary
	if d.cfg.Source == "" {
		return summary, eris.New("batch: source is required")
	}
	bg := context.WithoutCancel(ctx)
	log := zap.L().With(zap.String("source", d.cfg.Source))

	if fresh {
		if err := d.checkpoint.Reset(ctx); err != nil {
			return summary, eris.Wrap(err, "batch: fresh start")
		}
	}

	runID := d.startRun(bg, fresh)

	done := 0
	for i := range deals {
		if d.checkpoint.Contains(deals[i].DealID) {
			done++
		}
	}
	log.Info("batch: starting",
		zap.Int("records", len(deals)),
		zap.Int("already_done", done),
		zap.Int("remaining", len(deals)-done),
		zap.Bool("fresh", fresh),
		zap.Int("limit", d.cfg.Limit),
	)

	start := time.Now()
	attempted := 0
	var runErr error
	for i := range deals {
		if err := ctx.Err(); err != nil {
			runErr = eris.Wrap(err, "batch: cancelled")
			break
		}
		deal := &deals[i]

		if d.checkpoint.Contains(deal.DealID) {
			summary.Skipped++
			d.report(i, len(deals), deal.DealID, StatusSkipped, start)
			continue
		}
		if d.cfg.Limit > 0 && attempted >= d.cfg.Limit {
			log.Info("batch: limit reached", zap.Int("limit", d.cfg.Limit))
			break
		}
		attempted++

		status, err := d.process(ctx, deal, &summary)
		if err != nil {
			runErr = err
			break
		}
		if status != "" {
			d.report(i, len(deals), deal.DealID, status, start)
		}
	}

	d.finishRun(bg, runID, &summary, runErr)
	log.Info("batch: finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("checkpointed", d.checkpoint.Count()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(runErr),
	)
	return summary, runErr
}

// process runs one record through enrich, write and checkpoint. It returns
// a fatal error only; record failures land in summary. An empty status means
// the record was abandoned because ctx was cancelled during enrichment.
func (d *Driver) process(ctx context.Context, deal *model.Deal, summary *model.Summary) (string, error) {
	log := zap.L().With(zap.String("deal_id", deal.DealID))

	result, err := d.enricher.Enrich(ctx, deal)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("batch: enrichment interrupted, record left pending")
			return "", nil
		}
		var efe *inference.EnrichmentFailedError
		kind := resilience.ClassifyError(err)
		if errors.As(err, &efe) {
			kind = model.ErrorKindEnrichmentFailed
		}
		d.fail(ctx, deal, kind, "enrich", err, summary)
		return StatusFailed, nil
	}

	// The record is finished even if cancellation arrives now; otherwise a
	// sink could hold the row without the checkpoint knowing.
	wctx := context.WithoutCancel(ctx)

	ed := &model.EnrichedDeal{Deal: *deal, EnrichmentResult: *result}
	schema, err := d.writer.Write(wctx, ed, d.schema)
	d.schema = schema
	if err != nil {
		d.fail(ctx, deal, model.ErrorKindSink, "write", err, summary)
		if errors.Is(err, sink.ErrSinkUnavailable) {
			return StatusFailed, eris.Wrap(err, "batch: sink unavailable")
		}
		return StatusFailed, nil
	}

	if err := d.checkpoint.Record(wctx, deal.DealID); err != nil {
		d.fail(ctx, deal, model.ErrorKindPermanent, "checkpoint", err, summary)
		return StatusFailed, eris.Wrap(err, "batch: checkpoint write failed")
	}

	summary.Succeeded++
	metrics.Records.WithLabelValues(StatusSucceeded).Inc()
	if d.runs != nil {
		if err := d.runs.RemoveDLQ(wctx, d.cfg.Source, deal.DealID); err != nil {
			log.Warn("batch: remove from dead letter queue", zap.Error(err))
		}
	}
	log.Info("batch: record enriched",
		zap.String("method", string(result.Method)),
		zap.Int("unresolved", len(result.Unresolved)),
	)
	return StatusSucceeded, nil
}

func (d *Driver) fail(ctx context.Context, deal *model.Deal, kind model.ErrorKind, phase string, err error, summary *model.Summary) {
	summary.Failed++
	summary.Failures = append(summary.Failures, model.RecordFailure{
		DealID: deal.DealID,
		Kind:   kind,
		Error:  err.Error(),
	})
	metrics.Records.WithLabelValues(StatusFailed).Inc()
	zap.L().Error("batch: record failed",
		zap.String("deal_id", deal.DealID),
		zap.String("kind", string(kind)),
		zap.String("phase", phase),
		zap.Error(err),
	)

	if d.runs == nil {
		return
	}
	entry := resilience.NewDLQEntry(d.cfg.Source, deal, kind, phase, err)
	if qErr := d.runs.EnqueueDLQ(context.WithoutCancel(ctx), entry); qErr != nil {
		zap.L().Warn("batch: enqueue dead letter", zap.String("deal_id", deal.DealID), zap.Error(qErr))
	}
}

func (d *Driver) report(i, total int, dealID, status string, start time.Time) {
	if status == StatusSkipped {
		metrics.Records.WithLabelValues(StatusSkipped).Inc()
	}
	if d.cfg.OnProgress != nil {
		d.cfg.OnProgress(Progress{
			Index:   i + 1,
			Total:   total,
			DealID:  dealID,
			Status:  status,
			Elapsed: time.Since(start),
		})
	}
}

func (d *Driver) startRun(ctx context.Context, fresh bool) string {
	if d.runs == nil {
		return ""
	}
	run, err := d.runs.CreateRun(ctx, d.cfg.Source, d.cfg.Input, fresh)
	if err != nil {
		zap.L().Warn("batch: create run", zap.Error(err))
		return ""
	}
	return run.ID
}

func (d *Driver) finishRun(ctx context.Context, runID string, summary *model.Summary, runErr error) {
	if d.runs == nil || runID == "" {
		return
	}
	status := model.RunStatusComplete
	var msg string
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		status = model.RunStatusCancelled
		msg = runErr.Error()
	default:
		status = model.RunStatusFailed
		msg = runErr.Error()
	}
	if err := d.runs.FinishRun(ctx, runID, status, summary, msg); err != nil {
		zap.L().Warn("batch: finish run", zap.String("run_id", runID), zap.Error(err))
	}
}
