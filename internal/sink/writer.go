// Package sink persists enriched deals to the JSONL log, the TSV flat file
// and an optional remote table, keeping one monotonically growing column
// schema across the tabular sinks.
package sink

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/metrics"
	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/resilience"
)

// ErrSinkUnavailable is returned once a sink has failed more consecutive
// writes than the configured threshold. Callers treat it as fatal.
var ErrSinkUnavailable = eris.New("sink: unavailable after consecutive failures")

// Sink names used in errors, logs and metrics.
const (
	SinkJSONL  = "jsonl"
	SinkTSV    = "tsv"
	SinkRemote = "remote"
)

// WriteError reports which sink step failed for a record.
type WriteError struct {
	Sink string
	Err  error
}

func (e *WriteError) Error() string { return "sink: " + e.Sink + ": " + e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }

// Options configures a Writer.
type Options struct {
	// Dir holds the JSONL log and TSV file.
	Dir string
	// Source names the files: <source>.enriched.jsonl and .tsv.
	Source string
	// Remote is the live table. Nil disables the remote step.
	Remote RemoteTable
	// Retry governs each sink step.
	Retry resilience.RetryConfig
	// Breaker counts consecutive failures per sink.
	Breaker resilience.CircuitBreakerConfig
}

// Writer writes one enriched deal to every sink in a fixed order:
// JSONL log, TSV file, remote table. Each step is durable before the next
// starts. A Writer has a single caller.
type Writer struct {
	jsonl  *JSONLog
	tsv    *TSVFile
	remote *RemoteSink

	retry         resilience.RetryConfig
	localBreaker  *resilience.CircuitBreaker
	remoteBreaker *resilience.CircuitBreaker
}

// FilePaths returns the JSONL and TSV paths used for source under dir.
func FilePaths(dir, source string) (jsonlPath, tsvPath string) {
	base := filepath.Join(dir, source+".enriched")
	return base + ".jsonl", base + ".tsv"
}

// Open opens the sinks and returns the schema recovered from the TSV
// header, which is empty for a new file.
func Open(opts Options) (*Writer, SchemaState, error) {
	if opts.Source == "" {
		return nil, SchemaState{}, eris.New("sink: source is required")
	}
	jsonlPath, tsvPath := FilePaths(opts.Dir, opts.Source)

	jl, err := OpenJSONLog(jsonlPath)
	if err != nil {
		return nil, SchemaState{}, err
	}
	tf, schema, err := OpenTSV(tsvPath)
	if err != nil {
		jl.Close() //nolint:errcheck
		return nil, SchemaState{}, err
	}

	retry := opts.Retry
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = retryableWrite
	}
	breakerCfg := opts.Breaker
	if breakerCfg.ShouldTrip == nil {
		breakerCfg.ShouldTrip = tripsBreaker
	}
	remoteCfg := breakerCfg
	remoteCfg.OnStateChange = func(from, to resilience.CircuitState) {
		if to == resilience.CircuitOpen {
			metrics.RemoteBreakerOpen.Set(1)
		} else {
			metrics.RemoteBreakerOpen.Set(0)
		}
		zap.L().Warn("sink: remote breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	w := &Writer{
		jsonl:         jl,
		tsv:           tf,
		retry:         retry,
		localBreaker:  resilience.NewCircuitBreaker(breakerCfg),
		remoteBreaker: resilience.NewCircuitBreaker(remoteCfg),
	}
	if opts.Remote != nil {
		w.remote = NewRemoteSink(opts.Remote)
	}
	metrics.SchemaColumns.Set(float64(schema.Len()))
	zap.L().Info("sink: opened",
		zap.String("jsonl", jsonlPath),
		zap.String("tsv", tsvPath),
		zap.Bool("remote", w.remote != nil),
		zap.Int("columns", schema.Len()),
	)
	return w, schema, nil
}

// Write persists ed and returns the schema grown by any new columns. The
// returned schema is never shorter than the one passed in, even on error.
func (w *Writer) Write(ctx context.Context, ed *model.EnrichedDeal, schema SchemaState) (SchemaState, error) {
	rec, err := Flatten(ed)
	if err != nil {
		return schema, &WriteError{Sink: SinkTSV, Err: err}
	}

	if err := w.step(ctx, SinkJSONL, w.localBreaker, func(context.Context) error {
		return w.jsonl.Append(ed)
	}); err != nil {
		return schema, err
	}

	grown, added := schema.Grow(rec.Keys)
	if len(added) > 0 {
		metrics.SchemaColumns.Set(float64(grown.Len()))
		zap.L().Info("sink: schema grown",
			zap.String("deal_id", ed.DealID),
			zap.Int("columns", grown.Len()),
			zap.Strings("added", added),
		)
	}
	row := grown.Row(rec.Values)
	if err := w.step(ctx, SinkTSV, w.localBreaker, func(context.Context) error {
		return w.tsv.Append(grown, row)
	}); err != nil {
		return grown, err
	}

	if w.remote == nil {
		return grown, nil
	}
	if err := w.step(ctx, SinkRemote, w.remoteBreaker, func(ctx context.Context) error {
		return w.remote.Upsert(ctx, grown, rec)
	}); err != nil {
		return grown, err
	}
	return grown, nil
}

// step runs fn with retries through breaker. Once the breaker is open the
// error carries ErrSinkUnavailable.
func (w *Writer) step(ctx context.Context, name string, breaker *resilience.CircuitBreaker, fn func(context.Context) error) error {
	start := time.Now()
	cfg := w.retry
	cfg.OnRetry = resilience.RetryLogger("sink", name)

	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, cfg, fn)
	})
	metrics.SinkDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.SinkWrites.WithLabelValues(name, "ok").Inc()
		return nil
	}

	metrics.SinkWrites.WithLabelValues(name, "error").Inc()
	if errors.Is(err, resilience.ErrCircuitOpen) || breaker.State() == resilience.CircuitOpen {
		return &WriteError{Sink: name, Err: eris.Wrapf(ErrSinkUnavailable, "%s: %d consecutive failures, last: %v",
			name, breaker.ConsecutiveFailures(), err)}
	}
	return &WriteError{Sink: name, Err: err}
}

// Close closes the JSONL log.
func (w *Writer) Close() error {
	return w.jsonl.Close()
}

func retryableWrite(err error) bool {
	if errors.Is(err, ErrRowShape) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *resilience.PermanentError
	return !errors.As(err, &pe)
}

// tripsBreaker excludes failures caused by the record or by cancellation,
// which say nothing about the health of the sink.
func tripsBreaker(err error) bool {
	return !errors.Is(err, ErrRowShape) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
