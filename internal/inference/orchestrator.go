package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/metrics"
	"github.com/sells-group/deal-enrich/internal/model"
)

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// OutcomeUnified means the single unified request produced every sub-result.
	OutcomeUnified OutcomeKind = iota
	// OutcomeDecomposed means per-subtask requests filled in what the unified
	// request could not. Some subtasks may remain unresolved.
	OutcomeDecomposed
	// OutcomeFailed means taxonomy could not be resolved by either path.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUnified:
		return "unified"
	case OutcomeDecomposed:
		return "decomposed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of inference for one deal.
type Outcome struct {
	Kind OutcomeKind
	// Result is set for OutcomeUnified and OutcomeDecomposed.
	Result *model.EnrichmentResult
	// FailedSubtasks lists subtasks that stayed unresolved.
	FailedSubtasks []model.Subtask
	// Reason explains an OutcomeFailed.
	Reason string
	// Cause is the last call or parse error seen for taxonomy, if any.
	Cause error
}

// EnrichmentFailedError is returned by Enrich when taxonomy could not be
// resolved. The deal is not checkpointed so a later run retries it.
type EnrichmentFailedError struct {
	DealID     string
	Reason     string
	Unresolved []model.Subtask
	Cause      error
}

func (e *EnrichmentFailedError) Error() string {
	msg := fmt.Sprintf("inference: enrichment failed for deal %s: %s", e.DealID, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *EnrichmentFailedError) Unwrap() error {
	return e.Cause
}

// Resolve maps an outcome onto Enrich's return values.
func (o Outcome) Resolve(dealID string) (*model.EnrichmentResult, error) {
	switch o.Kind {
	case OutcomeUnified, OutcomeDecomposed:
		return o.Result, nil
	default:
		return nil, &EnrichmentFailedError{
			DealID:     dealID,
			Reason:     o.Reason,
			Unresolved: o.FailedSubtasks,
			Cause:      o.Cause,
		}
	}
}

// Orchestrator enriches deals with one unified request, falling back to
// per-subtask requests for whatever the unified response did not resolve.
type Orchestrator struct {
	caller    Caller
	templates *Templates
	nowFunc   func() time.Time
}

// NewOrchestrator creates an Orchestrator. A nil templates uses the
// built-in prompts.
func NewOrchestrator(caller Caller, templates *Templates) *Orchestrator {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Orchestrator{
		caller:    caller,
		templates: templates,
		nowFunc:   time.Now,
	}
}

// Enrich returns the enrichment result for deal, or *EnrichmentFailedError
// when taxonomy cannot be resolved.
func (o *Orchestrator) Enrich(ctx context.Context, deal *model.Deal) (*model.EnrichmentResult, error) {
	return o.Infer(ctx, deal).Resolve(deal.DealID)
}

// Infer runs the unified request and, when needed, the decomposed
// fallback. It never returns an error; failures are part of the Outcome.
func (o *Orchestrator) Infer(ctx context.Context, deal *model.Deal) Outcome {
	log := zap.L().With(zap.String("deal_id", deal.DealID))

	got, err := o.unified(ctx, deal)
	if err == nil && len(got.missing()) == 0 {
		out := Outcome{Kind: OutcomeUnified, Result: o.result(deal, got, model.MethodUnified)}
		metrics.Outcomes.WithLabelValues(out.Kind.String()).Inc()
		return out
	}

	if err != nil {
		log.Warn("inference: unified request failed, decomposing", zap.Error(err))
		got = &sections{}
	} else {
		log.Info("inference: unified response incomplete, decomposing",
			zap.Any("missing", got.missing()),
		)
	}

	out := o.decompose(ctx, deal, got, err)
	metrics.Outcomes.WithLabelValues(out.Kind.String()).Inc()
	return out
}

func (o *Orchestrator) unified(ctx context.Context, deal *model.Deal) (*sections, error) {
	prompt, err := o.templates.Render(unifiedName, NewPromptData(deal, nil))
	if err != nil {
		return nil, err
	}
	resp, err := o.caller.Call(ctx, Request{
		DealID: deal.DealID,
		Phase:  unifiedName,
		System: o.templates.System,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}
	return parseUnified(resp.Text, deal)
}

// decompose requests each unresolved subtask separately. Taxonomy goes
// first; if it cannot be resolved the remaining subtasks are skipped since
// the deal fails regardless.
func (o *Orchestrator) decompose(ctx context.Context, deal *model.Deal, got *sections, cause error) Outcome {
	log := zap.L().With(zap.String("deal_id", deal.DealID))

	for _, st := range model.Subtasks {
		if got.has(st) {
			continue
		}
		err := o.subtask(ctx, deal, st, got)
		if err == nil {
			continue
		}
		log.Warn("inference: subtask unresolved", zap.String("subtask", string(st)), zap.Error(err))
		if st == model.SubtaskTaxonomy {
			cause = err
			break
		}
	}

	if got.taxonomy == nil {
		reason := "taxonomy unresolved"
		if cause != nil {
			var ce *CallError
			if errors.As(cause, &ce) {
				reason = fmt.Sprintf("taxonomy unresolved (%s)", ce.Kind)
			}
		}
		return Outcome{
			Kind:           OutcomeFailed,
			FailedSubtasks: got.missing(),
			Reason:         reason,
			Cause:          cause,
		}
	}

	res := o.result(deal, got, model.MethodDecomposed)
	return Outcome{
		Kind:           OutcomeDecomposed,
		Result:         res,
		FailedSubtasks: res.Unresolved,
	}
}

func (o *Orchestrator) subtask(ctx context.Context, deal *model.Deal, st model.Subtask, got *sections) error {
	var tax *model.Taxonomy
	if st == model.SubtaskAudience {
		tax = got.taxonomy
	}
	prompt, err := o.templates.Render(string(st), NewPromptData(deal, tax))
	if err != nil {
		return err
	}
	resp, err := o.caller.Call(ctx, Request{
		DealID: deal.DealID,
		Phase:  string(st),
		System: o.templates.System,
		Prompt: prompt,
	})
	if err != nil {
		return err
	}
	return parseSubtask(st, resp.Text, deal, got)
}

func (o *Orchestrator) result(deal *model.Deal, s *sections, method model.Method) *model.EnrichmentResult {
	return &model.EnrichmentResult{
		Taxonomy:   s.taxonomy,
		Safety:     s.safety,
		Audience:   s.audience,
		Commercial: s.commercial,
		Concepts:   resolveConcepts(s.concepts, deal, s),
		Method:     method,
		Unresolved: s.missing(),
		EnrichedAt: o.nowFunc().UTC(),
	}
}
