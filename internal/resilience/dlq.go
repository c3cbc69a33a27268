package resilience

import (
	"time"

	"github.com/sells-group/deal-enrich/internal/model"
)

// DLQEntry represents a deal that failed enrichment or persistence. Entries
// are keyed by (Source, DealID); re-enqueueing the same deal bumps RetryCount.
type DLQEntry struct {
	Source       string     `json:"source"`
	DealID       string     `json:"deal_id"`
	Deal         model.Deal `json:"deal"`
	Error        string     `json:"error"`
	ErrorType    string     `json:"error_type"`
	FailedPhase  string     `json:"failed_phase,omitempty"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastFailedAt time.Time  `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	Source    string `json:"source,omitempty"`
	ErrorType string `json:"error_type,omitempty"` // "" for all
	Limit     int    `json:"limit,omitempty"`
}

// NewDLQEntry builds an entry for a failed deal.
func NewDLQEntry(source string, deal *model.Deal, kind model.ErrorKind, phase string, err error) DLQEntry {
	now := time.Now().UTC()
	e := DLQEntry{
		Source:       source,
		DealID:       deal.DealID,
		Deal:         *deal,
		ErrorType:    string(kind),
		FailedPhase:  phase,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// ClassifyError maps an error onto the record failure kind stored in the
// queue.
func ClassifyError(err error) model.ErrorKind {
	switch Classify(err) {
	case KindTimeout:
		return model.ErrorKindTimeout
	case KindTransient:
		return model.ErrorKindTransient
	default:
		return model.ErrorKindPermanent
	}
}
