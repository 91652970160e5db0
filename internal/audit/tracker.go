// Package audit records proposal decisions (apply, auto-apply, reject) to
// one or more sinks after they have been committed.
package audit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/match"
)

// DecisionType is what happened to a proposal
type DecisionType string

const (
	DecisionApplied     DecisionType = "applied"
	DecisionAutoApplied DecisionType = "auto_applied"
	DecisionRejected    DecisionType = "rejected"
)

// Decision represents one committed proposal transition
type Decision struct {
	Type           DecisionType           `json:"decision" db:"decision"`
	ProposalID     string                 `json:"proposal_id" db:"proposal_id"`
	SourceRecordID string                 `json:"source_record_id" db:"source_record_id"`
	ReferenceID    string                 `json:"reference_id" db:"reference_id"`
	Score          float64                `json:"score" db:"score"`
	Actor          string                 `json:"actor" db:"actor"`
	MatchedFields  []match.FieldName      `json:"matched_fields,omitempty" db:"-"`
	Criteria       []match.MatchCriterion `json:"criteria,omitempty" db:"-"`
	DecidedAt      time.Time              `json:"decided_at" db:"decided_at"`
}

// NewDecision builds a decision from the proposal returned by the recorder.
// rec is the collection record after the copy, or nil for a rejection.
func NewDecision(p match.Proposal, rec *match.CollectionRecord) Decision {
	d := Decision{
		ProposalID:     p.ID,
		SourceRecordID: p.SourceRecordID,
		ReferenceID:    p.ReferenceID,
		Score:          p.Score,
		Criteria:       p.Criteria,
		DecidedAt:      p.UpdatedAt,
	}
	if p.ResolvedBy != nil {
		d.Actor = *p.ResolvedBy
	}
	if p.ResolvedAt != nil {
		d.DecidedAt = *p.ResolvedAt
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}

	switch p.Status {
	case match.StatusRejected:
		d.Type = DecisionRejected
	case match.StatusAutoApplied:
		d.Type = DecisionAutoApplied
	default:
		d.Type = DecisionApplied
	}
	if rec != nil {
		d.MatchedFields = rec.MatchedFields
	}
	return d
}

// Sink receives committed decisions
type Sink interface {
	Record(ctx context.Context, d Decision) error
}

// Tracker fans a decision out to every sink. The proposal transition has
// already been committed, so sink failures are logged and returned but
// never undo anything.
type Tracker struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewTracker creates a tracker; with no sinks it only logs
func NewTracker(logger *zap.Logger, sinks ...Sink) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sinks) == 0 {
		sinks = []Sink{NewLogSink(logger)}
	}
	return &Tracker{sinks: sinks, logger: logger}
}

// RecordDecision sends the decision to every sink and returns the first failure
func (t *Tracker) RecordDecision(ctx context.Context, d Decision) error {
	var first error
	for _, sink := range t.sinks {
		if err := sink.Record(ctx, d); err != nil {
			t.logger.Warn("Failed to record audit decision",
				zap.String("proposal_id", d.ProposalID),
				zap.String("decision", string(d.Type)),
				zap.Error(err))
			if first == nil {
				first = errors.Wrapf(err, "record decision %s", d.ProposalID)
			}
		}
	}
	return first
}

// Close closes sinks that hold connections
func (t *Tracker) Close() error {
	var first error
	for _, sink := range t.sinks {
		if c, ok := sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// LogSink writes decisions to the structured log
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, d Decision) error {
	s.logger.Info("Match decision",
		zap.String("decision", string(d.Type)),
		zap.String("proposal_id", d.ProposalID),
		zap.String("source_record_id", d.SourceRecordID),
		zap.String("reference_id", d.ReferenceID),
		zap.Float64("score", d.Score),
		zap.String("actor", d.Actor),
		zap.Int("fields_copied", len(d.MatchedFields)),
		zap.Time("decided_at", d.DecidedAt))
	return nil
}
