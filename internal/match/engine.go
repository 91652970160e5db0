package match

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/cadastre-match/internal/match")

// Engine orchestrates retrieval, scoring, classification and recording
type Engine struct {
	retriever *Retriever
	scorer    *Scorer
	recorder  *Recorder
	tiers     Tiers
	weights   *Weights
	logger    *zap.Logger
}

// EngineConfig holds configuration for the matching engine
type EngineConfig struct {
	Reader    ReferenceReader
	Proposals ProposalStore // optional, required by Reconcile
	Weights   *Weights
	Tiers     *Tiers
	Retrieval *RetrieverConfig
	Logger    *zap.Logger
}

// NewEngine creates a new property matching engine
func NewEngine(config EngineConfig) *Engine {
	weights := config.Weights
	if weights == nil {
		weights = DefaultWeights()
	}

	tiers := DefaultTiers()
	if config.Tiers != nil {
		tiers = *config.Tiers
	}

	retrieval := DefaultRetrieverConfig()
	if config.Retrieval != nil {
		retrieval = *config.Retrieval
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		retriever: NewRetriever(config.Reader, retrieval),
		scorer:    NewScorerWithConfig(weights, tiers),
		tiers:     tiers,
		weights:   weights,
		logger:    logger,
	}
	if config.Proposals != nil {
		e.recorder = NewRecorder(config.Proposals, logger)
	}
	return e
}

// Recorder returns the proposal recorder, nil when no proposal store was configured
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Weights returns the active weight configuration
func (e *Engine) Weights() *Weights {
	return e.weights
}

// Tiers returns the active tier thresholds
func (e *Engine) Tiers() Tiers {
	return e.tiers
}

// Classify maps a score to the engine's confidence tier
func (e *Engine) Classify(score float64) Tier {
	return e.tiers.Classify(score)
}

// Explain returns the per-field breakdown of a result
func (e *Engine) Explain(result MatchResult) Explanation {
	return e.scorer.GetExplanation(result)
}

// FindMatches returns surfaced matches for a source record, sorted hi→lo.
// It never writes. A record without searchable fields yields no results.
func (e *Engine) FindMatches(ctx context.Context, source SourceRecord, municipality string) ([]MatchResult, error) {
	ctx, span := tracer.Start(ctx, "match.Engine.FindMatches")
	defer span.End()
	span.SetAttributes(attribute.String("municipality", municipality))

	log := e.logger.With(zap.String("municipality", municipality))
	src := SourceRecord{PropertyFields: source.PropertyFields.Clone()}

	// Step 1: candidate retrieval
	candidates, err := e.retriever.Retrieve(ctx, src, municipality)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			log.Debug("Source record has no searchable fields", zap.String("reason", verr.Reason))
			return []MatchResult{}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "candidate retrieval failed")
		log.Error("Candidate retrieval failed", zap.Error(err))
		return nil, err
	}
	log.Debug("Retrieved candidates", zap.Int("count", len(candidates)))

	// Step 2-4: field scoring, aggregation, classification
	results := e.scorer.ScoreCandidates(src, candidates)
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("results", len(results)),
	)

	if len(results) > 0 {
		log.Debug("Scored candidates",
			zap.Int("surfaced", len(results)),
			zap.String("top_reference", results[0].ReferenceID),
			zap.Float64("top_score", results[0].Score),
			zap.String("top_tier", string(results[0].Tier)))
	}
	return results, nil
}

// Decision summarizes what Reconcile did
type Decision string

const (
	DecisionAutoApplied    Decision = "auto_applied"
	DecisionAlreadyApplied Decision = "already_applied" // record already carries an applied match; nothing committed
	DecisionReview         Decision = "review"
	DecisionNoMatch        Decision = "no_match"
)

// ReconcileRequest asks the engine to match and record proposals for one
// collection record
type ReconcileRequest struct {
	SourceRecordID string
	Source         SourceRecord
	Municipality   string
	AutoApply      bool // caller intent; without it nothing is committed
}

// ReconcileResult is the outcome of Reconcile
type ReconcileResult struct {
	Results        []MatchResult
	Proposals      []Proposal
	Applied        *Proposal         // set only when this call committed an auto-apply
	Record         *CollectionRecord // collection record after that auto-apply
	Decision       Decision
	ProcessingTime time.Duration
}

// Reconcile runs FindMatches, proposes every surfaced result and, when the
// caller opted in, auto-applies the top result. Auto-apply needs a top score
// at or above the auto-apply threshold and is further narrowed: when the
// runner-up also clears that threshold the match is ambiguous and both stay
// pending. A record that already carries an applied match, confirmed by a
// reviewer or committed by an earlier auto-apply, is never overwritten; the
// decision is then DecisionAlreadyApplied and Applied stays nil.
func (e *Engine) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "match.Engine.Reconcile")
	defer span.End()

	if e.recorder == nil {
		return ReconcileResult{}, errors.New("reconcile requires a proposal store")
	}

	startTime := time.Now()
	log := e.logger.With(
		zap.String("source_record_id", req.SourceRecordID),
		zap.String("municipality", req.Municipality))

	results, err := e.FindMatches(ctx, req.Source, req.Municipality)
	if err != nil {
		return ReconcileResult{}, err
	}

	out := ReconcileResult{Results: results, Decision: DecisionNoMatch}
	if len(results) == 0 {
		out.ProcessingTime = time.Since(startTime)
		return out, nil
	}
	out.Decision = DecisionReview

	for _, r := range results {
		p, err := e.recorder.Propose(ctx, ProposalFromResult(req.SourceRecordID, r))
		if err != nil {
			span.RecordError(err)
			return ReconcileResult{}, err
		}
		out.Proposals = append(out.Proposals, p)
	}

	if req.AutoApply && e.autoApplyWinner(results) {
		top := out.Proposals[0]
		applied, rec, err := e.recorder.AutoApply(ctx, top.ID)
		var (
			finalized *AlreadyFinalizedError
			skipped   *AutoApplySkippedError
		)
		switch {
		case errors.As(err, &skipped):
			log.Info("Record already matched, not auto-applying",
				zap.String("proposal_id", top.ID),
				zap.String("matched_reference_id", skipped.MatchedReferenceID))
			out.Decision = DecisionAlreadyApplied
		case errors.As(err, &finalized):
			log.Info("Top proposal already finalized, leaving as is", zap.String("proposal_id", top.ID))
			if finalized.Status == StatusConfirmed {
				out.Decision = DecisionAlreadyApplied
			}
		case err != nil:
			span.RecordError(err)
			return ReconcileResult{}, err
		default:
			out.Proposals[0] = applied
			out.Applied = &applied
			out.Record = &rec
			out.Decision = DecisionAutoApplied
		}
	}

	out.ProcessingTime = time.Since(startTime)
	log.Info("Reconciled collection record",
		zap.String("decision", string(out.Decision)),
		zap.Int("proposals", len(out.Proposals)),
		zap.Duration("processing_time", out.ProcessingTime))
	return out, nil
}

// autoApplyWinner reports whether the top result may be committed without review
func (e *Engine) autoApplyWinner(results []MatchResult) bool {
	if len(results) == 0 || !e.tiers.AutoApplyEligible(results[0].Score) {
		return false
	}
	return len(results) == 1 || !e.tiers.AutoApplyEligible(results[1].Score)
}
