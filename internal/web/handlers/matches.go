package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/audit"
	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/metrics"
	"github.com/cadastre-match/internal/patterns"
	"github.com/cadastre-match/internal/validation"
)

// MatchHandler serves the read-only matching endpoints and reconciliation
type MatchHandler struct {
	Deps
	Config Config
}

// NewMatchHandler creates a match handler
func NewMatchHandler(deps Deps, config Config) *MatchHandler {
	deps.defaults()
	return &MatchHandler{Deps: deps, Config: config}
}

// MatchRequest scores a collected record without persisting anything
type MatchRequest struct {
	Municipality string               `json:"municipality" validate:"required"`
	Record       match.PropertyFields `json:"record"`
	Address      string               `json:"address,omitempty"`
	Explain      bool                 `json:"explain,omitempty"`
}

// ResultView is a match result as returned by the API
type ResultView struct {
	match.MatchResult
	Explanation *match.Explanation `json:"explanation,omitempty"`
}

// MatchResponse is the body of POST /api/matches
type MatchResponse struct {
	Results          []ResultView          `json:"results"`
	Issues           []validation.Issue    `json:"issues,omitempty"`
	Suggestions      []patterns.Suggestion `json:"suggestions,omitempty"`
	ProcessingTimeMs int64                 `json:"processing_time_ms"`
}

// FindMatches handles POST /api/matches
func (h *MatchHandler) FindMatches(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req MatchRequest
	if !decodeJSON(w, r, &req) {
		metrics.ObserveMatch("find_matches", metrics.OutcomeInvalid, start, 0)
		return
	}

	fields, issues := h.Sanitizer.Sanitize(applyAddress(h.Parser, req.Record, req.Address))
	h.logIssues("", issues)

	results, err := h.Engine.FindMatches(r.Context(), match.SourceRecord{PropertyFields: fields}, req.Municipality)
	if err != nil {
		metrics.ObserveMatch("find_matches", metrics.OutcomeError, start, 0)
		writeError(w, h.Logger, err)
		return
	}

	resp := MatchResponse{Results: make([]ResultView, 0, len(results)), Issues: issues}
	for _, res := range results {
		view := ResultView{MatchResult: res}
		if req.Explain {
			exp := h.Engine.Explain(res)
			view.Explanation = &exp
		}
		resp.Results = append(resp.Results, view)
	}
	if len(results) == 0 && h.Patterns != nil {
		resp.Suggestions = h.suggest(r, req.Municipality, fields)
	}

	metrics.ObserveMatch("find_matches", metrics.OutcomeOK, start, len(results))
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

// ReconcileRequest proposes matches for a stored collection record. Record
// overrides the stored fields when given; municipality defaults to the
// stored record's.
type ReconcileRequest struct {
	Municipality string                `json:"municipality,omitempty"`
	Record       *match.PropertyFields `json:"record,omitempty"`
	Address      string                `json:"address,omitempty"`
	AutoApply    bool                  `json:"auto_apply,omitempty"`
}

// ReconcileResponse is the body of POST /api/records/{id}/reconcile
type ReconcileResponse struct {
	Decision         match.Decision          `json:"decision"`
	Results          []match.MatchResult     `json:"results"`
	Proposals        []match.Proposal        `json:"proposals"`
	Applied          *match.Proposal         `json:"applied,omitempty"`
	Record           *match.CollectionRecord `json:"record,omitempty"`
	Issues           []validation.Issue      `json:"issues,omitempty"`
	ProcessingTimeMs int64                   `json:"processing_time_ms"`
}

// Reconcile handles POST /api/records/{id}/reconcile
func (h *MatchHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := mux.Vars(r)["id"]

	var req ReconcileRequest
	if !decodeJSON(w, r, &req) {
		metrics.ObserveMatch("reconcile", metrics.OutcomeInvalid, start, 0)
		return
	}

	var fields match.PropertyFields
	if req.Record != nil {
		fields = *req.Record
	} else {
		if h.Records == nil {
			badRequest(w, "record fields are required", nil)
			return
		}
		rec, err := h.Records.GetCollectionRecord(r.Context(), id)
		if err != nil {
			metrics.ObserveMatch("reconcile", metrics.OutcomeError, start, 0)
			writeError(w, h.Logger, err)
			return
		}
		fields = rec.Fields
		if req.Municipality == "" {
			req.Municipality = rec.Municipality
		}
	}
	if req.Municipality == "" {
		metrics.ObserveMatch("reconcile", metrics.OutcomeInvalid, start, 0)
		badRequest(w, "municipality is required", nil)
		return
	}

	fields, issues := h.Sanitizer.Sanitize(applyAddress(h.Parser, fields, req.Address))
	h.logIssues(id, issues)

	out, err := h.Engine.Reconcile(r.Context(), match.ReconcileRequest{
		SourceRecordID: id,
		Source:         match.SourceRecord{PropertyFields: fields},
		Municipality:   req.Municipality,
		AutoApply:      req.AutoApply && h.Config.AutoApplyEnabled,
	})
	if err != nil {
		metrics.ObserveMatch("reconcile", metrics.OutcomeError, start, 0)
		writeError(w, h.Logger, err)
		return
	}

	if out.Applied != nil {
		metrics.ObserveTransition(string(out.Applied.Status))
		if err := h.Audit.RecordDecision(r.Context(), audit.NewDecision(*out.Applied, out.Record)); err != nil {
			h.Logger.Warn("Auto-apply committed but audit failed", zap.String("proposal_id", out.Applied.ID), zap.Error(err))
		}
	}

	resp := ReconcileResponse{
		Decision:         out.Decision,
		Results:          out.Results,
		Proposals:        out.Proposals,
		Applied:          out.Applied,
		Record:           out.Record,
		Issues:           issues,
		ProcessingTimeMs: out.ProcessingTime.Milliseconds(),
	}
	if resp.Results == nil {
		resp.Results = []match.MatchResult{}
	}
	if resp.Proposals == nil {
		resp.Proposals = []match.Proposal{}
	}

	metrics.ObserveMatch("reconcile", metrics.OutcomeOK, start, len(out.Results))
	writeJSON(w, http.StatusOK, resp)
}

// ClassifyResponse is the body of GET /api/classify
type ClassifyResponse struct {
	Score             float64    `json:"score"`
	Tier              match.Tier `json:"tier"`
	AutoApplyEligible bool       `json:"auto_apply_eligible"`
}

// Classify handles GET /api/classify?score=0.9
func (h *MatchHandler) Classify(w http.ResponseWriter, r *http.Request) {
	score, err := strconv.ParseFloat(r.URL.Query().Get("score"), 64)
	if err != nil || score < 0 || score > 1 {
		badRequest(w, "score must be a number between 0 and 1", nil)
		return
	}

	tier := h.Engine.Classify(score)
	writeJSON(w, http.StatusOK, ClassifyResponse{
		Score:             score,
		Tier:              tier,
		AutoApplyEligible: h.Engine.Tiers().AutoApplyEligible(score),
	})
}

func (h *MatchHandler) suggest(r *http.Request, municipality string, fields match.PropertyFields) []patterns.Suggestion {
	suggestions, err := h.Patterns.Suggest(r.Context(), municipality, fields)
	if err != nil {
		h.Logger.Warn("Pattern suggestions unavailable", zap.String("municipality", municipality), zap.Error(err))
		return nil
	}
	return suggestions
}

func (h *MatchHandler) logIssues(recordID string, issues []validation.Issue) {
	for _, is := range issues {
		h.Logger.Debug("Dropped malformed field",
			zap.String("record_id", recordID),
			zap.String("field", is.Field),
			zap.String("reason", is.Reason))
	}
}
