package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/audit"
	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/metrics"
	"github.com/cadastre-match/internal/web/middleware"
)

// ProposalHandler serves proposal review: read, apply and reject
type ProposalHandler struct {
	Deps
}

// NewProposalHandler creates a proposal handler
func NewProposalHandler(deps Deps) *ProposalHandler {
	deps.defaults()
	return &ProposalHandler{Deps: deps}
}

// DecisionRequest is the optional body of apply and reject. The actor
// falls back to the X-Actor header.
type DecisionRequest struct {
	Actor  string `json:"actor,omitempty" validate:"omitempty,max=200"`
	Reason string `json:"reason,omitempty" validate:"omitempty,max=2000"`
}

// ApplyResponse is the body of a successful apply
type ApplyResponse struct {
	Proposal match.Proposal         `json:"proposal"`
	Record   match.CollectionRecord `json:"record"`
}

// GetProposal handles GET /api/proposals/{id}
func (h *ProposalHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.recorder().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListProposals handles GET /api/records/{id}/proposals
func (h *ProposalHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	ps, err := h.recorder().List(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if ps == nil {
		ps = []match.Proposal{}
	}
	writeJSON(w, http.StatusOK, ps)
}

// Apply handles POST /api/proposals/{id}/apply
func (h *ProposalHandler) Apply(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decision(w, r)
	if !ok {
		return
	}

	p, rec, err := h.recorder().Apply(r.Context(), mux.Vars(r)["id"], req.Actor)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	h.audit(r, p, &rec, req.Reason)
	writeJSON(w, http.StatusOK, ApplyResponse{Proposal: p, Record: rec})
}

// Reject handles POST /api/proposals/{id}/reject
func (h *ProposalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decision(w, r)
	if !ok {
		return
	}

	p, err := h.recorder().Reject(r.Context(), mux.Vars(r)["id"], req.Actor)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	h.audit(r, p, nil, req.Reason)
	writeJSON(w, http.StatusOK, p)
}

func (h *ProposalHandler) recorder() *match.Recorder {
	return h.Engine.Recorder()
}

// decision reads the optional request body and resolves the actor
func (h *ProposalHandler) decision(w http.ResponseWriter, r *http.Request) (DecisionRequest, bool) {
	var req DecisionRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return req, false
		}
	}
	req.Actor = strings.TrimSpace(req.Actor)
	if req.Actor == "" {
		req.Actor = middleware.Actor(r.Context())
	}
	if req.Actor == "" {
		req.Actor = strings.TrimSpace(r.Header.Get("X-Actor"))
	}
	if req.Actor == "" {
		req.Actor = "anonymous"
	}
	return req, true
}

// audit reports a committed transition. The write already happened, so a
// failing sink only gets logged.
func (h *ProposalHandler) audit(r *http.Request, p match.Proposal, rec *match.CollectionRecord, reason string) {
	metrics.ObserveTransition(string(p.Status))
	if err := h.Audit.RecordDecision(r.Context(), audit.NewDecision(p, rec)); err != nil {
		h.Logger.Warn("Decision committed but audit failed",
			zap.String("proposal_id", p.ID),
			zap.String("reason", reason),
			zap.Error(err))
	}
}
