// Package handlers implements the HTTP endpoints of the matching API
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cadastre-match/internal/audit"
	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/normalize"
	"github.com/cadastre-match/internal/patterns"
	"github.com/cadastre-match/internal/validation"
)

// Config holds the feature switches handlers need
type Config struct {
	AutoApplyEnabled bool
}

// RecordReader loads collection records for reconciliation
type RecordReader interface {
	GetCollectionRecord(ctx context.Context, id string) (match.CollectionRecord, error)
}

// PatternSource serves municipality pattern summaries
type PatternSource interface {
	Summary(ctx context.Context, municipality string) (patterns.Summary, error)
	Suggest(ctx context.Context, municipality string, fields match.PropertyFields) ([]patterns.Suggestion, error)
}

// DecisionRecorder receives committed proposal decisions
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d audit.Decision) error
}

// Deps are the collaborators shared by all handlers
type Deps struct {
	Engine    *match.Engine
	Records   RecordReader
	Patterns  PatternSource
	Audit     DecisionRecorder
	Sanitizer *validation.Sanitizer
	Parser    normalize.Parser
	Logger    *zap.Logger
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Sanitizer == nil {
		d.Sanitizer = validation.NewSanitizer()
	}
	if d.Parser == nil {
		d.Parser = normalize.NewParser()
	}
	if d.Audit == nil {
		d.Audit = audit.NewTracker(d.Logger)
	}
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error  string             `json:"error"`
	Issues []validation.Issue `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string, issues []validation.Issue) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Issues: issues})
}

// writeError maps the matching error taxonomy onto HTTP status codes
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		verr      *match.ValidationError
		finalized *match.AlreadyFinalizedError
		pe        *match.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		badRequest(w, verr.Error(), nil)
	case errors.As(err, &finalized):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: finalized.Error()})
	case errors.Is(err, match.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Request cancelled"})
	case errors.As(err, &pe):
		logger.Error("Storage failure", zap.String("op", pe.Op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Storage error"})
	default:
		logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error"})
	}
}

// decodeJSON decodes a request body and runs its validate tags
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "Invalid JSON: "+err.Error(), nil)
		return false
	}
	if issues := validation.Struct(v); len(issues) > 0 {
		badRequest(w, "Invalid request", issues)
		return false
	}
	return true
}

// applyAddress fills the street fields the record does not carry from a
// free-text address
func applyAddress(p normalize.Parser, fields match.PropertyFields, raw string) match.PropertyFields {
	if strings.TrimSpace(raw) == "" {
		return fields
	}
	c := p.Parse(raw)
	if fields.StreetName == "" {
		fields.StreetName = c.StreetName
	}
	if fields.StreetNumber == "" {
		fields.StreetNumber = c.StreetNumber
	}
	if fields.Complement == "" {
		fields.Complement = c.Complement
	}
	if fields.Neighborhood == "" {
		fields.Neighborhood = c.Neighborhood
	}
	return fields
}
