package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cadastre-match/internal/audit"
	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/patterns"
	"github.com/cadastre-match/internal/store/memory"
	"github.com/cadastre-match/internal/web/handlers"
)

type capturedDecisions struct {
	mu        sync.Mutex
	decisions []audit.Decision
}

func (c *capturedDecisions) RecordDecision(_ context.Context, d audit.Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions = append(c.decisions, d)
	return nil
}

func (c *capturedDecisions) types() []audit.DecisionType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audit.DecisionType, 0, len(c.decisions))
	for _, d := range c.decisions {
		out = append(out, d.Type)
	}
	return out
}

type testServer struct {
	handler http.Handler
	store   *memory.Store
	audit   *capturedDecisions
}

func newTestServer(t *testing.T, configure func(*Config)) *testServer {
	t.Helper()

	built := 120.0
	store := memory.New()
	store.AddReference(
		match.ReferenceRecord{ID: "ref-1", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{
			RegistrationCode: "R1", OwnerName: "Ana Souza", BuiltArea: &built,
		}},
		match.ReferenceRecord{ID: "ref-2", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{
			StreetName: "Rua das Flores", StreetNumber: "120",
		}},
	)
	store.PutRecord(match.CollectionRecord{ID: "rec-1", Municipality: "m", Fields: match.PropertyFields{RegistrationCode: "R1"}})
	store.PutRecord(match.CollectionRecord{ID: "rec-2", Fields: match.PropertyFields{RegistrationCode: "R1"}})

	logger := zaptest.NewLogger(t)
	captured := &capturedDecisions{}
	engine := match.NewEngine(match.EngineConfig{Reader: store, Proposals: store, Logger: logger})
	pats := patterns.NewService(patterns.StaticReader{
		"m": {{Field: "use_code", Value: "RES", Frequency: 4}, {Field: "use_code", Value: "COM", Frequency: 1}},
	}, time.Minute, logger)

	cfg := DefaultConfig()
	if configure != nil {
		configure(cfg)
	}
	srv := NewServer(cfg, handlers.Deps{
		Engine:   engine,
		Records:  store,
		Patterns: pats,
		Audit:    captured,
		Logger:   logger,
	}, nil)

	return &testServer{handler: srv.Handler(), store: store, audit: captured}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestFindMatchesEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "POST", "/api/matches", `{"municipality":"m","record":{"registration_code":"R1"},"explain":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[handlers.MatchResponse](t, rec)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "ref-1", resp.Results[0].ReferenceID)
	assert.Equal(t, match.TierVeryHigh, resp.Results[0].Tier)
	require.NotNil(t, resp.Results[0].Explanation)
	assert.NotEmpty(t, resp.Results[0].Explanation.Contributions)

	_, ok := s.store.Record("rec-1")
	assert.True(t, ok)
	assert.Empty(t, s.audit.types(), "matching never writes")
}

func TestFindMatchesFromFreeTextAddress(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "POST", "/api/matches", `{"municipality":"m","address":"R. das Flores, 120 - Centro"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[handlers.MatchResponse](t, rec)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "ref-2", resp.Results[0].ReferenceID)
}

func TestFindMatchesSanitizesAndSuggests(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "POST", "/api/matches", `{"municipality":"m","record":{"latitude":123,"longitude":5,"lot_area":-3}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[handlers.MatchResponse](t, rec)
	assert.Empty(t, resp.Results)
	assert.Len(t, resp.Issues, 2)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, "RES", resp.Suggestions[0].Value)
}

func TestFindMatchesBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"municipality":`},
		{"missing municipality", `{"record":{"registration_code":"R1"}}`},
		{"unknown field", `{"municipality":"m","colour":"blue"}`},
	}

	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "POST", "/api/matches", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := s.do(t, "POST", "/api/matches", `{"record":{}}`)
	resp := decode[handlers.ErrorResponse](t, rec)
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, "MatchRequest.Municipality", resp.Issues[0].Field)
}

func TestReviewFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "POST", "/api/records/rec-1/reconcile", `{"municipality":"m","auto_apply":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[handlers.ReconcileResponse](t, rec)
	assert.Equal(t, match.DecisionReview, out.Decision, "auto-apply is disabled on this server")
	require.Len(t, out.Proposals, 1)
	id := out.Proposals[0].ID

	rec = s.do(t, "GET", "/api/proposals/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, match.StatusPending, decode[match.Proposal](t, rec).Status)

	rec = s.do(t, "GET", "/api/records/rec-1/proposals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]match.Proposal](t, rec), 1)

	rec = s.do(t, "POST", "/api/proposals/"+id+"/apply", "", "X-Actor", "reviewer-7")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applied := decode[handlers.ApplyResponse](t, rec)
	assert.Equal(t, match.StatusConfirmed, applied.Proposal.Status)
	assert.Equal(t, "reviewer-7", *applied.Proposal.ResolvedBy)
	assert.Equal(t, "Ana Souza", applied.Record.Fields.OwnerName)

	rec = s.do(t, "POST", "/api/proposals/"+id+"/apply", `{"actor":"someone"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, "POST", "/api/proposals/"+id+"/reject", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, []audit.DecisionType{audit.DecisionApplied}, s.audit.types())
}

func TestReconcileAutoApply(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.Features.AutoApplyEnabled = true })

	rec := s.do(t, "POST", "/api/records/rec-1/reconcile", `{"municipality":"m","auto_apply":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[handlers.ReconcileResponse](t, rec)
	assert.Equal(t, match.DecisionAutoApplied, out.Decision)
	require.NotNil(t, out.Applied)
	assert.Equal(t, match.StatusAutoApplied, out.Applied.Status)

	stored, _ := s.store.Record("rec-1")
	assert.Equal(t, "Ana Souza", stored.Fields.OwnerName)
	assert.Equal(t, []audit.DecisionType{audit.DecisionAutoApplied}, s.audit.types())

	rec = s.do(t, "POST", "/api/proposals/"+out.Applied.ID+"/reject", `{"actor":"reviewer","reason":"wrong lot"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, match.StatusRejected, decode[match.Proposal](t, rec).Status)
}

func TestReconcileAutoApplyIsAuditedOnce(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.Features.AutoApplyEnabled = true })

	rec := s.do(t, "POST", "/api/records/rec-1/reconcile", `{"municipality":"m","auto_apply":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, match.DecisionAutoApplied, decode[handlers.ReconcileResponse](t, rec).Decision)

	rec = s.do(t, "POST", "/api/records/rec-1/reconcile", `{"municipality":"m","auto_apply":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[handlers.ReconcileResponse](t, rec)
	assert.Equal(t, match.DecisionAlreadyApplied, out.Decision)
	assert.Nil(t, out.Applied)

	assert.Equal(t, []audit.DecisionType{audit.DecisionAutoApplied}, s.audit.types())
}

func TestReconcileWithoutOptInNeverWrites(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.Features.AutoApplyEnabled = true })

	rec := s.do(t, "POST", "/api/records/rec-1/reconcile", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, match.DecisionReview, decode[handlers.ReconcileResponse](t, rec).Decision)

	stored, _ := s.store.Record("rec-1")
	assert.Empty(t, stored.Fields.OwnerName)
}

func TestReconcileNeedsMunicipality(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "POST", "/api/records/rec-2/reconcile", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, "POST", "/api/records/rec-2/reconcile", `{"municipality":"m","record":{"owner_name":"Ana Souza"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[handlers.ReconcileResponse](t, rec)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "ref-1", out.Results[0].ReferenceID)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, s.do(t, "GET", "/api/proposals/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "POST", "/api/proposals/nope/apply", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "POST", "/api/records/missing/reconcile", `{"municipality":"m"}`).Code)
}

func TestClassifyEndpoint(t *testing.T) {
	tests := []struct {
		query    string
		status   int
		tier     match.Tier
		eligible bool
	}{
		{"score=0.97", http.StatusOK, match.TierVeryHigh, true},
		{"score=0.9", http.StatusOK, match.TierHigh, false},
		{"score=0.1", http.StatusOK, match.TierVeryLow, false},
		{"score=1.5", http.StatusBadRequest, "", false},
		{"score=abc", http.StatusBadRequest, "", false},
		{"", http.StatusBadRequest, "", false},
	}

	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := s.do(t, "GET", "/api/classify?"+tt.query, "")
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}
			resp := decode[handlers.ClassifyResponse](t, rec)
			assert.Equal(t, tt.tier, resp.Tier)
			assert.Equal(t, tt.eligible, resp.AutoApplyEligible)
		})
	}
}

func TestPatternsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, "GET", "/api/municipalities/m/patterns", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[patterns.Summary](t, rec)
	require.Len(t, summary.Suggestions, 1)
	assert.InDelta(t, 0.8, summary.Suggestions[0].Share, 1e-9)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.Auth.APIKey = "secret" })

	assert.Equal(t, http.StatusUnauthorized, s.do(t, "GET", "/api/classify?score=0.5", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, "GET", "/api/classify?score=0.5", "", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, s.do(t, "GET", "/api/classify?score=0.5", "", "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, s.do(t, "GET", "/healthz", "").Code, "health stays open")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, "OPTIONS", "/api/matches", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	srv := NewServer(nil, handlers.Deps{Engine: match.NewEngine(match.EngineConfig{Reader: memory.New()})},
		func(context.Context) error { return errors.New("db down") })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cadastre_http_requests_total")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/proposals/x/apply", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "proposal routes need a proposal store")
}
