package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadastre-match/internal/match"
)

func TestQueryCandidates(t *testing.T) {
	s := New()
	s.AddReference(
		match.ReferenceRecord{ID: "c", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{OwnerName: "Paulo Mendes"}},
		match.ReferenceRecord{ID: "a", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{OwnerDocument: "123.456.789-00"}},
		match.ReferenceRecord{ID: "b", Municipality: "m", Active: false, PropertyFields: match.PropertyFields{OwnerName: "Paulo Mendes"}},
		match.ReferenceRecord{ID: "d", Municipality: "other", Active: true, PropertyFields: match.PropertyFields{OwnerName: "Paulo Mendes"}},
		match.ReferenceRecord{ID: "e", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{OwnerName: "Someone Else"}},
	)

	filter := match.CandidateFilter{DocumentDigits: "12345678900", OwnerName: "paulo"}
	got, err := s.QueryCandidates(context.Background(), filter, "m", 10)
	require.NoError(t, err)

	ids := []string{}
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)

	got, err = s.QueryCandidates(context.Background(), filter, "m", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestQueryCandidates_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().QueryCandidates(ctx, match.CandidateFilter{RegistrationCode: "1"}, "m", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetReference_NotFound(t *testing.T) {
	_, err := New().GetReference(context.Background(), "nope")
	assert.ErrorIs(t, err, match.ErrNotFound)
}

func TestUpsertProposal(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.UpsertProposal(ctx, match.Proposal{ID: "p1", SourceRecordID: "r", ReferenceID: "x", Score: 0.5, Status: match.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, "p1", first.ID)

	second, err := s.UpsertProposal(ctx, match.Proposal{ID: "p2", SourceRecordID: "r", ReferenceID: "x", Score: 0.7, Status: match.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, "p1", second.ID)
	assert.Equal(t, 0.7, second.Score)

	_, err = s.GetProposal(ctx, "p2")
	assert.ErrorIs(t, err, match.ErrNotFound)
}

func TestWithinTx_RollbackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutRecord(match.CollectionRecord{ID: "rec", Fields: match.PropertyFields{OwnerName: "before"}})
	_, err := s.UpsertProposal(ctx, match.Proposal{ID: "p1", SourceRecordID: "rec", ReferenceID: "x", Status: match.StatusPending})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(ctx context.Context, tx match.ProposalTx) error {
		require.NoError(t, tx.SetFields(ctx, match.CollectionRecord{ID: "rec", Fields: match.PropertyFields{OwnerName: "after"}}))
		changed, err := tx.TransitionProposal(ctx, "p1", []match.ProposalStatus{match.StatusPending}, match.StatusConfirmed, nil, time.Now())
		require.NoError(t, err)
		require.True(t, changed)

		staged, err := tx.GetFields(ctx, "rec")
		require.NoError(t, err)
		assert.Equal(t, "after", staged.Fields.OwnerName)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, _ := s.Record("rec")
	assert.Equal(t, "before", rec.Fields.OwnerName)
	p, _ := s.GetProposal(ctx, "p1")
	assert.Equal(t, match.StatusPending, p.Status)
}

func TestTransitionProposal_Conditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.UpsertProposal(ctx, match.Proposal{ID: "p1", SourceRecordID: "rec", ReferenceID: "x", Status: match.StatusRejected})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(ctx context.Context, tx match.ProposalTx) error {
		changed, err := tx.TransitionProposal(ctx, "p1", []match.ProposalStatus{match.StatusPending}, match.StatusConfirmed, nil, time.Now())
		assert.False(t, changed)
		return err
	})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(ctx context.Context, tx match.ProposalTx) error {
		return tx.SetFields(ctx, match.CollectionRecord{ID: "missing"})
	})
	assert.ErrorIs(t, err, match.ErrNotFound)
}

func TestPatterns(t *testing.T) {
	s := New()
	lot := func(v float64) *float64 { return &v }
	floors := 2
	s.AddReference(
		match.ReferenceRecord{ID: "a", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{UseCode: "RES", LotArea: lot(100), FloorCount: &floors}},
		match.ReferenceRecord{ID: "b", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{UseCode: "RES", LotArea: lot(300)}},
		match.ReferenceRecord{ID: "c", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{UseCode: "COM"}},
		match.ReferenceRecord{ID: "d", Municipality: "m", Active: false, PropertyFields: match.PropertyFields{UseCode: "COM"}},
		match.ReferenceRecord{ID: "e", Municipality: "other", Active: true, PropertyFields: match.PropertyFields{UseCode: "COM"}},
	)

	got, err := s.Patterns(context.Background(), "m")
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "floor_count", got[0].Field)
	assert.Equal(t, "2", got[0].Value)
	assert.Equal(t, "lot_area", got[1].Field)
	assert.Equal(t, "200.00", got[1].Value)
	assert.Equal(t, 2, got[1].Frequency)
	assert.Equal(t, "use_code", got[2].Field)
	assert.Equal(t, "RES", got[2].Value)
	assert.Equal(t, 2, got[2].Frequency)
	assert.Equal(t, "COM", got[3].Value)
	assert.Equal(t, 1, got[3].Frequency)
}
