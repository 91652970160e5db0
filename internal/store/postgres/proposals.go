package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/match"
)

// upsertProposalQuery inserts a proposal or refreshes the score of the
// existing row for the pair while it is still open. A finalized row makes
// the DO UPDATE a no-op, so RETURNING yields nothing.
func upsertProposalQuery(p match.Proposal) (string, []any) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(proposalTable)
	ib.Cols("id", "source_record_id", "reference_id", "score", "criteria", "status", "auto_applied", "created_at", "updated_at")
	ib.Values(p.ID, p.SourceRecordID, p.ReferenceID, p.Score, jsonb[[]match.MatchCriterion]{Data: criteriaOrEmpty(p.Criteria)}, p.Status, p.AutoApplied, p.CreatedAt, p.UpdatedAt)

	query, args := ib.Build()
	query += " ON CONFLICT (source_record_id, reference_id) DO UPDATE" +
		" SET score = EXCLUDED.score, criteria = EXCLUDED.criteria, updated_at = EXCLUDED.updated_at" +
		" WHERE " + proposalTable + ".status NOT IN ('confirmed', 'rejected')" +
		" RETURNING " + strings.Join(proposalColumns, ", ")
	return query, args
}

// UpsertProposal stores a proposal idempotently per (source, reference)
func (s *Store) UpsertProposal(ctx context.Context, p match.Proposal) (match.Proposal, error) {
	ctx, end := startSpan(ctx, "postgres.Store.UpsertProposal")
	defer end()

	query, args := upsertProposalQuery(p)
	var row proposalRow
	err := sqlx.GetContext(ctx, s.db, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return s.proposalByPair(ctx, p.SourceRecordID, p.ReferenceID)
	}
	if err != nil {
		s.logger.Error("Failed to upsert match proposal",
			zap.String("source_record_id", p.SourceRecordID),
			zap.String("reference_id", p.ReferenceID),
			zap.Error(err))
		return match.Proposal{}, errors.Wrap(err, "upsert proposal")
	}
	return row.toProposal(), nil
}

func (s *Store) proposalByPair(ctx context.Context, sourceRecordID, referenceID string) (match.Proposal, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(proposalColumns...).From(proposalTable).Where(
		sb.Equal("source_record_id", sourceRecordID),
		sb.Equal("reference_id", referenceID),
	)
	query, args := sb.Build()

	var row proposalRow
	if err := sqlx.GetContext(ctx, s.db, &row, query, args...); err != nil {
		return match.Proposal{}, notFound(err, "proposal for %s/%s", sourceRecordID, referenceID)
	}
	return row.toProposal(), nil
}

// GetProposal loads a proposal by id
func (s *Store) GetProposal(ctx context.Context, id string) (match.Proposal, error) {
	ctx, end := startSpan(ctx, "postgres.Store.GetProposal")
	defer end()
	return getProposal(ctx, s.db, id, false)
}

// ListProposals returns the proposals of a collection record, best score first
func (s *Store) ListProposals(ctx context.Context, sourceRecordID string) ([]match.Proposal, error) {
	ctx, end := startSpan(ctx, "postgres.Store.ListProposals")
	defer end()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(proposalColumns...).From(proposalTable).
		Where(sb.Equal("source_record_id", sourceRecordID)).
		OrderBy("score DESC", "id")
	query, args := sb.Build()

	var rows []proposalRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list proposals")
	}
	out := make([]match.Proposal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toProposal())
	}
	return out, nil
}

// WithinTx runs fn in a database transaction, rolling back on any error
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx match.ProposalTx) error) error {
	ctx, end := startSpan(ctx, "postgres.Store.WithinTx")
	defer end()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

// txStore is the transactional view handed to the recorder
type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) LockProposal(ctx context.Context, id string) (match.Proposal, error) {
	return getProposal(ctx, t.tx, id, true)
}

func (t *txStore) GetReference(ctx context.Context, id string) (match.ReferenceRecord, error) {
	return getReference(ctx, t.tx, id)
}

func (t *txStore) GetFields(ctx context.Context, recordID string) (match.CollectionRecord, error) {
	return getCollectionRecord(ctx, t.tx, recordID)
}

func (t *txStore) SetFields(ctx context.Context, rec match.CollectionRecord) error {
	query, args := updateCollectionQuery(rec)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update collection record %s", rec.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(match.ErrNotFound, "collection record %s", rec.ID)
	}
	return nil
}

func (t *txStore) TransitionProposal(ctx context.Context, id string, from []match.ProposalStatus, to match.ProposalStatus, resolvedBy *string, at time.Time) (bool, error) {
	query, args := transitionQuery(id, from, to, resolvedBy, at)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "transition proposal %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func getProposal(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (match.Proposal, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(proposalColumns...).From(proposalTable).Where(sb.Equal("id", id))
	if forUpdate {
		sb.ForUpdate()
	}
	query, args := sb.Build()

	var row proposalRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		return match.Proposal{}, notFound(err, "proposal %s", id)
	}
	return row.toProposal(), nil
}

// transitionQuery moves a proposal to `to` only while its status is in `from`
func transitionQuery(id string, from []match.ProposalStatus, to match.ProposalStatus, resolvedBy *string, at time.Time) (string, []any) {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(proposalTable)
	ub.Set(
		ub.Assign("status", to),
		"auto_applied = auto_applied OR "+ub.Var(to == match.StatusAutoApplied),
		ub.Assign("resolved_at", at),
		ub.Assign("resolved_by", resolvedBy),
		ub.Assign("updated_at", at),
	)

	allowed := make([]any, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	ub.Where(ub.Equal("id", id), ub.In("status", allowed...))
	return ub.Build()
}

// collectionRow maps collection_records
type collectionRow struct {
	ID           string `db:"id"`
	Municipality string `db:"municipality"`
	match.PropertyFields
	MatchedFields      pq.StringArray `db:"matched_fields"`
	MatchedReferenceID sql.NullString `db:"matched_reference_id"`
}

// GetCollectionRecord loads the collected record proposals are applied to
func (s *Store) GetCollectionRecord(ctx context.Context, id string) (match.CollectionRecord, error) {
	ctx, end := startSpan(ctx, "postgres.Store.GetCollectionRecord")
	defer end()
	return getCollectionRecord(ctx, s.db, id)
}

func getCollectionRecord(ctx context.Context, q sqlx.QueryerContext, id string) (match.CollectionRecord, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cols := append([]string{"id", "municipality"}, propertyColumns...)
	cols = append(cols, "matched_fields", "matched_reference_id")
	sb.Select(cols...).From(collectionTable).Where(sb.Equal("id", id))
	query, args := sb.Build()

	var row collectionRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		return match.CollectionRecord{}, notFound(err, "collection record %s", id)
	}

	rec := match.CollectionRecord{
		ID:                 row.ID,
		Municipality:       row.Municipality,
		Fields:             row.PropertyFields,
		MatchedReferenceID: row.MatchedReferenceID.String,
	}
	for _, f := range row.MatchedFields {
		rec.MatchedFields = append(rec.MatchedFields, match.FieldName(f))
	}
	return rec, nil
}

func updateCollectionQuery(rec match.CollectionRecord) (string, []any) {
	f := rec.Fields
	matched := make(pq.StringArray, len(rec.MatchedFields))
	for i, m := range rec.MatchedFields {
		matched[i] = string(m)
	}
	var refID sql.NullString
	if rec.MatchedReferenceID != "" {
		refID = sql.NullString{String: rec.MatchedReferenceID, Valid: true}
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(collectionTable)
	ub.Set(
		ub.Assign("registration_code", f.RegistrationCode),
		ub.Assign("street_number", f.StreetNumber),
		ub.Assign("complement", f.Complement),
		ub.Assign("street_name", f.StreetName),
		ub.Assign("neighborhood", f.Neighborhood),
		ub.Assign("use_code", f.UseCode),
		ub.Assign("lot_area", f.LotArea),
		ub.Assign("built_area", f.BuiltArea),
		ub.Assign("floor_count", f.FloorCount),
		ub.Assign("owner_name", f.OwnerName),
		ub.Assign("owner_document", f.OwnerDocument),
		ub.Assign("latitude", f.Latitude),
		ub.Assign("longitude", f.Longitude),
		ub.Assign("matched_fields", matched),
		ub.Assign("matched_reference_id", refID),
		"updated_at = NOW()",
	)
	ub.Where(ub.Equal("id", rec.ID))
	return ub.Build()
}

func criteriaOrEmpty(c []match.MatchCriterion) []match.MatchCriterion {
	if c == nil {
		return []match.MatchCriterion{}
	}
	return c
}
