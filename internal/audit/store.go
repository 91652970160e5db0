package audit

import (
	"context"
	"encoding/json"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/cadastre-match/internal/match"
)

const auditTable = "match_audit"

// DBSink appends decisions to the match_audit table
type DBSink struct {
	db *sqlx.DB
}

func NewDBSink(db *sqlx.DB) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) Record(ctx context.Context, d Decision) error {
	query, args, err := insertDecisionQuery(d)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "insert audit decision")
	}
	return nil
}

// History returns the decisions made on a collection record, oldest first
func (s *DBSink) History(ctx context.Context, sourceRecordID string) ([]Decision, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("decision", "proposal_id", "source_record_id", "reference_id", "score", "actor", "matched_fields", "decided_at").
		From(auditTable).
		Where(sb.Equal("source_record_id", sourceRecordID)).
		OrderBy("decided_at", "audit_id")
	query, args := sb.Build()

	var rows []struct {
		Decision
		Fields pq.StringArray `db:"matched_fields"`
	}
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query audit history")
	}

	out := make([]Decision, 0, len(rows))
	for _, r := range rows {
		d := r.Decision
		for _, f := range r.Fields {
			d.MatchedFields = append(d.MatchedFields, match.FieldName(f))
		}
		out = append(out, d)
	}
	return out, nil
}

func insertDecisionQuery(d Decision) (string, []any, error) {
	criteria, err := json.Marshal(d.Criteria)
	if err != nil {
		return "", nil, errors.Wrap(err, "encode criteria")
	}
	if d.Criteria == nil {
		criteria = []byte("[]")
	}
	fields := make(pq.StringArray, 0, len(d.MatchedFields))
	for _, f := range d.MatchedFields {
		fields = append(fields, string(f))
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(auditTable).
		Cols("proposal_id", "source_record_id", "reference_id", "decision", "score", "actor", "matched_fields", "criteria", "decided_at").
		Values(d.ProposalID, d.SourceRecordID, d.ReferenceID, string(d.Type), d.Score, d.Actor, fields, string(criteria), d.DecidedAt)
	query, args := ib.Build()
	return query, args, nil
}
