// Package postgres implements the reference reader and proposal store on
// PostgreSQL through sqlx and go-sqlbuilder.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/match"
)

var tracer = otel.Tracer("github.com/cadastre-match/internal/store/postgres")

const (
	referenceTable  = "reference_properties"
	collectionTable = "collection_records"
	proposalTable   = "match_proposals"
)

var propertyColumns = []string{
	"registration_code", "street_number", "complement", "street_name", "neighborhood",
	"use_code", "lot_area", "built_area", "floor_count", "owner_name", "owner_document",
	"latitude", "longitude",
}

var referenceColumns = append([]string{"id", "municipality", "active"}, propertyColumns...)

var proposalColumns = []string{
	"id", "source_record_id", "reference_id", "score", "criteria", "status",
	"auto_applied", "created_at", "updated_at", "resolved_at", "resolved_by",
}

// Store is the PostgreSQL-backed reference reader and proposal store
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New creates a store on an open connection
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// jsonb scans and writes a JSONB column
type jsonb[T any] struct {
	Data T
}

func (p *jsonb[T]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, &p.Data)
	case string:
		return json.Unmarshal([]byte(v), &p.Data)
	default:
		return fmt.Errorf("jsonb.Scan: expected []byte, got %T", src)
	}
}

func (p jsonb[T]) Value() (driver.Value, error) {
	return json.Marshal(p.Data)
}

// proposalRow maps match_proposals
type proposalRow struct {
	match.Proposal
	CriteriaJSON jsonb[[]match.MatchCriterion] `db:"criteria"`
}

func (r proposalRow) toProposal() match.Proposal {
	p := r.Proposal
	p.Criteria = r.CriteriaJSON.Data
	if p.Criteria == nil {
		p.Criteria = []match.MatchCriterion{}
	}
	return p
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(match.ErrNotFound, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

func startSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}
