package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/match"
)

// QueryCandidates runs the disjunctive candidate query scoped to active
// records of one municipality, ordered by id
func (s *Store) QueryCandidates(ctx context.Context, filter match.CandidateFilter, municipality string, limit int) ([]match.ReferenceRecord, error) {
	ctx, end := startSpan(ctx, "postgres.Store.QueryCandidates")
	defer end()

	query, args, err := buildCandidateQuery(filter, municipality, limit)
	if err != nil {
		return nil, err
	}

	var refs []match.ReferenceRecord
	if err := sqlx.SelectContext(ctx, s.db, &refs, query, args...); err != nil {
		s.logger.Error("Failed to query candidates", zap.String("municipality", municipality), zap.Error(err))
		return nil, errors.Wrap(err, "query candidates")
	}
	return refs, nil
}

// GetReference loads one reference record
func (s *Store) GetReference(ctx context.Context, id string) (match.ReferenceRecord, error) {
	ctx, end := startSpan(ctx, "postgres.Store.GetReference")
	defer end()
	return getReference(ctx, s.db, id)
}

func getReference(ctx context.Context, q sqlx.QueryerContext, id string) (match.ReferenceRecord, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(referenceColumns...).From(referenceTable).Where(sb.Equal("id", id))
	query, args := sb.Build()

	var ref match.ReferenceRecord
	if err := sqlx.GetContext(ctx, q, &ref, query, args...); err != nil {
		return match.ReferenceRecord{}, notFound(err, "reference %s", id)
	}
	return ref, nil
}

// buildCandidateQuery renders the filter as
// municipality = ? AND active AND (clause OR clause ...)
func buildCandidateQuery(filter match.CandidateFilter, municipality string, limit int) (string, []any, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(referenceColumns...).From(referenceTable)

	var or []string
	if filter.RegistrationCode != "" {
		or = append(or, sb.Equal("registration_code", filter.RegistrationCode))
	}
	if filter.DocumentDigits != "" {
		or = append(or, sb.Equal("owner_document_digits", filter.DocumentDigits))
	}
	if filter.StreetName != "" && filter.StreetNumber != "" {
		or = append(or, sb.And(
			sb.ILike("street_name", "%"+escapeLike(filter.StreetName)+"%"),
			sb.Equal("lower(trim(street_number))", filter.StreetNumber),
		))
	}
	if filter.OwnerName != "" {
		or = append(or, sb.ILike("owner_name", "%"+escapeLike(filter.OwnerName)+"%"))
	}
	if filter.Near != nil && filter.RadiusKm > 0 {
		or = append(or, fmt.Sprintf("(latitude IS NOT NULL AND longitude IS NOT NULL AND %s <= %s)",
			haversineSQL(sb, *filter.Near), sb.Var(filter.RadiusKm)))
	}
	if len(or) == 0 {
		return "", nil, &match.ValidationError{Reason: "empty candidate filter"}
	}

	sb.Where(
		sb.Equal("municipality", municipality),
		"active",
		sb.Or(or...),
	)
	sb.OrderBy("id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	return query, args, nil
}

// haversineSQL is the great-circle distance in km from p to the row's coordinates
func haversineSQL(sb *sqlbuilder.SelectBuilder, p match.Point) string {
	return fmt.Sprintf(
		"%v * 2 * asin(least(1, sqrt(power(sin(radians(latitude - %s) / 2), 2) + cos(radians(%s)) * cos(radians(latitude)) * power(sin(radians(longitude - %s) / 2), 2))))",
		6371.0, sb.Var(p.Lat), sb.Var(p.Lat), sb.Var(p.Lon))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
