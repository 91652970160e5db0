package postgres

import (
	"context"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/patterns"
)

const patternTable = "property_patterns"

// rebuildPatternsSQL recomputes the distributions of one municipality from
// its active reference records. Areas are stored as a single median row.
const rebuildPatternsSQL = `
INSERT INTO property_patterns (municipality, field, value, frequency, updated_at)
SELECT $1, 'use_code', use_code, count(*), NOW()
  FROM reference_properties
 WHERE municipality = $1 AND active AND use_code <> ''
 GROUP BY use_code
UNION ALL
SELECT $1, 'floor_count', floor_count::text, count(*), NOW()
  FROM reference_properties
 WHERE municipality = $1 AND active AND floor_count IS NOT NULL
 GROUP BY floor_count
UNION ALL
SELECT $1, 'lot_area', round(percentile_cont(0.5) WITHIN GROUP (ORDER BY lot_area)::numeric, 2)::text, count(*), NOW()
  FROM reference_properties
 WHERE municipality = $1 AND active AND lot_area IS NOT NULL
HAVING count(*) > 0
UNION ALL
SELECT $1, 'built_area', round(percentile_cont(0.5) WITHIN GROUP (ORDER BY built_area)::numeric, 2)::text, count(*), NOW()
  FROM reference_properties
 WHERE municipality = $1 AND active AND built_area IS NOT NULL
HAVING count(*) > 0`

// Patterns loads the stored distributions of a municipality
func (s *Store) Patterns(ctx context.Context, municipality string) ([]patterns.Pattern, error) {
	ctx, end := startSpan(ctx, "postgres.Store.Patterns")
	defer end()

	query, args := patternQuery(municipality)
	var rows []patterns.Pattern
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query patterns")
	}
	return rows, nil
}

// RebuildPatterns replaces the stored distributions of a municipality
func (s *Store) RebuildPatterns(ctx context.Context, municipality string) (int64, error) {
	ctx, end := startSpan(ctx, "postgres.Store.RebuildPatterns")
	defer end()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	del := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	del.DeleteFrom(patternTable).Where(del.Equal("municipality", municipality))
	query, args := del.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, errors.Wrap(err, "clear patterns")
	}

	res, err := tx.ExecContext(ctx, rebuildPatternsSQL, municipality)
	if err != nil {
		return 0, errors.Wrap(err, "insert patterns")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "count patterns")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit patterns")
	}
	s.logger.Info("Rebuilt property patterns", zap.String("municipality", municipality), zap.Int64("rows", n))
	return n, nil
}

func patternQuery(municipality string) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("municipality", "field", "value", "frequency", "updated_at").
		From(patternTable).
		Where(sb.Equal("municipality", municipality)).
		OrderBy("field", "frequency DESC", "value")
	return sb.Build()
}
