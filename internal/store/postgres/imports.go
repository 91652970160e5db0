package postgres

import (
	"context"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/match"
)

func propertyValues(f match.PropertyFields) []any {
	return []any{
		f.RegistrationCode, f.StreetNumber, f.Complement, f.StreetName, f.Neighborhood,
		f.UseCode, f.LotArea, f.BuiltArea, f.FloorCount, f.OwnerName, f.OwnerDocument,
		f.Latitude, f.Longitude,
	}
}

func excludedSet(cols []string) string {
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = c + " = EXCLUDED." + c
	}
	return strings.Join(set, ", ")
}

// upsertReferencesQuery replaces reference rows by id. A batch must not
// repeat an id; Postgres refuses to update the same row twice.
func upsertReferencesQuery(refs []match.ReferenceRecord) (string, []any) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(referenceTable)
	ib.Cols(referenceColumns...)
	for _, r := range refs {
		ib.Values(append([]any{r.ID, r.Municipality, r.Active}, propertyValues(r.PropertyFields)...)...)
	}

	query, args := ib.Build()
	query += " ON CONFLICT (id) DO UPDATE SET " + excludedSet(referenceColumns[1:])
	return query, args
}

// upsertCollectionQuery stores collected records. A record that already
// carries an applied match keeps its fields.
func upsertCollectionQuery(recs []match.CollectionRecord) (string, []any) {
	cols := append([]string{"id", "municipality"}, propertyColumns...)

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(collectionTable)
	ib.Cols(cols...)
	for _, r := range recs {
		ib.Values(append([]any{r.ID, r.Municipality}, propertyValues(r.Fields)...)...)
	}

	query, args := ib.Build()
	query += " ON CONFLICT (id) DO UPDATE SET " + excludedSet(cols[1:]) + ", updated_at = NOW()" +
		" WHERE " + collectionTable + ".matched_reference_id IS NULL"
	return query, args
}

// UpsertReferences loads a batch of reference records in one transaction
func (s *Store) UpsertReferences(ctx context.Context, refs []match.ReferenceRecord) error {
	ctx, end := startSpan(ctx, "postgres.Store.UpsertReferences")
	defer end()

	refs = lastByID(refs, func(r match.ReferenceRecord) string { return r.ID })
	if len(refs) == 0 {
		return nil
	}
	query, args := upsertReferencesQuery(refs)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.logger.Error("Failed to upsert references", zap.Int("count", len(refs)), zap.Error(err))
		return errors.Wrap(err, "upsert references")
	}
	return nil
}

// UpsertCollectionRecords loads a batch of collected records
func (s *Store) UpsertCollectionRecords(ctx context.Context, recs []match.CollectionRecord) error {
	ctx, end := startSpan(ctx, "postgres.Store.UpsertCollectionRecords")
	defer end()

	recs = lastByID(recs, func(r match.CollectionRecord) string { return r.ID })
	if len(recs) == 0 {
		return nil
	}
	query, args := upsertCollectionQuery(recs)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.logger.Error("Failed to upsert collection records", zap.Int("count", len(recs)), zap.Error(err))
		return errors.Wrap(err, "upsert collection records")
	}
	return nil
}

// lastByID keeps the last row per id, preserving first-seen order
func lastByID[T any](rows []T, id func(T) string) []T {
	pos := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if i, ok := pos[id(r)]; ok {
			out[i] = r
			continue
		}
		pos[id(r)] = len(out)
		out = append(out, r)
	}
	return out
}
