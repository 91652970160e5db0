package memory

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/patterns"
)

// Patterns computes the field distributions of a municipality from the
// active references on every call
func (s *Store) Patterns(ctx context.Context, municipality string) ([]patterns.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "query patterns")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[match.FieldName]map[string]int{
		match.FieldUseCode:    {},
		match.FieldFloorCount: {},
	}
	var lots, built []float64
	for _, ref := range s.references {
		if !ref.Active || ref.Municipality != municipality {
			continue
		}
		if ref.UseCode != "" {
			counts[match.FieldUseCode][ref.UseCode]++
		}
		if ref.FloorCount != nil {
			counts[match.FieldFloorCount][strconv.Itoa(*ref.FloorCount)]++
		}
		if ref.LotArea != nil {
			lots = append(lots, *ref.LotArea)
		}
		if ref.BuiltArea != nil {
			built = append(built, *ref.BuiltArea)
		}
	}

	now := time.Now().UTC()
	var out []patterns.Pattern
	for field, values := range counts {
		for value, n := range values {
			out = append(out, patterns.Pattern{Municipality: municipality, Field: string(field), Value: value, Frequency: n, UpdatedAt: now})
		}
	}
	for field, areas := range map[match.FieldName][]float64{match.FieldLotArea: lots, match.FieldBuiltArea: built} {
		if len(areas) == 0 {
			continue
		}
		out = append(out, patterns.Pattern{
			Municipality: municipality,
			Field:        string(field),
			Value:        strconv.FormatFloat(median(areas), 'f', 2, 64),
			Frequency:    len(areas),
			UpdatedAt:    now,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

func median(v []float64) float64 {
	sort.Float64s(v)
	mid := len(v) / 2
	if len(v)%2 == 1 {
		return v[mid]
	}
	return (v[mid-1] + v[mid]) / 2
}
