// Package patterns exposes per-municipality field distributions from the
// reference dataset as suggestions for collectors. Nothing here feeds scoring.
package patterns

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/match"
)

// Pattern is one (field, value) frequency row
type Pattern struct {
	Municipality string    `json:"municipality" db:"municipality"`
	Field        string    `json:"field" db:"field"`
	Value        string    `json:"value" db:"value"`
	Frequency    int       `json:"frequency" db:"frequency"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Suggestion is the most common value of a field in a municipality
type Suggestion struct {
	Field     match.FieldName `json:"field"`
	Value     string          `json:"value"`
	Frequency int             `json:"frequency"`
	Share     float64         `json:"share"`
}

// Summary holds the suggestions of one municipality
type Summary struct {
	Municipality string       `json:"municipality"`
	Suggestions  []Suggestion `json:"suggestions"`
}

// Reader loads pattern rows
type Reader interface {
	Patterns(ctx context.Context, municipality string) ([]Pattern, error)
}

// StaticReader serves fixed rows keyed by municipality
type StaticReader map[string][]Pattern

func (r StaticReader) Patterns(_ context.Context, municipality string) ([]Pattern, error) {
	return r[municipality], nil
}

// Service summarizes patterns and caches the summaries
type Service struct {
	reader Reader
	cache  *Cache
	logger *zap.Logger
}

// NewService creates a pattern service with the given cache TTL
func NewService(reader Reader, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		reader: reader,
		cache:  NewCache(ttl, 2*ttl),
		logger: logger,
	}
}

// Summary returns the suggestions for a municipality
func (s *Service) Summary(ctx context.Context, municipality string) (Summary, error) {
	if cached, ok := s.cache.Get(municipality); ok {
		return cached, nil
	}

	rows, err := s.reader.Patterns(ctx, municipality)
	if err != nil {
		return Summary{}, errors.Wrapf(err, "load patterns for %s", municipality)
	}

	summary := Summarize(municipality, rows)
	s.cache.Set(municipality, summary)
	s.logger.Debug("pattern summary cached",
		zap.String("municipality", municipality),
		zap.Int("rows", len(rows)),
		zap.Int("suggestions", len(summary.Suggestions)))
	return summary, nil
}

// Suggest returns suggestions only for the fields the record does not know
func (s *Service) Suggest(ctx context.Context, municipality string, fields match.PropertyFields) ([]Suggestion, error) {
	summary, err := s.Summary(ctx, municipality)
	if err != nil {
		return nil, err
	}

	missing := map[match.FieldName]bool{
		match.FieldUseCode:    fields.UseCode == "",
		match.FieldFloorCount: fields.FloorCount == nil,
		match.FieldLotArea:    fields.LotArea == nil,
		match.FieldBuiltArea:  fields.BuiltArea == nil,
	}

	var out []Suggestion
	for _, sg := range summary.Suggestions {
		if missing[sg.Field] {
			out = append(out, sg)
		}
	}
	return out, nil
}

// Invalidate drops the cached summary of a municipality
func (s *Service) Invalidate(municipality string) {
	s.cache.Delete(municipality)
}

// Summarize picks the most frequent value per field. Ties go to the smaller value.
func Summarize(municipality string, rows []Pattern) Summary {
	best := map[string]Pattern{}
	totals := map[string]int{}
	for _, r := range rows {
		if r.Frequency <= 0 || r.Value == "" {
			continue
		}
		totals[r.Field] += r.Frequency
		cur, ok := best[r.Field]
		if !ok || r.Frequency > cur.Frequency || (r.Frequency == cur.Frequency && r.Value < cur.Value) {
			best[r.Field] = r
		}
	}

	summary := Summary{Municipality: municipality, Suggestions: []Suggestion{}}
	for field, r := range best {
		summary.Suggestions = append(summary.Suggestions, Suggestion{
			Field:     match.FieldName(field),
			Value:     r.Value,
			Frequency: r.Frequency,
			Share:     float64(r.Frequency) / float64(totals[field]),
		})
	}
	sort.Slice(summary.Suggestions, func(i, j int) bool {
		return summary.Suggestions[i].Field < summary.Suggestions[j].Field
	})
	return summary
}
