package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadastre-match/internal/match"
)

type countingReader struct {
	rows  StaticReader
	calls int
	err   error
}

func (r *countingReader) Patterns(ctx context.Context, municipality string) ([]Pattern, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.rows.Patterns(ctx, municipality)
}

func sampleRows() StaticReader {
	return StaticReader{
		"3550308": {
			{Field: "use_code", Value: "RES", Frequency: 60},
			{Field: "use_code", Value: "COM", Frequency: 30},
			{Field: "use_code", Value: "IND", Frequency: 10},
			{Field: "floor_count", Value: "1", Frequency: 5},
			{Field: "floor_count", Value: "2", Frequency: 5},
			{Field: "lot_area", Value: "250", Frequency: 80},
			{Field: "built_area", Value: "", Frequency: 3},
		},
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize("3550308", sampleRows()["3550308"])

	require.Len(t, summary.Suggestions, 3)
	byField := map[match.FieldName]Suggestion{}
	for _, s := range summary.Suggestions {
		byField[s.Field] = s
	}

	assert.Equal(t, "RES", byField[match.FieldUseCode].Value)
	assert.InDelta(t, 0.6, byField[match.FieldUseCode].Share, 1e-9)
	assert.Equal(t, "1", byField[match.FieldFloorCount].Value, "ties go to the smaller value")
	assert.InDelta(t, 0.5, byField[match.FieldFloorCount].Share, 1e-9)
	assert.Equal(t, 1.0, byField[match.FieldLotArea].Share)
	_, ok := byField[match.FieldBuiltArea]
	assert.False(t, ok, "empty values are ignored")
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize("x", nil)
	assert.NotNil(t, summary.Suggestions)
	assert.Empty(t, summary.Suggestions)
}

func TestServiceCachesSummaries(t *testing.T) {
	reader := &countingReader{rows: sampleRows()}
	svc := NewService(reader, time.Minute, nil)

	first, err := svc.Summary(context.Background(), "3550308")
	require.NoError(t, err)
	second, err := svc.Summary(context.Background(), "3550308")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, reader.calls)

	svc.Invalidate("3550308")
	_, err = svc.Summary(context.Background(), "3550308")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestServiceReaderError(t *testing.T) {
	reader := &countingReader{err: errors.New("connection refused")}
	svc := NewService(reader, time.Minute, nil)

	_, err := svc.Summary(context.Background(), "3550308")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load patterns for 3550308")

	reader.err = nil
	reader.rows = sampleRows()
	_, err = svc.Summary(context.Background(), "3550308")
	require.NoError(t, err, "failures are not cached")
}

func TestSuggestOnlyMissingFields(t *testing.T) {
	svc := NewService(sampleRows(), 0, nil)
	lot := 300.0

	got, err := svc.Suggest(context.Background(), "3550308", match.PropertyFields{UseCode: "COM", LotArea: &lot})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, match.FieldFloorCount, got[0].Field)
}
