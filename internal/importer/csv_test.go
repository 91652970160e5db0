package importer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/store/memory"
)

type recordingWriter struct {
	refBatches [][]match.ReferenceRecord
	recBatches [][]match.CollectionRecord
	err        error
}

func (w *recordingWriter) UpsertReferences(_ context.Context, refs []match.ReferenceRecord) error {
	if w.err != nil {
		return w.err
	}
	w.refBatches = append(w.refBatches, refs)
	return nil
}

func (w *recordingWriter) UpsertCollectionRecords(_ context.Context, recs []match.CollectionRecord) error {
	if w.err != nil {
		return w.err
	}
	w.recBatches = append(w.recBatches, recs)
	return nil
}

func TestImportReferences(t *testing.T) {
	csvData := "\ufeffID,Municipality,Registration_Code,Owner_Name,Owner_Document,Lot_Area,Built_Area,Floor_Count,Active,Address\n" +
		"ref-1,,12345678,Ana Souza,123.456.789-00,\"1.234,5\",120,2,true,\"Rua das Flores, 120 - Centro\"\n" +
		"ref-2,other,87654321,Bruno Lima,n/a,300.25,,,false,\n" +
		",m,1,Nobody,,,,,,\n" +
		"ref-4,m,2,Bad Area,,abc,,,,\n" +
		"ref-5,m,3,Bad Flag,,,,,maybe,\n"

	store := memory.New()
	im := New(store, zaptest.NewLogger(t))

	stats, err := im.Import(context.Background(), KindReferences, strings.NewReader(csvData), "3550308")
	require.NoError(t, err)
	assert.Equal(t, Stats{Read: 5, Imported: 2, Skipped: 3}, stats)

	ref, err := store.GetReference(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "3550308", ref.Municipality, "default municipality")
	assert.True(t, ref.Active)
	require.NotNil(t, ref.LotArea)
	assert.InDelta(t, 1234.5, *ref.LotArea, 1e-9)
	require.NotNil(t, ref.FloorCount)
	assert.Equal(t, 2, *ref.FloorCount)
	assert.Equal(t, "RUA DAS FLORES", ref.StreetName)
	assert.Equal(t, "120", ref.StreetNumber)
	assert.Equal(t, "CENTRO", ref.Neighborhood)

	ref, err = store.GetReference(context.Background(), "ref-2")
	require.NoError(t, err)
	assert.Equal(t, "other", ref.Municipality)
	assert.False(t, ref.Active)
	assert.Empty(t, ref.OwnerDocument, "documents without digits are dropped")
	assert.Nil(t, ref.BuiltArea)
}

func TestImportReferencesNeedMunicipality(t *testing.T) {
	w := &recordingWriter{}
	im := New(w, zaptest.NewLogger(t))

	stats, err := im.Import(context.Background(), KindReferences, strings.NewReader("id,owner_name\nref-1,Ana\n"), "")
	require.NoError(t, err)
	assert.Equal(t, Stats{Read: 1, Skipped: 1}, stats)
	assert.Empty(t, w.refBatches)
}

func TestImportRecordsBatches(t *testing.T) {
	w := &recordingWriter{}
	im := New(w, zaptest.NewLogger(t))
	im.batchSize = 2

	csvData := "id,street_name,street_number\nr1,Rua A,1\nr2,Rua B,2\nr3,Rua C,3\n"
	stats, err := im.Import(context.Background(), KindRecords, strings.NewReader(csvData), "m")
	require.NoError(t, err)
	assert.Equal(t, Stats{Read: 3, Imported: 3}, stats)

	require.Len(t, w.recBatches, 2)
	assert.Len(t, w.recBatches[0], 2)
	assert.Len(t, w.recBatches[1], 1)
	assert.Equal(t, "r3", w.recBatches[1][0].ID)
	assert.Equal(t, "m", w.recBatches[1][0].Municipality)
	assert.Empty(t, w.refBatches)
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		data   string
		writer *recordingWriter
	}{
		{name: "unknown kind", kind: Kind("parcels"), data: "id\nx\n", writer: &recordingWriter{}},
		{name: "no id column", kind: KindRecords, data: "name\nx\n", writer: &recordingWriter{}},
		{name: "empty input", kind: KindRecords, data: "", writer: &recordingWriter{}},
		{name: "write failure", kind: KindRecords, data: "id\nx\n", writer: &recordingWriter{err: errors.New("disk full")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := New(tt.writer, zaptest.NewLogger(t))
			stats, err := im.Import(context.Background(), tt.kind, strings.NewReader(tt.data), "m")
			assert.Error(t, err)
			assert.Zero(t, stats.Imported)
		})
	}
}

func TestImportFileMissing(t *testing.T) {
	im := New(&recordingWriter{}, zaptest.NewLogger(t))
	_, err := im.ImportFile(context.Background(), KindRecords, "/nonexistent/records.csv", "m")
	assert.Error(t, err)
}
