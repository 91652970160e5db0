//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/cadastre-match/internal/db"
	"github.com/cadastre-match/internal/match"
)

func startPostgres(t *testing.T) *db.Connection {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "user",
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "cadastre",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	conn, err := db.NewConnection(ctx, db.Config{
		Host: host, Port: port.Port(), User: "user", Password: "password", Name: "cadastre",
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.Migrate(db.MigrationConfig{}, zaptest.NewLogger(t)))
	return conn
}

func TestStoreAgainstPostgres(t *testing.T) {
	conn := startPostgres(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := New(conn.DB, logger)

	conn.DB.MustExec(`INSERT INTO reference_properties (id, municipality, registration_code, owner_name, owner_document, lot_area, latitude, longitude)
		VALUES ('ref-1', 'm', '12345678', 'Ana Souza', '123.456.789-00', 200, -23.55, -46.63),
		       ('ref-2', 'm', '99999999', 'Bruno Lima', '', NULL, -23.5505, -46.63),
		       ('ref-3', 'other', '12345678', 'Ana Souza', '', NULL, NULL, NULL)`)
	conn.DB.MustExec(`INSERT INTO collection_records (id, registration_code) VALUES ('rec-1', '12345678')`)

	engine := match.NewEngine(match.EngineConfig{Reader: store, Proposals: store, Logger: logger})

	t.Run("find matches", func(t *testing.T) {
		lat, lon := -23.55, -46.63
		results, err := engine.FindMatches(ctx, match.SourceRecord{PropertyFields: match.PropertyFields{
			RegistrationCode: "12345678", Latitude: &lat, Longitude: &lon,
		}}, "m")
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, "ref-1", results[0].ReferenceID)
		assert.Equal(t, 1.0, results[0].Score)
	})

	t.Run("document digits clause", func(t *testing.T) {
		refs, err := store.QueryCandidates(ctx, match.CandidateFilter{DocumentDigits: "12345678900"}, "m", 10)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "ref-1", refs[0].ID)
	})

	t.Run("reconcile and apply", func(t *testing.T) {
		out, err := engine.Reconcile(ctx, match.ReconcileRequest{
			SourceRecordID: "rec-1",
			Source:         match.SourceRecord{PropertyFields: match.PropertyFields{RegistrationCode: "12345678"}},
			Municipality:   "m",
			AutoApply:      true,
		})
		require.NoError(t, err)
		require.NotNil(t, out.Applied)

		rec, err := getCollectionRecord(ctx, conn.DB, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, "Ana Souza", rec.Fields.OwnerName)
		assert.Equal(t, "ref-1", rec.MatchedReferenceID)

		confirmed, _, err := engine.Recorder().Apply(ctx, out.Applied.ID, "reviewer")
		require.NoError(t, err)
		assert.Equal(t, match.StatusConfirmed, confirmed.Status)

		_, _, err = engine.Recorder().Apply(ctx, out.Applied.ID, "reviewer")
		var finalized *match.AlreadyFinalizedError
		assert.True(t, errors.As(err, &finalized), fmt.Sprint(err))

		again, err := engine.Recorder().Propose(ctx, match.Proposal{SourceRecordID: "rec-1", ReferenceID: "ref-1", Score: 0.5})
		require.NoError(t, err)
		assert.Equal(t, match.StatusConfirmed, again.Status)
		assert.Equal(t, out.Applied.ID, again.ID)
	})

	t.Run("rebuild patterns", func(t *testing.T) {
		n, err := store.RebuildPatterns(ctx, "m")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "only lot_area has values")

		rows, err := store.Patterns(ctx, "m")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "lot_area", rows[0].Field)
		assert.Equal(t, "200.00", rows[0].Value)
		assert.Equal(t, 1, rows[0].Frequency)
	})

	t.Run("missing proposal", func(t *testing.T) {
		_, err := store.GetProposal(ctx, "nope")
		assert.ErrorIs(t, err, match.ErrNotFound)
	})

	t.Run("import upserts", func(t *testing.T) {
		require.NoError(t, store.UpsertReferences(ctx, []match.ReferenceRecord{
			{ID: "ref-4", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{OwnerName: "Carla Dias"}},
			{ID: "ref-4", Municipality: "m", Active: true, PropertyFields: match.PropertyFields{OwnerName: "Carla Dias Costa"}},
		}))
		ref, err := store.GetReference(ctx, "ref-4")
		require.NoError(t, err)
		assert.Equal(t, "Carla Dias Costa", ref.OwnerName)

		require.NoError(t, store.UpsertCollectionRecords(ctx, []match.CollectionRecord{
			{ID: "rec-1", Municipality: "m", Fields: match.PropertyFields{OwnerName: "Overwritten"}},
			{ID: "rec-2", Municipality: "m", Fields: match.PropertyFields{OwnerName: "Fresh"}},
		}))
		rec, err := store.GetCollectionRecord(ctx, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, "Ana Souza", rec.Fields.OwnerName, "matched records keep their fields")

		rec, err = store.GetCollectionRecord(ctx, "rec-2")
		require.NoError(t, err)
		assert.Equal(t, "Fresh", rec.Fields.OwnerName)
		assert.Equal(t, "m", rec.Municipality)
	})
}
