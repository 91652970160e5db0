package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/audit"
	"github.com/cadastre-match/internal/db"
	"github.com/cadastre-match/internal/importer"
	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/normalize"
	"github.com/cadastre-match/internal/patterns"
	"github.com/cadastre-match/internal/store/memory"
	"github.com/cadastre-match/internal/validation"
	"github.com/cadastre-match/internal/web"
	"github.com/cadastre-match/internal/web/handlers"
)

// storeSet is what a serving process reads from and writes to
type storeSet interface {
	match.ReferenceReader
	match.ProposalStore
	handlers.RecordReader
	patterns.Reader
}

func createServeCmd(a *app) *cobra.Command {
	var (
		migrate    bool
		references string
		records    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the matching API",
		Long: `Start the HTTP API. By default the reference dataset and proposals live in PostgreSQL.
With --references the process runs on an in-memory store seeded from CSV files instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				stores storeSet
				health func(ctx context.Context) error
				sinks  []audit.Sink
			)

			if references != "" {
				mem, err := a.seedMemory(ctx, references, records)
				if err != nil {
					return err
				}
				stores = mem
				a.logger.Warn("Serving from an in-memory store; proposals are lost on exit")
			} else {
				conn, err := a.connect(ctx)
				if err != nil {
					return err
				}
				if migrate {
					if err := conn.Migrate(db.MigrationConfig{}, a.logger); err != nil {
						return err
					}
				}
				store, err := a.postgresStore(ctx)
				if err != nil {
					return err
				}
				stores = store
				health = conn.Ping
				sinks = append(sinks, audit.NewDBSink(conn.DB))
			}

			sinks = append(sinks, audit.NewLogSink(a.logger))
			if len(a.cfg.Kafka.Brokers) > 0 {
				sinks = append(sinks, audit.NewKafkaSink(audit.KafkaConfig{
					Brokers:      a.cfg.Kafka.Brokers,
					Topic:        a.cfg.Kafka.AuditTopic,
					BatchTimeout: 50 * time.Millisecond,
				}, a.logger))
			}
			tracker := audit.NewTracker(a.logger, sinks...)
			defer tracker.Close()

			engine, err := a.engine(stores, stores)
			if err != nil {
				return err
			}

			deps := handlers.Deps{
				Engine:    engine,
				Records:   stores,
				Patterns:  patterns.NewService(stores, a.cfg.Patterns.CacheTTL, a.logger),
				Audit:     tracker,
				Sanitizer: validation.NewSanitizer(),
				Parser:    normalize.NewParser(),
				Logger:    a.logger,
			}

			server := web.NewServer(web.ConfigFrom(a.cfg), deps, health)
			a.logger.Info("Matching API configured",
				zap.String("addr", a.cfg.HTTP.Addr()),
				zap.Bool("auto_apply", a.cfg.Matching.AutoApplyEnabled),
				zap.Bool("auth", a.cfg.HTTP.APIKey != ""),
				zap.Int("audit_sinks", len(sinks)))
			return server.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply database migrations before serving")
	cmd.Flags().StringVar(&references, "references", "", "Serve from memory, seeded with this reference CSV")
	cmd.Flags().StringVar(&records, "records", "", "Collection record CSV to seed the in-memory store with")
	return cmd
}

// seedMemory loads CSV files into a fresh in-memory store
func (a *app) seedMemory(ctx context.Context, references, records string) (*memory.Store, error) {
	mem := memory.New()
	im := importer.New(mem, a.logger)

	if _, err := im.ImportFile(ctx, importer.KindReferences, references, ""); err != nil {
		return nil, err
	}
	if records != "" {
		if _, err := im.ImportFile(ctx, importer.KindRecords, records, ""); err != nil {
			return nil, err
		}
	}
	return mem, nil
}
