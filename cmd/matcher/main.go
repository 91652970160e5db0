package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/config"
	"github.com/cadastre-match/internal/db"
	"github.com/cadastre-match/internal/logging"
	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/store/postgres"
)

// app holds what every subcommand shares. The database is opened lazily so
// commands that work on files alone never need one.
type app struct {
	configFile string
	cfg        *config.Config
	logger     *zap.Logger
	conn       *db.Connection
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "matcher",
		Short:         "Property record matching and confidence scoring",
		Long:          `Matches collected property records against a municipal reference dataset and manages match proposals`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Optional YAML config file")

	rootCmd.AddCommand(createServeCmd(a))
	rootCmd.AddCommand(createMatchCmd(a))
	rootCmd.AddCommand(createClassifyCmd(a))
	rootCmd.AddCommand(createImportCmd(a))
	rootCmd.AddCommand(createPatternsCmd(a))
	rootCmd.AddCommand(createMigrateCmd(a))
	rootCmd.AddCommand(createPingCmd(a))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) close() {
	if a.conn != nil {
		a.conn.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

// connect opens the database on first use
func (a *app) connect(ctx context.Context) (*db.Connection, error) {
	if a.conn != nil {
		return a.conn, nil
	}
	conn, err := db.NewConnection(ctx, a.cfg.DB)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Database connected", zap.String("host", a.cfg.DB.Host), zap.String("name", a.cfg.DB.Name))
	a.conn = conn
	return conn, nil
}

// engine builds the matching engine over the given stores. proposals may be
// nil for read-only commands.
func (a *app) engine(reader match.ReferenceReader, proposals match.ProposalStore) (*match.Engine, error) {
	weights := match.DefaultWeights()
	if a.cfg.Matching.WeightsFile != "" {
		w, err := match.LoadWeights(a.cfg.Matching.WeightsFile)
		if err != nil {
			return nil, err
		}
		weights = w
		a.logger.Info("Loaded weights", zap.String("file", a.cfg.Matching.WeightsFile), zap.String("version", w.Version))
	}

	retrieval := match.DefaultRetrieverConfig()
	retrieval.Limit = a.cfg.Matching.CandidateLimit
	retrieval.RadiusKm = a.cfg.Matching.SearchRadiusKm

	return match.NewEngine(match.EngineConfig{
		Reader:    reader,
		Proposals: proposals,
		Weights:   weights,
		Retrieval: &retrieval,
		Logger:    a.logger,
	}), nil
}

// postgresStore connects and wraps the connection in the store
func (a *app) postgresStore(ctx context.Context) (*postgres.Store, error) {
	conn, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	return postgres.New(conn.DB, a.logger), nil
}
