package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cadastre-match/internal/db"
	"github.com/cadastre-match/internal/importer"
)

// createImportCmd creates the import subcommand
func createImportCmd(a *app) *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import CSV data into the database",
	}
	importCmd.AddCommand(createImportKindCmd(a, importer.KindReferences, "Import a municipal reference dataset CSV"))
	importCmd.AddCommand(createImportKindCmd(a, importer.KindRecords, "Import collected property records CSV"))
	return importCmd
}

func createImportKindCmd(a *app, kind importer.Kind, short string) *cobra.Command {
	var municipality string

	cmd := &cobra.Command{
		Use:   string(kind) + " [filename]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.postgresStore(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := importer.New(store, a.logger).ImportFile(cmd.Context(), kind, args[0], municipality)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Read %d rows, imported %d, skipped %d\n", stats.Read, stats.Imported, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "Municipality for rows without one")
	return cmd
}

// createPatternsCmd creates the patterns subcommand
func createPatternsCmd(a *app) *cobra.Command {
	patternsCmd := &cobra.Command{
		Use:   "patterns",
		Short: "Maintain municipality field patterns",
	}

	patternsCmd.AddCommand(&cobra.Command{
		Use:   "rebuild [municipality...]",
		Short: "Recompute the stored field patterns of municipalities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.postgresStore(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range args {
				n, err := store.RebuildPatterns(cmd.Context(), m)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d patterns\n", m, n)
			}
			return nil
		},
	})

	patternsCmd.AddCommand(&cobra.Command{
		Use:   "show [municipality]",
		Short: "Print the stored patterns of a municipality",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.postgresStore(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := store.Patterns(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, p := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-20s %d\n", p.Field, p.Value, p.Frequency)
			}
			return nil
		},
	})
	return patternsCmd
}

// createMigrateCmd creates the migrate subcommand
func createMigrateCmd(a *app) *cobra.Command {
	var (
		down    bool
		version uint
		force   int
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			return conn.Migrate(db.MigrationConfig{Version: version, Force: force, Down: down}, a.logger)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Roll back every migration")
	cmd.Flags().UintVar(&version, "version", 0, "Migrate to this version instead of the latest")
	cmd.Flags().IntVar(&force, "force", 0, "Clear a dirty state by forcing this version first")
	return cmd
}

// createPingCmd creates a command to test database connectivity
func createPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database connection successful!")

			for _, table := range []string{"reference_properties", "collection_records", "match_proposals"} {
				var count int
				if err := conn.DB.GetContext(cmd.Context(), &count, "SELECT COUNT(*) FROM "+table); err != nil {
					a.logger.Sugar().Warnf("Error counting %s: %v", table, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows\n", table, count)
			}
			return nil
		},
	}
}
