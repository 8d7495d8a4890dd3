package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rbroderi/ysaqml/internal/migrate"
	"github.com/rbroderi/ysaqml/internal/schema"
)

var (
	migrateFrom   string
	migrateDryRun bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert a legacy JSONL row dump into YAML documents",
	Long: `Convert a JSONL dump (one {"table": ..., "row": {...}} object per
line) into per-table YAML documents in the data directory.

Invalid lines are reported and skipped; the migration continues.`,
	Run: func(cmd *cobra.Command, args []string) {
		sc, err := schema.LoadFile(viper.GetString("schema"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		result, err := migrate.Run(migrate.Options{
			FromJSONL:     migrateFrom,
			ToDir:         viper.GetString("data-dir"),
			FormatVersion: viper.GetString("format-version"),
			DryRun:        migrateDryRun,
		}, sc, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		for _, msg := range result.Errors {
			fmt.Fprintf(os.Stderr, "WARNING: skipped %s\n", msg)
		}
		if migrateDryRun {
			fmt.Printf("Dry run: %d rows would land in %d tables (%d lines skipped)\n",
				result.RowsRead, len(sc.Tables), len(result.Errors))
			return
		}
		fmt.Printf("✓ Migrated %d rows into %d tables (%d lines skipped)\n",
			result.RowsRead, result.TablesWritten, len(result.Errors))
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "input JSONL file (required)")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "report what would be migrated without writing files")
	cobra.CheckErr(migrateCmd.MarkFlagRequired("from"))
	rootCmd.AddCommand(migrateCmd)
}
