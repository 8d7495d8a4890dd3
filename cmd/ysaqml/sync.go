package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load YAML documents into the SQLite database",
	Long: `Load every table's YAML document into the SQLite database.

Each table is cleared and re-inserted from its document inside one
transaction. A table with no document is cleared to empty.`,
	Run: func(cmd *cobra.Command, args []string) {
		sc, st, syn, err := openAll(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()
		if err := st.CreateTables(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating tables: %v\n", err)
			os.Exit(1)
		}
		if err := syn.Load(ctx, st); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading documents: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Loaded %d tables from %s into %s\n",
			len(sc.Tables), viper.GetString("data-dir"), viper.GetString("db"))
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save SQLite tables out to YAML documents",
	Long: `Write every table's rows to its YAML document.

Tables are read in one transaction and the documents are replaced
wholesale. Empty tables still produce a document with the version tag
and an empty row list.`,
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := os.Stat(viper.GetString("db")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: database %s not found (run load first?)\n", viper.GetString("db"))
			os.Exit(1)
		}

		sc, st, syn, err := openAll(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		if err := syn.Save(context.Background(), st); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving documents: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Saved %d tables from %s to %s\n",
			len(sc.Tables), viper.GetString("db"), viper.GetString("data-dir"))
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(saveCmd)
}
