// Command ysaqml mirrors an embedded SQLite database to one YAML document
// per table.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rbroderi/ysaqml/internal/codec"
	"github.com/rbroderi/ysaqml/internal/docstore"
	"github.com/rbroderi/ysaqml/internal/schema"
	"github.com/rbroderi/ysaqml/internal/store"
	"github.com/rbroderi/ysaqml/internal/syncer"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ysaqml",
	Short: "Mirror SQLite tables to per-table YAML documents",
	Long: `ysaqml keeps a relational dataset mirrored between a SQLite database
and a set of per-table YAML documents, so each table's rows stay
human-readable and diff-friendly on disk.

Table definitions come from a TOML schema file with [[tables]] and
[[tables.columns]] sections.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .ysaqml.yaml in the working directory)")
	rootCmd.PersistentFlags().String("schema", "schema.toml", "TOML schema definition file")
	rootCmd.PersistentFlags().String("data-dir", "data", "directory holding the per-table YAML documents")
	rootCmd.PersistentFlags().String("db", "ysaqml.db", "SQLite database path")
	rootCmd.PersistentFlags().Int("workers", 0, "per-table worker count (0 = min(32, 4×CPU))")
	rootCmd.PersistentFlags().String("format-version", docstore.DefaultFormatVersion, "document format version tag")
	rootCmd.PersistentFlags().String("blob-encoding", "base85", "binary payload encoding: base85 or base64")
	cobra.CheckErr(viper.BindPFlags(rootCmd.PersistentFlags()))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".ysaqml")
	}
	viper.SetEnvPrefix("YSAQML")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; flags and env cover everything.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// syncOptions translates CLI configuration into synchronizer options.
func syncOptions(logger *log.Logger) (syncer.Options, error) {
	opts := syncer.Options{
		FormatVersion: viper.GetString("format-version"),
		Workers:       viper.GetInt("workers"),
		Logger:        logger,
	}
	switch enc := viper.GetString("blob-encoding"); enc {
	case "base85", "":
		opts.BlobEncoding = codec.BlobBase85Token
	case "base64":
		opts.BlobEncoding = codec.BlobBase64Token
	default:
		return syncer.Options{}, fmt.Errorf("blob-encoding must be base85 or base64, got %q", enc)
	}
	return opts, nil
}

// openAll loads the schema and builds the store and synchronizer from the
// resolved configuration.
func openAll(logger *log.Logger) (*schema.Schema, *store.Store, syncer.Synchronizer, error) {
	sc, err := schema.LoadFile(viper.GetString("schema"))
	if err != nil {
		return nil, nil, nil, err
	}

	opts, err := syncOptions(logger)
	if err != nil {
		return nil, nil, nil, err
	}
	syn, err := syncer.New(sc, viper.GetString("data-dir"), opts)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := store.Open(viper.GetString("db"), sc)
	if err != nil {
		return nil, nil, nil, err
	}
	return sc, st, syn, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
