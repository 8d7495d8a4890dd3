package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rbroderi/ysaqml/internal/watch"
)

var (
	watchLogFile    string
	watchLogMaxSize int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the data directory and reload on document changes",
	Long: `Run a daemon that watches the data directory and reloads the SQLite
database whenever a table document is created, modified, or removed.

An initial load runs before watching starts. The daemon runs until
interrupted (SIGINT/SIGTERM).`,
	Run: func(cmd *cobra.Command, args []string) {
		var sink io.Writer = os.Stderr
		if watchLogFile != "" {
			sink = &lumberjack.Logger{
				Filename:   watchLogFile,
				MaxSize:    watchLogMaxSize, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(sink, "[watch] ", log.LstdFlags)

		_, st, syn, err := openAll(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := st.CreateTables(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating tables: %v\n", err)
			os.Exit(1)
		}
		if err := syn.Load(ctx, st); err != nil {
			fmt.Fprintf(os.Stderr, "Error on initial load: %v\n", err)
			os.Exit(1)
		}

		watcher, err := watch.New(viper.GetString("data-dir"), syn, st, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := watcher.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger.Printf("shutting down")
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "rotate daemon logs into this file instead of stderr")
	watchCmd.Flags().IntVar(&watchLogMaxSize, "log-max-size", 10, "max log file size in MB before rotation")
	rootCmd.AddCommand(watchCmd)
}
