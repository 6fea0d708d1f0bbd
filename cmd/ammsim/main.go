package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "ammsim",
		Short:        "Constant-product pool engine journal replay",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an operation journal against a fresh engine",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("journal", "", "input operation journal JSONL")
	replayCmd.Flags().String("results", "./data/results.jsonl", "output results JSONL")
	replayCmd.Flags().String("snapshot", "./data/state.json", "output state snapshot path")
	replayCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	replayCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	replayCmd.Flags().Int("batch-size", 500, "operations per result batch")
	replayCmd.Flags().Int("max-retries", 5, "maximum retry attempts for storage writes")
	replayCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	replayCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for state persistence")
	replayCmd.Flags().String("state-name", "replay", "Postgres state row name")
	replayCmd.Flags().String("engine-address", "0x00000000000000000000000000000000000000ee", "engine holder address")
	replayCmd.Flags().StringSlice("asset", nil, "pre-registered assets, addr or addr:fee-bps (comma-separated)")
	replayCmd.Flags().Uint64("fee-bps", 30, "swap fee in basis points")
	replayCmd.Flags().Uint64("swap-ceiling-bps", 1000, "single-swap ceiling in basis points of reserve")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap against a state snapshot",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("snapshot", "./data/state.json", "state snapshot path")
	quoteCmd.Flags().String("asset-in", "", "input asset address")
	quoteCmd.Flags().String("asset-out", "", "output asset address")
	quoteCmd.Flags().String("amount", "", "amount (decimal)")
	quoteCmd.Flags().String("exact", "in", "which side the amount fixes: in or out")
	quoteCmd.Flags().Uint64("fee-bps", 30, "swap fee in basis points")
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(quoteCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
