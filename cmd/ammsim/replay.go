package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammcore/internal/assets"
	"ammcore/internal/config"
	"ammcore/internal/engine"
	"ammcore/internal/replay"
	"ammcore/internal/storage"
	"ammcore/internal/storage/postgres"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Journal == "" {
		return fmt.Errorf("journal path is required")
	}

	engineAddr, err := replay.ParseAddress(cfg.EngineAddress)
	if err != nil {
		return fmt.Errorf("engine address: %w", err)
	}

	ledger := assets.NewMemoryLedger()
	for _, spec := range cfg.Assets {
		asset, feeBps, err := parseAssetSpec(spec)
		if err != nil {
			return err
		}
		ledger.RegisterAsset(asset, feeBps)
	}

	params := engine.DefaultParams()
	params.FeeBps = cfg.FeeBps
	params.SwapCeilingBps = cfg.SwapCeilingBps

	eng := engine.New(engineAddr, ledger, nil, params, logger)
	storageSink := storage.NewJsonlStorage(cfg.Results)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := replay.NewRunner(replay.RunConfig{
		JournalPath:       cfg.Journal,
		SnapshotPath:      cfg.Snapshot,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, ledger, eng, storageSink, logger)

	logger.Info("replay start",
		zap.String("journal", cfg.Journal),
		zap.String("results", cfg.Results),
		zap.String("snapshot", cfg.Snapshot),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.Uint64("fee_bps", cfg.FeeBps),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	snapshot, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()

		if err := store.UpsertPools(ctx, snapshot.Pools); err != nil {
			return fmt.Errorf("persist pools: %w", err)
		}
		if err := store.UpsertOracleStates(ctx, snapshot.Oracles); err != nil {
			return fmt.Errorf("persist oracle states: %w", err)
		}
		if err := store.SaveState(ctx, cfg.StateName, snapshot.LastSeq); err != nil {
			return fmt.Errorf("persist replay state: %w", err)
		}
		logger.Info("state persisted",
			zap.Int("pools", len(snapshot.Pools)),
			zap.Uint64("last_seq", snapshot.LastSeq),
		)
	}

	return nil
}

// parseAssetSpec parses "addr" or "addr:fee-bps".
func parseAssetSpec(spec string) (common.Address, uint64, error) {
	part, feePart, found := strings.Cut(spec, ":")
	asset, err := replay.ParseAddress(part)
	if err != nil {
		return common.Address{}, 0, err
	}
	var feeBps uint64
	if found {
		feeBps, err = strconv.ParseUint(strings.TrimSpace(feePart), 10, 64)
		if err != nil {
			return common.Address{}, 0, fmt.Errorf("invalid asset fee in %q: %w", spec, err)
		}
	}
	return asset, feeBps, nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
