package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammcore/internal/assets"
	"ammcore/internal/config"
	"ammcore/internal/engine"
	"ammcore/internal/replay"
	"ammcore/internal/storage"
)

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.AssetIn == "" || cfg.AssetOut == "" {
		return fmt.Errorf("asset-in and asset-out are required")
	}
	if cfg.Amount == "" {
		return fmt.Errorf("amount is required")
	}

	assetIn, err := replay.ParseAddress(cfg.AssetIn)
	if err != nil {
		return err
	}
	assetOut, err := replay.ParseAddress(cfg.AssetOut)
	if err != nil {
		return err
	}
	amount, err := replay.ParseAmount(cfg.Amount)
	if err != nil {
		return err
	}

	snap, err := storage.ReadSnapshot(cfg.Snapshot)
	if err != nil {
		return err
	}

	params := engine.DefaultParams()
	params.FeeBps = cfg.FeeBps
	eng := engine.New(common.Address{0xEE}, assets.NewMemoryLedger(), nil, params, logger)

	// Rehydrate only the quoted pool from the snapshot.
	pairID := engine.PairID(assetIn, assetOut)
	var loaded bool
	for _, record := range snap.Pools {
		if !strings.EqualFold(record.PairID, pairID.Hex()) {
			continue
		}
		if _, err := eng.CreatePool(assetIn, assetOut); err != nil {
			return err
		}
		pool, err := eng.PoolByPair(assetIn, assetOut)
		if err != nil {
			return err
		}
		pool.Reserve0, err = uint256.FromDecimal(record.Reserve0)
		if err != nil {
			return fmt.Errorf("snapshot reserve0: %w", err)
		}
		pool.Reserve1, err = uint256.FromDecimal(record.Reserve1)
		if err != nil {
			return fmt.Errorf("snapshot reserve1: %w", err)
		}
		loaded = true
		break
	}
	if !loaded {
		return fmt.Errorf("pair %s not found in snapshot %s", pairID.Hex(), cfg.Snapshot)
	}

	switch cfg.Exact {
	case "in":
		out, err := eng.GetAmountOut(assetIn, assetOut, amount)
		if err != nil {
			return err
		}
		logger.Info("quote",
			zap.String("exact", "in"),
			zap.String("amount_in", amount.Dec()),
			zap.String("amount_out", out.Dec()),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out.Dec())
	case "out":
		in, err := eng.GetAmountIn(assetIn, assetOut, amount)
		if err != nil {
			return err
		}
		logger.Info("quote",
			zap.String("exact", "out"),
			zap.String("amount_out", amount.Dec()),
			zap.String("amount_in", in.Dec()),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", in.Dec())
	default:
		return fmt.Errorf("exact must be in or out, got %q", cfg.Exact)
	}

	return nil
}
