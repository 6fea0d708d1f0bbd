package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"ammcore/internal/assets"
	"ammcore/internal/engine"
	"ammcore/internal/model"
	"ammcore/internal/storage"
)

const (
	journalAssetA = "0xaaaa000000000000000000000000000000000000"
	journalAssetB = "0xbbbb000000000000000000000000000000000000"
	journalAlice  = "0x1111111111111111111111111111111111111111"
)

func writeJournal(t *testing.T, path string, ops []model.OpRecord) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	for _, op := range ops {
		line, err := json.Marshal(op)
		require.NoError(t, err)
		_, err = file.Write(append(line, '\n'))
		require.NoError(t, err)
	}
}

func journalOps() []model.OpRecord {
	return []model.OpRecord{
		{Seq: 1, Kind: model.OpRegisterAsset, AssetA: journalAssetA},
		{Seq: 2, Kind: model.OpRegisterAsset, AssetA: journalAssetB},
		{Seq: 3, Kind: model.OpSetBalance, AssetA: journalAssetA, Caller: journalAlice, AmountA: "1000000"},
		{Seq: 4, Kind: model.OpSetBalance, AssetA: journalAssetB, Caller: journalAlice, AmountA: "1000000"},
		{Seq: 5, Kind: model.OpApprove, AssetA: journalAssetA, Caller: journalAlice, Spender: "engine", AmountA: "1000000"},
		{Seq: 6, Kind: model.OpApprove, AssetA: journalAssetB, Caller: journalAlice, Spender: "engine", AmountA: "1000000"},
		{Seq: 7, Kind: model.OpCreatePool, AssetA: journalAssetA, AssetB: journalAssetB},
		{Seq: 8, Kind: model.OpAddLiquidity, AssetA: journalAssetA, AssetB: journalAssetB,
			Caller: journalAlice, AmountA: "100000", AmountB: "100000"},
		{Seq: 9, Kind: model.OpSwap, AssetA: journalAssetA, AssetB: journalAssetB,
			Caller: journalAlice, AmountA: "1000", MinB: "980", Timestamp: 10},
		// Unsatisfiable floor: rejected without touching state.
		{Seq: 10, Kind: model.OpSwap, AssetA: journalAssetA, AssetB: journalAssetB,
			Caller: journalAlice, AmountA: "1000", MinB: "10000", Timestamp: 15},
		{Seq: 11, Kind: model.OpSwap, AssetA: journalAssetA, AssetB: journalAssetB,
			Caller: journalAlice, AmountA: "1000", MinB: "900", Timestamp: 20},
	}
}

func newRunner(t *testing.T, dir string) (*Runner, RunConfig) {
	t.Helper()
	cfg := RunConfig{
		JournalPath:       filepath.Join(dir, "journal.jsonl"),
		SnapshotPath:      filepath.Join(dir, "state.json"),
		BatchSize:         3,
		CheckpointPath:    filepath.Join(dir, "checkpoint.json"),
		CheckpointEnabled: true,
		MaxRetries:        1,
	}
	ledger := assets.NewMemoryLedger()
	eng := engine.New(common.Address{0xEE}, ledger, nil, engine.DefaultParams(), nil)
	sink := storage.NewJsonlStorage(filepath.Join(dir, "results.jsonl"))
	return NewRunner(cfg, ledger, eng, sink, nil), cfg
}

func readResults(t *testing.T, path string) []model.OpResult {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	results := make([]model.OpResult, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var res model.OpResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &res))
		results = append(results, res)
	}
	require.NoError(t, scanner.Err())
	return results
}

func TestRunnerReplaysJournal(t *testing.T) {
	dir := t.TempDir()
	runner, cfg := newRunner(t, dir)
	writeJournal(t, cfg.JournalPath, journalOps())

	snap, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(11), snap.LastSeq)

	results := readResults(t, filepath.Join(dir, "results.jsonl"))
	require.Len(t, results, 11)

	byseq := make(map[uint64]model.OpResult, len(results))
	for _, res := range results {
		byseq[res.Seq] = res
	}

	require.True(t, byseq[9].Accepted)
	require.Equal(t, "987", byseq[9].AmountB)
	require.False(t, byseq[10].Accepted)
	require.Contains(t, byseq[10].Error, "slippage")
	require.True(t, byseq[11].Accepted)

	// Two accepted swaps of 1000 against a 100k/100k pool.
	require.Len(t, snap.Pools, 1)
	require.Equal(t, "102000", snap.Pools[0].Reserve0)
	require.Equal(t, "98046", snap.Pools[0].Reserve1)
	require.Equal(t, "100000", snap.Pools[0].TotalSupply)
	require.Len(t, snap.Oracles, 1)

	// Snapshot file matches the returned snapshot.
	onDisk, err := storage.ReadSnapshot(cfg.SnapshotPath)
	require.NoError(t, err)
	require.Equal(t, snap.Pools, onDisk.Pools)
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	runner, cfg := newRunner(t, dir)
	writeJournal(t, cfg.JournalPath, journalOps())

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	first := readResults(t, filepath.Join(dir, "results.jsonl"))

	// A fresh runner over the same journal applies nothing new.
	rerun, _ := newRunner(t, dir)
	snap, err := rerun.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(11), snap.LastSeq)

	second := readResults(t, filepath.Join(dir, "results.jsonl"))
	require.Len(t, second, len(first))
}

func TestRunnerSkipsDuplicateSeqs(t *testing.T) {
	dir := t.TempDir()
	runner, cfg := newRunner(t, dir)
	ops := journalOps()
	ops = append(ops, model.OpRecord{Seq: 11, Kind: model.OpSwap,
		AssetA: journalAssetA, AssetB: journalAssetB,
		Caller: journalAlice, AmountA: "1000", Timestamp: 30})
	writeJournal(t, cfg.JournalPath, ops)

	snap, err := runner.Run(context.Background())
	require.NoError(t, err)

	// The duplicate seq 11 is dropped, leaving the two-swap reserves.
	require.Equal(t, "102000", snap.Pools[0].Reserve0)
}

func TestRunnerRejectsMalformedJournal(t *testing.T) {
	dir := t.TempDir()
	runner, cfg := newRunner(t, dir)
	require.NoError(t, os.WriteFile(cfg.JournalPath, []byte("{not json}\n"), 0o644))

	_, err := runner.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "journal line 1")
}
