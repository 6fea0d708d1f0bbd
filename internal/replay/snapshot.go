package replay

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ammcore/internal/engine"
	"ammcore/internal/model"
)

// buildSnapshot captures the engine's pool and oracle state, sorted by pair
// id so snapshots diff cleanly between runs.
func buildSnapshot(eng *engine.Engine, lastSeq uint64) model.StateSnapshot {
	snap := model.StateSnapshot{
		LastSeq: lastSeq,
		Pools:   make([]model.PoolRecord, 0),
		Oracles: make([]model.OracleRecord, 0),
		TakenAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	eng.Pools(func(id common.Hash, pool *engine.Pool) {
		snap.Pools = append(snap.Pools, model.PoolRecord{
			PairID:      id.Hex(),
			Token0:      pool.Token0.Hex(),
			Token1:      pool.Token1.Hex(),
			Reserve0:    pool.Reserve0.Dec(),
			Reserve1:    pool.Reserve1.Dec(),
			TotalSupply: pool.Claims.TotalSupply().Dec(),
			UpdatedSeq:  lastSeq,
		})
		if cum0, cum1, ts, ok := eng.Oracle().State(id); ok {
			snap.Oracles = append(snap.Oracles, model.OracleRecord{
				PairID:           id.Hex(),
				Price0Cumulative: cum0.Dec(),
				Price1Cumulative: cum1.Dec(),
				Timestamp:        ts,
			})
		}
	})

	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].PairID < snap.Pools[j].PairID })
	sort.Slice(snap.Oracles, func(i, j int) bool { return snap.Oracles[i].PairID < snap.Oracles[j].PairID })
	return snap
}
