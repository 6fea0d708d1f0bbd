package model

// PoolRecord is a pool's reserve state for persistence. Reserves and supply
// are decimal strings.
type PoolRecord struct {
	PairID      string `json:"pair_id"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Reserve0    string `json:"reserve0"`
	Reserve1    string `json:"reserve1"`
	TotalSupply string `json:"total_supply"`
	UpdatedSeq  uint64 `json:"updated_seq"`
}

// OracleRecord is a pair's cumulative-price accumulator state.
type OracleRecord struct {
	PairID           string `json:"pair_id"`
	Price0Cumulative string `json:"price0_cumulative"`
	Price1Cumulative string `json:"price1_cumulative"`
	Timestamp        uint32 `json:"timestamp"`
}

// StateSnapshot is the full engine state written after a replay run.
type StateSnapshot struct {
	LastSeq uint64         `json:"last_seq"`
	Pools   []PoolRecord   `json:"pools"`
	Oracles []OracleRecord `json:"oracles"`
	TakenAt string         `json:"taken_at"`
}
