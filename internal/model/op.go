package model

// Operation kinds accepted by the replay journal.
const (
	OpRegisterAsset   = "register-asset"
	OpSetBalance      = "set-balance"
	OpApprove         = "approve"
	OpCreatePool      = "create-pool"
	OpAddLiquidity    = "add-liquidity"
	OpRemoveLiquidity = "remove-liquidity"
	OpSwap            = "swap"
)

// OpRecord is one journal line: a single operation against the pool engine.
// Amounts are decimal strings so journals stay readable and 256-bit safe.
type OpRecord struct {
	Seq       uint64 `json:"seq"`
	Kind      string `json:"kind"`
	Caller    string `json:"caller,omitempty"`
	AssetA    string `json:"asset_a,omitempty"`
	AssetB    string `json:"asset_b,omitempty"`
	AmountA   string `json:"amount_a,omitempty"`
	AmountB   string `json:"amount_b,omitempty"`
	MinA      string `json:"min_a,omitempty"`
	MinB      string `json:"min_b,omitempty"`
	Liquidity string `json:"liquidity,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Spender   string `json:"spender,omitempty"`
	FeeBps    uint64 `json:"fee_bps,omitempty"`
	Deadline  uint64 `json:"deadline,omitempty"`
	Timestamp uint64 `json:"timestamp"`
}

// OpResult records the outcome of replaying one journal operation.
type OpResult struct {
	Seq            uint64 `json:"seq"`
	Kind           string `json:"kind"`
	Accepted       bool   `json:"accepted"`
	Error          string `json:"error,omitempty"`
	AmountA        string `json:"amount_a,omitempty"`
	AmountB        string `json:"amount_b,omitempty"`
	Liquidity      string `json:"liquidity,omitempty"`
	PriceImpactBps uint64 `json:"price_impact_bps,omitempty"`
	AppliedAt      string `json:"applied_at"`
}
