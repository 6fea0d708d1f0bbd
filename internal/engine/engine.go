// Package engine implements the constant-product pool engine: pooled-asset
// accounting, trade pricing, liquidity-claim supply changes, and the oracle
// drive after every reserve change. The host is trusted to authenticate and
// serialize mutating calls and to roll back asset-side effects of failed
// operations; engine state itself is only committed once every validation and
// external transfer has succeeded.
package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammcore/internal/assets"
	"ammcore/internal/fixedpoint"
	"ammcore/internal/ledger"
	"ammcore/internal/oracle"
)

// Params are the tunable engine constants.
type Params struct {
	// FeeBps is the swap fee in basis points.
	FeeBps uint64
	// FeeCapBps is the hard cap governance cannot schedule past.
	FeeCapBps uint64
	// SwapCeilingBps bounds a single swap's input to this share of the
	// input-side reserve.
	SwapCeilingBps uint64
	// TransferToleranceBps is the minimum share of a requested pull that
	// must actually arrive (deflationary-asset allowance).
	TransferToleranceBps uint64
	// MinimumLiquidity is locked at the blackhole holder on first provision.
	MinimumLiquidity uint64
}

// DefaultParams returns the production defaults: 30 bps fee capped at 100,
// 10% swap ceiling, 95% transfer tolerance, 1000 locked liquidity units.
func DefaultParams() Params {
	return Params{
		FeeBps:               30,
		FeeCapBps:            100,
		SwapCeilingBps:       1000,
		TransferToleranceBps: 9500,
		MinimumLiquidity:     1000,
	}
}

// Engine owns all pools and their liquidity-claim ledgers.
type Engine struct {
	addr      common.Address
	params    Params
	assets    assets.Ledger
	oracle    *oracle.Oracle
	logger    *zap.Logger
	pools     map[common.Hash]*Pool
	blacklist map[common.Address]bool
	paused    bool
}

// New builds an engine holding pooled assets under addr on the given asset
// ledger.
func New(addr common.Address, assetLedger assets.Ledger, priceOracle *oracle.Oracle, params Params, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if priceOracle == nil {
		priceOracle = oracle.New(logger)
	}
	return &Engine{
		addr:      addr,
		params:    params,
		assets:    assetLedger,
		oracle:    priceOracle,
		logger:    logger,
		pools:     make(map[common.Hash]*Pool),
		blacklist: make(map[common.Address]bool),
	}
}

// Address returns the engine's holder address on the asset ledger.
func (e *Engine) Address() common.Address {
	return e.addr
}

// Oracle exposes the engine's price oracle for read-only consults.
func (e *Engine) Oracle() *oracle.Oracle {
	return e.oracle
}

// FeeBps returns the current swap fee.
func (e *Engine) FeeBps() uint64 {
	return e.params.FeeBps
}

// Paused reports the circuit-breaker pause flag.
func (e *Engine) Paused() bool {
	return e.paused
}

// validatePair rejects identical, zero, or blacklisted assets.
func (e *Engine) validatePair(assetA, assetB common.Address) error {
	if assetA == assetB {
		return ErrIdenticalAssets
	}
	if assetA == (common.Address{}) || assetB == (common.Address{}) {
		return ErrZeroAsset
	}
	if e.blacklist[assetA] || e.blacklist[assetB] {
		return ErrAssetBlacklisted
	}
	return nil
}

// CreatePool registers a zeroed pool and a fresh liquidity-claim ledger for
// the canonical pair. Pools are never deleted.
func (e *Engine) CreatePool(assetA, assetB common.Address) (common.Hash, error) {
	if err := e.validatePair(assetA, assetB); err != nil {
		return common.Hash{}, err
	}
	id := PairID(assetA, assetB)
	if _, exists := e.pools[id]; exists {
		return common.Hash{}, ErrPoolExists
	}

	token0, token1 := SortAssets(assetA, assetB)
	e.pools[id] = newPool(token0, token1, ledger.NewToken(e.addr))

	e.logger.Info("pool created",
		zap.String("pair", id.Hex()),
		zap.String("token0", token0.Hex()),
		zap.String("token1", token1.Hex()),
	)
	return id, nil
}

// PoolByPair returns the pool for an (unordered) asset pair.
func (e *Engine) PoolByPair(assetA, assetB common.Address) (*Pool, error) {
	pool, ok := e.pools[PairID(assetA, assetB)]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// Pools iterates all pools in unspecified order.
func (e *Engine) Pools(visit func(id common.Hash, pool *Pool)) {
	for id, pool := range e.pools {
		visit(id, pool)
	}
}

// pullMeasured pulls amount of asset from `from` and returns the measured
// balance delta, which is authoritative for all downstream accounting.
func (e *Engine) pullMeasured(asset, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	before, err := e.assets.BalanceOf(asset, e.addr)
	if err != nil {
		return nil, fmt.Errorf("balance before pull: %w", err)
	}
	if err := e.assets.TransferFrom(asset, e.addr, from, e.addr, amount); err != nil {
		return nil, fmt.Errorf("pull %s: %w", asset.Hex(), err)
	}
	after, err := e.assets.BalanceOf(asset, e.addr)
	if err != nil {
		return nil, fmt.Errorf("balance after pull: %w", err)
	}
	return new(uint256.Int).Sub(after, before), nil
}

// SetPaused flips the pause flag. Governance-gated by the timelock layer.
func (e *Engine) SetPaused(paused bool) {
	e.paused = paused
	e.logger.Info("pause flag changed", zap.Bool("paused", paused))
}

// SetFeeBps updates the swap fee within the hard cap.
func (e *Engine) SetFeeBps(bps uint64) error {
	if bps > e.params.FeeCapBps {
		return ErrFeeAboveCap
	}
	e.params.FeeBps = bps
	e.logger.Info("swap fee changed", zap.Uint64("fee_bps", bps))
	return nil
}

// SetBlacklisted toggles an asset's blacklist entry. Existing pools keep
// their reserves; new pools and swaps touching the asset are rejected.
func (e *Engine) SetBlacklisted(asset common.Address, blocked bool) {
	if blocked {
		e.blacklist[asset] = true
	} else {
		delete(e.blacklist, asset)
	}
	e.logger.Info("blacklist changed", zap.String("asset", asset.Hex()), zap.Bool("blocked", blocked))
}

// Blacklisted reports whether asset is blocked.
func (e *Engine) Blacklisted(asset common.Address) bool {
	return e.blacklist[asset]
}

// EmergencyWithdraw moves a pool's full reserves to a recovery address. Only
// legal while paused; this is the one sanctioned decrease of k.
func (e *Engine) EmergencyWithdraw(assetA, assetB, to common.Address) error {
	if !e.paused {
		return ErrNotPaused
	}
	pool, err := e.PoolByPair(assetA, assetB)
	if err != nil {
		return err
	}
	if err := pool.lock(); err != nil {
		return err
	}
	defer pool.unlock()

	if !pool.Reserve0.IsZero() {
		if err := e.assets.Transfer(pool.Token0, e.addr, to, pool.Reserve0); err != nil {
			return fmt.Errorf("withdraw %s: %w", pool.Token0.Hex(), err)
		}
	}
	if !pool.Reserve1.IsZero() {
		if err := e.assets.Transfer(pool.Token1, e.addr, to, pool.Reserve1); err != nil {
			return fmt.Errorf("withdraw %s: %w", pool.Token1.Hex(), err)
		}
	}

	e.logger.Warn("emergency withdrawal",
		zap.String("pair", PairID(assetA, assetB).Hex()),
		zap.String("to", to.Hex()),
		zap.String("reserve0", pool.Reserve0.Dec()),
		zap.String("reserve1", pool.Reserve1.Dec()),
	)
	pool.Reserve0 = uint256.NewInt(0)
	pool.Reserve1 = uint256.NewInt(0)
	return nil
}

// BeginExclusive acquires the pool's operation lock on behalf of the flash
// lender, which must hold it across its borrower callback.
func (e *Engine) BeginExclusive(assetA, assetB common.Address) (*Pool, error) {
	if e.paused {
		return nil, ErrPaused
	}
	pool, err := e.PoolByPair(assetA, assetB)
	if err != nil {
		return nil, err
	}
	if err := pool.lock(); err != nil {
		return nil, err
	}
	return pool, nil
}

// EndExclusive releases a lock taken with BeginExclusive.
func (e *Engine) EndExclusive(pool *Pool) {
	pool.unlock()
}

// DepositFlashFee adds a flash-loan fee straight into the matching reserve,
// bypassing the swap formula: this is a fee injection, not a trade. The
// caller must still hold the pool's exclusive lock.
func (e *Engine) DepositFlashFee(assetA, assetB, asset common.Address, fee *uint256.Int) error {
	pool, err := e.PoolByPair(assetA, assetB)
	if err != nil {
		return err
	}
	if !pool.locked {
		return ErrLockNotHeld
	}
	if asset != pool.Token0 && asset != pool.Token1 {
		return ErrAssetNotInPair
	}

	if asset == pool.Token0 {
		reserve, err := fixedpoint.CheckedAdd(pool.Reserve0, fee)
		if err != nil {
			return err
		}
		pool.Reserve0 = reserve
	} else {
		reserve, err := fixedpoint.CheckedAdd(pool.Reserve1, fee)
		if err != nil {
			return err
		}
		pool.Reserve1 = reserve
	}

	e.logger.Debug("flash fee deposited",
		zap.String("asset", asset.Hex()),
		zap.String("fee", fee.Dec()),
	)
	return nil
}
