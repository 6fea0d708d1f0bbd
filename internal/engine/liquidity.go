package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammcore/internal/fixedpoint"
	"ammcore/internal/ledger"
)

// AddLiquidityResult reports the measured deposit and the claims minted.
type AddLiquidityResult struct {
	AmountA   *uint256.Int
	AmountB   *uint256.Int
	Liquidity *uint256.Int
}

// RemoveLiquidityResult reports the assets returned for burned claims.
type RemoveLiquidityResult struct {
	AmountA *uint256.Int
	AmountB *uint256.Int
}

// AddLiquidity deposits up to (desiredA, desiredB) at the pool's current
// ratio and mints liquidity claims to recipient. Fee-on-transfer assets are
// accounted by measured balance deltas, never by the requested amounts; the
// slippage floors are re-checked against the deltas.
func (e *Engine) AddLiquidity(
	caller common.Address,
	assetA, assetB common.Address,
	desiredA, desiredB, minA, minB *uint256.Int,
	recipient common.Address,
	deadline, now uint64,
) (*AddLiquidityResult, error) {
	if now > deadline {
		return nil, ErrDeadlineExpired
	}
	if e.paused {
		return nil, ErrPaused
	}
	if err := e.validatePair(assetA, assetB); err != nil {
		return nil, err
	}
	if desiredA.IsZero() || desiredB.IsZero() {
		return nil, ErrZeroAmount
	}
	if desiredA.Gt(MaxAmount) || desiredB.Gt(MaxAmount) {
		return nil, ErrAmountTooWide
	}
	if recipient == (common.Address{}) {
		return nil, ErrBadRecipient
	}

	pool, err := e.PoolByPair(assetA, assetB)
	if err != nil {
		return nil, err
	}
	if err := pool.lock(); err != nil {
		return nil, err
	}
	defer pool.unlock()

	reserveA, reserveB := pool.orient(assetA)

	amountA, amountB := desiredA, desiredB
	if !reserveA.IsZero() || !reserveB.IsZero() {
		// Largest ratio-preserving deposit not exceeding either desired
		// amount: solve for the B-side optimal first, fall back to A-side.
		optimalB, err := fixedpoint.MulDiv(desiredA, reserveB, reserveA)
		if err != nil {
			return nil, err
		}
		if !optimalB.Gt(desiredB) {
			if optimalB.Lt(minB) {
				return nil, ErrSlippage
			}
			amountA, amountB = desiredA, optimalB
		} else {
			optimalA, err := fixedpoint.MulDiv(desiredB, reserveA, reserveB)
			if err != nil {
				return nil, err
			}
			if optimalA.Lt(minA) {
				return nil, ErrSlippage
			}
			amountA, amountB = optimalA, desiredB
		}
	}

	deltaA, err := e.pullMeasured(assetA, caller, amountA)
	if err != nil {
		return nil, err
	}
	deltaB, err := e.pullMeasured(assetB, caller, amountB)
	if err != nil {
		return nil, err
	}
	// The measured deltas, not the requests, are what the provider actually
	// contributed; the floors apply to them.
	if deltaA.IsZero() || deltaB.IsZero() {
		return nil, ErrZeroAmount
	}
	if deltaA.Lt(minA) || deltaB.Lt(minB) {
		return nil, ErrSlippage
	}

	supply := pool.Claims.TotalSupply()
	var liquidity *uint256.Int
	minimumLiquidity := uint256.NewInt(e.params.MinimumLiquidity)
	firstProvision := supply.IsZero()
	if firstProvision {
		product, err := fixedpoint.CheckedMul(deltaA, deltaB)
		if err != nil {
			return nil, err
		}
		root := fixedpoint.Sqrt(product)
		if !root.Gt(minimumLiquidity) {
			return nil, ErrInsufficientLiquidityMinted
		}
		liquidity = new(uint256.Int).Sub(root, minimumLiquidity)
	} else {
		liqA, err := fixedpoint.MulDiv(deltaA, supply, reserveA)
		if err != nil {
			return nil, err
		}
		liqB, err := fixedpoint.MulDiv(deltaB, supply, reserveB)
		if err != nil {
			return nil, err
		}
		liquidity = liqA
		if liqB.Lt(liqA) {
			liquidity = liqB
		}
		if liquidity.IsZero() {
			return nil, ErrInsufficientLiquidityMinted
		}
	}

	newReserveA, err := fixedpoint.CheckedAdd(reserveA, deltaA)
	if err != nil {
		return nil, err
	}
	newReserveB, err := fixedpoint.CheckedAdd(reserveB, deltaB)
	if err != nil {
		return nil, err
	}
	if newReserveA.Gt(MaxAmount) || newReserveB.Gt(MaxAmount) {
		return nil, ErrAmountTooWide
	}

	// Nothing after the oracle commit may fail, or a rejected provision would
	// leave the observation advanced; pre-check the claim mints here.
	minted := liquidity
	if firstProvision {
		minted, err = fixedpoint.CheckedAdd(liquidity, minimumLiquidity)
		if err != nil {
			return nil, err
		}
	}
	if _, err := fixedpoint.CheckedAdd(supply, minted); err != nil {
		return nil, ledger.ErrSupplyOverflow
	}

	pairID := PairID(assetA, assetB)
	r0, r1 := newReserveA, newReserveB
	if assetA != pool.Token0 {
		r0, r1 = newReserveB, newReserveA
	}
	if err := e.oracle.Update(pairID, r0, r1, now); err != nil {
		return nil, err
	}

	if firstProvision {
		if err := pool.Claims.Mint(e.addr, ledger.BlackholeHolder, minimumLiquidity); err != nil {
			return nil, err
		}
	}
	if err := pool.Claims.Mint(e.addr, recipient, liquidity); err != nil {
		return nil, err
	}
	pool.setOriented(assetA, newReserveA, newReserveB)

	e.logger.Info("liquidity added",
		zap.String("pair", pairID.Hex()),
		zap.String("amount_a", deltaA.Dec()),
		zap.String("amount_b", deltaB.Dec()),
		zap.String("liquidity", liquidity.Dec()),
		zap.String("recipient", recipient.Hex()),
	)
	return &AddLiquidityResult{AmountA: deltaA, AmountB: deltaB, Liquidity: liquidity}, nil
}

// RemoveLiquidity burns liquidity claims from the caller and pays out the
// proportional share of both reserves to recipient.
func (e *Engine) RemoveLiquidity(
	caller common.Address,
	assetA, assetB common.Address,
	liquidity, minA, minB *uint256.Int,
	recipient common.Address,
	deadline, now uint64,
) (*RemoveLiquidityResult, error) {
	if now > deadline {
		return nil, ErrDeadlineExpired
	}
	if e.paused {
		return nil, ErrPaused
	}
	if liquidity.IsZero() {
		return nil, ErrZeroAmount
	}

	pool, err := e.PoolByPair(assetA, assetB)
	if err != nil {
		return nil, err
	}
	if err := pool.lock(); err != nil {
		return nil, err
	}
	defer pool.unlock()

	supply := pool.Claims.TotalSupply()
	if liquidity.Gt(supply) {
		return nil, ErrInsufficientLiquidityBurned
	}
	if pool.Claims.BalanceOf(caller).Lt(liquidity) {
		return nil, ledger.ErrInsufficientBalance
	}

	reserveA, reserveB := pool.orient(assetA)
	amountA, err := fixedpoint.MulDiv(liquidity, reserveA, supply)
	if err != nil {
		return nil, err
	}
	amountB, err := fixedpoint.MulDiv(liquidity, reserveB, supply)
	if err != nil {
		return nil, err
	}
	if amountA.IsZero() || amountB.IsZero() {
		return nil, ErrInsufficientLiquidityBurned
	}
	if amountA.Lt(minA) || amountB.Lt(minB) {
		return nil, ErrSlippage
	}

	if err := e.assets.Transfer(assetA, e.addr, recipient, amountA); err != nil {
		return nil, err
	}
	if err := e.assets.Transfer(assetB, e.addr, recipient, amountB); err != nil {
		return nil, err
	}

	newReserveA := new(uint256.Int).Sub(reserveA, amountA)
	newReserveB := new(uint256.Int).Sub(reserveB, amountB)

	pairID := PairID(assetA, assetB)
	r0, r1 := newReserveA, newReserveB
	if assetA != pool.Token0 {
		r0, r1 = newReserveB, newReserveA
	}
	if err := e.oracle.Update(pairID, r0, r1, now); err != nil {
		return nil, err
	}

	if err := pool.Claims.Burn(e.addr, caller, liquidity); err != nil {
		return nil, err
	}
	pool.setOriented(assetA, newReserveA, newReserveB)

	e.logger.Info("liquidity removed",
		zap.String("pair", pairID.Hex()),
		zap.String("amount_a", amountA.Dec()),
		zap.String("amount_b", amountB.Dec()),
		zap.String("liquidity", liquidity.Dec()),
		zap.String("recipient", recipient.Hex()),
	)
	return &RemoveLiquidityResult{AmountA: amountA, AmountB: amountB}, nil
}
