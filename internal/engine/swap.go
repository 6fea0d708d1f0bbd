package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammcore/internal/fixedpoint"
)

// SwapResult reports the realized execution of a swap.
type SwapResult struct {
	// AmountIn is the measured input delta, which can be below the request
	// for fee-on-transfer assets.
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	// PriceImpactBps is the realized execution price's shortfall against the
	// pre-trade spot price, in basis points.
	PriceImpactBps uint64
}

// quoteOut prices an exact input against reserves with the fee-adjusted
// constant-product formula.
func quoteOut(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, ErrZeroAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	effective, err := fixedpoint.BpsMul(amountIn, fixedpoint.BpsDenominator-feeBps)
	if err != nil {
		return nil, err
	}
	denom, err := fixedpoint.CheckedAdd(reserveIn, effective)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(reserveOut, effective, denom)
}

// quoteIn prices an exact output: the smallest input whose quote covers
// amountOut (hence the +1 rounding).
func quoteIn(amountOut, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if amountOut.IsZero() {
		return nil, ErrZeroAmount
	}
	if reserveIn.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	num, err := fixedpoint.CheckedMul(reserveIn, amountOut)
	if err != nil {
		return nil, err
	}
	num, err = fixedpoint.CheckedMul(num, uint256.NewInt(fixedpoint.BpsDenominator))
	if err != nil {
		return nil, err
	}
	gap := new(uint256.Int).Sub(reserveOut, amountOut)
	denom, err := fixedpoint.CheckedMul(gap, uint256.NewInt(fixedpoint.BpsDenominator-feeBps))
	if err != nil {
		return nil, err
	}
	in := num.Div(num, denom)
	return in.AddUint64(in, 1), nil
}

// GetAmountOut quotes the output for an exact input against current
// reserves. Read-only; exposed to the routing layer.
func (e *Engine) GetAmountOut(assetIn, assetOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	pool, err := e.PoolByPair(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.orient(assetIn)
	return quoteOut(amountIn, reserveIn, reserveOut, e.params.FeeBps)
}

// GetAmountIn quotes the input required for an exact output against current
// reserves. Read-only; exposed to the routing layer.
func (e *Engine) GetAmountIn(assetIn, assetOut common.Address, amountOut *uint256.Int) (*uint256.Int, error) {
	pool, err := e.PoolByPair(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.orient(assetIn)
	return quoteIn(amountOut, reserveIn, reserveOut, e.params.FeeBps)
}

// Swap trades an exact input of assetIn for assetOut. All protective checks
// run against pre-trade state before any external transfer; reserves are
// committed only after both transfers and the oracle accept.
func (e *Engine) Swap(
	caller common.Address,
	assetIn, assetOut common.Address,
	amountIn, minAmountOut *uint256.Int,
	recipient common.Address,
	deadline, now uint64,
) (*SwapResult, error) {
	if now > deadline {
		return nil, ErrDeadlineExpired
	}
	if e.paused {
		return nil, ErrPaused
	}
	if err := e.validatePair(assetIn, assetOut); err != nil {
		return nil, err
	}
	if amountIn.IsZero() {
		return nil, ErrZeroAmount
	}
	if amountIn.Gt(MaxAmount) {
		return nil, ErrAmountTooWide
	}
	if recipient == e.addr || recipient == assetIn || recipient == assetOut {
		return nil, ErrBadRecipient
	}

	pool, err := e.PoolByPair(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	if err := pool.lock(); err != nil {
		return nil, err
	}
	defer pool.unlock()

	reserveIn, reserveOut := pool.orient(assetIn)
	ceiling, err := fixedpoint.BpsMul(reserveIn, e.params.SwapCeilingBps)
	if err != nil {
		return nil, err
	}
	if amountIn.Gt(ceiling) {
		return nil, ErrSwapCeilingExceeded
	}

	// Protective quote against pre-trade state; the executable output is
	// re-derived from the measured delta below.
	quoted, err := quoteOut(amountIn, reserveIn, reserveOut, e.params.FeeBps)
	if err != nil {
		return nil, err
	}
	if quoted.Lt(minAmountOut) {
		return nil, ErrSlippage
	}
	if quoted.IsZero() {
		return nil, ErrInsufficientOutput
	}
	if !quoted.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}

	delta, err := e.pullMeasured(assetIn, caller, amountIn)
	if err != nil {
		return nil, err
	}
	// A shortfall beyond the deflationary-asset allowance aborts the trade
	// rather than silently executing worse than quoted.
	floor, err := fixedpoint.BpsMul(amountIn, e.params.TransferToleranceBps)
	if err != nil {
		return nil, err
	}
	if delta.Lt(floor) {
		return nil, ErrTransferShortfall
	}

	// Only the delta actually arrived; price the trade on it so the invariant
	// can never shrink under an in-flight transfer fee.
	amountOut, err := quoteOut(delta, reserveIn, reserveOut, e.params.FeeBps)
	if err != nil {
		return nil, err
	}
	if amountOut.Lt(minAmountOut) {
		return nil, ErrSlippage
	}
	if amountOut.IsZero() {
		return nil, ErrInsufficientOutput
	}

	if err := e.assets.Transfer(assetOut, e.addr, recipient, amountOut); err != nil {
		return nil, err
	}

	newReserveIn := new(uint256.Int).Add(reserveIn, delta)
	newReserveOut := new(uint256.Int).Sub(reserveOut, amountOut)

	oldK := new(uint256.Int).Mul(reserveIn, reserveOut)
	newK := new(uint256.Int).Mul(newReserveIn, newReserveOut)
	if newK.Lt(oldK) {
		return nil, ErrKInvariant
	}

	pairID := PairID(assetIn, assetOut)
	r0, r1 := newReserveIn, newReserveOut
	if assetIn != pool.Token0 {
		r0, r1 = newReserveOut, newReserveIn
	}
	if err := e.oracle.Update(pairID, r0, r1, now); err != nil {
		return nil, err
	}

	impact := priceImpactBps(delta, amountOut, reserveIn, reserveOut)
	pool.setOriented(assetIn, newReserveIn, newReserveOut)

	e.logger.Info("swap executed",
		zap.String("pair", pairID.Hex()),
		zap.String("asset_in", assetIn.Hex()),
		zap.String("asset_out", assetOut.Hex()),
		zap.String("amount_in", delta.Dec()),
		zap.String("amount_out", amountOut.Dec()),
		zap.Uint64("price_impact_bps", impact),
		zap.String("recipient", recipient.Hex()),
	)
	return &SwapResult{AmountIn: delta, AmountOut: amountOut, PriceImpactBps: impact}, nil
}

// priceImpactBps measures how far the realized price amountOut/amountIn fell
// short of the pre-trade spot price reserveOut/reserveIn.
func priceImpactBps(amountIn, amountOut, reserveIn, reserveOut *uint256.Int) uint64 {
	if amountIn.IsZero() || reserveOut.IsZero() {
		return 0
	}
	num := new(uint256.Int).Mul(amountOut, reserveIn)
	num.Mul(num, uint256.NewInt(fixedpoint.BpsDenominator))
	den := new(uint256.Int).Mul(amountIn, reserveOut)
	ratio := num.Div(num, den)
	if !ratio.IsUint64() || ratio.Uint64() >= fixedpoint.BpsDenominator {
		return 0
	}
	return fixedpoint.BpsDenominator - ratio.Uint64()
}
