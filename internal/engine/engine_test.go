package engine

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"ammcore/internal/assets"
	"ammcore/internal/ledger"
)

var (
	assetA     = common.Address{0xAA}
	assetB     = common.Address{0xBB}
	engineAddr = common.Address{0xEE}
	alice      = common.Address{0x11}
	bob        = common.Address{0x22}
	carol      = common.Address{0x33}
)

func maxApproval() *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), 200)
}

func newTestEngine(t *testing.T) (*Engine, *assets.MemoryLedger) {
	t.Helper()
	l := assets.NewMemoryLedger()
	l.RegisterAsset(assetA, 0)
	l.RegisterAsset(assetB, 0)
	for _, holder := range []common.Address{alice, bob} {
		require.NoError(t, l.SetBalance(assetA, holder, uint256.NewInt(1_000_000)))
		require.NoError(t, l.SetBalance(assetB, holder, uint256.NewInt(1_000_000)))
		require.NoError(t, l.Approve(assetA, holder, engineAddr, maxApproval()))
		require.NoError(t, l.Approve(assetB, holder, engineAddr, maxApproval()))
	}
	return New(engineAddr, l, nil, DefaultParams(), nil), l
}

// seedPool creates the A/B pool and has alice provide 100k/100k at t=0.
func seedPool(t *testing.T, e *Engine) *Pool {
	t.Helper()
	_, err := e.CreatePool(assetA, assetB)
	require.NoError(t, err)
	_, err = e.AddLiquidity(alice, assetA, assetB,
		uint256.NewInt(100_000), uint256.NewInt(100_000),
		uint256.NewInt(0), uint256.NewInt(0),
		alice, 1000, 0)
	require.NoError(t, err)
	pool, err := e.PoolByPair(assetA, assetB)
	require.NoError(t, err)
	return pool
}

func TestCreatePoolValidation(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CreatePool(assetA, assetA)
	require.ErrorIs(t, err, ErrIdenticalAssets)

	_, err = e.CreatePool(common.Address{}, assetB)
	require.ErrorIs(t, err, ErrZeroAsset)

	_, err = e.CreatePool(assetA, assetB)
	require.NoError(t, err)
	_, err = e.CreatePool(assetB, assetA)
	require.ErrorIs(t, err, ErrPoolExists)

	e.SetBlacklisted(carol, true)
	_, err = e.CreatePool(assetA, carol)
	require.ErrorIs(t, err, ErrAssetBlacklisted)
}

func TestFirstProvisionLocksMinimumLiquidity(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := seedPool(t, e)

	require.Equal(t, "100000", pool.Claims.TotalSupply().Dec())
	require.Equal(t, "1000", pool.Claims.BalanceOf(ledger.BlackholeHolder).Dec())
	require.Equal(t, "99000", pool.Claims.BalanceOf(alice).Dec())
	require.Equal(t, "100000", pool.Reserve0.Dec())
	require.Equal(t, "100000", pool.Reserve1.Dec())
}

func TestFirstProvisionBelowMinimumRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CreatePool(assetA, assetB)
	require.NoError(t, err)

	_, err = e.AddLiquidity(alice, assetA, assetB,
		uint256.NewInt(10), uint256.NewInt(10),
		uint256.NewInt(0), uint256.NewInt(0),
		alice, 1000, 0)
	require.ErrorIs(t, err, ErrInsufficientLiquidityMinted)
}

func TestAddLiquidityMatchesPoolRatio(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := seedPool(t, e)

	res, err := e.AddLiquidity(bob, assetA, assetB,
		uint256.NewInt(50_000), uint256.NewInt(60_000),
		uint256.NewInt(0), uint256.NewInt(0),
		bob, 1000, 10)
	require.NoError(t, err)

	require.Equal(t, "50000", res.AmountA.Dec())
	require.Equal(t, "50000", res.AmountB.Dec())
	require.Equal(t, "50000", res.Liquidity.Dec())
	require.Equal(t, "50000", pool.Claims.BalanceOf(bob).Dec())
	require.Equal(t, "150000", pool.Reserve0.Dec())
	require.Equal(t, "150000", pool.Reserve1.Dec())
}

func TestAddLiquidityRejectedBeforeOracleCommit(t *testing.T) {
	e, _ := newTestEngine(t)
	seedPool(t, e)

	pairID := PairID(assetA, assetB)
	_, _, tsBefore, ok := e.Oracle().State(pairID)
	require.True(t, ok)

	_, err := e.AddLiquidity(bob, assetA, assetB,
		uint256.NewInt(50_000), uint256.NewInt(50_000),
		uint256.NewInt(0), uint256.NewInt(0),
		common.Address{}, 1000, 50)
	require.ErrorIs(t, err, ErrBadRecipient)

	// The rejected provision must not advance the observation clock.
	_, _, tsAfter, ok := e.Oracle().State(pairID)
	require.True(t, ok)
	require.Equal(t, tsBefore, tsAfter)
}

func TestAddLiquiditySlippageFloor(t *testing.T) {
	e, _ := newTestEngine(t)
	seedPool(t, e)

	_, err := e.AddLiquidity(bob, assetA, assetB,
		uint256.NewInt(50_000), uint256.NewInt(60_000),
		uint256.NewInt(0), uint256.NewInt(55_000),
		bob, 1000, 10)
	require.ErrorIs(t, err, ErrSlippage)
}

func TestRemoveLiquidityProportional(t *testing.T) {
	e, l := newTestEngine(t)
	pool := seedPool(t, e)

	res, err := e.RemoveLiquidity(alice, assetA, assetB,
		uint256.NewInt(99_000), uint256.NewInt(0), uint256.NewInt(0),
		carol, 1000, 10)
	require.NoError(t, err)
	require.Equal(t, "99000", res.AmountA.Dec())
	require.Equal(t, "99000", res.AmountB.Dec())

	// The locked minimum stays behind.
	require.Equal(t, "1000", pool.Reserve0.Dec())
	require.Equal(t, "1000", pool.Reserve1.Dec())
	require.Equal(t, "1000", pool.Claims.TotalSupply().Dec())

	got, err := l.BalanceOf(assetA, carol)
	require.NoError(t, err)
	require.Equal(t, "99000", got.Dec())
}

func TestRemoveLiquidityBounds(t *testing.T) {
	e, _ := newTestEngine(t)
	seedPool(t, e)

	_, err := e.RemoveLiquidity(bob, assetA, assetB,
		uint256.NewInt(1), uint256.NewInt(0), uint256.NewInt(0),
		bob, 1000, 10)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = e.RemoveLiquidity(alice, assetA, assetB,
		uint256.NewInt(200_000), uint256.NewInt(0), uint256.NewInt(0),
		alice, 1000, 10)
	require.ErrorIs(t, err, ErrInsufficientLiquidityBurned)
}

func TestSwapExactIn(t *testing.T) {
	e, l := newTestEngine(t)
	pool := seedPool(t, e)
	oldK := pool.k()

	res, err := e.Swap(bob, assetA, assetB,
		uint256.NewInt(1000), uint256.NewInt(980),
		carol, 1000, 10)
	require.NoError(t, err)

	// effective in = 997 after the 30 bps fee; out = 100000*997/100997.
	require.Equal(t, "1000", res.AmountIn.Dec())
	require.Equal(t, "987", res.AmountOut.Dec())
	require.Equal(t, uint64(130), res.PriceImpactBps)

	got, err := l.BalanceOf(assetB, carol)
	require.NoError(t, err)
	require.Equal(t, "987", got.Dec())

	reserveA, reserveB := pool.orient(assetA)
	require.Equal(t, "101000", reserveA.Dec())
	require.Equal(t, "99013", reserveB.Dec())
	require.True(t, !pool.k().Lt(oldK), "k must not decrease across a swap")
}

func TestSwapRoundTripLosesFees(t *testing.T) {
	e, l := newTestEngine(t)
	seedPool(t, e)

	first, err := e.Swap(bob, assetA, assetB,
		uint256.NewInt(1000), uint256.NewInt(0),
		bob, 1000, 10)
	require.NoError(t, err)

	second, err := e.Swap(bob, assetB, assetA,
		first.AmountOut, uint256.NewInt(0),
		bob, 1000, 20)
	require.NoError(t, err)
	require.True(t, second.AmountOut.Lt(uint256.NewInt(1000)),
		"round trip must return less than the original input")

	got, err := l.BalanceOf(assetA, bob)
	require.NoError(t, err)
	require.True(t, got.Lt(uint256.NewInt(1_000_000)))
}

func TestSwapValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	seedPool(t, e)
	in := uint256.NewInt(1000)
	zero := uint256.NewInt(0)

	_, err := e.Swap(bob, assetA, assetB, in, zero, bob, 5, 10)
	require.ErrorIs(t, err, ErrDeadlineExpired)

	_, err = e.Swap(bob, assetA, assetA, in, zero, bob, 1000, 10)
	require.ErrorIs(t, err, ErrIdenticalAssets)

	_, err = e.Swap(bob, assetA, assetB, zero, zero, bob, 1000, 10)
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = e.Swap(bob, assetA, assetB, in, zero, engineAddr, 1000, 10)
	require.ErrorIs(t, err, ErrBadRecipient)

	_, err = e.Swap(bob, assetA, assetB, in, zero, assetB, 1000, 10)
	require.ErrorIs(t, err, ErrBadRecipient)

	_, err = e.Swap(bob, assetA, carol, in, zero, bob, 1000, 10)
	require.ErrorIs(t, err, ErrPoolNotFound)

	// 10% of the input-side reserve is the single-swap ceiling.
	_, err = e.Swap(bob, assetA, assetB, uint256.NewInt(10_001), zero, bob, 1000, 10)
	require.ErrorIs(t, err, ErrSwapCeilingExceeded)

	_, err = e.Swap(bob, assetA, assetB, in, uint256.NewInt(988), bob, 1000, 10)
	require.ErrorIs(t, err, ErrSlippage)

	e.SetPaused(true)
	_, err = e.Swap(bob, assetA, assetB, in, zero, bob, 1000, 10)
	require.ErrorIs(t, err, ErrPaused)
}

func TestSwapFeeOnTransferCreditsMeasuredDelta(t *testing.T) {
	e, l := newTestEngine(t)
	feeAsset := common.Address{0xCC}
	l.RegisterAsset(feeAsset, 300)
	for _, holder := range []common.Address{alice, bob} {
		require.NoError(t, l.SetBalance(feeAsset, holder, uint256.NewInt(1_000_000)))
		require.NoError(t, l.Approve(feeAsset, holder, engineAddr, maxApproval()))
	}

	_, err := e.CreatePool(feeAsset, assetB)
	require.NoError(t, err)
	added, err := e.AddLiquidity(alice, feeAsset, assetB,
		uint256.NewInt(100_000), uint256.NewInt(100_000),
		uint256.NewInt(0), uint256.NewInt(0),
		alice, 1000, 0)
	require.NoError(t, err)
	require.Equal(t, "97000", added.AmountA.Dec())
	require.Equal(t, "100000", added.AmountB.Dec())

	pool, err := e.PoolByPair(feeAsset, assetB)
	require.NoError(t, err)
	reserveIn, _ := pool.orient(feeAsset)
	require.Equal(t, "97000", reserveIn.Dec())

	// A requested 1000 arrives as 970; the pool credits exactly 970.
	res, err := e.Swap(bob, feeAsset, assetB,
		uint256.NewInt(1000), uint256.NewInt(900),
		carol, 1000, 10)
	require.NoError(t, err)
	require.Equal(t, "970", res.AmountIn.Dec())

	reserveIn, _ = pool.orient(feeAsset)
	require.Equal(t, "97970", reserveIn.Dec())
}

func TestSwapTransferShortfallAborts(t *testing.T) {
	e, l := newTestEngine(t)
	heavyFee := common.Address{0xDD}
	l.RegisterAsset(heavyFee, 600)
	for _, holder := range []common.Address{alice, bob} {
		require.NoError(t, l.SetBalance(heavyFee, holder, uint256.NewInt(1_000_000)))
		require.NoError(t, l.Approve(heavyFee, holder, engineAddr, maxApproval()))
	}

	_, err := e.CreatePool(heavyFee, assetB)
	require.NoError(t, err)
	// The provision floors tolerate the 6% cut only because none are set.
	_, err = e.AddLiquidity(alice, heavyFee, assetB,
		uint256.NewInt(100_000), uint256.NewInt(100_000),
		uint256.NewInt(0), uint256.NewInt(0),
		alice, 1000, 0)
	require.NoError(t, err)

	pool, err := e.PoolByPair(heavyFee, assetB)
	require.NoError(t, err)
	before0 := new(uint256.Int).Set(pool.Reserve0)
	before1 := new(uint256.Int).Set(pool.Reserve1)

	// 1000 requested, 940 arrives, below the 95% tolerance floor.
	_, err = e.Swap(bob, heavyFee, assetB,
		uint256.NewInt(1000), uint256.NewInt(0),
		carol, 1000, 10)
	require.ErrorIs(t, err, ErrTransferShortfall)

	require.Equal(t, before0.Dec(), pool.Reserve0.Dec())
	require.Equal(t, before1.Dec(), pool.Reserve1.Dec())
	require.False(t, pool.locked)
}

func TestAssetConservationAcrossOperations(t *testing.T) {
	e, l := newTestEngine(t)
	seedPool(t, e)

	total := func() *uint256.Int {
		sum := uint256.NewInt(0)
		for _, holder := range []common.Address{alice, bob, carol, engineAddr} {
			bal, err := l.BalanceOf(assetA, holder)
			require.NoError(t, err)
			sum.Add(sum, bal)
		}
		return sum
	}
	before := total()

	_, err := e.Swap(bob, assetA, assetB,
		uint256.NewInt(1000), uint256.NewInt(0), carol, 1000, 10)
	require.NoError(t, err)
	_, err = e.RemoveLiquidity(alice, assetA, assetB,
		uint256.NewInt(50_000), uint256.NewInt(0), uint256.NewInt(0),
		alice, 1000, 20)
	require.NoError(t, err)

	require.Equal(t, before.Dec(), total().Dec())
}

func TestQuoteRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	seedPool(t, e)

	out, err := e.GetAmountOut(assetA, assetB, uint256.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "987", out.Dec())

	in, err := e.GetAmountIn(assetA, assetB, out)
	require.NoError(t, err)
	require.True(t, !in.Gt(uint256.NewInt(1000)))

	recheck, err := e.GetAmountOut(assetA, assetB, in)
	require.NoError(t, err)
	require.True(t, !recheck.Lt(out), "required input must cover the quoted output")
}

func TestSetFeeBpsRespectsCap(t *testing.T) {
	e, _ := newTestEngine(t)

	require.ErrorIs(t, e.SetFeeBps(101), ErrFeeAboveCap)
	require.NoError(t, e.SetFeeBps(100))
	require.Equal(t, uint64(100), e.FeeBps())
}

func TestEmergencyWithdrawRequiresPause(t *testing.T) {
	e, l := newTestEngine(t)
	pool := seedPool(t, e)

	require.ErrorIs(t, e.EmergencyWithdraw(assetA, assetB, carol), ErrNotPaused)

	e.SetPaused(true)
	require.NoError(t, e.EmergencyWithdraw(assetA, assetB, carol))
	require.True(t, pool.Reserve0.IsZero())
	require.True(t, pool.Reserve1.IsZero())

	got, err := l.BalanceOf(assetA, carol)
	require.NoError(t, err)
	require.Equal(t, "100000", got.Dec())
}

func TestDepositFlashFeeRequiresHeldLock(t *testing.T) {
	e, _ := newTestEngine(t)
	seedPool(t, e)
	fee := uint256.NewInt(9)

	err := e.DepositFlashFee(assetA, assetB, assetA, fee)
	require.ErrorIs(t, err, ErrLockNotHeld)

	pool, err := e.BeginExclusive(assetA, assetB)
	require.NoError(t, err)
	require.ErrorIs(t, e.DepositFlashFee(assetA, assetB, carol, fee), ErrAssetNotInPair)
	require.NoError(t, e.DepositFlashFee(assetA, assetB, assetA, fee))
	e.EndExclusive(pool)

	reserveA, _ := pool.orient(assetA)
	require.Equal(t, "100009", reserveA.Dec())
}

func TestPoolLockRejectsNestedEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	seedPool(t, e)

	pool, err := e.BeginExclusive(assetA, assetB)
	require.NoError(t, err)
	defer e.EndExclusive(pool)

	_, err = e.Swap(bob, assetA, assetB,
		uint256.NewInt(1000), uint256.NewInt(0), carol, 1000, 10)
	require.ErrorIs(t, err, ErrReentrant)
}
