package flash

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"ammcore/internal/assets"
	"ammcore/internal/engine"
)

var (
	assetA       = common.Address{0xAA}
	assetB       = common.Address{0xBB}
	engineAddr   = common.Address{0xEE}
	lenderAddr   = common.Address{0x77}
	borrowerAddr = common.Address{0x99}
	provider     = common.Address{0x11}
)

// repayingBorrower pushes principal plus fee back to the lender and returns
// the success sentinel.
type repayingBorrower struct {
	ledger *assets.MemoryLedger
	lender *Lender
}

func (b *repayingBorrower) Address() common.Address { return borrowerAddr }

func (b *repayingBorrower) OnFlashLoan(initiator, asset common.Address, amount, fee *uint256.Int, data []byte) (common.Hash, error) {
	owed := new(uint256.Int).Add(amount, fee)
	if err := b.ledger.Transfer(asset, borrowerAddr, b.lender.Address(), owed); err != nil {
		return common.Hash{}, err
	}
	return SuccessSentinel, nil
}

// keepingBorrower returns the sentinel without repaying.
type keepingBorrower struct{}

func (keepingBorrower) Address() common.Address { return borrowerAddr }

func (keepingBorrower) OnFlashLoan(common.Address, common.Address, *uint256.Int, *uint256.Int, []byte) (common.Hash, error) {
	return SuccessSentinel, nil
}

// confusedBorrower repays but returns a zero sentinel.
type confusedBorrower struct {
	ledger *assets.MemoryLedger
	lender *Lender
}

func (b *confusedBorrower) Address() common.Address { return borrowerAddr }

func (b *confusedBorrower) OnFlashLoan(_, asset common.Address, amount, fee *uint256.Int, _ []byte) (common.Hash, error) {
	owed := new(uint256.Int).Add(amount, fee)
	if err := b.ledger.Transfer(asset, borrowerAddr, b.lender.Address(), owed); err != nil {
		return common.Hash{}, err
	}
	return common.Hash{}, nil
}

// overpayingBorrower pushes a fixed amount back to the lender, leaving room
// to cover transfer fees on the repayment leg.
type overpayingBorrower struct {
	ledger *assets.MemoryLedger
	lender *Lender
	push   *uint256.Int
}

func (b *overpayingBorrower) Address() common.Address { return borrowerAddr }

func (b *overpayingBorrower) OnFlashLoan(_, asset common.Address, _, _ *uint256.Int, _ []byte) (common.Hash, error) {
	if err := b.ledger.Transfer(asset, borrowerAddr, b.lender.Address(), b.push); err != nil {
		return common.Hash{}, err
	}
	return SuccessSentinel, nil
}

// tradingBorrower tries to swap against the pool mid-loan.
type tradingBorrower struct {
	engine *engine.Engine
}

func (b *tradingBorrower) Address() common.Address { return borrowerAddr }

func (b *tradingBorrower) OnFlashLoan(_, asset common.Address, amount, _ *uint256.Int, _ []byte) (common.Hash, error) {
	other := assetB
	if asset == assetB {
		other = assetA
	}
	_, err := b.engine.Swap(borrowerAddr, asset, other, amount, uint256.NewInt(0), borrowerAddr, 1000, 10)
	if err != nil {
		return common.Hash{}, err
	}
	return SuccessSentinel, nil
}

func newTestLender(t *testing.T) (*Lender, *engine.Engine, *assets.MemoryLedger) {
	t.Helper()
	l := assets.NewMemoryLedger()
	l.RegisterAsset(assetA, 0)
	l.RegisterAsset(assetB, 0)
	approval := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	require.NoError(t, l.SetBalance(assetA, provider, uint256.NewInt(1_000_000)))
	require.NoError(t, l.SetBalance(assetB, provider, uint256.NewInt(1_000_000)))
	require.NoError(t, l.Approve(assetA, provider, engineAddr, approval))
	require.NoError(t, l.Approve(assetB, provider, engineAddr, approval))
	// Fee budget for the borrower.
	require.NoError(t, l.SetBalance(assetA, borrowerAddr, uint256.NewInt(1000)))

	eng := engine.New(engineAddr, l, nil, engine.DefaultParams(), nil)
	_, err := eng.CreatePool(assetA, assetB)
	require.NoError(t, err)
	_, err = eng.AddLiquidity(provider, assetA, assetB,
		uint256.NewInt(100_000), uint256.NewInt(100_000),
		uint256.NewInt(0), uint256.NewInt(0),
		provider, 1000, 0)
	require.NoError(t, err)

	lender := New(lenderAddr, eng, l, assetA, assetB, nil)
	lender.ApproveBorrower(borrowerAddr, true)
	return lender, eng, l
}

func TestFlashLoanSettles(t *testing.T) {
	lender, eng, l := newTestLender(t)
	borrower := &repayingBorrower{ledger: l, lender: lender}

	require.NoError(t, lender.Flash(provider, borrower, assetA, uint256.NewInt(5000), nil))

	// Fee is 9 bps of 5000 = 4, folded into the reserve.
	pool, err := eng.PoolByPair(assetA, assetB)
	require.NoError(t, err)
	require.Equal(t, "100004", pool.Reserve0.Dec())
	require.Equal(t, "100000", pool.Reserve1.Dec())

	engineBal, err := l.BalanceOf(assetA, engineAddr)
	require.NoError(t, err)
	require.Equal(t, "100004", engineBal.Dec())

	borrowerBal, err := l.BalanceOf(assetA, borrowerAddr)
	require.NoError(t, err)
	require.Equal(t, "996", borrowerBal.Dec())
}

func TestFlashFeeQuote(t *testing.T) {
	lender, _, _ := newTestLender(t)

	fee, err := lender.FlashFee(assetA, uint256.NewInt(10_000))
	require.NoError(t, err)
	require.Equal(t, "9", fee.Dec())

	_, err = lender.FlashFee(common.Address{0xCC}, uint256.NewInt(10_000))
	require.ErrorIs(t, err, ErrUnsupportedAsset)
}

func TestFlashLoanCeiling(t *testing.T) {
	lender, _, l := newTestLender(t)
	borrower := &repayingBorrower{ledger: l, lender: lender}

	max, err := lender.MaxFlashLoan(assetA)
	require.NoError(t, err)
	require.Equal(t, "10000", max.Dec())

	err = lender.Flash(provider, borrower, assetA, uint256.NewInt(10_001), nil)
	require.ErrorIs(t, err, ErrCeilingExceeded)

	// Tightening the ceiling takes effect immediately.
	lender.SetCeilingBps(assetA, 100)
	err = lender.Flash(provider, borrower, assetA, uint256.NewInt(1001), nil)
	require.ErrorIs(t, err, ErrCeilingExceeded)
	require.NoError(t, lender.Flash(provider, borrower, assetA, uint256.NewInt(1000), nil))
}

func TestFlashLoanValidation(t *testing.T) {
	lender, _, l := newTestLender(t)
	borrower := &repayingBorrower{ledger: l, lender: lender}

	err := lender.Flash(provider, borrower, common.Address{0xCC}, uint256.NewInt(100), nil)
	require.ErrorIs(t, err, ErrUnsupportedAsset)

	err = lender.Flash(provider, borrower, assetA, uint256.NewInt(0), nil)
	require.ErrorIs(t, err, ErrZeroAmount)

	lender.ApproveBorrower(borrowerAddr, false)
	err = lender.Flash(provider, borrower, assetA, uint256.NewInt(100), nil)
	require.ErrorIs(t, err, ErrBorrowerNotApproved)
}

func TestFlashLoanRepaymentShortfall(t *testing.T) {
	lender, eng, _ := newTestLender(t)

	err := lender.Flash(provider, keepingBorrower{}, assetA, uint256.NewInt(5000), nil)
	require.ErrorIs(t, err, ErrRepaymentShortfall)

	// Reserves are untouched and the pool is usable again.
	pool, err := eng.PoolByPair(assetA, assetB)
	require.NoError(t, err)
	require.Equal(t, "100000", pool.Reserve0.Dec())

	_, err = eng.GetAmountOut(assetA, assetB, uint256.NewInt(100))
	require.NoError(t, err)
}

func TestFlashLoanFeeOnTransferSettle(t *testing.T) {
	feeAsset := common.Address{0xCC}
	l := assets.NewMemoryLedger()
	l.RegisterAsset(feeAsset, 300)
	l.RegisterAsset(assetB, 0)
	approval := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	require.NoError(t, l.SetBalance(feeAsset, provider, uint256.NewInt(1_000_000)))
	require.NoError(t, l.SetBalance(assetB, provider, uint256.NewInt(1_000_000)))
	require.NoError(t, l.Approve(feeAsset, provider, engineAddr, approval))
	require.NoError(t, l.Approve(assetB, provider, engineAddr, approval))
	require.NoError(t, l.SetBalance(feeAsset, borrowerAddr, uint256.NewInt(1000)))

	eng := engine.New(engineAddr, l, nil, engine.DefaultParams(), nil)
	_, err := eng.CreatePool(feeAsset, assetB)
	require.NoError(t, err)
	_, err = eng.AddLiquidity(provider, feeAsset, assetB,
		uint256.NewInt(100_000), uint256.NewInt(100_000),
		uint256.NewInt(0), uint256.NewInt(0),
		provider, 1000, 0)
	require.NoError(t, err)

	lender := New(lenderAddr, eng, l, feeAsset, assetB, nil)
	lender.ApproveBorrower(borrowerAddr, true)

	// The lender itself receives principal plus fee, but the 3% shaved off
	// the settle leg leaves the engine short of the principal: the loan must
	// fail rather than record reserves the engine does not hold.
	borrower := &overpayingBorrower{ledger: l, lender: lender, push: uint256.NewInt(5200)}
	err = lender.Flash(provider, borrower, feeAsset, uint256.NewInt(5000), nil)
	require.ErrorIs(t, err, ErrRepaymentShortfall)

	pool, err := eng.PoolByPair(feeAsset, assetB)
	require.NoError(t, err)
	reserve := pool.Reserve0
	if pool.Token0 != feeAsset {
		reserve = pool.Reserve1
	}
	require.Equal(t, "97000", reserve.Dec())
}

func TestFlashLoanWrongSentinel(t *testing.T) {
	lender, _, l := newTestLender(t)
	borrower := &confusedBorrower{ledger: l, lender: lender}

	err := lender.Flash(provider, borrower, assetA, uint256.NewInt(5000), nil)
	require.ErrorIs(t, err, ErrBadSentinel)
}

func TestFlashLoanBlocksMidLoanTrading(t *testing.T) {
	lender, eng, _ := newTestLender(t)

	err := lender.Flash(provider, &tradingBorrower{engine: eng}, assetA, uint256.NewInt(5000), nil)
	require.ErrorIs(t, err, engine.ErrReentrant)
}

func TestFlashLoanWhilePaused(t *testing.T) {
	lender, eng, l := newTestLender(t)
	borrower := &repayingBorrower{ledger: l, lender: lender}

	eng.SetPaused(true)
	err := lender.Flash(provider, borrower, assetA, uint256.NewInt(100), nil)
	require.ErrorIs(t, err, engine.ErrPaused)
}
