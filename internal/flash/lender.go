// Package flash implements uncollateralized single-operation loans against a
// pool's reserves. The lender holds the pool's exclusive lock for the whole
// borrower callback, so reserves cannot be traded against mid-loan, and
// repayment is judged by the lender's measured balance delta rather than any
// value the borrower reports.
package flash

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammcore/internal/assets"
	"ammcore/internal/engine"
	"ammcore/internal/fixedpoint"
)

const (
	// DefaultFeeBps is the flash-loan fee (9 bps of the principal).
	DefaultFeeBps uint64 = 9

	// DefaultCeilingBps bounds a loan to this share of the asset's reserve.
	DefaultCeilingBps uint64 = 1000
)

// SuccessSentinel is the value a borrower callback must return for the loan
// to settle. A zero or garbage return from a confused callee never passes.
var SuccessSentinel = common.Hash(crypto.Keccak256Hash([]byte("FlashBorrower.onFlashLoan")))

var (
	ErrBorrowerNotApproved = errors.New("borrower is not approved")
	ErrUnsupportedAsset    = errors.New("asset is not part of the lender's pair")
	ErrZeroAmount          = errors.New("zero loan amount")
	ErrCeilingExceeded     = errors.New("loan exceeds reserve ceiling")
	ErrBadSentinel         = errors.New("borrower returned wrong sentinel")
	ErrRepaymentShortfall  = errors.New("repayment below principal plus fee")
)

// Borrower receives loaned funds and must push principal plus fee back to the
// lender's address before returning.
type Borrower interface {
	Address() common.Address
	OnFlashLoan(initiator common.Address, asset common.Address, amount, fee *uint256.Int, data []byte) (common.Hash, error)
}

// Lender issues flash loans from one pool's reserves. It has its own holder
// address on the asset ledger, used only as the repayment sink.
type Lender struct {
	addr     common.Address
	engine   *engine.Engine
	assets   assets.Ledger
	assetA   common.Address
	assetB   common.Address
	feeBps   uint64
	approved map[common.Address]bool
	ceilings map[common.Address]uint64
	logger   *zap.Logger
}

// New builds a lender for the engine's (assetA, assetB) pool, collecting
// repayments at addr.
func New(addr common.Address, eng *engine.Engine, assetLedger assets.Ledger, assetA, assetB common.Address, logger *zap.Logger) *Lender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lender{
		addr:     addr,
		engine:   eng,
		assets:   assetLedger,
		assetA:   assetA,
		assetB:   assetB,
		feeBps:   DefaultFeeBps,
		approved: make(map[common.Address]bool),
		ceilings: make(map[common.Address]uint64),
		logger:   logger,
	}
}

// Address returns the lender's repayment address.
func (l *Lender) Address() common.Address {
	return l.addr
}

// ApproveBorrower toggles a borrower's standing. Effective immediately; only
// the governance layer calls this.
func (l *Lender) ApproveBorrower(borrower common.Address, ok bool) {
	if ok {
		l.approved[borrower] = true
	} else {
		delete(l.approved, borrower)
	}
	l.logger.Info("flash borrower standing changed",
		zap.String("borrower", borrower.Hex()),
		zap.Bool("approved", ok),
	)
}

// SetCeilingBps overrides the per-asset loan ceiling; zero restores the
// default.
func (l *Lender) SetCeilingBps(asset common.Address, bps uint64) {
	if bps == 0 {
		delete(l.ceilings, asset)
	} else {
		l.ceilings[asset] = bps
	}
	l.logger.Info("flash ceiling changed",
		zap.String("asset", asset.Hex()),
		zap.Uint64("ceiling_bps", bps),
	)
}

func (l *Lender) ceilingBps(asset common.Address) uint64 {
	if bps, ok := l.ceilings[asset]; ok {
		return bps
	}
	return DefaultCeilingBps
}

// FlashFee quotes the fee for borrowing amount of asset.
func (l *Lender) FlashFee(asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if asset != l.assetA && asset != l.assetB {
		return nil, ErrUnsupportedAsset
	}
	return fixedpoint.BpsMul(amount, l.feeBps)
}

// MaxFlashLoan returns the largest currently borrowable amount of asset.
func (l *Lender) MaxFlashLoan(asset common.Address) (*uint256.Int, error) {
	if asset != l.assetA && asset != l.assetB {
		return nil, ErrUnsupportedAsset
	}
	pool, err := l.engine.PoolByPair(l.assetA, l.assetB)
	if err != nil {
		return nil, err
	}
	reserveA, reserveB := pool.Reserve0, pool.Reserve1
	reserve := reserveA
	if asset != pool.Token0 {
		reserve = reserveB
	}
	return fixedpoint.BpsMul(reserve, l.ceilingBps(asset))
}

// Flash loans amount of asset to borrower for the duration of its callback.
// Either the loan settles fully — principal back in the pool, fee folded into
// the reserve — or an error is returned and no engine state changes.
func (l *Lender) Flash(initiator common.Address, borrower Borrower, asset common.Address, amount *uint256.Int, data []byte) error {
	if !l.approved[borrower.Address()] {
		return ErrBorrowerNotApproved
	}
	if asset != l.assetA && asset != l.assetB {
		return ErrUnsupportedAsset
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	// Hold the pool's operation lock across the callback: no swap, provision,
	// or nested loan can observe the reserves while the principal is out.
	pool, err := l.engine.BeginExclusive(l.assetA, l.assetB)
	if err != nil {
		return err
	}
	defer l.engine.EndExclusive(pool)

	reserve := pool.Reserve0
	if asset != pool.Token0 {
		reserve = pool.Reserve1
	}
	ceiling, err := fixedpoint.BpsMul(reserve, l.ceilingBps(asset))
	if err != nil {
		return err
	}
	if amount.Gt(ceiling) {
		return ErrCeilingExceeded
	}

	fee, err := fixedpoint.BpsMul(amount, l.feeBps)
	if err != nil {
		return err
	}
	owed, err := fixedpoint.CheckedAdd(amount, fee)
	if err != nil {
		return err
	}

	before, err := l.assets.BalanceOf(asset, l.addr)
	if err != nil {
		return fmt.Errorf("lender balance before loan: %w", err)
	}
	if err := l.assets.Transfer(asset, l.engine.Address(), borrower.Address(), amount); err != nil {
		return fmt.Errorf("disburse principal: %w", err)
	}

	sentinel, err := borrower.OnFlashLoan(initiator, asset, amount, fee, data)
	if err != nil {
		return fmt.Errorf("borrower callback: %w", err)
	}
	if sentinel != SuccessSentinel {
		return ErrBadSentinel
	}

	// Repayment is what actually arrived at the lender, not what the borrower
	// claims to have sent.
	after, err := l.assets.BalanceOf(asset, l.addr)
	if err != nil {
		return fmt.Errorf("lender balance after loan: %w", err)
	}
	repaid := new(uint256.Int).Sub(after, before)
	if repaid.Lt(owed) {
		return ErrRepaymentShortfall
	}

	// The settle transfer is measured too: a fee-on-transfer asset shaves the
	// amount in flight, and the engine may only record what actually arrived.
	engineBefore, err := l.assets.BalanceOf(asset, l.engine.Address())
	if err != nil {
		return fmt.Errorf("engine balance before settle: %w", err)
	}
	if err := l.assets.Transfer(asset, l.addr, l.engine.Address(), owed); err != nil {
		return fmt.Errorf("settle principal: %w", err)
	}
	engineAfter, err := l.assets.BalanceOf(asset, l.engine.Address())
	if err != nil {
		return fmt.Errorf("engine balance after settle: %w", err)
	}
	settled := new(uint256.Int).Sub(engineAfter, engineBefore)
	if settled.Lt(amount) {
		return ErrRepaymentShortfall
	}
	credit := new(uint256.Int).Sub(settled, amount)
	if err := l.engine.DepositFlashFee(l.assetA, l.assetB, asset, credit); err != nil {
		return err
	}

	l.logger.Info("flash loan settled",
		zap.String("asset", asset.Hex()),
		zap.String("borrower", borrower.Address().Hex()),
		zap.String("amount", amount.Dec()),
		zap.String("fee", credit.Dec()),
	)
	return nil
}
