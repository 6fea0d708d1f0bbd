package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"ammcore/internal/ledger"
)

// MaxAmount is the fixed-width ceiling on any single amount (2^112 - 1).
// Reserves stay below it, so downstream narrowing never overflows.
var MaxAmount = func() *uint256.Int {
	max := new(uint256.Int).Lsh(uint256.NewInt(1), 112)
	return max.SubUint64(max, 1)
}()

// SortAssets returns the pair in canonical (ascending address) order.
func SortAssets(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) < 0 {
		return a, b
	}
	return b, a
}

// PairID derives the canonical pair identifier from the sorted addresses.
func PairID(a, b common.Address) common.Hash {
	t0, t1 := SortAssets(a, b)
	return crypto.Keccak256Hash(t0.Bytes(), t1.Bytes())
}

// Pool holds the reserve state for one canonical asset pair.
type Pool struct {
	Token0   common.Address
	Token1   common.Address
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
	Claims   *ledger.Token

	// locked is the per-pool single-operation-in-flight guard. Held across
	// external asset-transfer calls; nested entry fails immediately.
	locked bool
}

func newPool(token0, token1 common.Address, claims *ledger.Token) *Pool {
	return &Pool{
		Token0:   token0,
		Token1:   token1,
		Reserve0: uint256.NewInt(0),
		Reserve1: uint256.NewInt(0),
		Claims:   claims,
	}
}

func (p *Pool) lock() error {
	if p.locked {
		return ErrReentrant
	}
	p.locked = true
	return nil
}

func (p *Pool) unlock() {
	p.locked = false
}

// orient maps reserves into (assetA, assetB) argument order.
func (p *Pool) orient(assetA common.Address) (reserveA, reserveB *uint256.Int) {
	if assetA == p.Token0 {
		return p.Reserve0, p.Reserve1
	}
	return p.Reserve1, p.Reserve0
}

// setOriented writes reserves given in (assetA, assetB) argument order back
// into canonical order.
func (p *Pool) setOriented(assetA common.Address, reserveA, reserveB *uint256.Int) {
	if assetA == p.Token0 {
		p.Reserve0, p.Reserve1 = reserveA, reserveB
	} else {
		p.Reserve0, p.Reserve1 = reserveB, reserveA
	}
}

// k returns the current constant-product invariant.
func (p *Pool) k() *uint256.Int {
	return new(uint256.Int).Mul(p.Reserve0, p.Reserve1)
}
