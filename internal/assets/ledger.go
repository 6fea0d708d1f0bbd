// Package assets defines the external asset-ledger collaborator consumed by
// the pool engine and provides an in-memory reference implementation used by
// the replay tool and tests.
package assets

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownAsset          = errors.New("unknown asset")
	ErrInsufficientBalance   = errors.New("insufficient asset balance")
	ErrInsufficientAllowance = errors.New("insufficient asset allowance")
)

// Ledger is the per-asset balance interface the engine calls out to. The
// engine never assumes the transferred amount equals the requested amount;
// fee-on-transfer assets deduct a cut in flight.
type Ledger interface {
	BalanceOf(asset, holder common.Address) (*uint256.Int, error)
	Transfer(asset, from, to common.Address, amount *uint256.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount *uint256.Int) error
	Approve(asset, owner, spender common.Address, amount *uint256.Int) error
}

type assetState struct {
	transferFeeBps uint64
	balances       map[common.Address]*uint256.Int
	allowances     map[common.Address]map[common.Address]*uint256.Int
}

// MemoryLedger is an in-memory Ledger with optional per-asset transfer fees
// and snapshot/restore, which the replay runner uses to emulate the host's
// atomic rollback around each operation.
type MemoryLedger struct {
	assets map[common.Address]*assetState
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{assets: make(map[common.Address]*assetState)}
}

// RegisterAsset creates an asset with a transfer fee in basis points
// (0 for a plain asset). Re-registering resets the fee but keeps balances.
func (l *MemoryLedger) RegisterAsset(asset common.Address, transferFeeBps uint64) {
	st, ok := l.assets[asset]
	if !ok {
		st = &assetState{
			balances:   make(map[common.Address]*uint256.Int),
			allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		}
		l.assets[asset] = st
	}
	st.transferFeeBps = transferFeeBps
}

// SetBalance overwrites holder's balance; test and journal seeding only.
func (l *MemoryLedger) SetBalance(asset, holder common.Address, amount *uint256.Int) error {
	st, ok := l.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	st.balances[holder] = new(uint256.Int).Set(amount)
	return nil
}

func (l *MemoryLedger) BalanceOf(asset, holder common.Address) (*uint256.Int, error) {
	st, ok := l.assets[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if bal, ok := st.balances[holder]; ok {
		return new(uint256.Int).Set(bal), nil
	}
	return uint256.NewInt(0), nil
}

func (l *MemoryLedger) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	st, ok := l.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	return st.move(from, to, amount)
}

func (l *MemoryLedger) TransferFrom(asset, spender, from, to common.Address, amount *uint256.Int) error {
	st, ok := l.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	allowance := uint256.NewInt(0)
	if m, ok := st.allowances[from]; ok {
		if a, ok := m[spender]; ok {
			allowance = a
		}
	}
	if allowance.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := st.move(from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

func (l *MemoryLedger) Approve(asset, owner, spender common.Address, amount *uint256.Int) error {
	st, ok := l.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	m, ok := st.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		st.allowances[owner] = m
	}
	m[spender] = new(uint256.Int).Set(amount)
	return nil
}

// move debits the full amount from the sender and credits the amount net of
// the asset's transfer fee; the fee disappears from circulation, matching how
// deflationary assets behave on chain.
func (st *assetState) move(from, to common.Address, amount *uint256.Int) error {
	bal, ok := st.balances[from]
	if !ok || bal.Lt(amount) {
		return ErrInsufficientBalance
	}

	received := new(uint256.Int).Set(amount)
	if st.transferFeeBps > 0 {
		fee := new(uint256.Int).Mul(amount, uint256.NewInt(st.transferFeeBps))
		fee.Div(fee, uint256.NewInt(10_000))
		received.Sub(received, fee)
	}

	bal.Sub(bal, amount)
	dst, ok := st.balances[to]
	if !ok {
		dst = uint256.NewInt(0)
		st.balances[to] = dst
	}
	dst.Add(dst, received)
	return nil
}

// Snapshot captures a deep copy of all balances and allowances.
func (l *MemoryLedger) Snapshot() *MemoryLedger {
	cp := NewMemoryLedger()
	for asset, st := range l.assets {
		dup := &assetState{
			transferFeeBps: st.transferFeeBps,
			balances:       make(map[common.Address]*uint256.Int, len(st.balances)),
			allowances:     make(map[common.Address]map[common.Address]*uint256.Int, len(st.allowances)),
		}
		for h, b := range st.balances {
			dup.balances[h] = new(uint256.Int).Set(b)
		}
		for owner, m := range st.allowances {
			dm := make(map[common.Address]*uint256.Int, len(m))
			for spender, a := range m {
				dm[spender] = new(uint256.Int).Set(a)
			}
			dup.allowances[owner] = dm
		}
		cp.assets[asset] = dup
	}
	return cp
}

// Restore replaces the ledger's state with a previously taken snapshot.
func (l *MemoryLedger) Restore(snap *MemoryLedger) {
	l.assets = snap.Snapshot().assets
}
