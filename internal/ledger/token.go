// Package ledger implements the fungible accounting primitive backing
// liquidity claims. One Token instance exists per pool and is minted and
// burned exclusively by the pool engine.
package ledger

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammcore/internal/fixedpoint"
)

var (
	ErrNotMinter             = errors.New("caller is not the token minter")
	ErrZeroHolder            = errors.New("zero holder address")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrSupplyOverflow        = errors.New("total supply overflow")
)

// BlackholeHolder receives the permanently locked minimum-liquidity claim.
// No key exists for it, so the balance can never move.
var BlackholeHolder = common.Address{
	1, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Token is a minimal fungible ledger: balances, allowances, total supply.
type Token struct {
	minter      common.Address
	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
}

// NewToken creates an empty ledger whose supply is controlled by minter.
func NewToken(minter common.Address) *Token {
	return &Token{
		minter:      minter,
		totalSupply: uint256.NewInt(0),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// TotalSupply returns the outstanding claim supply.
func (t *Token) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(t.totalSupply)
}

// BalanceOf returns holder's balance.
func (t *Token) BalanceOf(holder common.Address) *uint256.Int {
	if bal, ok := t.balances[holder]; ok {
		return new(uint256.Int).Set(bal)
	}
	return uint256.NewInt(0)
}

// Allowance returns how much spender may move on owner's behalf.
func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(uint256.Int).Set(a)
		}
	}
	return uint256.NewInt(0)
}

// Mint creates amount new claims for recipient. Only the minter may call.
func (t *Token) Mint(caller, recipient common.Address, amount *uint256.Int) error {
	if caller != t.minter {
		return ErrNotMinter
	}
	if recipient == (common.Address{}) {
		return ErrZeroHolder
	}
	newSupply, err := fixedpoint.CheckedAdd(t.totalSupply, amount)
	if err != nil {
		return ErrSupplyOverflow
	}
	t.totalSupply = newSupply
	t.credit(recipient, amount)
	return nil
}

// Burn destroys amount claims held by holder. Only the minter may call.
func (t *Token) Burn(caller, holder common.Address, amount *uint256.Int) error {
	if caller != t.minter {
		return ErrNotMinter
	}
	if err := t.debit(holder, amount); err != nil {
		return err
	}
	t.totalSupply = new(uint256.Int).Sub(t.totalSupply, amount)
	return nil
}

// Transfer moves amount from caller to recipient.
func (t *Token) Transfer(caller, recipient common.Address, amount *uint256.Int) error {
	if recipient == (common.Address{}) {
		return ErrZeroHolder
	}
	if err := t.debit(caller, amount); err != nil {
		return err
	}
	t.credit(recipient, amount)
	return nil
}

// Approve sets spender's allowance over caller's balance.
func (t *Token) Approve(caller, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroHolder
	}
	m, ok := t.allowances[caller]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[caller] = m
	}
	m[spender] = new(uint256.Int).Set(amount)
	return nil
}

// TransferFrom moves amount from owner to recipient, consuming caller's
// allowance.
func (t *Token) TransferFrom(caller, owner, recipient common.Address, amount *uint256.Int) error {
	if recipient == (common.Address{}) {
		return ErrZeroHolder
	}
	allowance := t.Allowance(owner, caller)
	if allowance.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := t.debit(owner, amount); err != nil {
		return err
	}
	t.credit(recipient, amount)
	t.allowances[owner][caller] = allowance.Sub(allowance, amount)
	return nil
}

func (t *Token) credit(holder common.Address, amount *uint256.Int) {
	bal, ok := t.balances[holder]
	if !ok {
		bal = uint256.NewInt(0)
		t.balances[holder] = bal
	}
	bal.Add(bal, amount)
}

func (t *Token) debit(holder common.Address, amount *uint256.Int) error {
	bal, ok := t.balances[holder]
	if !ok || bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	return nil
}
