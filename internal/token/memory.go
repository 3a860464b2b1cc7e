// Package token provides the collateral-asset and debt-token capability
// implementations: an in-memory ERC20-style ledger for standalone mode and
// tests, and an on-chain ERC20 adapter over go-ethereum.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ladderfi/bondd/internal/domain"
)

// MemoryToken is an in-memory fungible token with ERC20 transfer semantics:
// balances, owner->spender allowances, mint, and burn. Safe for concurrent
// use.
type MemoryToken struct {
	mu          sync.RWMutex
	symbol      string
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	totalSupply *big.Int
}

// NewMemoryToken creates an empty in-memory token.
func NewMemoryToken(symbol string) *MemoryToken {
	return &MemoryToken{
		symbol:      symbol,
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		totalSupply: new(big.Int),
	}
}

// Symbol returns the token's display symbol.
func (t *MemoryToken) Symbol() string { return t.symbol }

// Mint creates amount new tokens in to's balance.
func (t *MemoryToken) Mint(to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	t.totalSupply.Add(t.totalSupply, amount)
}

// Burn destroys amount tokens from holder's balance.
func (t *MemoryToken) Burn(holder common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(holder, amount); err != nil {
		return err
	}
	t.totalSupply.Sub(t.totalSupply, amount)
	return nil
}

// Transfer moves amount from from's balance to to's balance.
func (t *MemoryToken) Transfer(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (t *MemoryToken) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(amount)
}

// TransferFrom moves amount from owner to to, spending spender's allowance.
func (t *MemoryToken) TransferFrom(spender, owner, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowance(owner, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%s: %w: spender %s has %s, needs %s",
			t.symbol, domain.ErrInsufficientAllowance, spender.Hex(), allowance, amount)
	}
	if err := t.debit(owner, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	allowance.Sub(allowance, amount)
	return nil
}

// BalanceOf returns a copy of holder's balance.
func (t *MemoryToken) BalanceOf(holder common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bal, ok := t.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// TotalSupply returns a copy of the current total supply.
func (t *MemoryToken) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

func (t *MemoryToken) allowance(owner, spender common.Address) *big.Int {
	m, ok := t.allowances[owner]
	if !ok {
		return new(big.Int)
	}
	a, ok := m[spender]
	if !ok {
		return new(big.Int)
	}
	return a
}

func (t *MemoryToken) credit(to common.Address, amount *big.Int) {
	bal, ok := t.balances[to]
	if !ok {
		bal = new(big.Int)
		t.balances[to] = bal
	}
	bal.Add(bal, amount)
}

func (t *MemoryToken) debit(from common.Address, amount *big.Int) error {
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have = bal
		}
		return fmt.Errorf("%s: %w: %s has %s, needs %s",
			t.symbol, domain.ErrInsufficientBalance, from.Hex(), have, amount)
	}
	bal.Sub(bal, amount)
	return nil
}

// MemoryCollateral adapts a MemoryToken to the domain.CollateralAsset
// capability. The ledger's holding is the self address; TransferIn spends
// the depositor's allowance toward self, matching ERC20 pull semantics.
type MemoryCollateral struct {
	tok  *MemoryToken
	self common.Address
}

// NewMemoryCollateral creates a collateral-asset view of tok with the
// ledger's holding at self.
func NewMemoryCollateral(tok *MemoryToken, self common.Address) *MemoryCollateral {
	return &MemoryCollateral{tok: tok, self: self}
}

func (c *MemoryCollateral) TransferIn(_ context.Context, from common.Address, amount *big.Int) error {
	return c.tok.TransferFrom(c.self, from, c.self, amount)
}

func (c *MemoryCollateral) TransferOut(_ context.Context, to common.Address, amount *big.Int) error {
	return c.tok.Transfer(c.self, to, amount)
}

func (c *MemoryCollateral) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	return c.tok.BalanceOf(holder), nil
}

func (c *MemoryCollateral) SelfBalance(_ context.Context) (*big.Int, error) {
	return c.tok.BalanceOf(c.self), nil
}

// MemoryDebt adapts a MemoryToken to the domain.DebtToken capability with
// the ledger's holding at self.
type MemoryDebt struct {
	tok  *MemoryToken
	self common.Address
}

// NewMemoryDebt creates a debt-token view of tok with the ledger's holding
// at self.
func NewMemoryDebt(tok *MemoryToken, self common.Address) *MemoryDebt {
	return &MemoryDebt{tok: tok, self: self}
}

func (d *MemoryDebt) MintToSelf(_ context.Context, amount *big.Int) error {
	d.tok.Mint(d.self, amount)
	return nil
}

func (d *MemoryDebt) TransferFromSelf(_ context.Context, to common.Address, amount *big.Int) error {
	return d.tok.Transfer(d.self, to, amount)
}

func (d *MemoryDebt) BurnFrom(_ context.Context, holder common.Address, amount *big.Int) error {
	return d.tok.Burn(holder, amount)
}

func (d *MemoryDebt) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	return d.tok.BalanceOf(holder), nil
}

func (d *MemoryDebt) SelfBalance(_ context.Context) (*big.Int, error) {
	return d.tok.BalanceOf(d.self), nil
}

func (d *MemoryDebt) TotalSupply(_ context.Context) (*big.Int, error) {
	return d.tok.TotalSupply(), nil
}
