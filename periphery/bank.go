// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package periphery

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// MemBank is the in-memory reference implementation of Bank: fungible token
// balances with allowances, native coin balances, and a wrapped-native asset
// backed 1:1 by pooled native coin. Snapshots are full copies kept on a
// stack; reverting to a snapshot discards everything after it.
type MemBank struct {
	mu sync.RWMutex

	wnative common.Address

	// balances maps token -> account -> balance
	balances map[common.Address]map[common.Address]*big.Int

	// allowances maps token -> owner -> spender -> remaining allowance
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int

	native map[common.Address]*uint256.Int

	snapshots []*bankSnapshot
}

type bankSnapshot struct {
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	native     map[common.Address]*uint256.Int
}

// NewMemBank creates an empty bank with the given wrapped-native asset
// address.
func NewMemBank(wnative common.Address) *MemBank {
	return &MemBank{
		wnative:    wnative,
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		native:     make(map[common.Address]*uint256.Int),
	}
}

// SetBalance seeds a token balance. Test and bootstrap helper.
func (b *MemBank) SetBalance(token, account common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creditLocked(token, account, amount)
}

// SetNativeBalance seeds a native coin balance. Test and bootstrap helper.
func (b *MemBank) SetNativeBalance(account common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.native[account] = amount.Clone()
}

// BalanceOf returns the token balance of account.
func (b *MemBank) BalanceOf(token, account common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if accounts, ok := b.balances[token]; ok {
		if bal, ok := accounts[account]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return big.NewInt(0)
}

// Transfer moves tokens out of a balance the caller already controls.
func (b *MemBank) Transfer(token, from, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debitLocked(token, from, amount); err != nil {
		return fmt.Errorf("%w: token %s account %s", ErrInsufficientBalance, token.Hex(), from.Hex())
	}
	b.creditLocked(token, to, amount)
	return nil
}

// TransferFrom pulls tokens from owner on behalf of spender, consuming
// allowance.
func (b *MemBank) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	allowance := b.allowanceLocked(token, from, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s owner %s spender %s", ErrAllowanceExceeded, token.Hex(), from.Hex(), spender.Hex())
	}
	if err := b.debitLocked(token, from, amount); err != nil {
		return fmt.Errorf("%w: token %s from %s", ErrTransferFailed, token.Hex(), from.Hex())
	}
	allowance.Sub(allowance, amount)
	b.creditLocked(token, to, amount)
	return nil
}

// Approve grants spender an allowance over owner's tokens.
func (b *MemBank) Approve(token, owner, spender common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	owners, ok := b.allowances[token]
	if !ok {
		owners = make(map[common.Address]map[common.Address]*big.Int)
		b.allowances[token] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		owners[owner] = spenders
	}
	spenders[spender] = new(big.Int).Set(amount)
}

// NativeBalanceOf returns the native coin balance of account.
func (b *MemBank) NativeBalanceOf(account common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bal, ok := b.native[account]; ok {
		return bal.Clone()
	}
	return uint256.NewInt(0)
}

// NativeTransfer moves native coin between accounts.
func (b *MemBank) NativeTransfer(from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.native[from]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("%w: native account %s", ErrInsufficientBalance, from.Hex())
	}
	b.native[from] = new(uint256.Int).Sub(bal, amount)
	toBal, ok := b.native[to]
	if !ok {
		toBal = uint256.NewInt(0)
	}
	b.native[to] = new(uint256.Int).Add(toBal, amount)
	return nil
}

// Deposit wraps native coin into the wrapped-native token.
func (b *MemBank) Deposit(account common.Address, amount *big.Int) error {
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrValueOverflow
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.native[account]
	if !ok || bal.Lt(v) {
		return fmt.Errorf("%w: native account %s", ErrInsufficientBalance, account.Hex())
	}
	b.native[account] = new(uint256.Int).Sub(bal, v)
	b.creditLocked(b.wnative, account, amount)
	return nil
}

// Withdraw unwraps the wrapped-native token back into native coin.
func (b *MemBank) Withdraw(account common.Address, amount *big.Int) error {
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrValueOverflow
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debitLocked(b.wnative, account, amount); err != nil {
		return fmt.Errorf("%w: wrapped-native account %s", ErrInsufficientBalance, account.Hex())
	}
	bal, ok := b.native[account]
	if !ok {
		bal = uint256.NewInt(0)
	}
	b.native[account] = new(uint256.Int).Add(bal, v)
	return nil
}

// Snapshot records the current state and returns its id.
func (b *MemBank) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := &bankSnapshot{
		balances:   make(map[common.Address]map[common.Address]*big.Int, len(b.balances)),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int, len(b.allowances)),
		native:     make(map[common.Address]*uint256.Int, len(b.native)),
	}
	for token, accounts := range b.balances {
		cp := make(map[common.Address]*big.Int, len(accounts))
		for acct, bal := range accounts {
			cp[acct] = new(big.Int).Set(bal)
		}
		snap.balances[token] = cp
	}
	for token, owners := range b.allowances {
		ocp := make(map[common.Address]map[common.Address]*big.Int, len(owners))
		for owner, spenders := range owners {
			scp := make(map[common.Address]*big.Int, len(spenders))
			for spender, amt := range spenders {
				scp[spender] = new(big.Int).Set(amt)
			}
			ocp[owner] = scp
		}
		snap.allowances[token] = ocp
	}
	for acct, bal := range b.native {
		snap.native[acct] = bal.Clone()
	}

	b.snapshots = append(b.snapshots, snap)
	return len(b.snapshots) - 1
}

// RevertToSnapshot restores the state recorded by Snapshot and discards it
// along with every later snapshot.
func (b *MemBank) RevertToSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id < 0 || id >= len(b.snapshots) {
		return
	}
	snap := b.snapshots[id]
	b.balances = snap.balances
	b.allowances = snap.allowances
	b.native = snap.native
	b.snapshots = b.snapshots[:id]
}

// DiscardSnapshot releases a snapshot without restoring it. Only the top of
// the stack can be discarded; checkpoints commit in reverse creation order.
func (b *MemBank) DiscardSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == len(b.snapshots)-1 {
		b.snapshots = b.snapshots[:id]
	}
}

func (b *MemBank) allowanceLocked(token, owner, spender common.Address) *big.Int {
	if owners, ok := b.allowances[token]; ok {
		if spenders, ok := owners[owner]; ok {
			if amt, ok := spenders[spender]; ok {
				return amt
			}
		}
	}
	return big.NewInt(0)
}

func (b *MemBank) debitLocked(token, account common.Address, amount *big.Int) error {
	accounts, ok := b.balances[token]
	if !ok {
		return ErrInsufficientBalance
	}
	bal, ok := accounts[account]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	return nil
}

func (b *MemBank) creditLocked(token, account common.Address, amount *big.Int) {
	accounts, ok := b.balances[token]
	if !ok {
		accounts = make(map[common.Address]*big.Int)
		b.balances[token] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = big.NewInt(0)
		accounts[account] = bal
	}
	bal.Add(bal, amount)
}
