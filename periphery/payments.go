// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package periphery

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// CallContext carries the call-scoped settlement state of one top-level
// call: who initiated it and how much of the attached native coin is still
// unspent. It is created once at call entry and shared by every operation in
// a batch, so a single attached amount can fund several chained operations
// before one final refund. The pending balance must reach a known state
// (fully spent or explicitly refunded) before the call returns.
type CallContext struct {
	caller    common.Address
	value     *uint256.Int // attached at entry
	remaining *uint256.Int // unspent portion
}

// NewCallContext records the attached native value at call entry, moving it
// from the caller to the contract account.
func NewCallContext(bank Bank, contract, caller common.Address, value *big.Int) (*CallContext, error) {
	attached := uint256.NewInt(0)
	if value != nil && value.Sign() > 0 {
		v, overflow := uint256.FromBig(value)
		if overflow {
			return nil, ErrValueOverflow
		}
		if err := bank.NativeTransfer(caller, contract, v); err != nil {
			return nil, err
		}
		attached = v
	}
	return &CallContext{
		caller:    caller,
		value:     attached.Clone(),
		remaining: attached.Clone(),
	}, nil
}

// Caller returns the originator of the top-level call.
func (ctx *CallContext) Caller() common.Address { return ctx.caller }

// Value returns the native amount attached at entry.
func (ctx *CallContext) Value() *big.Int { return ctx.value.ToBig() }

// Remaining returns the unspent portion of the attached value.
func (ctx *CallContext) Remaining() *big.Int { return ctx.remaining.ToBig() }

func (ctx *CallContext) spend(amount *uint256.Int) {
	ctx.remaining = new(uint256.Int).Sub(ctx.remaining, amount)
}

func (ctx *CallContext) restore(remaining *uint256.Int) {
	ctx.remaining = remaining.Clone()
}

// Payments sources and returns funds for the periphery contracts. Stateless
// per call apart from the CallContext it is handed.
type Payments struct {
	bank    Bank
	account common.Address // this contract
	wnative common.Address // wrapped-native asset
}

// NewPayments wires a settlement helper for the contract account.
func NewPayments(bank Bank, account, wnative common.Address) *Payments {
	return &Payments{bank: bank, account: account, wnative: wnative}
}

// Bank returns the asset-transfer collaborator.
func (p *Payments) Bank() Bank { return p.bank }

// Account returns the contract account settled against.
func (p *Payments) Account() common.Address { return p.account }

// WNative returns the wrapped-native asset address.
func (p *Payments) WNative() common.Address { return p.wnative }

// pay settles value owed to recipient, sourcing funds in order of
// preference: caller-attached native coin (when the asset is the
// wrapped-native token and the payer is the caller with value attached),
// the contract's own pre-funded balance, or an allowance-based pull from
// the payer.
func (p *Payments) pay(ctx *CallContext, token, payer, recipient common.Address, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return nil
	}

	if token == p.wnative && ctx != nil && payer == ctx.caller && !ctx.value.IsZero() {
		// Caller attached native coin: wrap out of the pending balance and
		// deliver the wrapped asset.
		v, overflow := uint256.FromBig(value)
		if overflow {
			return ErrValueOverflow
		}
		if ctx.remaining.Lt(v) {
			return fmt.Errorf("%w: need %s, %s pending", ErrInsufficientValue, value, ctx.remaining)
		}
		if err := p.bank.Deposit(p.account, value); err != nil {
			return err
		}
		if err := p.bank.Transfer(token, p.account, recipient, value); err != nil {
			return err
		}
		ctx.spend(v)
		return nil
	}

	if payer == p.account {
		// Funds already held by the contract, e.g. a prior hop's output.
		return p.bank.Transfer(token, p.account, recipient, value)
	}

	return p.bank.TransferFrom(token, p.account, payer, recipient, value)
}

// RefundNative sends any pending unspent native balance back to recipient
// and zeroes the counter. Idempotent: a no-op when nothing is pending.
func (p *Payments) RefundNative(ctx *CallContext, recipient common.Address) error {
	if ctx == nil || ctx.remaining.IsZero() {
		return nil
	}
	if err := p.bank.NativeTransfer(p.account, recipient, ctx.remaining); err != nil {
		return err
	}
	ctx.remaining = uint256.NewInt(0)
	return nil
}

// SweepToken pays out the contract's entire balance of token to recipient.
// Fails when the balance is below amountMin.
func (p *Payments) SweepToken(token common.Address, amountMin *big.Int, recipient common.Address) error {
	balance := p.bank.BalanceOf(token, p.account)
	if amountMin != nil && balance.Cmp(amountMin) < 0 {
		return fmt.Errorf("%w: balance %s below minimum %s", ErrInsufficientBalance, balance, amountMin)
	}
	if balance.Sign() == 0 {
		return nil
	}
	return p.bank.Transfer(token, p.account, recipient, balance)
}

// UnwrapNative unwraps the contract's entire wrapped-native balance and
// sends the native coin to recipient. Fails when the balance is below
// amountMin.
func (p *Payments) UnwrapNative(amountMin *big.Int, recipient common.Address) error {
	balance := p.bank.BalanceOf(p.wnative, p.account)
	if amountMin != nil && balance.Cmp(amountMin) < 0 {
		return fmt.Errorf("%w: balance %s below minimum %s", ErrInsufficientBalance, balance, amountMin)
	}
	if balance.Sign() == 0 {
		return nil
	}
	if err := p.bank.Withdraw(p.account, balance); err != nil {
		return err
	}
	v, overflow := uint256.FromBig(balance)
	if overflow {
		return ErrValueOverflow
	}
	return p.bank.NativeTransfer(p.account, recipient, v)
}
