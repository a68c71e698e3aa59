// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package periphery

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
)

// SwapRouter walks a decoded path hop by hop, invoking the pool engine's
// swap primitive and reconciling deltas through the settlement helper. It
// never refunds implicitly: callers batch RefundNative alongside the swap so
// one attached value can fund several chained operations.
type SwapRouter struct {
	*Payments

	factory PoolFactory
	log     log.Logger
	now     func() int64

	handlers map[OpKind]opHandler
}

// NewSwapRouter creates a router settling against SwapRouterAccount.
func NewSwapRouter(bank Bank, factory PoolFactory, wnative common.Address, logger log.Logger) *SwapRouter {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	r := &SwapRouter{
		Payments: NewPayments(bank, SwapRouterAccount, wnative),
		factory:  factory,
		log:      logger,
		now:      func() int64 { return time.Now().Unix() },
	}
	r.handlers = r.swapHandlers()
	return r
}

// ExactInputParams are the arguments to ExactInput. Path runs input to
// output.
type ExactInputParams struct {
	Path             []byte
	Recipient        common.Address
	Deadline         int64
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// ExactInputSingleParams are the arguments to ExactInputSingle.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               uint24
	Recipient         common.Address
	Deadline          int64
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ExactOutputParams are the arguments to ExactOutput. Path is supplied
// pre-reversed: it runs output to input.
type ExactOutputParams struct {
	Path            []byte
	Recipient       common.Address
	Deadline        int64
	AmountOut       *big.Int
	AmountInMaximum *big.Int
}

// ExactOutputSingleParams are the arguments to ExactOutputSingle.
type ExactOutputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               uint24
	Recipient         common.Address
	Deadline          int64
	AmountOut         *big.Int
	AmountInMaximum   *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ExactInput swaps a fixed input along the path, forwarding each hop's
// output as the next hop's input. Only the aggregate AmountOutMinimum
// bounds slippage; per-hop price limits are disabled.
func (r *SwapRouter) ExactInput(ctx *CallContext, params ExactInputParams) (amountOut *big.Int, err error) {
	cp := r.checkpoint(ctx)
	amountOut, err = r.exactInput(ctx, params)
	if err != nil {
		r.revert(ctx, cp)
		return nil, err
	}
	r.commit(cp)
	return amountOut, nil
}

func (r *SwapRouter) exactInput(ctx *CallContext, params ExactInputParams) (*big.Int, error) {
	if err := r.checkDeadline(params.Deadline); err != nil {
		return nil, err
	}
	if NumPools(params.Path) == 0 {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedPath, len(params.Path))
	}

	path := params.Path
	amountIn := params.AmountIn
	payer := ctx.Caller()

	var amountOut *big.Int
	for {
		hasMultiple := HasMultiplePools(path)

		// Intermediate output lands on the router and funds the next hop;
		// only the final hop pays the recipient.
		recipient := params.Recipient
		if hasMultiple {
			recipient = r.account
		}

		out, err := r.swapHopExactIn(ctx, path, payer, recipient, amountIn)
		if err != nil {
			return nil, err
		}
		if !hasMultiple {
			amountOut = out
			break
		}
		payer = r.account
		path = SkipToken(path)
		amountIn = out
	}

	if params.AmountOutMinimum != nil && amountOut.Cmp(params.AmountOutMinimum) < 0 {
		return nil, fmt.Errorf("%w: out %s, minimum %s", ErrTooLittleReceived, amountOut, params.AmountOutMinimum)
	}
	r.log.Debug("exact input", "amountIn", params.AmountIn, "amountOut", amountOut, "pools", NumPools(params.Path))
	return amountOut, nil
}

func (r *SwapRouter) swapHopExactIn(ctx *CallContext, path []byte, payer, recipient common.Address, amountIn *big.Int) (*big.Int, error) {
	tokenIn, tokenOut, fee, err := DecodeFirstPool(path)
	if err != nil {
		return nil, err
	}
	pool, err := r.poolFor(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	zeroForOne := tokenIn == pool.Token0()
	return pool.SwapExactIn(recipient, zeroForOne, amountIn, nil, r.payTo(ctx, payer, pool.Address()))
}

// ExactInputSingle swaps a fixed input across one pool, with an optional
// price limit.
func (r *SwapRouter) ExactInputSingle(ctx *CallContext, params ExactInputSingleParams) (amountOut *big.Int, err error) {
	cp := r.checkpoint(ctx)
	amountOut, err = r.exactInputSingle(ctx, params)
	if err != nil {
		r.revert(ctx, cp)
		return nil, err
	}
	r.commit(cp)
	return amountOut, nil
}

func (r *SwapRouter) exactInputSingle(ctx *CallContext, params ExactInputSingleParams) (*big.Int, error) {
	if err := r.checkDeadline(params.Deadline); err != nil {
		return nil, err
	}
	pool, err := r.poolFor(params.TokenIn, params.TokenOut, params.Fee)
	if err != nil {
		return nil, err
	}
	zeroForOne := params.TokenIn == pool.Token0()
	amountOut, err := pool.SwapExactIn(params.Recipient, zeroForOne, params.AmountIn, params.SqrtPriceLimitX96, r.payTo(ctx, ctx.Caller(), pool.Address()))
	if err != nil {
		return nil, err
	}
	if params.AmountOutMinimum != nil && amountOut.Cmp(params.AmountOutMinimum) < 0 {
		return nil, fmt.Errorf("%w: out %s, minimum %s", ErrTooLittleReceived, amountOut, params.AmountOutMinimum)
	}
	return amountOut, nil
}

// ExactOutput works backward from the desired final output: each hop's
// settlement callback recurses into the next (more input-ward) hop until the
// outermost input is paid by the caller.
func (r *SwapRouter) ExactOutput(ctx *CallContext, params ExactOutputParams) (amountIn *big.Int, err error) {
	cp := r.checkpoint(ctx)
	amountIn, err = r.exactOutput(ctx, params)
	if err != nil {
		r.revert(ctx, cp)
		return nil, err
	}
	r.commit(cp)
	return amountIn, nil
}

func (r *SwapRouter) exactOutput(ctx *CallContext, params ExactOutputParams) (*big.Int, error) {
	if err := r.checkDeadline(params.Deadline); err != nil {
		return nil, err
	}
	if NumPools(params.Path) == 0 {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedPath, len(params.Path))
	}

	var amountIn *big.Int
	if err := r.swapHopExactOut(ctx, params.Path, params.Recipient, params.AmountOut, &amountIn); err != nil {
		return nil, err
	}
	if params.AmountInMaximum != nil && amountIn.Cmp(params.AmountInMaximum) > 0 {
		return nil, fmt.Errorf("%w: in %s, maximum %s", ErrTooMuchRequested, amountIn, params.AmountInMaximum)
	}
	r.log.Debug("exact output", "amountOut", params.AmountOut, "amountIn", amountIn, "pools", NumPools(params.Path))
	return amountIn, nil
}

// swapHopExactOut executes one reversed-path hop. requiredIn receives the
// input-most hop's input amount, which is what the caller ends up paying.
func (r *SwapRouter) swapHopExactOut(ctx *CallContext, path []byte, recipient common.Address, amountOut *big.Int, requiredIn **big.Int) error {
	tokenOut, tokenIn, fee, err := DecodeFirstPool(path)
	if err != nil {
		return err
	}
	pool, err := r.poolFor(tokenIn, tokenOut, fee)
	if err != nil {
		return err
	}
	zeroForOne := tokenIn == pool.Token0()

	_, err = pool.SwapExactOut(recipient, zeroForOne, amountOut, nil, func(token common.Address, amount *big.Int) error {
		if HasMultiplePools(path) {
			return r.swapHopExactOut(ctx, SkipToken(path), pool.Address(), amount, requiredIn)
		}
		*requiredIn = new(big.Int).Set(amount)
		return r.pay(ctx, token, ctx.Caller(), pool.Address(), amount)
	})
	return err
}

// ExactOutputSingle swaps across one pool for a fixed output.
func (r *SwapRouter) ExactOutputSingle(ctx *CallContext, params ExactOutputSingleParams) (amountIn *big.Int, err error) {
	cp := r.checkpoint(ctx)
	amountIn, err = r.exactOutputSingle(ctx, params)
	if err != nil {
		r.revert(ctx, cp)
		return nil, err
	}
	r.commit(cp)
	return amountIn, nil
}

func (r *SwapRouter) exactOutputSingle(ctx *CallContext, params ExactOutputSingleParams) (*big.Int, error) {
	if err := r.checkDeadline(params.Deadline); err != nil {
		return nil, err
	}
	pool, err := r.poolFor(params.TokenIn, params.TokenOut, params.Fee)
	if err != nil {
		return nil, err
	}
	zeroForOne := params.TokenIn == pool.Token0()
	amountIn, err := pool.SwapExactOut(params.Recipient, zeroForOne, params.AmountOut, params.SqrtPriceLimitX96, r.payTo(ctx, ctx.Caller(), pool.Address()))
	if err != nil {
		return nil, err
	}
	if params.AmountInMaximum != nil && amountIn.Cmp(params.AmountInMaximum) > 0 {
		return nil, fmt.Errorf("%w: in %s, maximum %s", ErrTooMuchRequested, amountIn, params.AmountInMaximum)
	}
	return amountIn, nil
}

func (r *SwapRouter) poolFor(tokenA, tokenB common.Address, fee uint24) (Pool, error) {
	pool, ok := r.factory.GetPool(tokenA, tokenB, fee)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, tokenA.Hex(), tokenB.Hex(), fee)
	}
	return pool, nil
}

func (r *SwapRouter) payTo(ctx *CallContext, payer, recipient common.Address) PayFunc {
	return func(token common.Address, amount *big.Int) error {
		return r.pay(ctx, token, payer, recipient, amount)
	}
}

func (r *SwapRouter) checkDeadline(deadline int64) error {
	if now := r.now(); now > deadline {
		return fmt.Errorf("%w: now %d, deadline %d", ErrExpired, now, deadline)
	}
	return nil
}

// routerCheckpoint captures bank and pool state plus the pending native
// balance. The router keeps no durable ledger of its own.
type routerCheckpoint struct {
	bank      int
	factory   int
	remaining *big.Int
}

func (r *SwapRouter) checkpoint(ctx *CallContext) routerCheckpoint {
	cp := routerCheckpoint{
		bank:    r.bank.Snapshot(),
		factory: r.factory.Snapshot(),
	}
	if ctx != nil {
		cp.remaining = ctx.Remaining()
	}
	return cp
}

func (r *SwapRouter) revert(ctx *CallContext, cp routerCheckpoint) {
	r.bank.RevertToSnapshot(cp.bank)
	r.factory.RevertToSnapshot(cp.factory)
	if ctx != nil && cp.remaining != nil {
		rem, _ := uint256.FromBig(cp.remaining)
		ctx.restore(rem)
	}
}

// commit releases a checkpoint after a successful operation, in reverse
// creation order.
func (r *SwapRouter) commit(cp routerCheckpoint) {
	r.factory.DiscardSnapshot(cp.factory)
	r.bank.DiscardSnapshot(cp.bank)
}
