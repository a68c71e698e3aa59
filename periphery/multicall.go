// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package periphery

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// Batch execution: an ordered list of otherwise-independent operations runs
// as one atomic unit against the same contract, sharing a single
// CallContext. A failing operation undoes the whole batch, partial
// settlements included. Operations are a tagged variant dispatched through a
// per-contract handler table, not opaque bytes.

// Errors - batch executor
var (
	ErrUnknownOp   = errors.New("unsupported batch operation")
	ErrInvalidCall = errors.New("missing call parameters")
)

// OpKind tags a batch operation.
type OpKind uint8

const (
	OpCreatePool OpKind = iota + 1
	OpMint
	OpIncreaseLiquidity
	OpDecreaseLiquidity
	OpCollect
	OpBurn
	OpExactInput
	OpExactInputSingle
	OpExactOutput
	OpExactOutputSingle
	OpRefundNative
	OpSweepToken
	OpUnwrapNative
)

// CreatePoolParams are the arguments to the pool-creation operation.
type CreatePoolParams struct {
	Token0       common.Address
	Token1       common.Address
	Fee          uint24
	SqrtPriceX96 *big.Int
}

// BurnParams are the arguments to the burn operation.
type BurnParams struct {
	TokenID uint64
}

// RefundNativeParams are the arguments to the refund operation.
type RefundNativeParams struct {
	Recipient common.Address
}

// SweepTokenParams are the arguments to the sweep operation.
type SweepTokenParams struct {
	Token     common.Address
	AmountMin *big.Int
	Recipient common.Address
}

// UnwrapNativeParams are the arguments to the unwrap operation.
type UnwrapNativeParams struct {
	AmountMin *big.Int
	Recipient common.Address
}

// Call is one tagged operation in a batch. Exactly the variant matching
// Kind must be set.
type Call struct {
	Kind OpKind

	CreatePool        *CreatePoolParams
	Mint              *MintParams
	IncreaseLiquidity *IncreaseLiquidityParams
	DecreaseLiquidity *DecreaseLiquidityParams
	Collect           *CollectParams
	Burn              *BurnParams
	ExactInput        *ExactInputParams
	ExactInputSingle  *ExactInputSingleParams
	ExactOutput       *ExactOutputParams
	ExactOutputSingle *ExactOutputSingleParams
	RefundNative      *RefundNativeParams
	SweepToken        *SweepTokenParams
	UnwrapNative      *UnwrapNativeParams
}

// CallResult aggregates the return values of one batch operation; only the
// fields relevant to the operation kind are set.
type CallResult struct {
	Kind      OpKind
	TokenID   uint64
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
	AmountIn  *big.Int
	AmountOut *big.Int
}

type opHandler func(ctx *CallContext, call Call) (CallResult, error)

// Multicall executes the calls in order as one atomic unit and returns
// their results in order. The pending native balance is shared across the
// batch, enabling "mint consuming part of the attached value, then refund
// the remainder" as two operations in one call.
func (pm *PositionManager) Multicall(ctx *CallContext, calls []Call) ([]CallResult, error) {
	cp := pm.checkpoint(ctx)
	results, err := runBatch(pm.handlers, ctx, calls)
	if err != nil {
		pm.revert(ctx, cp)
		return nil, err
	}
	pm.commit(cp)
	return results, nil
}

// Multicall executes the calls in order as one atomic unit. See
// PositionManager.Multicall.
func (r *SwapRouter) Multicall(ctx *CallContext, calls []Call) ([]CallResult, error) {
	cp := r.checkpoint(ctx)
	results, err := runBatch(r.handlers, ctx, calls)
	if err != nil {
		r.revert(ctx, cp)
		return nil, err
	}
	r.commit(cp)
	return results, nil
}

func runBatch(handlers map[OpKind]opHandler, ctx *CallContext, calls []Call) ([]CallResult, error) {
	results := make([]CallResult, 0, len(calls))
	for i, call := range calls {
		handler, ok := handlers[call.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: call %d kind %d", ErrUnknownOp, i, call.Kind)
		}
		res, err := handler(ctx, call)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (pm *PositionManager) positionHandlers() map[OpKind]opHandler {
	return map[OpKind]opHandler{
		OpCreatePool: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.CreatePool
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			if _, err := pm.CreateAndInitializePoolIfNecessary(p.Token0, p.Token1, p.Fee, p.SqrtPriceX96); err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpCreatePool}, nil
		},
		OpMint: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.Mint
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			tokenID, liquidity, amount0, amount1, err := pm.mint(ctx, *p)
			if err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpMint, TokenID: tokenID, Liquidity: liquidity, Amount0: amount0, Amount1: amount1}, nil
		},
		OpIncreaseLiquidity: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.IncreaseLiquidity
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			liquidity, amount0, amount1, err := pm.increaseLiquidity(ctx, *p)
			if err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpIncreaseLiquidity, TokenID: p.TokenID, Liquidity: liquidity, Amount0: amount0, Amount1: amount1}, nil
		},
		OpDecreaseLiquidity: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.DecreaseLiquidity
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			amount0, amount1, err := pm.decreaseLiquidity(ctx, *p)
			if err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpDecreaseLiquidity, TokenID: p.TokenID, Amount0: amount0, Amount1: amount1}, nil
		},
		OpCollect: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.Collect
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			amount0, amount1, err := pm.collect(ctx, *p)
			if err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpCollect, TokenID: p.TokenID, Amount0: amount0, Amount1: amount1}, nil
		},
		OpBurn: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.Burn
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			if err := pm.burn(ctx, p.TokenID); err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpBurn, TokenID: p.TokenID}, nil
		},
		OpRefundNative: refundHandler(pm.Payments),
		OpSweepToken:   sweepHandler(pm.Payments),
		OpUnwrapNative: unwrapHandler(pm.Payments),
	}
}

func (r *SwapRouter) swapHandlers() map[OpKind]opHandler {
	return map[OpKind]opHandler{
		OpExactInput: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.ExactInput
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			amountOut, err := r.exactInput(ctx, *p)
			if err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpExactInput, AmountIn: p.AmountIn, AmountOut: amountOut}, nil
		},
		OpExactInputSingle: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.ExactInputSingle
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			amountOut, err := r.exactInputSingle(ctx, *p)
			if err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpExactInputSingle, AmountIn: p.AmountIn, AmountOut: amountOut}, nil
		},
		OpExactOutput: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.ExactOutput
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			amountIn, err := r.exactOutput(ctx, *p)
			if err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpExactOutput, AmountIn: amountIn, AmountOut: p.AmountOut}, nil
		},
		OpExactOutputSingle: func(ctx *CallContext, call Call) (CallResult, error) {
			p := call.ExactOutputSingle
			if p == nil {
				return CallResult{}, ErrInvalidCall
			}
			amountIn, err := r.exactOutputSingle(ctx, *p)
			if err != nil {
				return CallResult{}, err
			}
			return CallResult{Kind: OpExactOutputSingle, AmountIn: amountIn, AmountOut: p.AmountOut}, nil
		},
		OpRefundNative: refundHandler(r.Payments),
		OpSweepToken:   sweepHandler(r.Payments),
		OpUnwrapNative: unwrapHandler(r.Payments),
	}
}

func refundHandler(p *Payments) opHandler {
	return func(ctx *CallContext, call Call) (CallResult, error) {
		params := call.RefundNative
		if params == nil {
			return CallResult{}, ErrInvalidCall
		}
		if err := p.RefundNative(ctx, params.Recipient); err != nil {
			return CallResult{}, err
		}
		return CallResult{Kind: OpRefundNative}, nil
	}
}

func sweepHandler(p *Payments) opHandler {
	return func(ctx *CallContext, call Call) (CallResult, error) {
		params := call.SweepToken
		if params == nil {
			return CallResult{}, ErrInvalidCall
		}
		if err := p.SweepToken(params.Token, params.AmountMin, params.Recipient); err != nil {
			return CallResult{}, err
		}
		return CallResult{Kind: OpSweepToken}, nil
	}
}

func unwrapHandler(p *Payments) opHandler {
	return func(ctx *CallContext, call Call) (CallResult, error) {
		params := call.UnwrapNative
		if params == nil {
			return CallResult{}, ErrInvalidCall
		}
		if err := p.UnwrapNative(params.AmountMin, params.Recipient); err != nil {
			return CallResult{}, err
		}
		return CallResult{Kind: OpUnwrapNative}, nil
	}
}
