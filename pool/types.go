// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool implements a simplified constant-product pool engine behind
// the periphery.Pool and periphery.PoolFactory interfaces. Amounts use the
// simplified curve (output = input * L / (L + input)) rather than exact
// tick-crossing math; fee growth is tracked globally per pool in Q128.128.
package pool

import "errors"

// uint24 type alias for fees
type uint24 = uint32

// int24 type alias for ticks
type int24 = int32

// Errors - pool engine
var (
	ErrPoolExists         = errors.New("pool already exists")
	ErrPoolNotInitialized = errors.New("pool not initialized")
	ErrIdenticalTokens    = errors.New("identical token addresses")
	ErrInvalidFee         = errors.New("invalid fee")
	ErrInvalidSqrtPrice   = errors.New("invalid sqrt price")
	ErrInvalidTickRange   = errors.New("invalid tick range")
	ErrTickOutOfRange     = errors.New("tick out of range")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrNoLiquidity        = errors.New("no liquidity in pool")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPriceLimitReached     = errors.New("price limit reached")
	ErrSettlementFailed      = errors.New("settlement failed")
	ErrReentrantCall         = errors.New("reentrant pool call")
)
