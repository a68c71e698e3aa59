// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package periphery implements the settlement layer that sits between users
// and the pool engine: a position manager that represents liquidity ownership
// as transferable tokens, and a swap router that executes single- or
// multi-hop trades. Value movement is threaded through an explicit
// call-scoped context so that a single attached amount of native coin can
// fund several chained operations before one final refund.
package periphery

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Well-known accounts for the periphery contracts
// LP-aligned format: 0x0000000000000000000000000000000000LPNUM
var (
	PositionManagerAccount = common.HexToAddress("0x0000000000000000000000000000000000009110")
	SwapRouterAccount      = common.HexToAddress("0x0000000000000000000000000000000000009112")
)

// Pool fee tiers (hundredths of a basis point)
const (
	Fee001 uint24 = 100    // 0.01% - stablecoins
	Fee005 uint24 = 500    // 0.05% - stable pairs
	Fee030 uint24 = 3000   // 0.30% - standard
	Fee100 uint24 = 10000  // 1.00% - exotic pairs
	FeeMax uint24 = 100000 // 10% max fee
)

// FeePrecision is the denominator for fee-tier arithmetic.
const FeePrecision = 1_000_000

// Errors - settlement
var (
	ErrInsufficientValue   = errors.New("insufficient attached value")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrAllowanceExceeded   = errors.New("allowance exceeded")
	ErrValueOverflow       = errors.New("value exceeds 256 bits")
)

// Errors - position ledger
var (
	ErrExpired            = errors.New("transaction too old")
	ErrPriceSlippage      = errors.New("price slippage check")
	ErrNotAuthorized      = errors.New("not approved or owner")
	ErrInvalidTokenID     = errors.New("invalid token ID")
	ErrPositionNotCleared    = errors.New("position not cleared")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidSignature      = errors.New("invalid permit signature")
)

// Errors - swap orchestration
var (
	ErrTooLittleReceived = errors.New("too little received")
	ErrTooMuchRequested  = errors.New("too much requested")
	ErrMalformedPath     = errors.New("malformed path")
	ErrPoolNotFound      = errors.New("pool not found")
)

// Constants for fixed-point math
var (
	Q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)

	// MaxUint128 caps per-position liquidity and owed accumulators.
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// Tick bounds shared with the pool engine
const (
	MinTick int24 = -887272
	MaxTick int24 = 887272
)

// uint24 type alias for fees
type uint24 = uint32

// int24 type alias for ticks
type int24 = int32

// PoolKey identifies the pool backing a position.
// Tokens are sorted by address (Token0 < Token1) regardless of swap
// direction.
type PoolKey struct {
	Token0 common.Address
	Token1 common.Address
	Fee    uint24
}

// SortTokens returns the pair in canonical pool-key order.
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if tokenA.Cmp(tokenB) < 0 {
		return tokenA, tokenB
	}
	return tokenB, tokenA
}

// ID computes the unique pool identifier.
func (pk PoolKey) ID() [32]byte {
	h := blake3.New()
	h.Write(pk.Token0.Bytes())
	h.Write(pk.Token1.Bytes())

	var feeBytes [4]byte
	binary.BigEndian.PutUint32(feeBytes[:], uint32(pk.Fee))
	h.Write(feeBytes[1:]) // uint24

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// Position is a liquidity-position record owned by the position manager.
// Liquidity and the owed accumulators fit a 128-bit range; the fee-growth
// snapshots are Q128.128 values taken at last touch.
type Position struct {
	Pool                     PoolKey
	TickLower                int24
	TickUpper                int24
	Liquidity                *big.Int
	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
	TokensOwed0              *big.Int
	TokensOwed1              *big.Int
}

func newPosition(pool PoolKey, tickLower, tickUpper int24) *Position {
	return &Position{
		Pool:                     pool,
		TickLower:                tickLower,
		TickUpper:                tickUpper,
		Liquidity:                big.NewInt(0),
		FeeGrowthInside0LastX128: big.NewInt(0),
		FeeGrowthInside1LastX128: big.NewInt(0),
		TokensOwed0:              big.NewInt(0),
		TokensOwed1:              big.NewInt(0),
	}
}

func (p *Position) clone() *Position {
	return &Position{
		Pool:                     p.Pool,
		TickLower:                p.TickLower,
		TickUpper:                p.TickUpper,
		Liquidity:                new(big.Int).Set(p.Liquidity),
		FeeGrowthInside0LastX128: new(big.Int).Set(p.FeeGrowthInside0LastX128),
		FeeGrowthInside1LastX128: new(big.Int).Set(p.FeeGrowthInside1LastX128),
		TokensOwed0:              new(big.Int).Set(p.TokensOwed0),
		TokensOwed1:              new(big.Int).Set(p.TokensOwed1),
	}
}

// Bank is the asset-transfer collaborator: fungible token balances with
// allowance-based pulls, native coin balances, and the wrapped-native asset.
// Snapshot/RevertToSnapshot give the batch executor its all-or-nothing
// semantics.
type Bank interface {
	// Fungible tokens
	BalanceOf(token, account common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
	Approve(token, owner, spender common.Address, amount *big.Int)

	// Native coin
	NativeBalanceOf(account common.Address) *uint256.Int
	NativeTransfer(from, to common.Address, amount *uint256.Int) error

	// Wrapped-native asset
	Deposit(account common.Address, amount *big.Int) error
	Withdraw(account common.Address, amount *big.Int) error

	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// PayFunc settles one side of a pool operation: the pool engine invokes it
// with the token and amount it is owed, and the callback must deliver the
// funds before returning.
type PayFunc func(token common.Address, amount *big.Int) error

// Pool is the narrow surface of the external pool collaborator. Curve math
// and tick-indexed liquidity mechanics live behind it.
type Pool interface {
	Address() common.Address
	Token0() common.Address
	Token1() common.Address
	FeeTier() uint24

	// AddLiquidity consumes up to the desired amounts and returns the
	// liquidity actually minted plus the amounts consumed. The pay callback
	// must settle both amounts before AddLiquidity returns.
	AddLiquidity(owner common.Address, tickLower, tickUpper int24, amount0Desired, amount1Desired *big.Int, pay PayFunc) (liquidity, amount0, amount1 *big.Int, err error)

	// RemoveLiquidity unlocks principal from the curve. Tokens stay pooled
	// until collected.
	RemoveLiquidity(owner common.Address, tickLower, tickUpper int24, liquidity *big.Int) (amount0, amount1 *big.Int, err error)

	// Collect transfers previously unlocked or accrued tokens out of the
	// pool's reserves.
	Collect(recipient common.Address, amount0, amount1 *big.Int) error

	SwapExactIn(recipient common.Address, zeroForOne bool, amountIn, sqrtPriceLimitX96 *big.Int, pay PayFunc) (amountOut *big.Int, err error)
	SwapExactOut(recipient common.Address, zeroForOne bool, amountOut, sqrtPriceLimitX96 *big.Int, pay PayFunc) (amountIn *big.Int, err error)

	// FeeGrowthInside reports the Q128 fee growth attributable to a tick
	// range, used for owed-fee snapshot differencing.
	FeeGrowthInside(tickLower, tickUpper int24) (feeGrowth0X128, feeGrowth1X128 *big.Int)
}

// PoolFactory resolves and creates pools.
type PoolFactory interface {
	GetPool(tokenA, tokenB common.Address, fee uint24) (Pool, bool)
	CreatePool(tokenA, tokenB common.Address, fee uint24, sqrtPriceX96 *big.Int) (Pool, error)

	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}
