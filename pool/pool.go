// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/periphery/periphery"
)

// position tracks liquidity owned inside one tick range.
// Key: BLAKE3(owner || tickLower || tickUpper)
type position struct {
	liquidity *big.Int
}

// Pool holds the state of one token pair at one fee tier. Reserves live in
// the bank under the pool's derived address; the pay callback must deliver
// owed input there before the operation returns, verified by balance delta.
type Pool struct {
	addr common.Address
	key  periphery.PoolKey
	bank periphery.Bank

	mu sync.RWMutex

	// inUse guards against re-entry: mutating operations hold mu for their
	// whole duration, including the settlement callback, so a callback that
	// calls back into the same pool must fail instead of deadlocking.
	inUse atomic.Bool

	sqrtPriceX96 *big.Int
	tick         int24

	// liquidity is the sum of in-range position liquidity.
	liquidity *big.Int

	feeGrowthGlobal0X128 *big.Int
	feeGrowthGlobal1X128 *big.Int

	positions map[[32]byte]*position
}

func newPool(bank periphery.Bank, key periphery.PoolKey, sqrtPriceX96 *big.Int) *Pool {
	id := key.ID()
	return &Pool{
		addr:                 common.BytesToAddress(id[:20]),
		key:                  key,
		bank:                 bank,
		sqrtPriceX96:         new(big.Int).Set(sqrtPriceX96),
		tick:                 tickFromSqrtPrice(sqrtPriceX96),
		liquidity:            big.NewInt(0),
		feeGrowthGlobal0X128: big.NewInt(0),
		feeGrowthGlobal1X128: big.NewInt(0),
		positions:            make(map[[32]byte]*position),
	}
}

func (p *Pool) Address() common.Address { return p.addr }
func (p *Pool) Token0() common.Address  { return p.key.Token0 }
func (p *Pool) Token1() common.Address  { return p.key.Token1 }
func (p *Pool) FeeTier() uint24         { return p.key.Fee }

// SqrtPriceX96 returns the current pool price.
func (p *Pool) SqrtPriceX96() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.sqrtPriceX96)
}

// Liquidity returns the in-range liquidity.
func (p *Pool) Liquidity() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.liquidity)
}

// positionKey creates the position identifier
func positionKey(owner common.Address, tickLower, tickUpper int24) [32]byte {
	h := blake3.New()
	h.Write(owner.Bytes())
	var ticks [8]byte
	putInt24(ticks[:4], tickLower)
	putInt24(ticks[4:], tickUpper)
	h.Write(ticks[:])

	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

func putInt24(dst []byte, v int24) {
	u := uint32(v)
	dst[0] = byte(u >> 24)
	dst[1] = byte(u >> 16)
	dst[2] = byte(u >> 8)
	dst[3] = byte(u)
}

func checkTicks(tickLower, tickUpper int24) error {
	if tickLower >= tickUpper {
		return ErrInvalidTickRange
	}
	if tickLower < periphery.MinTick || tickUpper > periphery.MaxTick {
		return ErrTickOutOfRange
	}
	return nil
}

// AddLiquidity mints liquidity into the given range. Amounts are computed
// from the range's relation to the current tick: in range both tokens are
// consumed one-for-one with liquidity, out of range only the token the
// range is denominated in. The pay callback must settle both amounts into
// the pool's reserves before returning.
func (p *Pool) AddLiquidity(
	owner common.Address,
	tickLower, tickUpper int24,
	amount0Desired, amount1Desired *big.Int,
	pay periphery.PayFunc,
) (liquidity, amount0, amount1 *big.Int, err error) {
	if err := checkTicks(tickLower, tickUpper); err != nil {
		return nil, nil, nil, err
	}
	if !p.inUse.CompareAndSwap(false, true) {
		return nil, nil, nil, ErrReentrantCall
	}
	defer p.inUse.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()

	liquidity, amount0, amount1 = p.liquidityAmounts(tickLower, tickUpper, amount0Desired, amount1Desired)
	if liquidity.Sign() == 0 {
		return nil, nil, nil, ErrNoLiquidity
	}

	if err := p.settle(p.key.Token0, amount0, pay); err != nil {
		return nil, nil, nil, err
	}
	if err := p.settle(p.key.Token1, amount1, pay); err != nil {
		return nil, nil, nil, err
	}

	key := positionKey(owner, tickLower, tickUpper)
	pos, ok := p.positions[key]
	if !ok {
		pos = &position{liquidity: big.NewInt(0)}
		p.positions[key] = pos
	}
	pos.liquidity.Add(pos.liquidity, liquidity)

	if p.inRange(tickLower, tickUpper) {
		p.liquidity.Add(p.liquidity, liquidity)
	}

	return liquidity, amount0, amount1, nil
}

// RemoveLiquidity burns liquidity from the given range and reports the
// principal released. Tokens stay in the pool's reserves until collected.
func (p *Pool) RemoveLiquidity(
	owner common.Address,
	tickLower, tickUpper int24,
	liquidity *big.Int,
) (amount0, amount1 *big.Int, err error) {
	if err := checkTicks(tickLower, tickUpper); err != nil {
		return nil, nil, err
	}
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if !p.inUse.CompareAndSwap(false, true) {
		return nil, nil, ErrReentrantCall
	}
	defer p.inUse.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()

	key := positionKey(owner, tickLower, tickUpper)
	pos, ok := p.positions[key]
	if !ok || pos.liquidity.Cmp(liquidity) < 0 {
		return nil, nil, ErrInsufficientLiquidity
	}

	amount0, amount1 = p.amountsForLiquidity(tickLower, tickUpper, liquidity)

	pos.liquidity.Sub(pos.liquidity, liquidity)
	if pos.liquidity.Sign() == 0 {
		delete(p.positions, key)
	}
	if p.inRange(tickLower, tickUpper) {
		p.liquidity.Sub(p.liquidity, liquidity)
	}

	return amount0, amount1, nil
}

// Collect transfers previously released principal or accrued fees out of
// the pool's reserves.
func (p *Pool) Collect(recipient common.Address, amount0, amount1 *big.Int) error {
	if !p.inUse.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer p.inUse.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()

	if amount0 != nil && amount0.Sign() > 0 {
		if err := p.bank.Transfer(p.key.Token0, p.addr, recipient, amount0); err != nil {
			return err
		}
	}
	if amount1 != nil && amount1.Sign() > 0 {
		if err := p.bank.Transfer(p.key.Token1, p.addr, recipient, amount1); err != nil {
			return err
		}
	}
	return nil
}

// SwapExactIn trades a fixed input for as much output as the curve yields.
// The fee is taken from the input token and folded into that side's global
// fee growth.
func (p *Pool) SwapExactIn(
	recipient common.Address,
	zeroForOne bool,
	amountIn, sqrtPriceLimitX96 *big.Int,
	pay periphery.PayFunc,
) (amountOut *big.Int, err error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !p.inUse.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	defer p.inUse.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.liquidity.Sign() == 0 {
		return nil, ErrNoLiquidity
	}
	if err := p.checkPriceLimit(zeroForOne, sqrtPriceLimitX96); err != nil {
		return nil, err
	}

	fee := mulDivCeil(amountIn, big.NewInt(int64(p.key.Fee)), feeDenominator)
	inLessFee := new(big.Int).Sub(amountIn, fee)

	// Simplified: output = input * liquidity / (liquidity + input)
	numerator := new(big.Int).Mul(inLessFee, p.liquidity)
	denominator := new(big.Int).Add(p.liquidity, inLessFee)
	amountOut = numerator.Div(numerator, denominator)

	tokenIn, tokenOut := p.key.Token0, p.key.Token1
	if !zeroForOne {
		tokenIn, tokenOut = tokenOut, tokenIn
	}

	if err := p.settle(tokenIn, amountIn, pay); err != nil {
		return nil, err
	}
	if amountOut.Sign() > 0 {
		if err := p.bank.Transfer(tokenOut, p.addr, recipient, amountOut); err != nil {
			return nil, err
		}
	}

	p.accrueFee(zeroForOne, fee)
	return amountOut, nil
}

// SwapExactOut trades as little input as the curve requires for a fixed
// output. The required input is grossed up so the fee applies to the full
// amount paid.
func (p *Pool) SwapExactOut(
	recipient common.Address,
	zeroForOne bool,
	amountOut, sqrtPriceLimitX96 *big.Int,
	pay periphery.PayFunc,
) (amountIn *big.Int, err error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !p.inUse.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	defer p.inUse.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.liquidity.Sign() == 0 {
		return nil, ErrNoLiquidity
	}
	if amountOut.Cmp(p.liquidity) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := p.checkPriceLimit(zeroForOne, sqrtPriceLimitX96); err != nil {
		return nil, err
	}

	// Invert the exact-in curve, rounding against the trader.
	inLessFee := mulDivCeil(amountOut, p.liquidity, new(big.Int).Sub(p.liquidity, amountOut))
	amountIn = mulDivCeil(inLessFee, feeDenominator, big.NewInt(int64(FeePrecision-p.key.Fee)))
	fee := new(big.Int).Sub(amountIn, inLessFee)

	tokenIn, tokenOut := p.key.Token0, p.key.Token1
	if !zeroForOne {
		tokenIn, tokenOut = tokenOut, tokenIn
	}

	if err := p.settle(tokenIn, amountIn, pay); err != nil {
		return nil, err
	}
	if err := p.bank.Transfer(tokenOut, p.addr, recipient, amountOut); err != nil {
		return nil, err
	}

	p.accrueFee(zeroForOne, fee)
	return amountIn, nil
}

// FeeGrowthInside reports the Q128 fee growth attributable to a tick range.
// The simplified engine tracks growth globally, so a range sees the global
// accumulators while the current tick is inside it and nothing otherwise.
func (p *Pool) FeeGrowthInside(tickLower, tickUpper int24) (feeGrowth0X128, feeGrowth1X128 *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.inRange(tickLower, tickUpper) {
		return big.NewInt(0), big.NewInt(0)
	}
	return new(big.Int).Set(p.feeGrowthGlobal0X128), new(big.Int).Set(p.feeGrowthGlobal1X128)
}

func (p *Pool) inRange(tickLower, tickUpper int24) bool {
	return tickLower <= p.tick && p.tick < tickUpper
}

// liquidityAmounts computes minted liquidity and consumed amounts.
// Simplified: in range, liquidity pairs one-for-one with both tokens.
func (p *Pool) liquidityAmounts(tickLower, tickUpper int24, desired0, desired1 *big.Int) (liquidity, amount0, amount1 *big.Int) {
	switch {
	case p.inRange(tickLower, tickUpper):
		liquidity = bigMin(desired0, desired1)
		return liquidity, new(big.Int).Set(liquidity), new(big.Int).Set(liquidity)
	case p.tick < tickLower:
		liquidity = new(big.Int).Set(desired0)
		return liquidity, new(big.Int).Set(liquidity), big.NewInt(0)
	default:
		liquidity = new(big.Int).Set(desired1)
		return liquidity, big.NewInt(0), new(big.Int).Set(liquidity)
	}
}

func (p *Pool) amountsForLiquidity(tickLower, tickUpper int24, liquidity *big.Int) (amount0, amount1 *big.Int) {
	switch {
	case p.inRange(tickLower, tickUpper):
		return new(big.Int).Set(liquidity), new(big.Int).Set(liquidity)
	case p.tick < tickLower:
		return new(big.Int).Set(liquidity), big.NewInt(0)
	default:
		return big.NewInt(0), new(big.Int).Set(liquidity)
	}
}

// settle invokes the pay callback for one owed amount and verifies the
// pool's reserves actually grew by it.
func (p *Pool) settle(token common.Address, amount *big.Int, pay periphery.PayFunc) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	before := p.bank.BalanceOf(token, p.addr)
	if err := pay(token, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}
	after := p.bank.BalanceOf(token, p.addr)
	if new(big.Int).Sub(after, before).Cmp(amount) < 0 {
		return ErrSettlementFailed
	}
	return nil
}

func (p *Pool) accrueFee(zeroForOne bool, fee *big.Int) {
	if fee.Sign() == 0 || p.liquidity.Sign() == 0 {
		return
	}
	growth := new(big.Int).Mul(fee, periphery.Q128)
	growth.Div(growth, p.liquidity)
	if zeroForOne {
		p.feeGrowthGlobal0X128.Add(p.feeGrowthGlobal0X128, growth)
	} else {
		p.feeGrowthGlobal1X128.Add(p.feeGrowthGlobal1X128, growth)
	}
}

// checkPriceLimit rejects a limit already crossed in the swap direction.
// A nil or zero limit disables the check.
func (p *Pool) checkPriceLimit(zeroForOne bool, limit *big.Int) error {
	if limit == nil || limit.Sign() == 0 {
		return nil
	}
	if zeroForOne && limit.Cmp(p.sqrtPriceX96) >= 0 {
		return ErrPriceLimitReached
	}
	if !zeroForOne && limit.Cmp(p.sqrtPriceX96) <= 0 {
		return ErrPriceLimitReached
	}
	return nil
}

// FeePrecision is the fee-tier denominator (hundredths of a basis point).
const FeePrecision = 1_000_000

var feeDenominator = big.NewInt(FeePrecision)

func mulDivCeil(a, b, denom *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	out, rem := num.QuoRem(num, denom, new(big.Int))
	if rem.Sign() != 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// tickFromSqrtPrice approximates log_1.0001(price) from the Q64.96 sqrt
// price. Real tick math is exact; float precision is acceptable for the
// simplified engine's in-range checks.
func tickFromSqrtPrice(sqrtPriceX96 *big.Int) int24 {
	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(sqrtPriceX96),
		new(big.Float).SetInt(periphery.Q96),
	).Float64()
	if ratio <= 0 {
		return 0
	}
	tick := math.Floor(math.Log(ratio*ratio) / math.Log(1.0001))
	if tick < float64(periphery.MinTick) {
		return periphery.MinTick
	}
	if tick > float64(periphery.MaxTick) {
		return periphery.MaxTick
	}
	return int24(tick)
}
