// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package periphery

import (
	"math/big"

	"github.com/luxfi/geth/common"
)

// Test helpers
var (
	testToken0  = common.HexToAddress("0x00000000000000000000000000000000000000A0")
	testToken1  = common.HexToAddress("0x00000000000000000000000000000000000000B0")
	testWNative = common.HexToAddress("0x00000000000000000000000000000000000000EE")

	testAlice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testBob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testCarol = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

const (
	testNow      int64 = 1_700_000_000
	testDeadline int64 = testNow + 600
)

// mockPool implements Pool with scriptable behavior. Liquidity math is flat:
// min(desired0, desired1) in, the same amounts back out.
type mockPool struct {
	addr   common.Address
	token0 common.Address
	token1 common.Address
	fee    uint24
	bank   Bank

	liquidity *big.Int
	fg0       *big.Int
	fg1       *big.Int

	// swapOut scripts SwapExactIn's output; swapIn scripts SwapExactOut's
	// required input.
	swapOut *big.Int
	swapIn  *big.Int

	addErr  error
	swapErr error
}

func newMockPool(bank Bank, token0, token1 common.Address, fee uint24) *mockPool {
	key := PoolKey{Token0: token0, Token1: token1, Fee: fee}
	id := key.ID()
	return &mockPool{
		addr:      common.BytesToAddress(id[:20]),
		token0:    token0,
		token1:    token1,
		fee:       fee,
		bank:      bank,
		liquidity: big.NewInt(0),
		fg0:       big.NewInt(0),
		fg1:       big.NewInt(0),
	}
}

func (m *mockPool) Address() common.Address { return m.addr }
func (m *mockPool) Token0() common.Address  { return m.token0 }
func (m *mockPool) Token1() common.Address  { return m.token1 }
func (m *mockPool) FeeTier() uint24         { return m.fee }

func (m *mockPool) AddLiquidity(owner common.Address, tickLower, tickUpper int24, amount0Desired, amount1Desired *big.Int, pay PayFunc) (*big.Int, *big.Int, *big.Int, error) {
	if m.addErr != nil {
		return nil, nil, nil, m.addErr
	}
	liquidity := new(big.Int).Set(amount0Desired)
	if amount1Desired.Cmp(liquidity) < 0 {
		liquidity.Set(amount1Desired)
	}
	if liquidity.Sign() > 0 {
		if err := pay(m.token0, liquidity); err != nil {
			return nil, nil, nil, err
		}
		if err := pay(m.token1, liquidity); err != nil {
			return nil, nil, nil, err
		}
	}
	m.liquidity.Add(m.liquidity, liquidity)
	return liquidity, new(big.Int).Set(liquidity), new(big.Int).Set(liquidity), nil
}

func (m *mockPool) RemoveLiquidity(owner common.Address, tickLower, tickUpper int24, liquidity *big.Int) (*big.Int, *big.Int, error) {
	if m.liquidity.Cmp(liquidity) < 0 {
		return nil, nil, ErrInsufficientLiquidity
	}
	m.liquidity.Sub(m.liquidity, liquidity)
	return new(big.Int).Set(liquidity), new(big.Int).Set(liquidity), nil
}

func (m *mockPool) Collect(recipient common.Address, amount0, amount1 *big.Int) error {
	if amount0 != nil && amount0.Sign() > 0 {
		if err := m.bank.Transfer(m.token0, m.addr, recipient, amount0); err != nil {
			return err
		}
	}
	if amount1 != nil && amount1.Sign() > 0 {
		if err := m.bank.Transfer(m.token1, m.addr, recipient, amount1); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockPool) SwapExactIn(recipient common.Address, zeroForOne bool, amountIn, sqrtPriceLimitX96 *big.Int, pay PayFunc) (*big.Int, error) {
	if m.swapErr != nil {
		return nil, m.swapErr
	}
	tokenIn, tokenOut := m.token0, m.token1
	if !zeroForOne {
		tokenIn, tokenOut = tokenOut, tokenIn
	}
	if err := pay(tokenIn, amountIn); err != nil {
		return nil, err
	}
	out := new(big.Int).Set(m.swapOut)
	if out.Sign() > 0 {
		if err := m.bank.Transfer(tokenOut, m.addr, recipient, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *mockPool) SwapExactOut(recipient common.Address, zeroForOne bool, amountOut, sqrtPriceLimitX96 *big.Int, pay PayFunc) (*big.Int, error) {
	if m.swapErr != nil {
		return nil, m.swapErr
	}
	tokenIn, tokenOut := m.token0, m.token1
	if !zeroForOne {
		tokenIn, tokenOut = tokenOut, tokenIn
	}
	in := new(big.Int).Set(m.swapIn)
	if err := pay(tokenIn, in); err != nil {
		return nil, err
	}
	if err := m.bank.Transfer(tokenOut, m.addr, recipient, amountOut); err != nil {
		return nil, err
	}
	return in, nil
}

func (m *mockPool) FeeGrowthInside(tickLower, tickUpper int24) (*big.Int, *big.Int) {
	return new(big.Int).Set(m.fg0), new(big.Int).Set(m.fg1)
}

// mockFactory implements PoolFactory over mockPools.
type mockFactory struct {
	bank  Bank
	pools map[[32]byte]*mockPool

	createErr error
	creations int

	snapshots []map[[32]byte]*mockPoolState
}

type mockPoolState struct {
	liquidity *big.Int
	fg0       *big.Int
	fg1       *big.Int
}

func newMockFactory(bank Bank) *mockFactory {
	return &mockFactory{bank: bank, pools: make(map[[32]byte]*mockPool)}
}

func (f *mockFactory) GetPool(tokenA, tokenB common.Address, fee uint24) (Pool, bool) {
	token0, token1 := SortTokens(tokenA, tokenB)
	key := PoolKey{Token0: token0, Token1: token1, Fee: fee}
	p, ok := f.pools[key.ID()]
	if !ok {
		return nil, false
	}
	return p, true
}

func (f *mockFactory) CreatePool(tokenA, tokenB common.Address, fee uint24, sqrtPriceX96 *big.Int) (Pool, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	token0, token1 := SortTokens(tokenA, tokenB)
	p := newMockPool(f.bank, token0, token1, fee)
	key := PoolKey{Token0: token0, Token1: token1, Fee: fee}
	f.pools[key.ID()] = p
	f.creations++
	return p, nil
}

func (f *mockFactory) Snapshot() int {
	snap := make(map[[32]byte]*mockPoolState, len(f.pools))
	for id, p := range f.pools {
		snap[id] = &mockPoolState{
			liquidity: new(big.Int).Set(p.liquidity),
			fg0:       new(big.Int).Set(p.fg0),
			fg1:       new(big.Int).Set(p.fg1),
		}
	}
	f.snapshots = append(f.snapshots, snap)
	return len(f.snapshots) - 1
}

func (f *mockFactory) RevertToSnapshot(id int) {
	if id < 0 || id >= len(f.snapshots) {
		return
	}
	snap := f.snapshots[id]
	f.snapshots = f.snapshots[:id]
	for poolID := range f.pools {
		if _, ok := snap[poolID]; !ok {
			delete(f.pools, poolID)
		}
	}
	for poolID, state := range snap {
		if p, ok := f.pools[poolID]; ok {
			p.liquidity = new(big.Int).Set(state.liquidity)
			p.fg0 = new(big.Int).Set(state.fg0)
			p.fg1 = new(big.Int).Set(state.fg1)
		}
	}
}

func (f *mockFactory) DiscardSnapshot(id int) {
	if id == len(f.snapshots)-1 {
		f.snapshots = f.snapshots[:id]
	}
}

// testSetup wires a bank, mock factory, and position manager with a frozen
// clock and funded, pre-approved accounts.
func testSetup() (*MemBank, *mockFactory, *PositionManager) {
	bank := NewMemBank(testWNative)
	for _, account := range []common.Address{testAlice, testBob} {
		bank.SetBalance(testToken0, account, big.NewInt(1_000_000))
		bank.SetBalance(testToken1, account, big.NewInt(1_000_000))
		bank.SetBalance(testWNative, account, big.NewInt(1_000_000))
		bank.Approve(testToken0, account, PositionManagerAccount, big.NewInt(1_000_000))
		bank.Approve(testToken1, account, PositionManagerAccount, big.NewInt(1_000_000))
		bank.Approve(testWNative, account, PositionManagerAccount, big.NewInt(1_000_000))
	}
	factory := newMockFactory(bank)
	pm := NewPositionManager(bank, factory, testWNative, nil)
	pm.now = func() int64 { return testNow }
	return bank, factory, pm
}

func mustCtx(bank Bank, contract, caller common.Address, value *big.Int) *CallContext {
	ctx, err := NewCallContext(bank, contract, caller, value)
	if err != nil {
		panic(err)
	}
	return ctx
}

func defaultMintParams() MintParams {
	return MintParams{
		Token0:         testToken0,
		Token1:         testToken1,
		Fee:            Fee030,
		TickLower:      MinTick,
		TickUpper:      MaxTick,
		Amount0Desired: big.NewInt(1000),
		Amount1Desired: big.NewInt(1000),
		Recipient:      testAlice,
		Deadline:       testDeadline,
	}
}
