// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/periphery/periphery"
)

// Factory creates and resolves pools. All pools share one bank; reserves
// are held under each pool's derived address.
type Factory struct {
	mu sync.RWMutex

	bank  periphery.Bank
	pools map[[32]byte]*Pool

	snapshots []map[[32]byte]*poolState
}

// poolState is the mutable part of a Pool captured at snapshot time.
type poolState struct {
	sqrtPriceX96         *big.Int
	tick                 int24
	liquidity            *big.Int
	feeGrowthGlobal0X128 *big.Int
	feeGrowthGlobal1X128 *big.Int
	positions            map[[32]byte]*position
}

// NewFactory creates a pool factory backed by the given bank.
func NewFactory(bank periphery.Bank) *Factory {
	return &Factory{
		bank:  bank,
		pools: make(map[[32]byte]*Pool),
	}
}

// GetPool resolves an existing pool for the pair and fee tier.
func (f *Factory) GetPool(tokenA, tokenB common.Address, fee uint24) (periphery.Pool, bool) {
	token0, token1 := periphery.SortTokens(tokenA, tokenB)
	key := periphery.PoolKey{Token0: token0, Token1: token1, Fee: fee}

	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.pools[key.ID()]
	if !ok {
		return nil, false
	}
	return p, true
}

// CreatePool creates a pool for the pair and fee tier at the given starting
// price. The pair is sorted internally; creating an existing pool fails.
func (f *Factory) CreatePool(tokenA, tokenB common.Address, fee uint24, sqrtPriceX96 *big.Int) (periphery.Pool, error) {
	if tokenA == tokenB {
		return nil, ErrIdenticalTokens
	}
	if fee == 0 || fee > periphery.FeeMax {
		return nil, ErrInvalidFee
	}
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return nil, ErrInvalidSqrtPrice
	}

	token0, token1 := periphery.SortTokens(tokenA, tokenB)
	key := periphery.PoolKey{Token0: token0, Token1: token1, Fee: fee}
	id := key.ID()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.pools[id]; ok {
		return nil, ErrPoolExists
	}

	p := newPool(f.bank, key, sqrtPriceX96)
	f.pools[id] = p
	return p, nil
}

// Snapshot captures every pool's mutable state and returns a handle for
// RevertToSnapshot. Handles form a stack; reverting discards later ones.
func (f *Factory) Snapshot() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := make(map[[32]byte]*poolState, len(f.pools))
	for id, p := range f.pools {
		snap[id] = p.captureState()
	}
	f.snapshots = append(f.snapshots, snap)
	return len(f.snapshots) - 1
}

// RevertToSnapshot restores the state captured by Snapshot. Pools created
// after the snapshot are dropped; surviving pools are restored in place.
func (f *Factory) RevertToSnapshot(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

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
			p.restoreState(state)
		}
	}
}

// DiscardSnapshot releases a snapshot without restoring it. Only the top of
// the stack can be discarded; checkpoints commit in reverse creation order.
func (f *Factory) DiscardSnapshot(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == len(f.snapshots)-1 {
		f.snapshots = f.snapshots[:id]
	}
}

func (p *Pool) captureState() *poolState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make(map[[32]byte]*position, len(p.positions))
	for k, pos := range p.positions {
		positions[k] = &position{liquidity: new(big.Int).Set(pos.liquidity)}
	}
	return &poolState{
		sqrtPriceX96:         new(big.Int).Set(p.sqrtPriceX96),
		tick:                 p.tick,
		liquidity:            new(big.Int).Set(p.liquidity),
		feeGrowthGlobal0X128: new(big.Int).Set(p.feeGrowthGlobal0X128),
		feeGrowthGlobal1X128: new(big.Int).Set(p.feeGrowthGlobal1X128),
		positions:            positions,
	}
}

func (p *Pool) restoreState(state *poolState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sqrtPriceX96 = new(big.Int).Set(state.sqrtPriceX96)
	p.tick = state.tick
	p.liquidity = new(big.Int).Set(state.liquidity)
	p.feeGrowthGlobal0X128 = new(big.Int).Set(state.feeGrowthGlobal0X128)
	p.feeGrowthGlobal1X128 = new(big.Int).Set(state.feeGrowthGlobal1X128)
	p.positions = make(map[[32]byte]*position, len(state.positions))
	for k, pos := range state.positions {
		p.positions[k] = &position{liquidity: new(big.Int).Set(pos.liquidity)}
	}
}
