// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package periphery

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
)

// PositionManager owns the mapping from token id to liquidity-position
// record and the ownership token that makes positions transferable. All
// mutating operations are deadline-checked at entry and roll back fully on
// failure.
type PositionManager struct {
	*Payments

	// mu protects the ledger and ownership-token state
	mu sync.RWMutex

	factory PoolFactory
	log     log.Logger

	// now supplies the deadline clock
	now func() int64

	positions map[uint64]*Position
	nextID    uint64

	// Ownership-token state (see nft.go)
	owners            map[uint64]common.Address
	tokenCounts       map[common.Address]uint64
	approvals         map[uint64]common.Address
	operatorApprovals map[common.Address]map[common.Address]bool
	nonces            map[uint64]uint64

	snapshots []*ledgerSnapshot

	handlers map[OpKind]opHandler
}

type ledgerSnapshot struct {
	positions         map[uint64]*Position
	nextID            uint64
	owners            map[uint64]common.Address
	tokenCounts       map[common.Address]uint64
	approvals         map[uint64]common.Address
	operatorApprovals map[common.Address]map[common.Address]bool
	nonces            map[uint64]uint64
}

// NewPositionManager creates a position manager settling against
// PositionManagerAccount.
func NewPositionManager(bank Bank, factory PoolFactory, wnative common.Address, logger log.Logger) *PositionManager {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	pm := &PositionManager{
		Payments:          NewPayments(bank, PositionManagerAccount, wnative),
		factory:           factory,
		log:               logger,
		now:               func() int64 { return time.Now().Unix() },
		positions:         make(map[uint64]*Position),
		nextID:            1,
		owners:            make(map[uint64]common.Address),
		tokenCounts:       make(map[common.Address]uint64),
		approvals:         make(map[uint64]common.Address),
		operatorApprovals: make(map[common.Address]map[common.Address]bool),
		nonces:            make(map[uint64]uint64),
	}
	pm.handlers = pm.positionHandlers()
	return pm
}

// MintParams are the arguments to Mint.
type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            uint24
	TickLower      int24
	TickUpper      int24
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       int64

	// SqrtPriceX96 optionally initializes the pool when it does not exist
	// yet. Defaults to a 1:1 price.
	SqrtPriceX96 *big.Int
}

// IncreaseLiquidityParams are the arguments to IncreaseLiquidity.
type IncreaseLiquidityParams struct {
	TokenID        uint64
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Deadline       int64
}

// DecreaseLiquidityParams are the arguments to DecreaseLiquidity.
type DecreaseLiquidityParams struct {
	TokenID    uint64
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
	Deadline   int64
}

// CollectParams are the arguments to Collect. A zero Recipient collects to
// the contract account, where SweepToken or UnwrapNative can pick the funds
// up within the same batch.
type CollectParams struct {
	TokenID    uint64
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

// CreateAndInitializePoolIfNecessary resolves the pool for the given pair,
// creating and initializing it only when it does not exist. Idempotent.
func (pm *PositionManager) CreateAndInitializePoolIfNecessary(tokenA, tokenB common.Address, fee uint24, sqrtPriceX96 *big.Int) (Pool, error) {
	token0, token1 := SortTokens(tokenA, tokenB)
	if pool, ok := pm.factory.GetPool(token0, token1, fee); ok {
		return pool, nil
	}
	if sqrtPriceX96 == nil {
		sqrtPriceX96 = new(big.Int).Set(Q96)
	}
	pool, err := pm.factory.CreatePool(token0, token1, fee, sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	pm.log.Debug("created pool", "token0", token0, "token1", token1, "fee", fee)
	return pool, nil
}

// Mint creates a new position and mints its ownership token to the
// recipient. Returns the token id, the liquidity actually minted, and the
// amounts consumed.
func (pm *PositionManager) Mint(ctx *CallContext, params MintParams) (tokenID uint64, liquidity, amount0, amount1 *big.Int, err error) {
	cp := pm.checkpoint(ctx)
	tokenID, liquidity, amount0, amount1, err = pm.mint(ctx, params)
	if err != nil {
		pm.revert(ctx, cp)
		return tokenID, liquidity, amount0, amount1, err
	}
	pm.commit(cp)
	return tokenID, liquidity, amount0, amount1, nil
}

func (pm *PositionManager) mint(ctx *CallContext, params MintParams) (uint64, *big.Int, *big.Int, *big.Int, error) {
	if err := pm.checkDeadline(params.Deadline); err != nil {
		return 0, nil, nil, nil, err
	}

	pool, err := pm.CreateAndInitializePoolIfNecessary(params.Token0, params.Token1, params.Fee, params.SqrtPriceX96)
	if err != nil {
		return 0, nil, nil, nil, err
	}

	liquidity, amount0, amount1, err := pool.AddLiquidity(
		pm.account, params.TickLower, params.TickUpper,
		params.Amount0Desired, params.Amount1Desired,
		pm.payTo(ctx, ctx.Caller(), pool.Address()),
	)
	if err != nil {
		return 0, nil, nil, nil, err
	}
	if err := checkSlippage(amount0, amount1, params.Amount0Min, params.Amount1Min); err != nil {
		return 0, nil, nil, nil, err
	}

	key := PoolKey{Token0: pool.Token0(), Token1: pool.Token1(), Fee: params.Fee}
	pos := newPosition(key, params.TickLower, params.TickUpper)
	pos.Liquidity.Set(liquidity)
	// Snapshot fee growth at creation so a fresh position starts with
	// nothing owed.
	fg0, fg1 := pool.FeeGrowthInside(params.TickLower, params.TickUpper)
	pos.FeeGrowthInside0LastX128.Set(fg0)
	pos.FeeGrowthInside1LastX128.Set(fg1)

	pm.mu.Lock()
	tokenID := pm.nextID
	pm.nextID++
	pm.positions[tokenID] = pos
	pm.mintTokenLocked(params.Recipient, tokenID)
	pm.mu.Unlock()

	pm.log.Debug("minted position", "tokenId", tokenID, "liquidity", liquidity, "amount0", amount0, "amount1", amount1)
	return tokenID, liquidity, amount0, amount1, nil
}

// IncreaseLiquidity tops up an existing position. Fee growth since the last
// snapshot is accrued into the owed accumulators before the increase
// applies.
func (pm *PositionManager) IncreaseLiquidity(ctx *CallContext, params IncreaseLiquidityParams) (liquidity, amount0, amount1 *big.Int, err error) {
	cp := pm.checkpoint(ctx)
	liquidity, amount0, amount1, err = pm.increaseLiquidity(ctx, params)
	if err != nil {
		pm.revert(ctx, cp)
		return liquidity, amount0, amount1, err
	}
	pm.commit(cp)
	return liquidity, amount0, amount1, nil
}

func (pm *PositionManager) increaseLiquidity(ctx *CallContext, params IncreaseLiquidityParams) (*big.Int, *big.Int, *big.Int, error) {
	if err := pm.checkDeadline(params.Deadline); err != nil {
		return nil, nil, nil, err
	}
	pos, pool, err := pm.authorizedPosition(ctx.Caller(), params.TokenID)
	if err != nil {
		return nil, nil, nil, err
	}

	pm.mu.Lock()
	pm.accrueLocked(pos, pool)
	pm.mu.Unlock()

	liquidity, amount0, amount1, err := pool.AddLiquidity(
		pm.account, pos.TickLower, pos.TickUpper,
		params.Amount0Desired, params.Amount1Desired,
		pm.payTo(ctx, ctx.Caller(), pool.Address()),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkSlippage(amount0, amount1, params.Amount0Min, params.Amount1Min); err != nil {
		return nil, nil, nil, err
	}

	pm.mu.Lock()
	pos.Liquidity.Add(pos.Liquidity, liquidity)
	pm.mu.Unlock()

	return liquidity, amount0, amount1, nil
}

// DecreaseLiquidity unlocks principal from the curve into the position's
// owed accumulators. Payout is a separate Collect step, so a position can be
// emptied and later burned independent of payout timing.
func (pm *PositionManager) DecreaseLiquidity(ctx *CallContext, params DecreaseLiquidityParams) (amount0, amount1 *big.Int, err error) {
	cp := pm.checkpoint(ctx)
	amount0, amount1, err = pm.decreaseLiquidity(ctx, params)
	if err != nil {
		pm.revert(ctx, cp)
		return amount0, amount1, err
	}
	pm.commit(cp)
	return amount0, amount1, nil
}

func (pm *PositionManager) decreaseLiquidity(ctx *CallContext, params DecreaseLiquidityParams) (*big.Int, *big.Int, error) {
	if err := pm.checkDeadline(params.Deadline); err != nil {
		return nil, nil, err
	}
	pos, pool, err := pm.authorizedPosition(ctx.Caller(), params.TokenID)
	if err != nil {
		return nil, nil, err
	}
	if params.Liquidity == nil || params.Liquidity.Sign() <= 0 || params.Liquidity.Cmp(pos.Liquidity) > 0 {
		return nil, nil, fmt.Errorf("%w: token %d", ErrInsufficientLiquidity, params.TokenID)
	}

	pm.mu.Lock()
	pm.accrueLocked(pos, pool)
	pm.mu.Unlock()

	amount0, amount1, err := pool.RemoveLiquidity(pm.account, pos.TickLower, pos.TickUpper, params.Liquidity)
	if err != nil {
		return nil, nil, err
	}
	if err := checkSlippage(amount0, amount1, params.Amount0Min, params.Amount1Min); err != nil {
		return nil, nil, err
	}

	pm.mu.Lock()
	pos.Liquidity.Sub(pos.Liquidity, params.Liquidity)
	pos.TokensOwed0.Add(pos.TokensOwed0, amount0)
	pos.TokensOwed1.Add(pos.TokensOwed1, amount1)
	pm.mu.Unlock()

	return amount0, amount1, nil
}

// Collect pays out up to the owed accumulators, capped by the caller's
// maxima.
func (pm *PositionManager) Collect(ctx *CallContext, params CollectParams) (amount0, amount1 *big.Int, err error) {
	cp := pm.checkpoint(ctx)
	amount0, amount1, err = pm.collect(ctx, params)
	if err != nil {
		pm.revert(ctx, cp)
		return amount0, amount1, err
	}
	pm.commit(cp)
	return amount0, amount1, nil
}

func (pm *PositionManager) collect(ctx *CallContext, params CollectParams) (*big.Int, *big.Int, error) {
	pos, pool, err := pm.authorizedPosition(ctx.Caller(), params.TokenID)
	if err != nil {
		return nil, nil, err
	}
	recipient := params.Recipient
	if recipient == (common.Address{}) {
		recipient = pm.account
	}

	pm.mu.Lock()
	if pos.Liquidity.Sign() > 0 {
		pm.accrueLocked(pos, pool)
	}
	amount0 := bigMin(pos.TokensOwed0, params.Amount0Max)
	amount1 := bigMin(pos.TokensOwed1, params.Amount1Max)
	// Ledger first, transfer after: the pool call below may re-enter.
	pos.TokensOwed0.Sub(pos.TokensOwed0, amount0)
	pos.TokensOwed1.Sub(pos.TokensOwed1, amount1)
	pm.mu.Unlock()

	if err := pool.Collect(recipient, amount0, amount1); err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Burn reclaims an empty position. Requires zero liquidity and zero owed
// amounts.
func (pm *PositionManager) Burn(ctx *CallContext, tokenID uint64) error {
	cp := pm.checkpoint(ctx)
	if err := pm.burn(ctx, tokenID); err != nil {
		pm.revert(ctx, cp)
		return err
	}
	pm.commit(cp)
	return nil
}

func (pm *PositionManager) burn(ctx *CallContext, tokenID uint64) error {
	pos, _, err := pm.authorizedPosition(ctx.Caller(), tokenID)
	if err != nil {
		return err
	}
	if pos.Liquidity.Sign() != 0 || pos.TokensOwed0.Sign() != 0 || pos.TokensOwed1.Sign() != 0 {
		return fmt.Errorf("%w: token %d", ErrPositionNotCleared, tokenID)
	}

	pm.mu.Lock()
	delete(pm.positions, tokenID)
	pm.burnTokenLocked(tokenID)
	pm.mu.Unlock()

	pm.log.Debug("burned position", "tokenId", tokenID)
	return nil
}

// Positions returns a copy of the position record for tokenID.
func (pm *PositionManager) Positions(tokenID uint64) (Position, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	pos, ok := pm.positions[tokenID]
	if !ok {
		return Position{}, fmt.Errorf("%w: %d", ErrInvalidTokenID, tokenID)
	}
	return *pos.clone(), nil
}

// accrueLocked folds fee growth since the last snapshot into the owed
// accumulators and refreshes the snapshots. Caller holds pm.mu.
func (pm *PositionManager) accrueLocked(pos *Position, pool Pool) {
	fg0, fg1 := pool.FeeGrowthInside(pos.TickLower, pos.TickUpper)
	if pos.Liquidity.Sign() > 0 {
		pos.TokensOwed0.Add(pos.TokensOwed0, owedDelta(pos.Liquidity, pos.FeeGrowthInside0LastX128, fg0))
		pos.TokensOwed1.Add(pos.TokensOwed1, owedDelta(pos.Liquidity, pos.FeeGrowthInside1LastX128, fg1))
	}
	pos.FeeGrowthInside0LastX128.Set(fg0)
	pos.FeeGrowthInside1LastX128.Set(fg1)
}

// owedDelta computes liquidity * (feeGrowth - last) / 2^128.
func owedDelta(liquidity, last, current *big.Int) *big.Int {
	delta := new(big.Int).Sub(current, last)
	if delta.Sign() <= 0 {
		return big.NewInt(0)
	}
	delta.Mul(delta, liquidity)
	return delta.Div(delta, Q128)
}

func (pm *PositionManager) authorizedPosition(caller common.Address, tokenID uint64) (*Position, Pool, error) {
	pm.mu.RLock()
	pos, ok := pm.positions[tokenID]
	pm.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidTokenID, tokenID)
	}
	if !pm.IsAuthorized(caller, tokenID) {
		return nil, nil, fmt.Errorf("%w: token %d", ErrNotAuthorized, tokenID)
	}
	pool, ok := pm.factory.GetPool(pos.Pool.Token0, pos.Pool.Token1, pos.Pool.Fee)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, pos.Pool.Token0.Hex(), pos.Pool.Token1.Hex(), pos.Pool.Fee)
	}
	return pos, pool, nil
}

func (pm *PositionManager) checkDeadline(deadline int64) error {
	if now := pm.now(); now > deadline {
		return fmt.Errorf("%w: now %d, deadline %d", ErrExpired, now, deadline)
	}
	return nil
}

// payTo adapts the settlement helper into the pool's settlement callback.
func (pm *PositionManager) payTo(ctx *CallContext, payer, recipient common.Address) PayFunc {
	return func(token common.Address, amount *big.Int) error {
		return pm.pay(ctx, token, payer, recipient, amount)
	}
}

func checkSlippage(amount0, amount1, amount0Min, amount1Min *big.Int) error {
	if amount0Min != nil && amount0.Cmp(amount0Min) < 0 {
		return fmt.Errorf("%w: amount0 %s below minimum %s", ErrPriceSlippage, amount0, amount0Min)
	}
	if amount1Min != nil && amount1.Cmp(amount1Min) < 0 {
		return fmt.Errorf("%w: amount1 %s below minimum %s", ErrPriceSlippage, amount1, amount1Min)
	}
	return nil
}

func bigMin(a, b *big.Int) *big.Int {
	if b == nil || a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// checkpoint captures bank, pool, and ledger state plus the pending native
// balance, so a failing operation can roll back completely.
type checkpoint struct {
	bank      int
	factory   int
	ledger    int
	remaining *big.Int
}

func (pm *PositionManager) checkpoint(ctx *CallContext) checkpoint {
	cp := checkpoint{
		bank:    pm.bank.Snapshot(),
		factory: pm.factory.Snapshot(),
		ledger:  pm.snapshotLedger(),
	}
	if ctx != nil {
		cp.remaining = ctx.Remaining()
	}
	return cp
}

func (pm *PositionManager) revert(ctx *CallContext, cp checkpoint) {
	pm.bank.RevertToSnapshot(cp.bank)
	pm.factory.RevertToSnapshot(cp.factory)
	pm.revertLedger(cp.ledger)
	if ctx != nil && cp.remaining != nil {
		rem, _ := uint256.FromBig(cp.remaining)
		ctx.restore(rem)
	}
}

// commit releases a checkpoint after a successful operation, in reverse
// creation order.
func (pm *PositionManager) commit(cp checkpoint) {
	pm.discardLedger(cp.ledger)
	pm.factory.DiscardSnapshot(cp.factory)
	pm.bank.DiscardSnapshot(cp.bank)
}

func (pm *PositionManager) snapshotLedger() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	snap := &ledgerSnapshot{
		positions:         make(map[uint64]*Position, len(pm.positions)),
		nextID:            pm.nextID,
		owners:            make(map[uint64]common.Address, len(pm.owners)),
		tokenCounts:       make(map[common.Address]uint64, len(pm.tokenCounts)),
		approvals:         make(map[uint64]common.Address, len(pm.approvals)),
		operatorApprovals: make(map[common.Address]map[common.Address]bool, len(pm.operatorApprovals)),
		nonces:            make(map[uint64]uint64, len(pm.nonces)),
	}
	for id, pos := range pm.positions {
		snap.positions[id] = pos.clone()
	}
	for id, owner := range pm.owners {
		snap.owners[id] = owner
	}
	for owner, n := range pm.tokenCounts {
		snap.tokenCounts[owner] = n
	}
	for id, spender := range pm.approvals {
		snap.approvals[id] = spender
	}
	for owner, ops := range pm.operatorApprovals {
		cp := make(map[common.Address]bool, len(ops))
		for op, v := range ops {
			cp[op] = v
		}
		snap.operatorApprovals[owner] = cp
	}
	for id, n := range pm.nonces {
		snap.nonces[id] = n
	}

	pm.snapshots = append(pm.snapshots, snap)
	return len(pm.snapshots) - 1
}

func (pm *PositionManager) revertLedger(id int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if id < 0 || id >= len(pm.snapshots) {
		return
	}
	snap := pm.snapshots[id]
	pm.positions = snap.positions
	pm.nextID = snap.nextID
	pm.owners = snap.owners
	pm.tokenCounts = snap.tokenCounts
	pm.approvals = snap.approvals
	pm.operatorApprovals = snap.operatorApprovals
	pm.nonces = snap.nonces
	pm.snapshots = pm.snapshots[:id]
}

func (pm *PositionManager) discardLedger(id int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if id == len(pm.snapshots)-1 {
		pm.snapshots = pm.snapshots[:id]
	}
}
