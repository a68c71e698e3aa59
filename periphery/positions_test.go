// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package periphery

import (
	"errors"
	"math/big"
	"testing"
)

func TestMint_CreatesPositionAndToken(t *testing.T) {
	bank, factory, pm := testSetup()

	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	tokenID, liquidity, amount0, amount1, err := pm.Mint(ctx, defaultMintParams())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if tokenID != 1 {
		t.Fatalf("tokenID = %d, want 1", tokenID)
	}
	if liquidity.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("liquidity = %s, want 1000", liquidity)
	}
	if amount0.Cmp(big.NewInt(1000)) != 0 || amount1.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("amounts = %s/%s, want 1000/1000", amount0, amount1)
	}

	owner, err := pm.OwnerOf(tokenID)
	if err != nil {
		t.Fatalf("OwnerOf failed: %v", err)
	}
	if owner != testAlice {
		t.Fatalf("owner = %s, want alice", owner.Hex())
	}

	pos, err := pm.Positions(tokenID)
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if pos.Liquidity.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("position liquidity = %s, want 1000", pos.Liquidity)
	}
	if pos.TokensOwed0.Sign() != 0 || pos.TokensOwed1.Sign() != 0 {
		t.Fatalf("fresh position owes %s/%s", pos.TokensOwed0, pos.TokensOwed1)
	}

	// Funds pulled from the caller into the pool's reserves.
	pool, _ := factory.GetPool(testToken0, testToken1, Fee030)
	if got := bank.BalanceOf(testToken0, pool.Address()); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("pool token0 reserve = %s, want 1000", got)
	}
	if got := bank.BalanceOf(testToken0, testAlice); got.Cmp(big.NewInt(999_000)) != 0 {
		t.Fatalf("alice token0 = %s, want 999000", got)
	}
}

func TestMint_PoolCreationIsIdempotent(t *testing.T) {
	bank, factory, pm := testSetup()

	for i := 0; i < 2; i++ {
		ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
		if _, _, _, _, err := pm.Mint(ctx, defaultMintParams()); err != nil {
			t.Fatalf("Mint %d failed: %v", i, err)
		}
	}
	if factory.creations != 1 {
		t.Fatalf("factory created %d pools, want 1", factory.creations)
	}
}

func TestMint_DeadlineExpired(t *testing.T) {
	bank, _, pm := testSetup()

	params := defaultMintParams()
	params.Deadline = testNow - 1
	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if _, _, _, _, err := pm.Mint(ctx, params); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if got := bank.BalanceOf(testToken0, testAlice); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expired mint moved funds: %s", got)
	}
}

func TestMint_SlippageRollsBackPayment(t *testing.T) {
	bank, _, pm := testSetup()

	params := defaultMintParams()
	params.Amount0Min = big.NewInt(2000) // cannot be met by 1000 desired
	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if _, _, _, _, err := pm.Mint(ctx, params); !errors.Is(err, ErrPriceSlippage) {
		t.Fatalf("expected ErrPriceSlippage, got %v", err)
	}

	// The pool was paid before the slippage check; the revert must undo it.
	if got := bank.BalanceOf(testToken0, testAlice); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("alice token0 after rollback = %s, want 1000000", got)
	}
	if _, err := pm.OwnerOf(1); !errors.Is(err, ErrInvalidTokenID) {
		t.Fatalf("token minted despite rollback: %v", err)
	}
}

func TestMint_ReleasesCheckpoints(t *testing.T) {
	bank, factory, pm := testSetup()

	// Successful and failed operations alike must leave the snapshot stacks
	// empty, or a long-lived manager accumulates full state copies.
	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if _, _, _, _, err := pm.Mint(ctx, defaultMintParams()); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	bad := defaultMintParams()
	bad.Amount0Min = big.NewInt(2000)
	if _, _, _, _, err := pm.Mint(ctx, bad); !errors.Is(err, ErrPriceSlippage) {
		t.Fatalf("expected ErrPriceSlippage, got %v", err)
	}

	if len(bank.snapshots) != 0 {
		t.Fatalf("bank snapshot stack = %d entries, want 0", len(bank.snapshots))
	}
	if len(factory.snapshots) != 0 {
		t.Fatalf("factory snapshot stack = %d entries, want 0", len(factory.snapshots))
	}
	if len(pm.snapshots) != 0 {
		t.Fatalf("ledger snapshot stack = %d entries, want 0", len(pm.snapshots))
	}
}

func TestIncreaseLiquidity_AccruesFeesFirst(t *testing.T) {
	bank, factory, pm := testSetup()

	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	tokenID, _, _, _, err := pm.Mint(ctx, defaultMintParams())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	// One full Q128 of growth per unit of liquidity = 1000 tokens owed.
	mock := factory.pools[PoolKey{Token0: testToken0, Token1: testToken1, Fee: Fee030}.ID()]
	mock.fg0 = new(big.Int).Set(Q128)

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	liquidity, _, _, err := pm.IncreaseLiquidity(ctx, IncreaseLiquidityParams{
		TokenID:        tokenID,
		Amount0Desired: big.NewInt(500),
		Amount1Desired: big.NewInt(500),
		Deadline:       testDeadline,
	})
	if err != nil {
		t.Fatalf("IncreaseLiquidity failed: %v", err)
	}
	if liquidity.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("added liquidity = %s, want 500", liquidity)
	}

	pos, err := pm.Positions(tokenID)
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if pos.Liquidity.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("liquidity = %s, want 1500", pos.Liquidity)
	}
	// Accrual must use the pre-increase liquidity.
	if pos.TokensOwed0.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("owed0 = %s, want 1000", pos.TokensOwed0)
	}
	if pos.FeeGrowthInside0LastX128.Cmp(Q128) != 0 {
		t.Fatal("fee growth snapshot not refreshed")
	}
}

func TestIncreaseLiquidity_Unauthorized(t *testing.T) {
	bank, _, pm := testSetup()

	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	tokenID, _, _, _, err := pm.Mint(ctx, defaultMintParams())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testBob, nil)
	_, _, _, err = pm.IncreaseLiquidity(ctx, IncreaseLiquidityParams{
		TokenID:        tokenID,
		Amount0Desired: big.NewInt(1),
		Amount1Desired: big.NewInt(1),
		Deadline:       testDeadline,
	})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestDecreaseLiquidity_MovesPrincipalToOwed(t *testing.T) {
	bank, _, pm := testSetup()

	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	tokenID, _, _, _, err := pm.Mint(ctx, defaultMintParams())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	amount0, amount1, err := pm.DecreaseLiquidity(ctx, DecreaseLiquidityParams{
		TokenID:   tokenID,
		Liquidity: big.NewInt(400),
		Deadline:  testDeadline,
	})
	if err != nil {
		t.Fatalf("DecreaseLiquidity failed: %v", err)
	}
	if amount0.Cmp(big.NewInt(400)) != 0 || amount1.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("released = %s/%s, want 400/400", amount0, amount1)
	}

	pos, _ := pm.Positions(tokenID)
	if pos.Liquidity.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("liquidity = %s, want 600", pos.Liquidity)
	}
	if pos.TokensOwed0.Cmp(big.NewInt(400)) != 0 || pos.TokensOwed1.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("owed = %s/%s, want 400/400", pos.TokensOwed0, pos.TokensOwed1)
	}

	// No payout yet: decrease only moves value into the owed accumulators.
	if got := bank.BalanceOf(testToken0, testAlice); got.Cmp(big.NewInt(999_000)) != 0 {
		t.Fatalf("decrease paid out early: %s", got)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	_, _, err = pm.DecreaseLiquidity(ctx, DecreaseLiquidityParams{
		TokenID:   tokenID,
		Liquidity: big.NewInt(601),
		Deadline:  testDeadline,
	})
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestCollect_CapsAndLedgerFirst(t *testing.T) {
	bank, _, pm := testSetup()

	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	tokenID, _, _, _, err := pm.Mint(ctx, defaultMintParams())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if _, _, err := pm.DecreaseLiquidity(ctx, DecreaseLiquidityParams{
		TokenID:   tokenID,
		Liquidity: big.NewInt(1000),
		Deadline:  testDeadline,
	}); err != nil {
		t.Fatalf("DecreaseLiquidity failed: %v", err)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	amount0, amount1, err := pm.Collect(ctx, CollectParams{
		TokenID:    tokenID,
		Recipient:  testCarol,
		Amount0Max: big.NewInt(300),
		Amount1Max: big.NewInt(1500),
	})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if amount0.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("collected0 = %s, want 300 (capped)", amount0)
	}
	if amount1.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("collected1 = %s, want 1000", amount1)
	}
	if got := bank.BalanceOf(testToken0, testCarol); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("carol token0 = %s, want 300", got)
	}

	pos, _ := pm.Positions(tokenID)
	if pos.TokensOwed0.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("owed0 after partial collect = %s, want 700", pos.TokensOwed0)
	}
	if pos.TokensOwed1.Sign() != 0 {
		t.Fatalf("owed1 after collect = %s, want 0", pos.TokensOwed1)
	}
}

func TestCollect_ZeroRecipientPaysContract(t *testing.T) {
	bank, _, pm := testSetup()

	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	tokenID, _, _, _, err := pm.Mint(ctx, defaultMintParams())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if _, _, err := pm.DecreaseLiquidity(ctx, DecreaseLiquidityParams{
		TokenID:   tokenID,
		Liquidity: big.NewInt(1000),
		Deadline:  testDeadline,
	}); err != nil {
		t.Fatalf("DecreaseLiquidity failed: %v", err)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if _, _, err := pm.Collect(ctx, CollectParams{TokenID: tokenID}); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := bank.BalanceOf(testToken0, PositionManagerAccount); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("contract holds %s, want 1000", got)
	}
	// A sweep can then forward the funds in the same batch.
	if err := pm.SweepToken(testToken0, nil, testAlice); err != nil {
		t.Fatalf("SweepToken failed: %v", err)
	}
	if got := bank.BalanceOf(testToken0, testAlice); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("alice token0 after sweep = %s, want 1000000", got)
	}
}

func TestBurn_RequiresClearedPosition(t *testing.T) {
	bank, _, pm := testSetup()

	ctx := mustCtx(bank, PositionManagerAccount, testAlice, nil)
	tokenID, _, _, _, err := pm.Mint(ctx, defaultMintParams())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if err := pm.Burn(ctx, tokenID); !errors.Is(err, ErrPositionNotCleared) {
		t.Fatalf("expected ErrPositionNotCleared with live liquidity, got %v", err)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if _, _, err := pm.DecreaseLiquidity(ctx, DecreaseLiquidityParams{
		TokenID:   tokenID,
		Liquidity: big.NewInt(1000),
		Deadline:  testDeadline,
	}); err != nil {
		t.Fatalf("DecreaseLiquidity failed: %v", err)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if err := pm.Burn(ctx, tokenID); !errors.Is(err, ErrPositionNotCleared) {
		t.Fatalf("expected ErrPositionNotCleared with owed tokens, got %v", err)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if _, _, err := pm.Collect(ctx, CollectParams{TokenID: tokenID, Recipient: testAlice}); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	ctx = mustCtx(bank, PositionManagerAccount, testAlice, nil)
	if err := pm.Burn(ctx, tokenID); err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	if _, err := pm.OwnerOf(tokenID); !errors.Is(err, ErrInvalidTokenID) {
		t.Fatalf("expected ErrInvalidTokenID after burn, got %v", err)
	}
	if _, err := pm.Positions(tokenID); !errors.Is(err, ErrInvalidTokenID) {
		t.Fatalf("expected ErrInvalidTokenID for burned position, got %v", err)
	}
}

func TestCreateAndInitializePoolIfNecessary_DefaultPrice(t *testing.T) {
	bank, factory, pm := testSetup()
	_ = bank

	pool, err := pm.CreateAndInitializePoolIfNecessary(testToken1, testToken0, Fee030, nil)
	if err != nil {
		t.Fatalf("CreateAndInitializePoolIfNecessary failed: %v", err)
	}
	// Pair is sorted on the way in.
	if pool.Token0() != testToken0 || pool.Token1() != testToken1 {
		t.Fatalf("pool pair = %s/%s, not sorted", pool.Token0().Hex(), pool.Token1().Hex())
	}

	again, err := pm.CreateAndInitializePoolIfNecessary(testToken0, testToken1, Fee030, nil)
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if again != pool {
		t.Fatal("idempotent create returned a different pool")
	}
	if factory.creations != 1 {
		t.Fatalf("factory created %d pools, want 1", factory.creations)
	}
}
