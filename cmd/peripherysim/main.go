// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// peripherysim drives the settlement layer end to end against the in-memory
// bank and pool engine: mint a position, route a few swaps through it, then
// collect the accrued fees. Useful for eyeballing amounts and fee growth
// without a chain.
package main

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luxfi/periphery/internal/config"
	"github.com/luxfi/periphery/periphery"
	"github.com/luxfi/periphery/pool"
)

var (
	token0  = common.HexToAddress("0x00000000000000000000000000000000000000A0")
	token1  = common.HexToAddress("0x00000000000000000000000000000000000000B0")
	wnative = common.HexToAddress("0x00000000000000000000000000000000000000EE")

	lp     = common.HexToAddress("0x0000000000000000000000000000000000000101")
	trader = common.HexToAddress("0x0000000000000000000000000000000000000102")
)

func main() {
	root := &cobra.Command{
		Use:          "peripherysim",
		Short:        "Settlement layer simulator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the mint/swap/collect scenario",
		RunE:  runScenario,
	}

	runCmd.Flags().Uint64("token0-supply", 1_000_000, "token0 balance seeded per account")
	runCmd.Flags().Uint64("token1-supply", 1_000_000, "token1 balance seeded per account")
	runCmd.Flags().Uint64("native-supply", 1_000_000, "native balance seeded per account")
	runCmd.Flags().Uint32("fee-tier", 3000, "pool fee tier (hundredths of a bip)")
	runCmd.Flags().Uint64("liquidity", 100_000, "liquidity desired per side at mint")
	runCmd.Flags().Int("swaps", 5, "number of exact-in swaps to route")
	runCmd.Flags().Uint64("swap-amount", 1_000, "input amount per swap")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScenario(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	bank := periphery.NewMemBank(wnative)
	for _, account := range []common.Address{lp, trader} {
		bank.SetBalance(token0, account, new(big.Int).SetUint64(cfg.Token0Supply))
		bank.SetBalance(token1, account, new(big.Int).SetUint64(cfg.Token1Supply))
		bank.SetNativeBalance(account, uint256.NewInt(cfg.NativeSupply))
	}
	bank.Approve(token0, lp, periphery.PositionManagerAccount, periphery.MaxUint128)
	bank.Approve(token1, lp, periphery.PositionManagerAccount, periphery.MaxUint128)
	bank.Approve(token0, trader, periphery.SwapRouterAccount, periphery.MaxUint128)
	bank.Approve(token1, trader, periphery.SwapRouterAccount, periphery.MaxUint128)

	factory := pool.NewFactory(bank)
	manager := periphery.NewPositionManager(bank, factory, wnative, nil)
	router := periphery.NewSwapRouter(bank, factory, wnative, nil)

	liquidity := new(big.Int).SetUint64(cfg.Liquidity)
	deadline := time.Now().Add(time.Minute).Unix()

	mintCtx, err := periphery.NewCallContext(bank, periphery.PositionManagerAccount, lp, nil)
	if err != nil {
		return err
	}
	tokenID, minted, amount0, amount1, err := manager.Mint(mintCtx, periphery.MintParams{
		Token0:         token0,
		Token1:         token1,
		Fee:            cfg.FeeTier,
		TickLower:      periphery.MinTick,
		TickUpper:      periphery.MaxTick,
		Amount0Desired: liquidity,
		Amount1Desired: liquidity,
		Amount0Min:     big.NewInt(0),
		Amount1Min:     big.NewInt(0),
		Recipient:      lp,
		Deadline:       deadline,
	})
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	logger.Info("position minted",
		zap.Uint64("token_id", tokenID),
		zap.String("liquidity", minted.String()),
		zap.String("amount0", amount0.String()),
		zap.String("amount1", amount1.String()),
	)

	swapAmount := new(big.Int).SetUint64(cfg.SwapAmount)
	for i := 0; i < cfg.Swaps; i++ {
		swapCtx, err := periphery.NewCallContext(bank, periphery.SwapRouterAccount, trader, nil)
		if err != nil {
			return err
		}
		tokenIn, tokenOut := token0, token1
		if i%2 == 1 {
			tokenIn, tokenOut = tokenOut, tokenIn
		}
		amountOut, err := router.ExactInputSingle(swapCtx, periphery.ExactInputSingleParams{
			TokenIn:          tokenIn,
			TokenOut:         tokenOut,
			Fee:              cfg.FeeTier,
			Recipient:        trader,
			Deadline:         deadline,
			AmountIn:         swapAmount,
			AmountOutMinimum: big.NewInt(0),
		})
		if err != nil {
			return fmt.Errorf("swap %d: %w", i, err)
		}
		logger.Info("swap routed",
			zap.Int("n", i),
			zap.String("token_in", tokenIn.Hex()),
			zap.String("amount_in", swapAmount.String()),
			zap.String("amount_out", amountOut.String()),
		)
	}

	collectCtx, err := periphery.NewCallContext(bank, periphery.PositionManagerAccount, lp, nil)
	if err != nil {
		return err
	}
	fees0, fees1, err := manager.Collect(collectCtx, periphery.CollectParams{
		TokenID:    tokenID,
		Recipient:  lp,
		Amount0Max: periphery.MaxUint128,
		Amount1Max: periphery.MaxUint128,
	})
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	logger.Info("fees collected",
		zap.Uint64("token_id", tokenID),
		zap.String("fees0", fees0.String()),
		zap.String("fees1", fees1.String()),
	)

	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
