// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads simulator settings from flags, environment
// variables, and an optional config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Token0Supply uint64
	Token1Supply uint64
	NativeSupply uint64
	FeeTier      uint32
	Liquidity    uint64
	Swaps        int
	SwapAmount   uint64
	LogLevel     string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERIPHERYSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("token0-supply", uint64(1_000_000))
	v.SetDefault("token1-supply", uint64(1_000_000))
	v.SetDefault("native-supply", uint64(1_000_000))
	v.SetDefault("fee-tier", uint32(3000))
	v.SetDefault("liquidity", uint64(100_000))
	v.SetDefault("swaps", 5)
	v.SetDefault("swap-amount", uint64(1_000))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Token0Supply: v.GetUint64("token0-supply"),
		Token1Supply: v.GetUint64("token1-supply"),
		NativeSupply: v.GetUint64("native-supply"),
		FeeTier:      v.GetUint32("fee-tier"),
		Liquidity:    v.GetUint64("liquidity"),
		Swaps:        v.GetInt("swaps"),
		SwapAmount:   v.GetUint64("swap-amount"),
		LogLevel:     v.GetString("log-level"),
	}

	if cfg.Liquidity == 0 {
		return Config{}, fmt.Errorf("liquidity must be positive")
	}
	if cfg.SwapAmount == 0 {
		return Config{}, fmt.Errorf("swap-amount must be positive")
	}

	return cfg, nil
}
