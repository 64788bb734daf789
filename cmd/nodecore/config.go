// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/lcoin/nodecore/logger"
)

const (
	defaultLogFilename    = "nodecore.log"
	defaultErrLogFilename = "nodecore_err.log"
	defaultRPCListen      = "127.0.0.1:8332"
	defaultCacheFilename  = "mempool.db"
)

var defaultHomeDir = filepath.Join(appDataDir(), "nodecore")

type config struct {
	HomeDir        string  `long:"datadir" description:"Directory to store the mempool cache and logs"`
	RPCListen      string  `long:"rpclisten" description:"Address the JSON-RPC server listens on"`
	MiningAddr     string  `long:"miningaddr" description:"Payout script (hex) for the block template's coinbase"`
	GenerateCPU    bool    `long:"generate" description:"Mine with an in-process CPU miner"`
	DebugLevel     string  `long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical"`
	MaxOrphanTxs   int     `long:"maxorphantx" description:"Maximum number of orphan transactions to keep"`
	MinRelayFee    int64   `long:"minrelaytxfee" description:"Minimum fee rate, in satoshis per kilobyte, to relay a transaction"`
	AcceptNonStd   bool    `long:"acceptnonstd" description:"Accept and relay non-standard transactions"`
	EnableRBF      bool    `long:"enablereplacement" description:"Allow a transaction to replace a conflicting, opt-in replaceable mempool transaction"`
	RelayPriority  bool    `long:"relaypriority" description:"Accept free transactions whose priority clears the high-priority threshold"`
	LimitFreeRelay float64 `long:"limitfreerelay" description:"Limit free transaction relay to this many thousand bytes per ten minutes (0 disables the limiter)"`
}

func defaultConfig() *config {
	return &config{
		HomeDir:      defaultHomeDir,
		RPCListen:    defaultRPCListen,
		DebugLevel:   "info",
		MaxOrphanTxs: 100,
		MinRelayFee:  1000,
	}
}

func parseConfig() (*config, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.MinRelayFee < 0 {
		return nil, errors.New("--minrelaytxfee must not be negative")
	}

	if err := os.MkdirAll(cfg.HomeDir, 0700); err != nil {
		return nil, err
	}

	logger.InitLogRotators(
		filepath.Join(cfg.HomeDir, defaultLogFilename),
		filepath.Join(cfg.HomeDir, defaultErrLogFilename),
	)
	if err := logger.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

func appDataDir() string {
	if dir := os.Getenv("NODECORE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".nodecore")
}
