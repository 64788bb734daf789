// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// cpuminer is a standalone legacy getwork miner: a separate process that
// polls a nodecore JSON-RPC server for work and submits solutions back to
// it, the same separate-process split the teacher's cmd/kaspaminer uses
// against a full node. mining/cpuminer, by contrast, is the in-process
// miner a node embeds directly (wired by cmd/nodecore's --generate flag);
// this binary exists for operators who want mining on a separate box from
// the node it feeds.
package main

import (
	"fmt"
	"os"

	"github.com/lcoin/nodecore/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}

	logger.InitLogRotators("cpuminer.log", "cpuminer_err.log")
	logger.SetLogLevel(logger.SubsystemTags.MINR, "info")

	client := newRPCClient(cfg.RPCServer)
	log.Infof("Mining against %s", cfg.RPCServer)
	return mineLoop(client)
}
