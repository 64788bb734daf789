// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// nodecore wires the mempool, the validator, the block-template builder,
// the getwork/longpoll engine and the JSON-RPC server into a single
// process, mirroring the teacher's cmd/txgen-style thin-main convention:
// parse config, construct every collaborator, serve, and unwind cleanly
// on interrupt. See cmd/nodecore/localchain.go for the standalone chain
// and script-verifier stand-ins this binary runs against; a deployment
// with a real chain database and script interpreter wires those in their
// place without touching any other package.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lcoin/nodecore/domain/cache"
	"github.com/lcoin/nodecore/domain/mempool"
	"github.com/lcoin/nodecore/domain/validator"
	"github.com/lcoin/nodecore/mining/cpuminer"
	"github.com/lcoin/nodecore/mining/template"
	"github.com/lcoin/nodecore/mining/work"
	"github.com/lcoin/nodecore/rpcserver"
	"github.com/lcoin/nodecore/wireformat"
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

	chain := newLocalChain(nil)

	pool := mempool.New(mempool.Policy{
		MaxOrphanTxs:    cfg.MaxOrphanTxs,
		MaxOrphanTxSize: 100000,
		MaxMempoolSize:  300 * 1024 * 1024,
		MempoolExpiry:   14 * 24 * time.Hour,
		Limits: mempool.Limits{
			MaxAncestorCount:   25,
			MaxAncestorSize:    101000,
			MaxDescendantCount: 25,
			MaxDescendantSize:  101000,
		},
	})

	cachePath := filepath.Join(cfg.HomeDir, defaultCacheFilename)
	poolCache, err := cache.Open(cachePath, chain.Tip())
	if err != nil {
		return err
	}
	defer poolCache.Close()

	if err := preloadPool(pool, poolCache); err != nil {
		return err
	}

	val := validator.New(validator.Policy{
		AcceptNonStd:    cfg.AcceptNonStd,
		MaxTxVersion:    2,
		MinRelayTxFee:   cfg.MinRelayFee,
		MaxOrphanTxSize: 100000,
		ReplaceByFee:    cfg.EnableRBF,
		RelayPriority:   cfg.RelayPriority,
		LimitFree:       cfg.LimitFreeRelay > 0,
		LimitFreeRelay:  cfg.LimitFreeRelay,
	}, chain, pool, acceptVerifier{})

	var payScript []byte
	if cfg.MiningAddr != "" {
		payScript, err = decodeHex(cfg.MiningAddr)
		if err != nil {
			return fmt.Errorf("--miningaddr: %w", err)
		}
	}

	builder := &template.Builder{Pool: pool, Chain: chain, PayScript: payScript}
	workEngine := work.NewEngine(builder)

	var miner *cpuminer.Miner
	if cfg.GenerateCPU {
		miner = cpuminer.New(workEngine, func(header *wireformat.BlockHeader, height int32) {
			tip := header.BlockHash()
			chain.advance(tip)
			if err := poolCache.UpdateTip(tip); err != nil {
				log.Warnf("failed to record mined block's tip in the mempool cache: %s", err)
			}
			if err := poolCache.Flush(); err != nil {
				log.Warnf("failed to flush mempool cache at block boundary: %s", err)
			}
		})
		miner.Start()
		defer miner.Stop()
	}

	srv := &rpcserver.Server{Pool: pool, Validator: val, Work: workEngine}

	httpSrv := &http.Server{Addr: cfg.RPCListen, Handler: srv.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("JSON-RPC server listening on %s", cfg.RPCListen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Infof("Shutting down")
	}

	return httpSrv.Close()
}

// preloadPool restores entries the previous run's persistent cache
// recorded (C6), re-admitting each one to the pool's bookkeeping structures
// without re-running the validator's policy checks — exactly the
// restart-without-re-announce tradeoff spec §4.2 calls for.
func preloadPool(pool *mempool.Pool, c *cache.Cache) error {
	entries, err := c.Load()
	if err != nil {
		return err
	}
	for txID, cached := range entries {
		tx, err := wireformat.Deserialize(cached.Tx)
		if err != nil {
			log.Warnf("Dropping cached entry %s: %s", txID, err)
			continue
		}
		entry := mempool.NewEntry(tx, cached.Fee, int64(len(cached.Tx)), int64(tx.SigOpCost()), cached.Height, time.Unix(cached.Time, 0))
		if err := pool.InsertEntry(entry); err != nil {
			log.Warnf("Dropping cached entry %s: %s", txID, err)
			continue
		}
	}
	log.Infof("Restored %d mempool entries from cache", pool.Count())
	return nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexDigit(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexDigit(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}
