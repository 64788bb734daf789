// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/jessevdk/go-flags"
)

type config struct {
	RPCServer string `long:"rpcserver" description:"host:port of the nodecore JSON-RPC server"`
}

func defaultConfig() *config {
	return &config{RPCServer: "127.0.0.1:8332"}
}

func parseConfig() (*config, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}
	return cfg, nil
}
