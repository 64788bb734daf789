// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// rpcClient is a minimal JSON-RPC 2.0 client for the getwork/longpoll
// methods rpcserver exposes. The teacher's own cmd/kaspaminer drives its
// node over a generated gRPC stub (minerClient wrapping an RPC router); the
// legacy getwork protocol this repository implements instead (spec §1,
// C8) has no streaming template-push equivalent, so this client polls and
// long-polls over plain HTTP instead.
type rpcClient struct {
	addr       string
	httpClient *http.Client
}

func newRPCClient(addr string) *rpcClient {
	return &rpcClient{addr: addr, httpClient: &http.Client{Timeout: 90 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *rpcClient) call(method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return errors.Wrap(err, "encoding RPC request")
	}

	resp, err := c.httpClient.Post("http://"+c.addr+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "calling %s on %s", method, c.addr)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return errors.Wrapf(err, "decoding %s response", method)
	}
	if rpcResp.Error != nil {
		return errors.Errorf("%s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return errors.Wrapf(err, "decoding %s result", method)
		}
	}
	return nil
}

type getWorkResult struct {
	Data   string `json:"data"`
	Target string `json:"target"`
}

func (c *rpcClient) GetWork() (*getWorkResult, error) {
	var result getWorkResult
	if err := c.call("getwork", struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetWorkLongPoll blocks (server side, up to the server's own longpoll
// timeout) until new work is available, then returns it. The HTTP client's
// own timeout must exceed the server's longpoll timeout or every long poll
// reads as a client-side failure.
func (c *rpcClient) GetWorkLongPoll() (*getWorkResult, error) {
	var result getWorkResult
	if err := c.call("getworklp", struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type getWorkSubmitResult struct {
	Accepted bool `json:"accepted"`
}

func (c *rpcClient) SubmitWork(dataHex string) (bool, error) {
	var result getWorkSubmitResult
	if err := c.call("getworksubmit", struct {
		Data string `json:"data"`
	}{Data: dataHex}, &result); err != nil {
		return false, err
	}
	return result.Accepted, nil
}
