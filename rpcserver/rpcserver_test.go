// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lcoin/nodecore/domain/chainiface"
	"github.com/lcoin/nodecore/domain/mempool"
	"github.com/lcoin/nodecore/domain/script"
	"github.com/lcoin/nodecore/domain/validator"
	"github.com/lcoin/nodecore/mining/template"
	"github.com/lcoin/nodecore/mining/work"
	"github.com/lcoin/nodecore/rpcserver"
	"github.com/lcoin/nodecore/wireformat"
)

type fakeDB struct {
	coins map[wireformat.Outpoint]struct {
		value      int64
		pkScript   []byte
		isCoinbase bool
		height     int32
	}
}

func (f *fakeDB) put(op wireformat.Outpoint, value int64, pkScript []byte) {
	f.coins[op] = struct {
		value      int64
		pkScript   []byte
		isCoinbase bool
		height     int32
	}{value, pkScript, false, 50}
}

func (f *fakeDB) GetCoins(op wireformat.Outpoint) (int64, []byte, bool, int32, bool) {
	c, ok := f.coins[op]
	if !ok {
		return 0, nil, false, 0, false
	}
	return c.value, c.pkScript, c.isCoinbase, c.height, true
}
func (f *fakeDB) HasCoins(wireformat.Hash) bool                       { return false }
func (f *fakeDB) GetEntry(wireformat.Hash) (int32, bool)              { return 0, false }
func (f *fakeDB) GetBlock(wireformat.Hash) ([]byte, bool)             { return nil, false }
func (f *fakeDB) GetHash(int32) (wireformat.Hash, bool)               { return wireformat.Hash{}, false }
func (f *fakeDB) GetNextHash(wireformat.Hash) (wireformat.Hash, bool) { return wireformat.Hash{}, false }
func (f *fakeDB) GetTips() []wireformat.Hash                          { return nil }
func (f *fakeDB) StateSizes() (int64, int64, int64)                   { return 0, 0, 0 }

type fakeChain struct{ db *fakeDB }

func (c fakeChain) Tip() wireformat.Hash { return wireformat.Hash{0x01} }
func (c fakeChain) Height() int32        { return 99 }
func (c fakeChain) Synced() bool         { return true }
func (c fakeChain) State() chainiface.ChainState { return nil }
func (c fakeChain) GetDeploymentState(wireformat.Hash, chainiface.Deployment) (chainiface.DeploymentState, error) {
	return chainiface.DeploymentDefined, nil
}
func (c fakeChain) VerifyLocks(context.Context, *wireformat.Tx, chainiface.CoinViewReader) (*chainiface.SequenceLock, error) {
	return nil, nil
}
func (c fakeChain) VerifyFinal(*wireformat.Tx, int32, time.Time) bool { return true }
func (c fakeChain) MedianTimePast() time.Time                        { return time.Unix(1700000000, 0) }
func (c fakeChain) SubmitBlock(*wireformat.Block) error              { return nil }
func (c fakeChain) DB() chainiface.ChainDB                           { return c.db }

type acceptVerifier struct{}

func (acceptVerifier) Verify(*wireformat.Tx, [][]byte, []int64, script.VerifyFlags, *script.SigCache) error {
	return nil
}

func newTestServer(t *testing.T) *rpcserver.Server {
	t.Helper()
	pool := mempool.New(mempool.Policy{MaxOrphanTxs: 10, MaxOrphanTxSize: 10000})
	db := &fakeDB{coins: make(map[wireformat.Outpoint]struct {
		value      int64
		pkScript   []byte
		isCoinbase bool
		height     int32
	})}
	chain := fakeChain{db: db}
	b := &template.Builder{Pool: pool, Chain: chain}
	val := validator.New(validator.Policy{MaxTxVersion: 2, MinRelayTxFee: 1000}, chain, pool, acceptVerifier{})
	return &rpcserver.Server{Pool: pool, Work: work.NewEngine(b), Validator: val}
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

func spendableTx(parent wireformat.Outpoint, value int64) *wireformat.Tx {
	return &wireformat.Tx{
		Version: 1,
		TxIn: []*wireformat.TxIn{{
			PreviousOutpoint: parent,
			SignatureScript:  []byte{0x01, 0x02, 0x03},
			Sequence:         wireformat.MaxTxInSequenceNum,
		}},
		TxOut: []*wireformat.TxOut{{Value: value, PkScript: []byte{0x76, 0xa9, 0x14}}},
	}
}

func doRequest(t *testing.T, s *rpcserver.Server, method string, params interface{}) map[string]interface{} {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": params,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v (body=%s)", err, rec.Body.String())
	}
	return out
}

func TestGetMempoolInfoReturnsEmptyPool(t *testing.T) {
	s := newTestServer(t)
	out := doRequest(t, s, "getmempoolinfo", nil)
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	result, ok := out["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a result object, got %#v", out["result"])
	}
	if result["size"] != float64(0) {
		t.Fatalf("expected empty pool, got size %v", result["size"])
	}
}

func TestUnknownMethodReportsError(t *testing.T) {
	s := newTestServer(t)
	out := doRequest(t, s, "notamethod", nil)
	if out["error"] == nil {
		t.Fatal("expected an error for an unknown method")
	}
}

func TestGetWorkReturnsEncodedData(t *testing.T) {
	s := newTestServer(t)
	out := doRequest(t, s, "getwork", nil)
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	result, ok := out["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a result object, got %#v", out["result"])
	}
	data, _ := result["data"].(string)
	if len(data) != 256 { // 128 bytes, hex-encoded
		t.Fatalf("expected 256 hex characters of work data, got %d", len(data))
	}
}

func TestGetWorkSubmitRejectsGarbageData(t *testing.T) {
	s := newTestServer(t)
	out := doRequest(t, s, "getworksubmit", map[string]interface{}{"data": "00"})
	if out["error"] == nil {
		t.Fatal("expected an error for undersized submission data")
	}
}

func TestGetWorkSubmitReportsUnmetTarget(t *testing.T) {
	s := newTestServer(t)
	work := doRequest(t, s, "getwork", nil)
	result := work["result"].(map[string]interface{})
	data := result["data"].(string)

	out := doRequest(t, s, "getworksubmit", map[string]interface{}{"data": data})
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	submitResult, ok := out["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a result object, got %#v", out["result"])
	}
	if submitResult["accepted"] != false {
		t.Fatalf("expected an unsolved template to be rejected, got %v", submitResult["accepted"])
	}
}

func TestSendRawTransactionAdmitsStandardSpend(t *testing.T) {
	s := newTestServer(t)
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x01}, Index: 0}
	s.Validator.Chain.(fakeChain).db.put(parent, 100_000_000, []byte{0x76, 0xa9, 0x14})

	tx := spendableTx(parent, 99_000_000)
	out := doRequest(t, s, "sendrawtransaction", map[string]interface{}{"hextx": hexEncode(tx.Serialize())})
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	txid, _ := out["result"].(string)
	if txid != tx.ID().String() {
		t.Fatalf("expected result %s, got %v", tx.ID(), out["result"])
	}
	if !s.Pool.HaveTransaction(tx.ID()) {
		t.Fatal("expected the transaction to be admitted to the pool")
	}
}

func TestSendRawTransactionReportsMissingInputsAsOrphan(t *testing.T) {
	s := newTestServer(t)
	missingParent := wireformat.Outpoint{TxID: wireformat.Hash{0x02}, Index: 0}
	tx := spendableTx(missingParent, 1000)

	out := doRequest(t, s, "sendrawtransaction", map[string]interface{}{"hextx": hexEncode(tx.Serialize())})
	if out["error"] == nil {
		t.Fatal("expected an error reporting the transaction as an orphan")
	}
	if !s.Pool.IsOrphanInPool(tx.ID()) {
		t.Fatal("expected the orphan to be queued in the pool")
	}
}

func TestTestMempoolAcceptReportsAllowedWithoutAdmitting(t *testing.T) {
	s := newTestServer(t)
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x03}, Index: 0}
	s.Validator.Chain.(fakeChain).db.put(parent, 100_000_000, []byte{0x76, 0xa9, 0x14})

	tx := spendableTx(parent, 99_000_000)
	out := doRequest(t, s, "testmempoolaccept", map[string]interface{}{"hextx": hexEncode(tx.Serialize())})
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	results, ok := out["result"].([]interface{})
	if !ok || len(results) != 1 {
		t.Fatalf("expected a single-element result array, got %#v", out["result"])
	}
	entry := results[0].(map[string]interface{})
	if entry["allowed"] != true {
		t.Fatalf("expected allowed=true, got %v", entry)
	}
	if s.Pool.HaveTransaction(tx.ID()) {
		t.Fatal("expected testmempoolaccept not to admit the transaction to the pool")
	}
}

func TestTestMempoolAcceptReportsRejectionReason(t *testing.T) {
	s := newTestServer(t)
	parent := wireformat.Outpoint{TxID: wireformat.Hash{0x04}, Index: 0}
	s.Validator.Chain.(fakeChain).db.put(parent, 1000, []byte{0x76, 0xa9, 0x14})

	tx := spendableTx(parent, 1000) // zero fee
	out := doRequest(t, s, "testmempoolaccept", map[string]interface{}{"hextx": hexEncode(tx.Serialize())})
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	results := out["result"].([]interface{})
	entry := results[0].(map[string]interface{})
	if entry["allowed"] != false {
		t.Fatalf("expected allowed=false for a zero-fee transaction, got %v", entry)
	}
	if entry["reject-reason"] == nil || entry["reject-reason"] == "" {
		t.Fatal("expected a non-empty rejection reason")
	}
}
