// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package script is the collaborator boundary for signature and script
// verification. Per spec §1, address/script parsing and signature math are
// external to this repository's core; this package only carries the
// surface shape the validator (domain/validator) needs — flags, a
// signature cache and a Verify entry point — modeled on the teacher's
// txscript.ScriptFlags / txscript.SigCache / txscript.NewEngine surface.
package script

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"

	"github.com/lcoin/nodecore/wireformat"
)

// VerifyFlags mirrors txscript.ScriptFlags: a bitset of which consensus and
// standardness script rules are in effect for a given verification.
type VerifyFlags uint32

const (
	// VerifyNone performs no extra checks beyond the bare interpreter.
	VerifyNone VerifyFlags = 0

	// VerifyP2SH enables BIP16 pay-to-script-hash evaluation.
	VerifyP2SH VerifyFlags = 1 << iota

	// VerifyStrictEncoding requires strict DER signature encoding.
	VerifyStrictEncoding VerifyFlags = 1 << iota

	// VerifyDERSignatures requires canonical DER-encoded signatures.
	VerifyDERSignatures VerifyFlags = 1 << iota

	// VerifyLowS requires signature S values be in the lower half of the
	// curve order, matching BIP62.
	VerifyLowS VerifyFlags = 1 << iota

	// VerifyNullDummy requires the dummy stack element consumed by
	// CHECKMULTISIG to be the empty byte array.
	VerifyNullDummy VerifyFlags = 1 << iota

	// VerifyCleanStack requires exactly one item left on the stack after
	// script evaluation.
	VerifyCleanStack VerifyFlags = 1 << iota

	// VerifyCheckLockTimeVerify enables BIP65 opcode semantics.
	VerifyCheckLockTimeVerify VerifyFlags = 1 << iota

	// VerifyCheckSequenceVerify enables BIP112 opcode semantics.
	VerifyCheckSequenceVerify VerifyFlags = 1 << iota

	// VerifyWitness enables BIP141 witness program evaluation.
	VerifyWitness VerifyFlags = 1 << iota

	// VerifyDiscourageUpgradableWitnessProgram rejects witness programs
	// using a version the node does not understand.
	VerifyDiscourageUpgradableWitnessProgram VerifyFlags = 1 << iota

	// VerifyMinimalIf requires IF/NOTIF operands be minimally encoded,
	// part of the witness program rules (BIP141/BIP143).
	VerifyMinimalIf VerifyFlags = 1 << iota

	// VerifyWitnessPubKeyType requires that witness program public keys be
	// serialized in the compressed form.
	VerifyWitnessPubKeyType VerifyFlags = 1 << iota
)

// StandardVerifyFlags are the flags applied to transactions relayed and
// accepted into the mempool, mirroring txscript.StandardVerifyFlags.
const StandardVerifyFlags = VerifyP2SH | VerifyStrictEncoding | VerifyDERSignatures |
	VerifyLowS | VerifyNullDummy | VerifyCleanStack | VerifyCheckLockTimeVerify |
	VerifyCheckSequenceVerify | VerifyWitness | VerifyDiscourageUpgradableWitnessProgram |
	VerifyMinimalIf | VerifyWitnessPubKeyType

// MandatoryVerifyFlags are the flags that must hold for a transaction to be
// valid under consensus rules at all. The validator verifies with
// StandardVerifyFlags only and does not reference this set.
const MandatoryVerifyFlags = VerifyP2SH | VerifyWitness

// SigCache caches the results of signature verification, avoiding repeated
// expensive elliptic-curve operations for transactions already verified
// once (e.g. when both relayed and later mined). The actual cryptographic
// work lives behind the Verifier collaborator; this type only shapes the
// cache key/value contract the validator expects.
type SigCache struct {
	maxEntries int
	entries    map[SigCacheEntry]struct{}
}

// SigCacheEntry is the cache key: the combination of signature hash,
// signature and public key that a verification result applies to.
type SigCacheEntry struct {
	SigHash   wireformat.Hash
	Signature string
	PubKey    string
}

// NewSigCache returns a SigCache sized for maxEntries results.
func NewSigCache(maxEntries int) *SigCache {
	return &SigCache{maxEntries: maxEntries, entries: make(map[SigCacheEntry]struct{}, maxEntries)}
}

// Exists reports whether entry's signature has already been verified.
func (c *SigCache) Exists(entry SigCacheEntry) bool {
	_, ok := c.entries[entry]
	return ok
}

// Add records that entry's signature verified successfully.
func (c *SigCache) Add(entry SigCacheEntry) {
	if len(c.entries) >= c.maxEntries {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[entry] = struct{}{}
}

// AddressHash is a 20-byte RIPEMD160(SHA256(x)) digest, the quantity
// Bitcoin-style addresses key off of for both pay-to-pubkey-hash and
// pay-to-script-hash outputs.
type AddressHash [20]byte

// Hash160 computes RIPEMD160(SHA256(data)), the hash Bitcoin-style address
// encodings are built from. It is a pure cryptographic primitive (unlike
// recognizing which bytes of a script to hash, which requires opcode
// parsing and stays behind the AddressHasher boundary below), so it lives
// here rather than behind an interface.
func Hash160(data []byte) AddressHash {
	sha := sha256.Sum256(data)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	var out AddressHash
	copy(out[:], ripe.Sum(nil))
	return out
}

// AddressHasher is the collaborator boundary for recognizing the
// address(es) a script pays to or is signed by. Script template
// recognition (identifying a P2PKH/P2SH/P2WPKH pattern and extracting the
// pushed hash) is address/script parsing proper, out of scope per spec §1;
// this interface pins down the shape the optional address index (spec §3,
// "coinIndex, txIndex") needs from it so that index can be built, tested
// against a fake, and wired to a real template recognizer later without
// touching domain/mempool.
type AddressHasher interface {
	// HashesFor returns every address hash a script pays to (for an
	// output script) or spends from (for an input's previous output
	// script), or ok=false if the script matches no recognized template.
	HashesFor(script []byte) (hashes []AddressHash, ok bool)
}

// Verifier is the collaborator that performs actual script interpretation
// over a transaction's inputs. domain/validator depends on this interface,
// not on a concrete interpreter, so it can be tested with a fake and so the
// real interpreter (out of scope per spec §1) can be swapped in without
// touching mempool logic.
type Verifier interface {
	// Verify checks every input script of tx against the referenced
	// output scripts (looked up by the caller and passed in pkScripts,
	// indexed the same way as tx.TxIn), under flags.
	Verify(tx *wireformat.Tx, pkScripts [][]byte, inputValues []int64, flags VerifyFlags, cache *SigCache) error
}
