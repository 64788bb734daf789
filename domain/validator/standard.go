// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validator

import (
	"github.com/lcoin/nodecore/domain/coinview"
	"github.com/lcoin/nodecore/wireformat"
)

// checkStandard rejects transactions that are consensus-valid but violate
// this node's relay/mining policy: a version above MaxTxVersion, oversized
// weight, an oversized scriptSig, and dust outputs. Output script
// templates (bare multisig included) are not inspected. Grounded on the
// teacher's checkTransactionStandard call site in maybeAcceptTransaction,
// generalized to the single-parent, segwit-aware shape this repository's
// wireformat package produces.
func (v *Validator) checkStandard(tx *wireformat.Tx) error {
	if tx.Version > v.Policy.MaxTxVersion && v.Policy.MaxTxVersion > 0 {
		return newError(CategoryNonStandard, 0, "version %d is not standard", tx.Version)
	}
	if tx.Weight() > maxStandardTxWeight {
		return newError(CategoryNonStandard, 0, "weight of %d is larger than max allowed weight of %d",
			tx.Weight(), maxStandardTxWeight)
	}

	for i, in := range tx.TxIn {
		if len(in.SignatureScript) > maxStandardScriptSigSize {
			return newError(CategoryNonStandard, 0,
				"transaction input %d: signature script size of %d bytes is larger than max allowed size of %d bytes",
				i, len(in.SignatureScript), maxStandardScriptSigSize)
		}
	}

	for i, out := range tx.TxOut {
		if isDust(out) {
			return newError(CategoryNonStandard, 0, "transaction output %d is dust", i)
		}
	}
	return nil
}

// dustRelayFee mirrors Bitcoin Core's default: an output is "dust" if
// spending it back out would cost more, at this fee rate, than the output
// is worth.
const dustRelayFee = 3000 // satoshis per thousand bytes

func isDust(out *wireformat.TxOut) bool {
	// A typical spend of a non-witness P2PKH output costs about 148 bytes
	// of input; this is the simplified, script-shape-agnostic bound this
	// package can compute without the script parser that is out of scope
	// here (domain/script).
	const typicalSpendSize = 148
	return out.Value*1000 < typicalSpendSize*dustRelayFee
}

// checkInputsStandard rejects an input whose referenced output has an
// empty locking script, once the referenced outputs are known. It does not
// classify script templates or check that scriptSigs are push-only.
// Mirrors the teacher's checkInputsStandard call site.
func (v *Validator) checkInputsStandard(tx *wireformat.Tx, view *coinview.View) error {
	for i, in := range tx.TxIn {
		coin, ok := view.GetCoin(in.PreviousOutpoint)
		if !ok {
			continue
		}
		if len(coin.PkScript) == 0 {
			return newError(CategoryNonStandard, 0, "transaction input %d references an empty locking script", i)
		}
	}
	return nil
}
