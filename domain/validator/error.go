// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validator

import "fmt"

// Category classifies why a transaction failed admission, mirroring the
// reject-code taxonomy the teacher's mempool threads through
// txRuleError/dagRuleError (RejectInvalid, RejectDuplicate, RejectNonstandard,
// RejectInsufficientFee, ...), generalized into a small discriminated set
// since the underlying RejectCode enum was not present in the retrieved
// source.
type Category int

const (
	// CategoryInvalid means the transaction violates a consensus rule and
	// can never be valid, in this block or any other.
	CategoryInvalid Category = iota
	// CategoryDuplicate means an identical transaction is already known,
	// either in the pool or already confirmed.
	CategoryDuplicate
	// CategoryNonStandard means the transaction is consensus-valid but
	// violates this node's relay/mining policy.
	CategoryNonStandard
	// CategoryInsufficientFee means the transaction's fee does not meet
	// the minimum relay fee or is an absurdly low package fee rate.
	CategoryInsufficientFee
	// CategoryOrphan means the transaction references an input this node
	// has not yet seen, and may become valid once that input arrives.
	CategoryOrphan
)

// Result is the discriminated outcome of validating a transaction: the
// failure category and human-readable reason, a ban-score contribution for
// misbehaving peers, and whether the transaction was malleated (its
// witness altered without changing its effects) and should be retried
// without witness data before being treated as truly invalid.
type Result struct {
	Category  Category
	Reason    string
	Score     int
	Malleated bool
}

// Error adapts Result to the error interface so validation failures can be
// returned and wrapped like any other error.
type Error struct {
	Result
}

func (e *Error) Error() string { return e.Reason }

// newError is the common constructor used by every rejection point in the
// admission pipeline.
func newError(category Category, score int, format string, args ...interface{}) *Error {
	return &Error{Result{Category: category, Reason: fmt.Sprintf(format, args...), Score: score}}
}
