// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txauthor

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// ErrNoInputs is returned when a transaction is constructed without
	// any coin to spend.
	ErrNoInputs = errors.New("impossible to construct transaction " +
		"having no inputs")

	// ErrOverflow is returned when an output or a sum of values falls
	// outside the range of valid bitcoin amounts.
	ErrOverflow = errors.New("amount exceeds the range of valid " +
		"bitcoin amounts")

	// ErrOutputExceedsInputs is matched by OutputExceedsInputsError.
	ErrOutputExceedsInputs = errors.New("outputs exceed inputs")

	// ErrNoFundsForFee is matched by NoFundsForFeeError.
	ErrNoFundsForFee = errors.New("not enough funds to pay fee")
)

// OutputExceedsInputsError is returned when the fixed outputs spend more
// than the inputs hold.
type OutputExceedsInputsError struct {
	Input  btcutil.Amount
	Output btcutil.Amount
}

func (e *OutputExceedsInputsError) Error() string {
	return fmt.Sprintf("attempt to spend more than present in "+
		"transaction inputs: inputs hold %v, outputs spend %v",
		e.Input, e.Output)
}

// Unwrap returns ErrOutputExceedsInputs.
func (e *OutputExceedsInputsError) Unwrap() error {
	return ErrOutputExceedsInputs
}

// NoFundsForFeeError is returned when the fixed outputs leave less than the
// requested fee.
type NoFundsForFeeError struct {
	Input  btcutil.Amount
	Output btcutil.Amount
	Fee    btcutil.Amount
}

func (e *NoFundsForFeeError) Error() string {
	return fmt.Sprintf("not enough funds to pay fee of %v: inputs "+
		"hold %v and outputs spend %v of them", e.Fee, e.Input,
		e.Output)
}

// Unwrap returns ErrNoFundsForFee.
func (e *NoFundsForFeeError) Unwrap() error {
	return ErrNoFundsForFee
}
