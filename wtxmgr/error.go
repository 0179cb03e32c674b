// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific TxStoreError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the TxStoreError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where data stored in the transaction
	// database is incorrect or cannot be decoded.
	ErrData

	// ErrNoExist indicates that the cache namespace does not exist.
	ErrNoExist

	// ErrNonWalletTx indicates that a referenced transaction is not known
	// to the cache.
	ErrNonWalletTx

	// ErrNoOutput indicates that a referenced transaction has no output at
	// the requested index.
	ErrNoOutput

	// ErrNonWalletUtxo indicates that a referenced output does not pay to
	// a wallet address.
	ErrNonWalletUtxo

	// ErrSpent indicates that a referenced output is already spent by a
	// confirmed transaction.
	ErrSpent
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:      "ErrDatabase",
	ErrData:          "ErrData",
	ErrNoExist:       "ErrNoExist",
	ErrNonWalletTx:   "ErrNonWalletTx",
	ErrNoOutput:      "ErrNoOutput",
	ErrNonWalletUtxo: "ErrNonWalletUtxo",
	ErrSpent:         "ErrSpent",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// TxStoreError provides a single type for errors that can happen while
// querying or persisting the wallet cache.
type TxStoreError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxStoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error.
func (e TxStoreError) Unwrap() error {
	return e.Err
}

// txStoreError creates a TxStoreError given a set of arguments.
func txStoreError(c ErrorCode, desc string, err error) TxStoreError {
	return TxStoreError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether err is a TxStoreError with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e TxStoreError
	return errors.As(err, &e) && e.ErrorCode == code
}
