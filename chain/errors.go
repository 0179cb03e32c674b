// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/idxwallet/waddrmgr"
)

var (
	// ErrBroadcast is returned when a backend rejects a transaction.
	ErrBroadcast = errors.New("transaction rejected")

	// ErrBackend is returned when a backend answers with an unexpected
	// status or malformed data.
	ErrBackend = errors.New("unexpected backend response")
)

// ScanError records why the scan of a keychain stopped early.
type ScanError struct {
	Terminal waddrmgr.Terminal
	Err      error
}

// Error returns the terminal and the underlying error.
func (e *ScanError) Error() string {
	return fmt.Sprintf("scan of %v stopped at index %d: %v",
		e.Terminal.Keychain, e.Terminal.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *ScanError) Unwrap() error {
	return e.Err
}
